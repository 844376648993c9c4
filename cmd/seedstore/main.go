// Command seedstore writes a demo SQLite offline store so that the trainer
// can run locally without a feature store deployment.
package main

import (
	"context"
	"flag"
	"math"
	"math/rand/v2"
	"os"
	"time"

	"github.com/YuminosukeSato/rftrainer/featurestore"
	"github.com/YuminosukeSato/rftrainer/featurestore/sqlite"
	"github.com/YuminosukeSato/rftrainer/pkg/errors"
	"github.com/YuminosukeSato/rftrainer/pkg/log"
)

const group = "user_features"

func main() {
	var (
		path  = flag.String("path", sqlite.DefaultPath, "SQLite offline store file")
		users = flag.Int("users", 50, "Number of users (ids 1..N)")
		seed  = flag.Uint64("seed", 42, "Random seed for the generated ratings")
		age   = flag.Duration("age", 24*time.Hour, "How long before now the rows are stamped")
	)
	flag.Parse()

	log.SetupLogger("info")
	logger := log.GetLoggerWithName("seedstore")

	if err := seedStore(context.Background(), *path, *users, *seed, time.Now().Add(-*age)); err != nil {
		logger.Error("Seeding failed", log.ErrAttr(err))
		os.Exit(1)
	}
	logger.Info("Offline store seeded",
		"featurestore.path", *path,
		log.FeatureGroupKey, group,
		log.EntitiesKey, *users,
	)
}

// seedStore writes one row per user to the user_features table at ts.
func seedStore(ctx context.Context, path string, users int, seed uint64, ts time.Time) error {
	if users < 1 {
		return errors.NewValidationError("users", "must be positive", users)
	}
	store, err := sqlite.Create(path, featurestore.DefaultEntityKey)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Push(ctx, group, generateRows(users, seed, ts)...)
}

// generateRows draws ratings loosely tied to activity: heavy raters drift
// towards the middle of the scale.
func generateRows(users int, seed uint64, ts time.Time) []featurestore.Row {
	rng := rand.New(rand.NewPCG(seed, uint64(users)))
	rows := make([]featurestore.Row, users)
	for i := range rows {
		num := float64(1 + rng.IntN(500))
		spread := 2 / math.Log2(num+2)
		avg := 3 + (rng.Float64()*2-1)*2*spread
		avg = math.Round(math.Min(5, math.Max(1, avg))*100) / 100
		rows[i] = featurestore.Row{
			Key:       int64(i + 1),
			Timestamp: ts.Truncate(time.Second),
			Values: map[string]float64{
				"avg_rating":  avg,
				"num_ratings": num,
			},
		}
	}
	return rows
}
