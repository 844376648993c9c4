package postgres

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/rftrainer/featurestore"
	"github.com/YuminosukeSato/rftrainer/pkg/errors"
)

func TestSelectQuery(t *testing.T) {
	got := selectQuery("user_features", "user_id", []string{"avg_rating", "num_ratings"})
	assert.Equal(t,
		`SELECT "user_id", "event_timestamp", "avg_rating", "num_ratings" FROM "user_features" WHERE "event_timestamp" <= ? AND "user_id" IN ?`,
		got)
}

func TestNew_RejectsUnsafeEntityKey(t *testing.T) {
	_, err := New(nil, "user_id; --")
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))
}

// TestPostgresStore runs against a live server when TRAINER_TEST_POSTGRES_DSN is set.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("TRAINER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TRAINER_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, dsn, "user_id")
	require.NoError(t, err)
	defer s.Close()

	group := "rftrainer_test_features"
	require.NoError(t, s.fetcher.db.Exec(`DROP TABLE IF EXISTS "`+group+`"`).Error)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.Push(ctx, group,
		featurestore.Row{Key: 1, Timestamp: now.Add(-time.Hour), Values: map[string]float64{"avg_rating": 3.5, "num_ratings": 10}},
		featurestore.Row{Key: 1, Timestamp: now.Add(time.Hour), Values: map[string]float64{"avg_rating": 1, "num_ratings": 1}},
		featurestore.Row{Key: 2, Timestamp: now.Add(-time.Hour), Values: map[string]float64{"num_ratings": 4}},
	))

	frame, err := s.GetHistoricalFeatures(ctx, featurestore.SequentialEntities("user_id", 2, now),
		[]featurestore.FeatureRef{{Group: group, Name: "avg_rating"}, {Group: group, Name: "num_ratings"}})
	require.NoError(t, err)
	avg, _ := frame.Column("avg_rating")
	cnt, _ := frame.Column("num_ratings")
	assert.Equal(t, 3.5, avg[0])
	assert.True(t, math.IsNaN(avg[1]))
	assert.Equal(t, []float64{10, 4}, cnt)

	_, err = s.GetHistoricalFeatures(ctx, featurestore.SequentialEntities("user_id", 1, now),
		[]featurestore.FeatureRef{{Group: "rftrainer_missing_group", Name: "x"}})
	assert.True(t, errors.Is(err, featurestore.ErrUnknownGroup))
}
