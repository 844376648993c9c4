package redis

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

var now = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func TestMemberRoundTrip(t *testing.T) {
	raw, err := encodeMember(featurestore.Row{
		Key:       3,
		Timestamp: now,
		Values:    map[string]float64{"avg_rating": 4.5, "num_ratings": math.NaN()},
	}, 7)
	require.NoError(t, err)
	assert.JSONEq(t, `{"event_timestamp":1792324800,"seq":7,"values":{"avg_rating":4.5}}`, raw)

	sr, err := decodeMember(3, raw, []string{"avg_rating", "num_ratings"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), sr.seq)
	row := sr.row
	assert.Equal(t, int64(3), row.Key)
	assert.True(t, row.Timestamp.Equal(now))
	assert.Equal(t, 4.5, row.Values["avg_rating"])
	assert.True(t, math.IsNaN(row.Values["num_ratings"]))
}

func TestInPushOrder(t *testing.T) {
	names := []string{"avg_rating"}
	// ZSET から返る順序ではなく push 順で並べ直す
	older, err := encodeMember(featurestore.Row{Key: 1, Timestamp: now.Add(-time.Hour), Values: map[string]float64{"avg_rating": 5}}, 1)
	require.NoError(t, err)
	first, err := encodeMember(featurestore.Row{Key: 1, Timestamp: now, Values: map[string]float64{"avg_rating": 9}}, 2)
	require.NoError(t, err)
	second, err := encodeMember(featurestore.Row{Key: 1, Timestamp: now, Values: map[string]float64{"avg_rating": 1}}, 3)
	require.NoError(t, err)

	var decoded []seqRow
	for _, raw := range []string{second, older, first} {
		sr, err := decodeMember(1, raw, names)
		require.NoError(t, err)
		decoded = append(decoded, sr)
	}
	rows := inPushOrder(decoded)
	require.Len(t, rows, 3)
	assert.Equal(t, []float64{5, 9, 1}, []float64{
		rows[0].Values["avg_rating"], rows[1].Values["avg_rating"], rows[2].Values["avg_rating"],
	})

	entities := featurestore.SequentialEntities("user_id", 1, now)
	cols := featurestore.JoinPointInTime(entities, names, rows, 0)
	assert.Equal(t, 1.0, cols[0][0], "tie goes to the row pushed last")
}

func TestEntityKey(t *testing.T) {
	assert.Equal(t, "user_features:42", entityKey("user_features", 42))
}

// TestRedisStore runs against a live server when TRAINER_TEST_REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TRAINER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TRAINER_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, addr, "", 15)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.fetcher.client.FlushDB(ctx).Err())

	group := "user_features"
	require.NoError(t, s.Push(ctx, group,
		featurestore.Row{Key: 1, Timestamp: now.Add(-2 * time.Hour), Values: map[string]float64{"avg_rating": 2}},
		featurestore.Row{Key: 1, Timestamp: now.Add(-time.Hour), Values: map[string]float64{"avg_rating": 3.5}},
		featurestore.Row{Key: 1, Timestamp: now.Add(time.Hour), Values: map[string]float64{"avg_rating": 1}},
	))

	frame, err := s.GetHistoricalFeatures(ctx, featurestore.SequentialEntities("user_id", 2, now),
		[]featurestore.FeatureRef{{Group: group, Name: "avg_rating"}})
	require.NoError(t, err)
	avg, _ := frame.Column("avg_rating")
	assert.Equal(t, 3.5, avg[0])
	assert.True(t, math.IsNaN(avg[1]))

	// 同時刻の行は後から push した方が勝つ。同一行の再 push も別メンバーになる
	require.NoError(t, s.Push(ctx, group,
		featurestore.Row{Key: 2, Timestamp: now, Values: map[string]float64{"avg_rating": 9}},
		featurestore.Row{Key: 2, Timestamp: now, Values: map[string]float64{"avg_rating": 1}},
	))
	require.NoError(t, s.Push(ctx, group,
		featurestore.Row{Key: 2, Timestamp: now, Values: map[string]float64{"avg_rating": 9}},
	))
	require.Equal(t, int64(3), s.fetcher.client.ZCard(ctx, entityKey(group, 2)).Val())
	frame, err = s.GetHistoricalFeatures(ctx, featurestore.SequentialEntities("user_id", 2, now),
		[]featurestore.FeatureRef{{Group: group, Name: "avg_rating"}})
	require.NoError(t, err)
	avg, _ = frame.Column("avg_rating")
	assert.Equal(t, 9.0, avg[1])

	_, err = s.GetHistoricalFeatures(ctx, featurestore.SequentialEntities("user_id", 1, now),
		[]featurestore.FeatureRef{{Group: "missing_group", Name: "x"}})
	assert.True(t, errors.Is(err, featurestore.ErrUnknownGroup))
}
