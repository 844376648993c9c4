package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/rftrainer/featurestore"
	"github.com/YuminosukeSato/rftrainer/featurestore/sqlite"
)

func TestGenerateRows(t *testing.T) {
	ts := time.Date(2026, 10, 17, 12, 0, 0, 500, time.UTC)
	rows := generateRows(50, 42, ts)
	require.Len(t, rows, 50)

	for i, r := range rows {
		assert.Equal(t, int64(i+1), r.Key)
		assert.Equal(t, ts.Truncate(time.Second), r.Timestamp)
		assert.GreaterOrEqual(t, r.Values["avg_rating"], 1.0)
		assert.LessOrEqual(t, r.Values["avg_rating"], 5.0)
		assert.GreaterOrEqual(t, r.Values["num_ratings"], 1.0)
	}
	assert.Equal(t, rows, generateRows(50, 42, ts), "same seed, same rows")
}

func TestSeedStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "my_feature_repo", "data", "offline_store.db")
	ts := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	require.NoError(t, seedStore(ctx, path, 50, 42, ts))

	store, err := sqlite.Open(path, featurestore.DefaultEntityKey)
	require.NoError(t, err)
	defer store.Close()

	refs, err := featurestore.ParseFeatureRefs([]string{"user_features:avg_rating", "user_features:num_ratings"})
	require.NoError(t, err)
	frame, err := store.GetHistoricalFeatures(ctx, featurestore.SequentialEntities("user_id", 50, ts.Add(time.Hour)), refs)
	require.NoError(t, err)
	assert.Equal(t, 50, frame.Coverage("avg_rating"))
	assert.Equal(t, 50, frame.Coverage("num_ratings"))

	assert.Error(t, seedStore(ctx, path, 0, 42, ts))
}
