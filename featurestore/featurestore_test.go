package featurestore

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/rftrainer/pkg/errors"
	"github.com/YuminosukeSato/rftrainer/pkg/log"
)

var now = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

func TestParseFeatureRef(t *testing.T) {
	tests := []struct {
		in      string
		want    FeatureRef
		wantErr bool
	}{
		{in: "user_features:avg_rating", want: FeatureRef{Group: "user_features", Name: "avg_rating"}},
		{in: "g:n", want: FeatureRef{Group: "g", Name: "n"}},
		{in: "avg_rating", wantErr: true},
		{in: ":avg_rating", wantErr: true},
		{in: "user_features:", wantErr: true},
		{in: "a:b:c", wantErr: true},
		{in: "user-features:avg", wantErr: true},
		{in: "users:avg; DROP TABLE x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFeatureRef(tt.in)
			if tt.wantErr {
				var ve *errors.ValidationError
				assert.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestParseFeatureRefs_DuplicateShortName(t *testing.T) {
	_, err := ParseFeatureRefs([]string{"a:score", "b:score"})
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))

	refs, err := ParseFeatureRefs([]string{"user_features:avg_rating", "user_features:num_ratings"})
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}

func TestSequentialEntities(t *testing.T) {
	ef := SequentialEntities(DefaultEntityKey, 50, now)
	require.Len(t, ef.Rows, 50)
	assert.Equal(t, int64(1), ef.Rows[0].ID)
	assert.Equal(t, int64(50), ef.Rows[49].ID)
	for _, e := range ef.Rows {
		assert.True(t, e.Timestamp.Equal(now))
	}
	assert.Equal(t, now, ef.MaxTimestamp())
	assert.Len(t, ef.Keys(), 50)
}

func TestJoinPointInTime(t *testing.T) {
	entities := EntityFrame{Key: "user_id", Rows: []Entity{
		{ID: 1, Timestamp: now},
		{ID: 2, Timestamp: now},
		{ID: 3, Timestamp: now},
		{ID: 1, Timestamp: now.Add(-2 * time.Hour)},
	}}
	rows := []Row{
		{Key: 1, Timestamp: now.Add(-3 * time.Hour), Values: map[string]float64{"v": 1}},
		{Key: 1, Timestamp: now.Add(-1 * time.Hour), Values: map[string]float64{"v": 2}},
		{Key: 1, Timestamp: now.Add(time.Hour), Values: map[string]float64{"v": 99}}, // 未来の行
		{Key: 2, Timestamp: now.Add(-time.Hour), Values: map[string]float64{"v": 5}},
		{Key: 2, Timestamp: now.Add(-time.Hour), Values: map[string]float64{"v": 6}}, // 同時刻は後勝ち
	}

	cols := JoinPointInTime(entities, []string{"v", "missing"}, rows, 0)
	require.Len(t, cols, 2)
	assert.Equal(t, 2.0, cols[0][0])
	assert.Equal(t, 6.0, cols[0][1])
	assert.True(t, math.IsNaN(cols[0][2]), "entity without rows must be NaN")
	assert.Equal(t, 1.0, cols[0][3], "earlier entity timestamp sees the earlier row")
	for i := range entities.Rows {
		assert.True(t, math.IsNaN(cols[1][i]))
	}

	t.Run("ttl boundary is inclusive", func(t *testing.T) {
		cols := JoinPointInTime(entities, []string{"v"}, rows, time.Hour)
		assert.Equal(t, []float64{2, 6}, cols[0][:2], "exactly ttl old must be kept")
		assert.True(t, math.IsNaN(cols[0][2]))
		assert.Equal(t, 1.0, cols[0][3])

		cols = JoinPointInTime(entities, []string{"v"}, rows, time.Hour-time.Second)
		for i := range entities.Rows {
			assert.True(t, math.IsNaN(cols[0][i]), "row %d: older than ttl must be ignored", i)
		}
	})
}

func TestFrame(t *testing.T) {
	f := NewFrame(SequentialEntities("user_id", 3, now))
	require.NoError(t, f.AddColumn("a", []float64{1, 2, 3}))
	require.NoError(t, f.AddColumn("b", []float64{4, math.NaN(), 6}))

	assert.Equal(t, 3, f.Len())
	assert.Equal(t, []string{"a", "b"}, f.Columns())
	assert.Equal(t, 3, f.Coverage("a"))
	assert.Equal(t, 2, f.Coverage("b"))

	m, err := f.Matrix("b", "a")
	require.NoError(t, err)
	r, c := m.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 2, c)
	assert.Equal(t, 4.0, m.At(0, 0))
	assert.Equal(t, 3.0, m.At(2, 1))

	v, err := f.Vector("a")
	require.NoError(t, err)
	assert.Equal(t, 2.0, v.AtVec(1))

	_, err = f.Matrix("a", "nope")
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve))

	assert.Error(t, f.AddColumn("a", []float64{1, 2, 3}))
	assert.Error(t, f.AddColumn("c", []float64{1}))

	head := f.Head(2)
	assert.Contains(t, head, "user_id")
	assert.Contains(t, head, "event_timestamp")
	assert.Contains(t, head, "NaN")

	empty := NewFrame(SequentialEntities("user_id", 0, now))
	_, err = empty.Matrix("a")
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
}

func TestMemoryStore_GetHistoricalFeatures(t *testing.T) {
	ctx := context.Background()
	logger, _ := log.NewTestLogger(log.LevelDebug)
	store := NewMemoryStore(WithLogger(logger))
	defer store.Close()

	var rows []Row
	for id := int64(1); id <= 4; id++ {
		rows = append(rows, Row{
			Key:       id,
			Timestamp: now.Add(-time.Hour),
			Values:    map[string]float64{"avg_rating": float64(id), "num_ratings": float64(10 * id)},
		})
	}
	require.NoError(t, store.Push(ctx, "user_features", rows...))

	refs, err := ParseFeatureRefs([]string{"user_features:num_ratings", "user_features:avg_rating"})
	require.NoError(t, err)

	frame, err := store.GetHistoricalFeatures(ctx, SequentialEntities("user_id", 5, now), refs)
	require.NoError(t, err)
	assert.Equal(t, 5, frame.Len())
	assert.Equal(t, []string{"num_ratings", "avg_rating"}, frame.Columns())

	avg, err := frame.Column("avg_rating")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, avg[:4])
	assert.True(t, math.IsNaN(avg[4]))
	assert.True(t, logger.ContainsMessage("Feature has missing values"))
	assert.Equal(t, "memory", store.Backend())
}

func TestMemoryStore_Errors(t *testing.T) {
	ctx := context.Background()
	logger, _ := log.NewTestLogger(log.LevelDebug)
	store := NewMemoryStore(WithLogger(logger))
	entities := SequentialEntities("user_id", 2, now)

	t.Run("unknown group", func(t *testing.T) {
		_, err := store.GetHistoricalFeatures(ctx, entities, []FeatureRef{{Group: "nope", Name: "x"}})
		var fse *errors.FeatureStoreError
		require.True(t, errors.As(err, &fse))
		assert.Equal(t, "memory", fse.Backend)
		assert.True(t, errors.Is(err, ErrUnknownGroup))
	})

	t.Run("no features", func(t *testing.T) {
		_, err := store.GetHistoricalFeatures(ctx, entities, nil)
		var ve *errors.ValidationError
		assert.True(t, errors.As(err, &ve))
	})

	t.Run("bad entity key", func(t *testing.T) {
		_, err := store.GetHistoricalFeatures(ctx, EntityFrame{Key: "user id"}, []FeatureRef{{Group: "g", Name: "x"}})
		var ve *errors.ValidationError
		assert.True(t, errors.As(err, &ve))
	})

	t.Run("empty entity table", func(t *testing.T) {
		require.NoError(t, store.Push(ctx, "g", Row{Key: 1, Timestamp: now, Values: map[string]float64{"x": 1}}))
		frame, err := store.GetHistoricalFeatures(ctx, SequentialEntities("user_id", 0, now), []FeatureRef{{Group: "g", Name: "x"}})
		require.NoError(t, err)
		assert.Equal(t, 0, frame.Len())
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.GetHistoricalFeatures(cctx, entities, []FeatureRef{{Group: "g", Name: "x"}})
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestConverters(t *testing.T) {
	assert.Equal(t, 4.5, AsFloat64(4.5))
	assert.Equal(t, 3.0, AsFloat64(int32(3)))
	assert.Equal(t, 2.25, AsFloat64([]byte("2.25")))
	assert.True(t, math.IsNaN(AsFloat64(nil)))

	var warned []error
	errors.SetWarningHandler(func(w error) { warned = append(warned, w) })
	defer errors.SetWarningHandler(func(error) {})
	assert.True(t, math.IsNaN(AsFloat64("n/a")))
	assert.True(t, math.IsNaN(AsFloat64(true)))
	require.Len(t, warned, 2)
	var dcw *errors.DataConversionWarning
	require.True(t, errors.As(warned[1], &dcw))
	assert.Equal(t, "bool", dcw.FromType)

	k, ok := AsInt64(float64(7))
	assert.True(t, ok)
	assert.Equal(t, int64(7), k)
	_, ok = AsInt64(7.5)
	assert.False(t, ok)

	ts, ok := AsTime(now.Unix())
	assert.True(t, ok)
	assert.True(t, ts.Equal(now))
}
