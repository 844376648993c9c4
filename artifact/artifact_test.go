package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/rftrainer/pkg/errors"
)

func TestOpen_LocalCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "model")
	sink, err := Open(context.Background(), dir)
	require.NoError(t, err)
	defer sink.Close()

	_, ok := sink.(*LocalSink)
	assert.True(t, ok)
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, filepath.Join(dir, MetricsFile), sink.Location(MetricsFile))
}

func TestLocalSink_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	sink, err := NewLocalSink(t.TempDir())
	require.NoError(t, err)

	write := func(s string) func(io.Writer) error {
		return func(w io.Writer) error {
			_, err := io.WriteString(w, s)
			return err
		}
	}
	require.NoError(t, sink.Put(ctx, "a.txt", write("first, longer content")))
	require.NoError(t, sink.Put(ctx, "a.txt", write("second")))

	got, err := os.ReadFile(sink.Location("a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))
}

func TestLocalSink_RejectsPaths(t *testing.T) {
	sink, err := NewLocalSink(t.TempDir())
	require.NoError(t, err)
	for _, name := range []string{"", "..", "../escape", "sub/file"} {
		err := sink.Put(context.Background(), name, func(io.Writer) error { return nil })
		var ve *errors.ValidationError
		assert.True(t, errors.As(err, &ve), "name %q", name)
	}
}

func TestLocalSink_WriteErrorPropagates(t *testing.T) {
	sink, err := NewLocalSink(t.TempDir())
	require.NoError(t, err)
	boom := errors.New("boom")
	err = sink.Put(context.Background(), "x", func(io.Writer) error { return boom })
	assert.True(t, errors.Is(err, boom))
}

func TestParseGCSURI(t *testing.T) {
	tests := []struct {
		uri            string
		bucket, prefix string
		wantErr        bool
	}{
		{uri: "gs://bucket", bucket: "bucket"},
		{uri: "gs://bucket/", bucket: "bucket"},
		{uri: "gs://bucket/aiplatform-custom-training/model/", bucket: "bucket", prefix: "aiplatform-custom-training/model"},
		{uri: "gs://", wantErr: true},
		{uri: "/tmp/model", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, prefix, err := parseGCSURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.prefix, prefix)
		})
	}

	s := &GCSSink{bucket: "b", prefix: "run/model"}
	assert.Equal(t, "gs://b/run/model/model.gob", s.Location(ModelFile))
	s = &GCSSink{bucket: "b"}
	assert.Equal(t, "gs://b/metrics.json", s.Location(MetricsFile))
}

func TestWriteMetrics(t *testing.T) {
	ctx := context.Background()
	sink, err := NewLocalSink(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, WriteMetrics(ctx, sink, Metrics{RMSE: 0.125}))
	raw, err := os.ReadFile(sink.Location(MetricsFile))
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Len(t, doc, 1)
	assert.Equal(t, 0.125, doc["rmse"])

	for _, bad := range []float64{-1, math.NaN(), math.Inf(1)} {
		err := WriteMetrics(ctx, sink, Metrics{RMSE: bad})
		var ve *errors.ValueError
		assert.True(t, errors.As(err, &ve), "rmse %v", bad)
	}
}

type gobbable struct {
	Name  string
	Trees []int
}

func TestWriteModel(t *testing.T) {
	ctx := context.Background()
	sink, err := NewLocalSink(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, WriteModel(ctx, sink, &gobbable{Name: "forest", Trees: []int{1, 2, 3}}))
	info, err := os.Stat(sink.Location(ModelFile))
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestWritePrometheus(t *testing.T) {
	ctx := context.Background()
	sink, err := NewLocalSink(t.TempDir())
	require.NoError(t, err)

	r2 := 0.93
	reg, err := NewRunRegistry(RunRecord{
		RunID:       "run-1",
		RMSE:        0.25,
		MAE:         0.2,
		R2:          &r2,
		Samples:     50,
		Features:    2,
		FitDuration: 1500 * time.Millisecond,
		FinishedAt:  time.Unix(1792324800, 0),
	})
	require.NoError(t, err)
	require.NoError(t, WritePrometheus(ctx, sink, reg))

	raw, err := os.ReadFile(sink.Location(PrometheusFile))
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, "# TYPE rftrainer_training_rmse gauge")
	assert.Contains(t, text, `rftrainer_training_rmse{run_id="run-1"} 0.25`)
	assert.Contains(t, text, `rftrainer_training_r2{run_id="run-1"} 0.93`)
	assert.Contains(t, text, `rftrainer_training_samples{run_id="run-1"} 50`)
	assert.Contains(t, text, `rftrainer_training_fit_duration_seconds{run_id="run-1"} 1.5`)

	t.Run("undefined r2 is omitted", func(t *testing.T) {
		reg, err := NewRunRegistry(RunRecord{RunID: "run-2"})
		require.NoError(t, err)
		require.NoError(t, WritePrometheus(ctx, sink, reg))
		raw, err := os.ReadFile(sink.Location(PrometheusFile))
		require.NoError(t, err)
		assert.NotContains(t, string(raw), "rftrainer_training_r2")
	})
}

func TestWritePredictionPlot(t *testing.T) {
	ctx := context.Background()
	sink, err := NewLocalSink(t.TempDir())
	require.NoError(t, err)

	actual := []float64{1, 2, 3, 4, 5}
	predicted := []float64{1.1, 1.9, 3.2, 3.8, 5.0}
	require.NoError(t, WritePredictionPlot(ctx, sink, "in-sample", actual, predicted))

	raw, err := os.ReadFile(sink.Location(PlotFile))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("\x89PNG\r\n\x1a\n")), "expected PNG header")

	err = WritePredictionPlot(ctx, sink, "", actual, predicted[:2])
	var de *errors.DimensionError
	assert.True(t, errors.As(err, &de))

	err = WritePredictionPlot(ctx, sink, "", nil, nil)
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
}
