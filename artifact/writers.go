package artifact

import (
	"context"
	"encoding/json"
	"io"
	"math"

	"github.com/YuminosukeSato/rftrainer/core/model"
	"github.com/YuminosukeSato/rftrainer/pkg/errors"
)

// Output file names.
const (
	ModelFile      = "model.gob"
	MetricsFile    = "metrics.json"
	PrometheusFile = "metrics.prom"
	PlotFile       = "predictions.png"
)

// Metrics is the metrics.json document. It carries exactly one field.
type Metrics struct {
	RMSE float64 `json:"rmse"`
}

// WriteModel gob-encodes m to ModelFile.
func WriteModel(ctx context.Context, sink Sink, m interface{}) error {
	return sink.Put(ctx, ModelFile, func(w io.Writer) error {
		return model.SaveModelToWriter(m, w)
	})
}

// WriteMetrics writes {"rmse": <value>} to MetricsFile.
func WriteMetrics(ctx context.Context, sink Sink, m Metrics) error {
	if math.IsNaN(m.RMSE) || math.IsInf(m.RMSE, 0) || m.RMSE < 0 {
		return errors.NewValueError("WriteMetrics", "rmse must be a finite non-negative number")
	}
	return sink.Put(ctx, MetricsFile, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(m)
	})
}
