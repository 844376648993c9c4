package artifact

import (
	"context"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/YuminosukeSato/rftrainer/pkg/errors"
)

const metricNamespace = "rftrainer"

// RunRecord is the summary of one training run exported as gauges.
type RunRecord struct {
	RunID       string
	RMSE        float64
	MAE         float64
	R2          *float64 // nil when undefined (constant target)
	Samples     int
	Features    int
	FitDuration time.Duration
	FinishedAt  time.Time
}

func newGauge(name, help, runID string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   metricNamespace,
		Subsystem:   "training",
		Name:        name,
		Help:        help,
		ConstLabels: prometheus.Labels{"run_id": runID},
	})
}

// NewRunRegistry builds a registry holding the run's gauges.
func NewRunRegistry(rec RunRecord) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()

	set := func(name, help string, v float64) error {
		g := newGauge(name, help, rec.RunID)
		g.Set(v)
		return registry.Register(g)
	}

	gauges := []struct {
		name, help string
		value      float64
	}{
		{"rmse", "In-sample root mean squared error of the last run.", rec.RMSE},
		{"mae", "In-sample mean absolute error of the last run.", rec.MAE},
		{"samples", "Number of training rows.", float64(rec.Samples)},
		{"features", "Number of input features.", float64(rec.Features)},
		{"fit_duration_seconds", "Wall time spent fitting the forest.", rec.FitDuration.Seconds()},
		{"last_success_timestamp_seconds", "Unix time the run finished.", float64(rec.FinishedAt.UnixNano()) / 1e9},
	}
	for _, g := range gauges {
		if err := set(g.name, g.help, g.value); err != nil {
			return nil, errors.Wrapf(err, "register %s", g.name)
		}
	}
	if rec.R2 != nil {
		if err := set("r2", "In-sample coefficient of determination of the last run.", *rec.R2); err != nil {
			return nil, errors.Wrap(err, "register r2")
		}
	}
	return registry, nil
}

// WritePrometheus writes the gathered metrics in text exposition format to
// PrometheusFile, suitable for the node_exporter textfile collector.
func WritePrometheus(ctx context.Context, sink Sink, gatherer prometheus.Gatherer) error {
	families, err := gatherer.Gather()
	if err != nil {
		return errors.Wrap(err, "gather metrics")
	}
	return sink.Put(ctx, PrometheusFile, func(w io.Writer) error {
		for _, mf := range families {
			if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
				return err
			}
		}
		return nil
	})
}
