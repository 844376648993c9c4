// Package pipeline runs the training job: retrieve features, fit the forest,
// evaluate it in-sample and emit the artifacts.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/rftrainer/artifact"
	"github.com/YuminosukeSato/rftrainer/featurestore"
	"github.com/YuminosukeSato/rftrainer/metrics"
	"github.com/YuminosukeSato/rftrainer/pkg/config"
	"github.com/YuminosukeSato/rftrainer/pkg/errors"
	"github.com/YuminosukeSato/rftrainer/pkg/log"
	"github.com/YuminosukeSato/rftrainer/sklearn/ensemble"
)

// headRows is how many frame rows are logged after retrieval.
const headRows = 5

// Result summarizes one successful run.
type Result struct {
	RunID              string
	RMSE               float64
	MAE                float64
	R2                 *float64 // nil when undefined (constant target)
	NSamples           int
	FeatureImportances map[string]float64
	ModelPath          string
	MetricsPath        string
	Duration           time.Duration
}

// Pipeline wires a feature store to an artifact sink.
type Pipeline struct {
	store  featurestore.Store
	sink   artifact.Sink
	now    func() time.Time
	logger log.Logger
}

// Option は設定オプション
type Option func(*Pipeline)

// WithClock replaces time.Now. The clock stamps the entity table and the
// run's timing fields.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithLogger overrides the logger.
func WithLogger(logger log.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New returns a Pipeline reading from store and writing to sink. The caller
// keeps ownership of both.
func New(store featurestore.Store, sink artifact.Sink, opts ...Option) *Pipeline {
	p := &Pipeline{
		store: store,
		sink:  sink,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.GetLoggerWithName("pipeline")
	}
	return p
}

// dataset is the output of the retrieve stage.
type dataset struct {
	X        *mat.Dense
	y        *mat.VecDense
	features []string
	target   string
}

// Run validates cfg and executes the four stages once. Any error aborts the
// run; files already written by the emit stage are left in place.
func (p *Pipeline) Run(ctx context.Context, cfg *config.Config) (*Result, error) {
	// Load を経由しない設定もここで検証する
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	start := p.now()
	runID := uuid.NewString()
	logger := p.logger.With(log.RunIDKey, runID)

	logger.Info("Training run started",
		log.OutputDirKey, p.sink.Location(""),
		log.EntitiesKey, cfg.Entities.Count,
		log.FeatureNamesKey, cfg.Features,
		log.TargetKey, cfg.Target,
	)

	data, err := p.retrieve(ctx, cfg, start, logger.With(log.StageKey, log.StageRetrieve))
	if err != nil {
		return nil, err
	}

	rf, fitDuration, err := p.fit(ctx, cfg, data, logger.With(log.StageKey, log.StageFit))
	if err != nil {
		return nil, err
	}

	res, predicted, err := p.evaluate(rf, data, logger.With(log.StageKey, log.StageEvaluate))
	if err != nil {
		return nil, err
	}
	res.RunID = runID

	if err := p.emit(ctx, cfg, rf, data, predicted, res, fitDuration, logger.With(log.StageKey, log.StageEmit)); err != nil {
		return nil, err
	}

	res.Duration = p.now().Sub(start)
	logger.Info("Training run finished",
		log.RMSEKey, res.RMSE,
		log.SamplesKey, res.NSamples,
		log.DurationMsKey, res.Duration.Milliseconds(),
	)
	return res, nil
}

func (p *Pipeline) retrieve(ctx context.Context, cfg *config.Config, now time.Time, logger log.Logger) (*dataset, error) {
	features, err := featurestore.ParseFeatureRefs(cfg.Features)
	if err != nil {
		return nil, err
	}
	target, err := featurestore.ParseFeatureRef(cfg.Target)
	if err != nil {
		return nil, err
	}

	refs := features
	if cfg.TargetIsFeature() {
		errors.Warn(errors.NewLabelLeakageWarning(cfg.Target, cfg.Features))
	} else {
		refs = append(append([]featurestore.FeatureRef(nil), features...), target)
		// 目的変数の短縮名が特徴量と衝突しないか確認する
		all := append(append([]string(nil), cfg.Features...), cfg.Target)
		if _, err := featurestore.ParseFeatureRefs(all); err != nil {
			return nil, err
		}
	}

	entities := featurestore.SequentialEntities(cfg.Entities.Key, cfg.Entities.Count, now)
	frame, err := p.store.GetHistoricalFeatures(ctx, entities, refs)
	if err != nil {
		return nil, err
	}
	logger.Info("Training frame retrieved",
		log.SamplesKey, frame.Len(),
		log.FeaturesKey, len(features),
		log.AsOfKey, now,
		"frame.head", frame.Head(headRows),
	)

	if frame.Len() == 0 {
		return nil, errors.NewModelError("pipeline.retrieve", "training frame has no rows", errors.ErrEmptyData)
	}

	names := make([]string, len(features))
	for i, f := range features {
		names[i] = f.Name
	}
	X, err := frame.Matrix(names...)
	if err != nil {
		return nil, err
	}
	y, err := frame.Vector(target.Name)
	if err != nil {
		return nil, err
	}
	return &dataset{X: X, y: y, features: names, target: target.Name}, nil
}

func (p *Pipeline) fit(ctx context.Context, cfg *config.Config, data *dataset, logger log.Logger) (*ensemble.RandomForestRegressor, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "before fit")
	}
	m := cfg.Model
	rf := ensemble.NewRandomForestRegressor(
		ensemble.WithNEstimators(m.NEstimators),
		ensemble.WithRandomState(m.RandomState),
		ensemble.WithMaxDepth(m.MaxDepth),
		ensemble.WithMinSamplesSplit(m.MinSamplesSplit),
		ensemble.WithMinSamplesLeaf(m.MinSamplesLeaf),
		ensemble.WithMaxFeatures(m.MaxFeatures),
		ensemble.WithNJobs(m.NJobs),
	)

	start := p.now()
	if err := rf.Fit(data.X, data.y); err != nil {
		return nil, 0, err
	}
	elapsed := p.now().Sub(start)

	logger.Debug("Model fitted",
		log.ModelNameKey, "RandomForestRegressor",
		log.HyperParamsKey, rf.GetParams(),
		log.DurationMsKey, elapsed.Milliseconds(),
	)
	return rf, elapsed, nil
}

func (p *Pipeline) evaluate(rf *ensemble.RandomForestRegressor, data *dataset, logger log.Logger) (*Result, []float64, error) {
	const op = "pipeline.evaluate"
	pred, err := rf.Predict(data.X)
	if err != nil {
		return nil, nil, err
	}
	predVec, err := metrics.ColumnVector(op, pred)
	if err != nil {
		return nil, nil, err
	}

	rmse, err := metrics.RMSE(data.y, predVec)
	if err != nil {
		return nil, nil, err
	}
	mae, err := metrics.MAE(data.y, predVec)
	if err != nil {
		return nil, nil, err
	}

	res := &Result{
		RMSE:     rmse,
		MAE:      mae,
		NSamples: data.y.Len(),
	}

	r2, err := metrics.R2Score(data.y, predVec)
	var undefined *errors.UndefinedMetricWarning
	switch {
	case err == nil:
		res.R2 = &r2
	case errors.As(err, &undefined):
		errors.Warn(undefined)
	default:
		return nil, nil, err
	}

	imp, err := rf.FeatureImportances()
	if err != nil {
		return nil, nil, err
	}
	res.FeatureImportances = make(map[string]float64, len(imp))
	for i, v := range imp {
		res.FeatureImportances[data.features[i]] = v
	}

	fields := []any{
		log.OperationKey, log.OperationScore,
		log.RMSEKey, rmse,
		log.MAEKey, mae,
		"model.feature_importances", res.FeatureImportances,
	}
	if res.R2 != nil {
		fields = append(fields, log.R2ScoreKey, *res.R2)
	}
	logger.Info("In-sample evaluation", fields...)

	return res, predVec.RawVector().Data, nil
}

func (p *Pipeline) emit(ctx context.Context, cfg *config.Config, rf *ensemble.RandomForestRegressor, data *dataset,
	predicted []float64, res *Result, fitDuration time.Duration, logger log.Logger) error {
	if err := artifact.WriteModel(ctx, p.sink, rf); err != nil {
		return errors.Wrap(err, "write model")
	}
	res.ModelPath = p.sink.Location(artifact.ModelFile)
	logger.Info("Artifact written", log.ArtifactPathKey, res.ModelPath)

	if err := artifact.WriteMetrics(ctx, p.sink, artifact.Metrics{RMSE: res.RMSE}); err != nil {
		return errors.Wrap(err, "write metrics")
	}
	res.MetricsPath = p.sink.Location(artifact.MetricsFile)
	logger.Info("Artifact written", log.ArtifactPathKey, res.MetricsPath, log.RMSEKey, res.RMSE)

	if cfg.Artifacts.Prometheus {
		reg, err := artifact.NewRunRegistry(artifact.RunRecord{
			RunID:       res.RunID,
			RMSE:        res.RMSE,
			MAE:         res.MAE,
			R2:          res.R2,
			Samples:     res.NSamples,
			Features:    len(data.features),
			FitDuration: fitDuration,
			FinishedAt:  p.now(),
		})
		if err != nil {
			return err
		}
		if err := artifact.WritePrometheus(ctx, p.sink, reg); err != nil {
			return errors.Wrap(err, "write prometheus metrics")
		}
		logger.Debug("Artifact written", log.ArtifactPathKey, p.sink.Location(artifact.PrometheusFile))
	}

	if cfg.Artifacts.Plot {
		actual := data.y.RawVector().Data
		title := data.target + " (in-sample)"
		if err := artifact.WritePredictionPlot(ctx, p.sink, title, actual, predicted); err != nil {
			return errors.Wrap(err, "write prediction plot")
		}
		logger.Debug("Artifact written", log.ArtifactPathKey, p.sink.Location(artifact.PlotFile))
	}
	return nil
}
