// Package log defines standard attribute keys for training-job log records.
//
// Keys follow a hierarchical naming convention ("model.name", "data.samples")
// so that Cloud Logging filters can select every record of one stage or one
// run. The categories are:
//   - Run and Stage Context
//   - Model Context
//   - Data Shape
//   - Feature Store
//   - Metrics and Performance
//   - Artifacts
//   - Error Context

package log

// Run and Stage Context
const (
	// RunIDKey is the UUID assigned to one execution of the training job.
	RunIDKey = "run.id"

	// StageKey names the pipeline stage emitting the record.
	// Standard values: StageRetrieve, StageFit, StageEvaluate, StageEmit
	StageKey = "run.stage"

	// ComponentKey identifies which package is performing the operation.
	// Examples: "pipeline", "ensemble", "featurestore.sqlite"
	ComponentKey = "ml.component"

	// OperationKey specifies the machine learning operation being performed.
	OperationKey = "ml.operation"
)

// Model Context
const (
	// ModelNameKey identifies the type of machine learning model.
	ModelNameKey = "model.name"

	// HyperParamsKey contains model hyperparameters as a structured object.
	HyperParamsKey = "model.hyperparams"

	// NEstimatorsKey records the number of trees in an ensemble.
	NEstimatorsKey = "model.n_estimators"

	// RandomSeedKey records the random seed for reproducibility.
	RandomSeedKey = "config.random_seed"

	// TreeIndexKey identifies one tree inside an ensemble.
	TreeIndexKey = "model.tree_index"
)

// Data Shape
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// FeatureNamesKey lists the feature columns used as model input.
	FeatureNamesKey = "data.feature_names"

	// TargetKey names the label column.
	TargetKey = "data.target"
)

// Feature Store
const (
	// StoreBackendKey names the feature store backend (sqlite, postgres, mongo, redis, memory).
	StoreBackendKey = "featurestore.backend"

	// FeatureGroupKey names the feature group (feature view) being read.
	FeatureGroupKey = "featurestore.group"

	// EntitiesKey records how many entities were requested.
	EntitiesKey = "featurestore.entities"

	// EntityKeyKey names the join key column.
	EntityKeyKey = "featurestore.entity_key"

	// AsOfKey records the point-in-time timestamp of the request.
	AsOfKey = "featurestore.as_of"

	// CoverageKey records how many entities received a value for a feature.
	CoverageKey = "featurestore.coverage"
)

// Metrics and Performance
const (
	// RMSEKey records root mean squared error.
	RMSEKey = "metrics.rmse"

	// MAEKey records mean absolute error.
	MAEKey = "metrics.mae"

	// R2ScoreKey records R² coefficient of determination for regression.
	R2ScoreKey = "metrics.r2_score"

	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"
)

// Artifacts
const (
	// ArtifactPathKey is the location an artifact was written to.
	ArtifactPathKey = "artifact.path"

	// OutputDirKey is the artifact output directory or URI.
	OutputDirKey = "artifact.output_dir"
)

// Error Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"

	// SuggestionKey provides helpful suggestions for resolving issues.
	SuggestionKey = "error.suggestion"
)

// Standard attribute values.
const (
	OperationFit     = "fit"
	OperationPredict = "predict"
	OperationScore   = "score"

	StageRetrieve = "retrieve"
	StageFit      = "fit"
	StageEvaluate = "evaluate"
	StageEmit     = "emit"

	ErrorNotFitted         = "NOT_FITTED"
	ErrorDimensionMismatch = "DIMENSION_MISMATCH"
	ErrorEmptyData         = "EMPTY_DATA"
	ErrorFeatureStore      = "FEATURE_STORE"
)
