// Package rftrainer is a batch training job that fits a random forest
// regressor on point-in-time features and writes the model and its metrics
// to an output directory.
//
// # Overview
//
// One run executes four stages:
//
//  1. Retrieve: build an entity table of ids 1..N stamped with the current
//     time and fetch "<group>:<name>" features from a feature store with a
//     point-in-time join.
//  2. Fit: train a RandomForestRegressor (100 trees, random_state 42 by
//     default).
//  3. Evaluate: compute the in-sample RMSE (plus MAE and R²).
//  4. Emit: write model.gob and metrics.json ({"rmse": ...}) to
//     AIP_MODEL_DIR, or /tmp/model when it is unset.
//
// Any error aborts the run and the trainer exits with status 1.
//
// # Quick Start
//
// Seed a local SQLite offline store and run the job:
//
//	go run ./cmd/seedstore
//	go run ./cmd/trainer
//
// Or drive the pipeline from Go:
//
//	store := featurestore.NewMemoryStore()
//	// ... store.Push(ctx, "user_features", rows...) ...
//	sink, err := artifact.Open(ctx, "/tmp/model")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res, err := pipeline.New(store, sink).Run(ctx, config.New())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("RMSE:", res.RMSE)
//
// # Packages
//
//   - featurestore: Store interface, point-in-time join, Frame, in-memory store
//   - featurestore/sqlite, postgres, mongo, redis: offline store backends
//   - sklearn/tree: CART DecisionTreeRegressor
//   - sklearn/ensemble: RandomForestRegressor
//   - metrics: Evaluation metrics (MSE, RMSE, MAE, R²)
//   - artifact: local and GCS sinks, model/metrics/Prometheus/plot writers
//   - pipeline: the four-stage training run
//   - pkg/config: layered configuration (defaults, YAML, env)
//   - pkg/errors, pkg/log: structured errors, warnings and Cloud Logging output
//   - core/model: Core interfaces, state and gob persistence
//   - core/parallel: Parallel processing utilities
//
// # Configuration
//
// Settings are read from TRAINER_* environment variables (TRAINER_STORE__BACKEND,
// TRAINER_MODEL__N_ESTIMATORS, ...) or a YAML file named by TRAINER_CONFIG.
// AIP_MODEL_DIR, set by Vertex AI custom training, always wins for the output
// directory; gs:// URIs are written through Cloud Storage.
package rftrainer
