// Package ensemble provides bagged ensembles of regression trees.
package ensemble

import (
	"io"
	"math/rand/v2"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/rftrainer/core/model"
	"github.com/YuminosukeSato/rftrainer/core/parallel"
	"github.com/YuminosukeSato/rftrainer/metrics"
	"github.com/YuminosukeSato/rftrainer/pkg/errors"
	"github.com/YuminosukeSato/rftrainer/pkg/log"
	"github.com/YuminosukeSato/rftrainer/sklearn/tree"
)

const modelName = "RandomForestRegressor"

// RandomForestRegressor averages the predictions of bootstrap-trained CART
// regression trees.
//
// 木 i のブートストラップ標本と特徴量の走査順は PCG(RandomState, i) から引くため、
// NJobs に関係なく同じ森が得られる。
type RandomForestRegressor struct {
	State *model.StateManager

	NEstimators     int
	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	Bootstrap       bool
	NJobs           int
	RandomState     int64

	Estimators []*tree.DecisionTreeRegressor
}

// Option は設定オプション
type Option func(*RandomForestRegressor)

// WithNEstimators は木の本数を設定
func WithNEstimators(n int) Option {
	return func(rf *RandomForestRegressor) {
		rf.NEstimators = n
	}
}

// WithRandomState は乱数シードを設定
func WithRandomState(seed int64) Option {
	return func(rf *RandomForestRegressor) {
		rf.RandomState = seed
	}
}

// WithMaxDepth は各木の最大深さを設定（負の値で無制限）
func WithMaxDepth(depth int) Option {
	return func(rf *RandomForestRegressor) {
		rf.MaxDepth = depth
	}
}

// WithMinSamplesSplit は分割に必要な最小サンプル数を設定
func WithMinSamplesSplit(n int) Option {
	return func(rf *RandomForestRegressor) {
		rf.MinSamplesSplit = n
	}
}

// WithMinSamplesLeaf は葉の最小サンプル数を設定
func WithMinSamplesLeaf(n int) Option {
	return func(rf *RandomForestRegressor) {
		rf.MinSamplesLeaf = n
	}
}

// WithMaxFeatures は各分割で検討する特徴量数を設定（0で全特徴量）
func WithMaxFeatures(n int) Option {
	return func(rf *RandomForestRegressor) {
		rf.MaxFeatures = n
	}
}

// WithBootstrap はブートストラップ標本を使うかどうかを設定
func WithBootstrap(bootstrap bool) Option {
	return func(rf *RandomForestRegressor) {
		rf.Bootstrap = bootstrap
	}
}

// WithNJobs は並列ジョブ数を設定（-1で全コア）
func WithNJobs(n int) Option {
	return func(rf *RandomForestRegressor) {
		rf.NJobs = n
	}
}

// NewRandomForestRegressor creates a forest with scikit-learn defaults except
// for the seed, which defaults to 42.
func NewRandomForestRegressor(options ...Option) *RandomForestRegressor {
	rf := &RandomForestRegressor{
		State:           model.NewStateManager(),
		NEstimators:     100,
		MaxDepth:        -1,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     0,
		Bootstrap:       true,
		NJobs:           1,
		RandomState:     42,
	}
	for _, opt := range options {
		opt(rf)
	}
	return rf
}

// IsFitted reports whether Fit has completed successfully.
func (rf *RandomForestRegressor) IsFitted() bool {
	return rf.State != nil && rf.State.IsFitted()
}

// Fit はモデルを訓練データで学習
func (rf *RandomForestRegressor) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "RandomForestRegressor.Fit")

	const op = "RandomForestRegressor.Fit"
	if rf.NEstimators < 1 {
		return errors.NewValidationError("n_estimators", "must be at least 1", rf.NEstimators)
	}

	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows == 0 || cols == 0 {
		return errors.NewModelError(op, "empty input", errors.ErrEmptyData)
	}
	if yCols != 1 {
		return errors.NewDimensionError(op, 1, yCols, 1)
	}
	if rows != yRows {
		return errors.NewDimensionError(op, rows, yRows, 0)
	}
	if err := errors.CheckMatrix(op, X, rows, cols); err != nil {
		return err
	}
	if err := errors.CheckMatrix(op, y, yRows, 1); err != nil {
		return err
	}
	if rf.State == nil {
		rf.State = model.NewStateManager()
	}

	XFit := mat.DenseCopyOf(X)
	yFit := mat.DenseCopyOf(y)
	start := time.Now()

	estimators := make([]*tree.DecisionTreeRegressor, rf.NEstimators)
	errs := make([]error, rf.NEstimators)
	parallel.ParallelizeN(rf.NEstimators, parallel.ResolveJobs(rf.NJobs), func(s, e int) {
		for i := s; i < e; i++ {
			estimators[i], errs[i] = rf.fitTree(i, XFit, yFit)
		}
	})
	for i, treeErr := range errs {
		if treeErr != nil {
			return errors.Wrapf(treeErr, "fit tree %d", i)
		}
	}

	rf.State.Reset()
	rf.Estimators = estimators
	rf.State.SetDimensions(cols, rows)
	rf.State.SetFitted()

	logger := log.GetLoggerWithName("ensemble")
	logger.Info("Random forest fitted",
		log.ModelNameKey, modelName,
		log.OperationKey, log.OperationFit,
		log.NEstimatorsKey, rf.NEstimators,
		log.RandomSeedKey, rf.RandomState,
		log.SamplesKey, rows,
		log.FeaturesKey, cols,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

// fitTree は木 i を学習する。ゴルーチン内のパニックはここでエラーに変換する。
func (rf *RandomForestRegressor) fitTree(i int, X, y *mat.Dense) (*tree.DecisionTreeRegressor, error) {
	var dt *tree.DecisionTreeRegressor
	err := errors.SafeExecute("RandomForestRegressor.fitTree", func() error {
		rows, _ := X.Dims()
		src := rand.NewPCG(uint64(rf.RandomState), uint64(i))

		weights := make([]float64, rows)
		if rf.Bootstrap {
			rng := rand.New(src)
			for range rows {
				weights[rng.IntN(rows)]++
			}
		} else {
			for j := range weights {
				weights[j] = 1
			}
		}

		dt = tree.NewDecisionTreeRegressor(
			tree.WithMaxDepth(rf.MaxDepth),
			tree.WithMinSamplesSplit(rf.MinSamplesSplit),
			tree.WithMinSamplesLeaf(rf.MinSamplesLeaf),
			tree.WithMaxFeatures(rf.MaxFeatures),
			tree.WithRandomState(rf.RandomState),
			tree.WithRandomSource(src),
		)
		return dt.FitWeighted(X, y, weights)
	})
	return dt, err
}

// Predict は各木の予測の平均を返す（n×1 行列）
func (rf *RandomForestRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if !rf.IsFitted() {
		return nil, errors.NewNotFittedError(modelName, "Predict")
	}
	if err := rf.State.RequireFeatures("RandomForestRegressor.Predict", X); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if rows == 0 {
		return nil, errors.NewModelError("RandomForestRegressor.Predict", "empty input", errors.ErrEmptyData)
	}

	out := mat.NewDense(rows, 1, nil)
	n := float64(len(rf.Estimators))
	parallel.ParallelizeN(rows, parallel.ResolveJobs(rf.NJobs), func(s, e int) {
		row := make([]float64, cols)
		for i := s; i < e; i++ {
			mat.Row(row, i, X)
			sum := 0.0
			for _, dt := range rf.Estimators {
				sum += dt.PredictRow(row)
			}
			out.Set(i, 0, sum/n)
		}
	})
	return out, nil
}

// Score returns the coefficient of determination R² of the prediction.
func (rf *RandomForestRegressor) Score(X, y mat.Matrix) (float64, error) {
	pred, err := rf.Predict(X)
	if err != nil {
		return 0, err
	}
	yVec, err := metrics.ColumnVector("RandomForestRegressor.Score", y)
	if err != nil {
		return 0, err
	}
	predVec, err := metrics.ColumnVector("RandomForestRegressor.Score", pred)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(yVec, predVec)
}

// FeatureImportances は単一ノードでない木の重要度を平均し、合計1に正規化して返す。
// すべての木が葉だけの場合はゼロベクトル。
func (rf *RandomForestRegressor) FeatureImportances() ([]float64, error) {
	if !rf.IsFitted() {
		return nil, errors.NewNotFittedError(modelName, "FeatureImportances")
	}
	nFeatures, _ := rf.State.GetDimensions()
	out := make([]float64, nFeatures)
	count := 0
	for _, dt := range rf.Estimators {
		if len(dt.Nodes) <= 1 {
			continue
		}
		imp, err := dt.FeatureImportances()
		if err != nil {
			return nil, err
		}
		for j, v := range imp {
			out[j] += v
		}
		count++
	}
	if count == 0 {
		return out, nil
	}
	sum := 0.0
	for j := range out {
		out[j] /= float64(count)
		sum += out[j]
	}
	if sum > 0 {
		for j := range out {
			out[j] /= sum
		}
	}
	return out, nil
}

// GetParams returns the hyperparameters under scikit-learn names.
func (rf *RandomForestRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"n_estimators":      rf.NEstimators,
		"criterion":         "squared_error",
		"max_depth":         rf.MaxDepth,
		"min_samples_split": rf.MinSamplesSplit,
		"min_samples_leaf":  rf.MinSamplesLeaf,
		"max_features":      rf.MaxFeatures,
		"bootstrap":         rf.Bootstrap,
		"n_jobs":            rf.NJobs,
		"random_state":      rf.RandomState,
	}
}

// Save はモデルをgob形式で書き出す
func (rf *RandomForestRegressor) Save(w io.Writer) error {
	if !rf.IsFitted() {
		return errors.NewNotFittedError(modelName, "Save")
	}
	return model.SaveModelToWriter(rf, w)
}

// Load はSaveで書き出したモデルを読み込む
func Load(r io.Reader) (*RandomForestRegressor, error) {
	rf := &RandomForestRegressor{}
	if err := model.LoadModelFromReader(rf, r); err != nil {
		return nil, err
	}
	if rf.State == nil || !rf.State.IsFitted() {
		return nil, errors.NewModelError("ensemble.Load", "decoded model is not fitted", nil)
	}
	return rf, nil
}
