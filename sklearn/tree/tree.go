// Package tree はCART回帰木（二乗誤差基準）を提供します。
// scikit-learnのDecisionTreeRegressorと同じ分割規則・しきい値規則に従います。
package tree

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/rftrainer/core/model"
	"github.com/YuminosukeSato/rftrainer/metrics"
	"github.com/YuminosukeSato/rftrainer/pkg/errors"
	"github.com/YuminosukeSato/rftrainer/pkg/log"
)

// 不純度がこの値以下のノードは葉とする (float64 のマシンイプシロン)
const impurityEpsilon = 0x1p-52

// Node は平坦化された木の1ノード。子のインデックスが -1 なら葉。
type Node struct {
	Feature   int     // 分割に使う特徴量（葉は -1）
	Threshold float64 // x[Feature] <= Threshold なら左へ
	Left      int
	Right     int

	Value            float64 // ノード内の重み付き平均（葉の予測値）
	Impurity         float64 // 重み付き分散
	NSamples         int     // 重みが正のサンプル数
	WeightedNSamples float64
}

// IsLeaf returns true if the node has no children.
func (n *Node) IsLeaf() bool {
	return n.Left < 0
}

// DecisionTreeRegressor is a CART regression tree using the squared-error criterion.
// Exported fields are the persisted state; gob encodes them as-is.
type DecisionTreeRegressor struct {
	State *model.StateManager

	MaxDepth        int
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int
	RandomState     int64

	Nodes       []Node
	Importances []float64

	rng *rand.Rand
}

// Option は設定オプション
type Option func(*DecisionTreeRegressor)

// WithMaxDepth は木の最大深さを設定（負の値で無制限）
func WithMaxDepth(depth int) Option {
	return func(t *DecisionTreeRegressor) {
		t.MaxDepth = depth
	}
}

// WithMinSamplesSplit は内部ノードを分割するのに必要な最小サンプル数を設定
func WithMinSamplesSplit(n int) Option {
	return func(t *DecisionTreeRegressor) {
		t.MinSamplesSplit = n
	}
}

// WithMinSamplesLeaf は葉に必要な最小サンプル数を設定
func WithMinSamplesLeaf(n int) Option {
	return func(t *DecisionTreeRegressor) {
		t.MinSamplesLeaf = n
	}
}

// WithMaxFeatures は各分割で検討する特徴量数を設定（0で全特徴量）
func WithMaxFeatures(n int) Option {
	return func(t *DecisionTreeRegressor) {
		t.MaxFeatures = n
	}
}

// WithRandomState は特徴量の走査順を決める乱数シードを設定
func WithRandomState(seed int64) Option {
	return func(t *DecisionTreeRegressor) {
		t.RandomState = seed
		t.rng = nil
	}
}

// WithRandomSource は乱数ソースを直接渡す。アンサンブルが木ごとのストリームを共有するために使う。
func WithRandomSource(src rand.Source) Option {
	return func(t *DecisionTreeRegressor) {
		t.rng = rand.New(src)
	}
}

// NewDecisionTreeRegressor は新しいDecisionTreeRegressorを作成
func NewDecisionTreeRegressor(options ...Option) *DecisionTreeRegressor {
	t := &DecisionTreeRegressor{
		State:           model.NewStateManager(),
		MaxDepth:        -1,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     0,
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// IsFitted reports whether Fit has completed successfully.
func (t *DecisionTreeRegressor) IsFitted() bool {
	return t.State.IsFitted()
}

// Fit はモデルを訓練データで学習
func (t *DecisionTreeRegressor) Fit(X, y mat.Matrix) error {
	rows, _ := X.Dims()
	w := make([]float64, rows)
	for i := range w {
		w[i] = 1
	}
	return t.FitWeighted(X, y, w)
}

// FitWeighted fits the tree with per-sample weights. A weight of k behaves
// like k copies of the sample; zero-weight samples are ignored.
func (t *DecisionTreeRegressor) FitWeighted(X, y mat.Matrix, sampleWeight []float64) (err error) {
	defer errors.Recover(&err, "DecisionTreeRegressor.Fit")

	xs, ys, nFeatures, err := validateInput("DecisionTreeRegressor.Fit", X, y)
	if err != nil {
		return err
	}
	nSamples := len(ys)
	if len(sampleWeight) != nSamples {
		return errors.NewDimensionError("DecisionTreeRegressor.Fit", nSamples, len(sampleWeight), 0)
	}
	if err := t.validateParams(nFeatures); err != nil {
		return err
	}

	indices := make([]int, 0, nSamples)
	for i, wi := range sampleWeight {
		if wi < 0 || math.IsNaN(wi) {
			return errors.NewValidationError("sample_weight", "must be non-negative", wi)
		}
		if wi > 0 {
			indices = append(indices, i)
		}
	}
	if len(indices) == 0 {
		return errors.NewModelError("DecisionTreeRegressor.Fit", "all sample weights are zero", errors.ErrEmptyData)
	}

	if t.rng == nil {
		t.rng = rand.New(rand.NewPCG(uint64(t.RandomState), 0))
	}

	b := &builder{
		tree:      t,
		X:         xs,
		y:         ys,
		w:         sampleWeight,
		nFeatures: nFeatures,
		features:  make([]int, nFeatures),
		order:     make([]int, nSamples),
	}
	for j := range b.features {
		b.features[j] = j
	}

	t.State.Reset()
	t.Nodes = t.Nodes[:0]
	t.Importances = make([]float64, nFeatures)
	b.build(indices, 0)
	normalize(t.Importances)

	t.State.SetDimensions(nFeatures, nSamples)
	t.State.SetFitted()

	logger := log.GetLoggerWithName("tree")
	logger.Debug("Decision tree fitted",
		log.ModelNameKey, "DecisionTreeRegressor",
		log.SamplesKey, len(indices),
		log.FeaturesKey, nFeatures,
		"tree.nodes", len(t.Nodes),
		"tree.depth", t.Depth(),
	)
	return nil
}

func (t *DecisionTreeRegressor) validateParams(nFeatures int) error {
	if t.MaxDepth == 0 {
		return errors.NewValidationError("max_depth", "must be positive or negative for unlimited", t.MaxDepth)
	}
	if t.MinSamplesSplit < 2 {
		return errors.NewValidationError("min_samples_split", "must be at least 2", t.MinSamplesSplit)
	}
	if t.MinSamplesLeaf < 1 {
		return errors.NewValidationError("min_samples_leaf", "must be at least 1", t.MinSamplesLeaf)
	}
	if t.MaxFeatures < 0 || t.MaxFeatures > nFeatures {
		return errors.NewValidationError("max_features", "must be in [0, n_features]", t.MaxFeatures)
	}
	return nil
}

// Predict は入力データに対する予測を行う（n×1 行列）
func (t *DecisionTreeRegressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := t.State.RequireFitted("DecisionTreeRegressor", "Predict"); err != nil {
		return nil, err
	}
	if err := t.State.RequireFeatures("DecisionTreeRegressor.Predict", X); err != nil {
		return nil, err
	}
	rows, cols := X.Dims()
	if rows == 0 {
		return nil, errors.NewModelError("DecisionTreeRegressor.Predict", "empty input", errors.ErrEmptyData)
	}
	out := mat.NewDense(rows, 1, nil)
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, X)
		out.Set(i, 0, t.PredictRow(row))
	}
	return out, nil
}

// PredictRow returns the leaf value reached by one sample. The caller must
// ensure the tree is fitted and len(row) matches the training feature count.
func (t *DecisionTreeRegressor) PredictRow(row []float64) float64 {
	idx := 0
	for {
		n := &t.Nodes[idx]
		if n.IsLeaf() {
			return n.Value
		}
		if row[n.Feature] <= n.Threshold {
			idx = n.Left
		} else {
			idx = n.Right
		}
	}
}

// Score returns the coefficient of determination R² of the prediction.
func (t *DecisionTreeRegressor) Score(X, y mat.Matrix) (float64, error) {
	pred, err := t.Predict(X)
	if err != nil {
		return 0, err
	}
	yVec, err := metrics.ColumnVector("DecisionTreeRegressor.Score", y)
	if err != nil {
		return 0, err
	}
	predVec, err := metrics.ColumnVector("DecisionTreeRegressor.Score", pred)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(yVec, predVec)
}

// FeatureImportances returns the normalized total impurity decrease per feature.
func (t *DecisionTreeRegressor) FeatureImportances() ([]float64, error) {
	if err := t.State.RequireFitted("DecisionTreeRegressor", "FeatureImportances"); err != nil {
		return nil, err
	}
	out := make([]float64, len(t.Importances))
	copy(out, t.Importances)
	return out, nil
}

// GetParams returns the hyperparameters under scikit-learn names.
func (t *DecisionTreeRegressor) GetParams() map[string]interface{} {
	return map[string]interface{}{
		"criterion":         "squared_error",
		"max_depth":         t.MaxDepth,
		"min_samples_split": t.MinSamplesSplit,
		"min_samples_leaf":  t.MinSamplesLeaf,
		"max_features":      t.MaxFeatures,
		"random_state":      t.RandomState,
	}
}

// Depth returns the length of the longest root-to-leaf path.
func (t *DecisionTreeRegressor) Depth() int {
	if len(t.Nodes) == 0 {
		return 0
	}
	var walk func(idx int) int
	walk = func(idx int) int {
		n := &t.Nodes[idx]
		if n.IsLeaf() {
			return 0
		}
		return 1 + max(walk(n.Left), walk(n.Right))
	}
	return walk(0)
}

// NLeaves returns the number of leaves.
func (t *DecisionTreeRegressor) NLeaves() int {
	count := 0
	for i := range t.Nodes {
		if t.Nodes[i].IsLeaf() {
			count++
		}
	}
	return count
}

// validateInput は X, y を検証し、行優先の特徴量スライスとターゲットを返す
func validateInput(op string, X, y mat.Matrix) ([]float64, []float64, int, error) {
	rows, cols := X.Dims()
	yRows, yCols := y.Dims()
	if rows == 0 || cols == 0 {
		return nil, nil, 0, errors.NewModelError(op, "empty input", errors.ErrEmptyData)
	}
	if yCols != 1 {
		return nil, nil, 0, errors.NewDimensionError(op, 1, yCols, 1)
	}
	if rows != yRows {
		return nil, nil, 0, errors.NewDimensionError(op, rows, yRows, 0)
	}
	if err := errors.CheckMatrix(op, X, rows, cols); err != nil {
		return nil, nil, 0, err
	}
	ys := make([]float64, rows)
	for i := range ys {
		ys[i] = y.At(i, 0)
	}
	if err := errors.CheckFinite(op, ys); err != nil {
		return nil, nil, 0, err
	}
	xs := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			xs[i*cols+j] = X.At(i, j)
		}
	}
	return xs, ys, cols, nil
}

// builder は1回の学習の作業領域
type builder struct {
	tree      *DecisionTreeRegressor
	X         []float64
	y         []float64
	w         []float64
	nFeatures int
	features  []int
	order     []int
}

type split struct {
	feature   int
	threshold float64
	pos       int
	proxy     float64
	found     bool
}

func (b *builder) at(i, j int) float64 {
	return b.X[i*b.nFeatures+j]
}

// nodeStats は重み付き平均と重み付き分散を返す
func (b *builder) nodeStats(indices []int) (value, impurity, weight float64) {
	var sw, swy float64
	for _, i := range indices {
		sw += b.w[i]
		swy += b.w[i] * b.y[i]
	}
	value = swy / sw
	// 平均からの偏差で計算する (E[y²]-E[y]² は定数ノードでも桁落ちで正になる)
	var ss float64
	for _, i := range indices {
		d := b.y[i] - value
		ss += b.w[i] * d * d
	}
	return value, ss / sw, sw
}

// build はノードを追加し、そのインデックスを返す
func (b *builder) build(indices []int, depth int) int {
	t := b.tree
	value, impurity, weight := b.nodeStats(indices)
	idx := len(t.Nodes)
	t.Nodes = append(t.Nodes, Node{
		Feature:          -1,
		Left:             -1,
		Right:            -1,
		Value:            value,
		Impurity:         impurity,
		NSamples:         len(indices),
		WeightedNSamples: weight,
	})

	isLeaf := (t.MaxDepth > 0 && depth >= t.MaxDepth) ||
		len(indices) < t.MinSamplesSplit ||
		len(indices) < 2*t.MinSamplesLeaf ||
		impurity <= impurityEpsilon
	if isLeaf {
		return idx
	}

	best := b.findBestSplit(indices)
	if !best.found {
		return idx
	}

	// indices を best.feature でソートし直して左右に分ける
	sort.SliceStable(indices, func(a, c int) bool {
		return b.at(indices[a], best.feature) < b.at(indices[c], best.feature)
	})
	left := append([]int(nil), indices[:best.pos]...)
	right := append([]int(nil), indices[best.pos:]...)

	leftIdx := b.build(left, depth+1)
	rightIdx := b.build(right, depth+1)

	n := &t.Nodes[idx]
	n.Feature = best.feature
	n.Threshold = best.threshold
	n.Left = leftIdx
	n.Right = rightIdx

	l, r := &t.Nodes[leftIdx], &t.Nodes[rightIdx]
	t.Importances[best.feature] += n.WeightedNSamples*n.Impurity -
		l.WeightedNSamples*l.Impurity -
		r.WeightedNSamples*r.Impurity
	return idx
}

// findBestSplit は特徴量をランダムな順序で走査し、最良の分割を探す。
// MaxFeatures > 0 の場合、定数でない特徴量を MaxFeatures 個見た時点で打ち切る。
func (b *builder) findBestSplit(indices []int) split {
	limit := b.tree.MaxFeatures
	if limit == 0 {
		limit = b.nFeatures
	}
	b.tree.rng.Shuffle(len(b.features), func(i, j int) {
		b.features[i], b.features[j] = b.features[j], b.features[i]
	})

	best := split{proxy: math.Inf(-1)}
	visited := 0
	sorted := b.order[:len(indices)]
	for _, f := range b.features {
		if visited >= limit {
			break
		}
		copy(sorted, indices)
		sort.SliceStable(sorted, func(a, c int) bool {
			return b.at(sorted[a], f) < b.at(sorted[c], f)
		})
		if b.at(sorted[0], f) == b.at(sorted[len(sorted)-1], f) {
			continue
		}
		visited++
		if s := b.findBestSplitForFeature(sorted, f); s.found && s.proxy > best.proxy {
			best = s
		}
	}
	return best
}

// findBestSplitForFeature はソート済みのインデックスに対して、
// sum_l²/W_l + sum_r²/W_r（二乗誤差の減少量に比例）を最大化する位置を探す
func (b *builder) findBestSplitForFeature(sorted []int, f int) split {
	var totalW, totalWY float64
	for _, i := range sorted {
		totalW += b.w[i]
		totalWY += b.w[i] * b.y[i]
	}

	best := split{feature: f, proxy: math.Inf(-1)}
	minLeaf := b.tree.MinSamplesLeaf
	var leftW, leftWY float64
	for p := 0; p < len(sorted)-1; p++ {
		i := sorted[p]
		leftW += b.w[i]
		leftWY += b.w[i] * b.y[i]

		cur, next := b.at(i, f), b.at(sorted[p+1], f)
		if cur == next {
			continue
		}
		nLeft := p + 1
		if nLeft < minLeaf || len(sorted)-nLeft < minLeaf {
			continue
		}
		rightW := totalW - leftW
		rightWY := totalWY - leftWY
		proxy := leftWY*leftWY/leftW + rightWY*rightWY/rightW
		if proxy > best.proxy {
			threshold := cur/2 + next/2
			if threshold == next || math.IsInf(threshold, 0) {
				threshold = cur
			}
			best = split{feature: f, threshold: threshold, pos: nLeft, proxy: proxy, found: true}
		}
	}
	return best
}

func normalize(v []float64) {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	if sum <= 0 {
		return
	}
	for i := range v {
		v[i] /= sum
	}
}
