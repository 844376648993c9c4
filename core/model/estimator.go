package model

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit はモデルを訓練データで学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は入力データに対する予測を行う
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Estimator は学習状態を持つモデルのインターフェース
type Estimator interface {
	Fitter
	// IsFitted はモデルが学習済みかどうかを返す
	IsFitted() bool
}

// WeightedFitter はサンプル重み付きで学習できるモデルのインターフェース
// ブートストラップ標本を重み（出現回数）として渡すために使う
type WeightedFitter interface {
	FitWeighted(X, y mat.Matrix, sampleWeight []float64) error
}
