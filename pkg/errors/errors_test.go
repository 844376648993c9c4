package errors

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name     string
		op       string
		kind     string
		err      error
		wantMsg  string
		hasStack bool
	}{
		{
			name:     "with original error",
			op:       "Fit",
			kind:     "empty data",
			err:      ErrEmptyData,
			wantMsg:  "rftrainer: Fit: empty data: empty data",
			hasStack: true,
		},
		{
			name:     "without original error",
			op:       "Predict",
			kind:     "not fitted",
			err:      nil,
			wantMsg:  "rftrainer: Predict: not fitted",
			hasStack: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewModelError(tt.op, tt.kind, tt.err)

			// 基本的なエラーメッセージの確認
			if err.Error() != tt.wantMsg {
				t.Errorf("Error() = %v, want %v", err.Error(), tt.wantMsg)
			}

			// スタックトレースの存在確認
			if tt.hasStack {
				formatted := fmt.Sprintf("%+v", err)
				if !strings.Contains(formatted, "errors_test.go") {
					t.Error("Expected stack trace to contain test file name")
				}
			}

			var modelErr *ModelError
			if !As(err, &modelErr) {
				t.Error("Error should be castable to *ModelError")
			}
			if tt.err != nil && !Is(err, tt.err) {
				t.Error("wrapped error should be reachable with Is")
			}
		})
	}
}

func TestNewDimensionError(t *testing.T) {
	err := NewDimensionError("Predict", 2, 3, 1)

	want := "rftrainer: Predict: dimension mismatch on axis 1 (features). Expected 2, got 3"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var dimErr *DimensionError
	if !As(err, &dimErr) {
		t.Error("Error should be castable to *DimensionError")
	}
}

func TestNewNotFittedError(t *testing.T) {
	err := NewNotFittedError("RandomForestRegressor", "Predict")

	want := "rftrainer: RandomForestRegressor: this model is not fitted yet. Call Fit() before using Predict()"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var notFittedErr *NotFittedError
	if !As(err, &notFittedErr) {
		t.Error("Error should be castable to *NotFittedError")
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("n_estimators", "must be at least 1", 0)

	want := "rftrainer: validation failed for parameter 'n_estimators': must be at least 1 (got: 0)"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}

	var valErr *ValidationError
	if !As(err, &valErr) {
		t.Fatal("Error should be castable to *ValidationError")
	}
	if valErr.ParamName != "n_estimators" {
		t.Errorf("ParamName = %q", valErr.ParamName)
	}
}

func TestNewFeatureStoreError(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := NewFeatureStoreError("postgres", "fetch user_features", cause)

	want := "rftrainer: feature store postgres: fetch user_features: connection refused"
	if err.Error() != want {
		t.Errorf("Error() = %v, want %v", err.Error(), want)
	}
	if !Is(err, cause) {
		t.Error("cause should be reachable with Is")
	}

	var fsErr *FeatureStoreError
	if !As(err, &fsErr) || fsErr.Backend != "postgres" {
		t.Error("Error should be castable to *FeatureStoreError")
	}
}

func TestLabelLeakageWarning(t *testing.T) {
	w := NewLabelLeakageWarning("avg_rating", []string{"avg_rating", "num_ratings"})

	want := `target "avg_rating" is also an input feature [avg_rating num_ratings]; in-sample metrics will be optimistic`
	if w.Error() != want {
		t.Errorf("Error() = %v, want %v", w.Error(), want)
	}

	var buf bytes.Buffer
	zl := zerolog.New(&buf)
	zl.Warn().EmbedObject(w).Msg(w.Error())
	if !strings.Contains(buf.String(), `"type":"LabelLeakageWarning"`) {
		t.Errorf("zerolog output missing type field: %s", buf.String())
	}
}

func TestWarn_Handlers(t *testing.T) {
	var got []error
	SetWarningHandler(func(w error) { got = append(got, w) })
	defer SetWarningHandler(func(w error) {})

	Warn(NewUndefinedMetricWarning("r2", "zero variance in y"))
	if len(got) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(got))
	}

	var viaZerolog []error
	SetZerologWarnFunc(func(w error) { viaZerolog = append(viaZerolog, w) })
	defer SetZerologWarnFunc(nil)

	Warn(NewDataConversionWarning("int64", "float64", "feature column"))
	if len(viaZerolog) != 1 {
		t.Errorf("zerolog hook should take precedence, got %d", len(viaZerolog))
	}
	if len(got) != 1 {
		t.Errorf("fallback handler should not be called when zerolog hook is set")
	}
}

func TestWrapAndIs(t *testing.T) {
	wrapped := Wrap(ErrNotImplemented, "in RandomForestRegressor.PredictProba")

	if !Is(wrapped, ErrNotImplemented) {
		t.Error("Expected Is(wrapped, ErrNotImplemented) to be true")
	}
	if !strings.Contains(wrapped.Error(), "in RandomForestRegressor.PredictProba") {
		t.Error("Expected wrapped error to contain wrapping message")
	}
}

func TestWrapf(t *testing.T) {
	wrapped := Wrapf(ErrEmptyData, "in %s: expected %d rows, got %d", "Fit", 50, 0)

	if !Is(wrapped, ErrEmptyData) {
		t.Error("Expected Is(wrapped, ErrEmptyData) to be true")
	}
	if !strings.Contains(wrapped.Error(), "in Fit: expected 50 rows, got 0") {
		t.Errorf("unexpected message %q", wrapped.Error())
	}
}

func TestCheckFinite(t *testing.T) {
	if err := CheckFinite("Fit", []float64{1, 2, 3}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	err := CheckFinite("Fit", []float64{1, math.NaN(), 3})
	var valErr *ValueError
	if !As(err, &valErr) {
		t.Fatalf("expected ValueError, got %v", err)
	}
	if !strings.Contains(err.Error(), "index 1") {
		t.Errorf("message should name the index: %s", err.Error())
	}
}
