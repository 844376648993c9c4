package featurestore

import (
	"fmt"
	"math"
	"strings"
	"text/tabwriter"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/rftrainer/pkg/errors"
)

// Frame is the result of a historical retrieval: one row per requested
// entity, in request order, and one float64 column per feature short name.
type Frame struct {
	key     string
	ids     []int64
	ts      []time.Time
	columns []string
	data    map[string][]float64
}

// NewFrame creates a frame for entities with no feature columns yet.
func NewFrame(entities EntityFrame) *Frame {
	f := &Frame{
		key:  entities.Key,
		ids:  make([]int64, len(entities.Rows)),
		ts:   make([]time.Time, len(entities.Rows)),
		data: make(map[string][]float64),
	}
	for i, e := range entities.Rows {
		f.ids[i] = e.ID
		f.ts[i] = e.Timestamp
	}
	return f
}

// AddColumn appends a feature column; values must align with the entity rows.
func (f *Frame) AddColumn(name string, values []float64) error {
	if len(values) != len(f.ids) {
		return errors.NewDimensionError("Frame.AddColumn", len(f.ids), len(values), 0)
	}
	if _, ok := f.data[name]; ok {
		return errors.NewValidationError("column", "duplicate column", name)
	}
	f.columns = append(f.columns, name)
	f.data[name] = values
	return nil
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	return len(f.ids)
}

// Key returns the entity key column name.
func (f *Frame) Key() string {
	return f.key
}

// EntityIDs returns the entity ids in row order.
func (f *Frame) EntityIDs() []int64 {
	return append([]int64(nil), f.ids...)
}

// Columns returns the feature column names in request order.
func (f *Frame) Columns() []string {
	return append([]string(nil), f.columns...)
}

// Column returns a copy of one feature column.
func (f *Frame) Column(name string) ([]float64, error) {
	col, ok := f.data[name]
	if !ok {
		return nil, errors.NewValidationError("column", fmt.Sprintf("not in frame (have %v)", f.columns), name)
	}
	return append([]float64(nil), col...), nil
}

// Matrix returns the selected columns as an n×len(cols) matrix.
func (f *Frame) Matrix(cols ...string) (*mat.Dense, error) {
	if f.Len() == 0 {
		return nil, errors.NewModelError("Frame.Matrix", "frame has no rows", errors.ErrEmptyData)
	}
	if len(cols) == 0 {
		return nil, errors.NewValidationError("columns", "at least one column is required", cols)
	}
	m := mat.NewDense(f.Len(), len(cols), nil)
	for j, name := range cols {
		col, ok := f.data[name]
		if !ok {
			return nil, errors.NewValidationError("column", fmt.Sprintf("not in frame (have %v)", f.columns), name)
		}
		m.SetCol(j, col)
	}
	return m, nil
}

// Vector returns one column as a vector.
func (f *Frame) Vector(col string) (*mat.VecDense, error) {
	if f.Len() == 0 {
		return nil, errors.NewModelError("Frame.Vector", "frame has no rows", errors.ErrEmptyData)
	}
	values, err := f.Column(col)
	if err != nil {
		return nil, err
	}
	return mat.NewVecDense(len(values), values), nil
}

// Coverage returns how many rows have a non-NaN value in col.
func (f *Frame) Coverage(col string) int {
	n := 0
	for _, v := range f.data[col] {
		if !math.IsNaN(v) {
			n++
		}
	}
	return n
}

// Head renders the first n rows as an aligned text table.
func (f *Frame) Head(n int) string {
	if n > f.Len() {
		n = f.Len()
	}
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintf(tw, "\t%s\t%s", f.key, EventTimestampColumn)
	for _, c := range f.columns {
		fmt.Fprintf(tw, "\t%s", c)
	}
	fmt.Fprintln(tw, "\t")
	for i := 0; i < n; i++ {
		fmt.Fprintf(tw, "%d\t%d\t%s", i, f.ids[i], f.ts[i].UTC().Format(time.RFC3339))
		for _, c := range f.columns {
			fmt.Fprintf(tw, "\t%.6g", f.data[c][i])
		}
		fmt.Fprintln(tw, "\t")
	}
	tw.Flush()
	return sb.String()
}
