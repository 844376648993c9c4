package artifact

import (
	"context"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/YuminosukeSato/rftrainer/pkg/errors"
)

// WritePredictionPlot renders actual vs predicted values as a PNG scatter
// with the y = x reference line.
func WritePredictionPlot(ctx context.Context, sink Sink, title string, actual, predicted []float64) error {
	if len(actual) != len(predicted) {
		return errors.NewDimensionError("WritePredictionPlot", len(actual), len(predicted), 0)
	}
	if len(actual) == 0 {
		return errors.NewModelError("WritePredictionPlot", "nothing to plot", errors.ErrEmptyData)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "actual"
	p.Y.Label.Text = "predicted"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, len(actual))
	for i := range actual {
		pts[i].X = actual[i]
		pts[i].Y = predicted[i]
	}
	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return errors.Wrap(err, "scatter")
	}
	scatter.GlyphStyle.Shape = draw.CircleGlyph{}
	scatter.GlyphStyle.Radius = vg.Points(3)
	scatter.GlyphStyle.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}

	identity := plotter.NewFunction(func(x float64) float64 { return x })
	identity.Color = color.Gray{Y: 128}
	identity.Dashes = []vg.Length{vg.Points(4), vg.Points(4)}

	p.Add(scatter, identity)
	p.Legend.Add("trees mean", scatter)
	p.Legend.Add("y = x", identity)

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return errors.Wrap(err, "render plot")
	}
	return sink.Put(ctx, PlotFile, func(w io.Writer) error {
		_, err := wt.WriteTo(w)
		return err
	})
}
