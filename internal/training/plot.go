package training

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// RenderReliabilityDiagram plots predicted-probability vs empirical
// outcome rate per bin against the perfect-calibration diagonal,
// adapted from the teacher's chart-rendering pattern for calibration
// curves instead of pattern projections.
func RenderReliabilityDiagram(r ReliabilityResult, title, filename string) error {
	p := plot.New()

	p.Title.Text = title
	p.X.Label.Text = "Mean Predicted Probability"
	p.Y.Label.Text = "Empirical Outcome Rate"
	p.BackgroundColor = color.White

	grid := plotter.NewGrid()
	grid.Vertical.Color = color.Gray{Y: 220}
	grid.Horizontal.Color = color.Gray{Y: 220}
	p.Add(grid)

	colBlue := color.RGBA{R: 52, G: 152, B: 219, A: 255}
	colGray := color.RGBA{R: 150, G: 150, B: 150, A: 255}

	diagonal, err := plotter.NewLine(plotter.XYs{{X: 0, Y: 0}, {X: 1, Y: 1}})
	if err != nil {
		return fmt.Errorf("training: reliability diagonal: %w", err)
	}
	diagonal.LineStyle.Color = colGray
	diagonal.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(diagonal)

	var pts plotter.XYs
	for _, b := range r.Bins {
		if b.Count == 0 {
			continue
		}
		pts = append(pts, plotter.XY{X: b.MeanPredicted, Y: b.EmpiricalRate})
	}
	if len(pts) > 0 {
		line, err := plotter.NewLine(pts)
		if err != nil {
			return fmt.Errorf("training: reliability line: %w", err)
		}
		line.LineStyle.Width = vg.Points(2)
		line.LineStyle.Color = colBlue

		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("training: reliability scatter: %w", err)
		}
		scatter.GlyphStyle.Color = colBlue
		scatter.GlyphStyle.Radius = vg.Points(3)

		p.Add(line, scatter)
	}

	p.X.Min, p.X.Max = 0, 1
	p.Y.Min, p.Y.Max = 0, 1

	if err := p.Save(6*vg.Inch, 6*vg.Inch, filename); err != nil {
		return fmt.Errorf("training: save reliability diagram: %w", err)
	}
	return nil
}
