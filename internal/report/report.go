// Package report renders static PNG charts of model output for offline
// review and embedding in written reports. The interactive equivalents live
// under /debug/charts on the HTTP server.
package report

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/identity.report/internal/cluster"
	"github.com/banshee-data/identity.report/internal/forecast"
)

// ClusterScatter renders the region clusters in projection space, one
// colour per cluster, and saves the plot as a PNG at path.
func ClusterScatter(result *cluster.Result, path string) error {
	p := plot.New()
	p.Title.Text = "Region Clusters"
	p.X.Label.Text = "PC1"
	p.Y.Label.Text = "PC2"

	colors := generateColors(len(result.Profiles))
	for cl, profile := range result.Profiles {
		pts := make(plotter.XYs, 0, len(profile.Regions))
		for _, a := range result.Assignments {
			if a.Cluster != cl {
				continue
			}
			pts = append(pts, plotter.XY{X: a.X, Y: a.Y})
		}
		if len(pts) == 0 {
			continue
		}

		scatter, err := plotter.NewScatter(pts)
		if err != nil {
			return fmt.Errorf("failed to build scatter for cluster %d: %w", cl, err)
		}
		scatter.GlyphStyle.Color = colors[cl]
		scatter.GlyphStyle.Radius = vg.Points(4)
		p.Add(scatter)
		p.Legend.Add(fmt.Sprintf("%d: %s", cl, profile.Label), scatter)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	if err := p.Save(10*vg.Inch, 8*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save cluster plot: %w", err)
	}
	return nil
}

// ForecastPlot renders observed daily totals with the projection and its
// envelope, and saves the plot as a PNG at path.
func ForecastPlot(series *forecast.Series, title, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Day"
	p.Y.Label.Text = "Updates"

	observed := make(plotter.XYs, 0, len(series.Historical))
	for i, pt := range series.Historical {
		observed = append(observed, plotter.XY{X: float64(i), Y: pt.Value})
	}
	offset := len(series.Historical)
	projected := make(plotter.XYs, 0, len(series.Forecast))
	lower := make(plotter.XYs, 0, len(series.Forecast))
	upper := make(plotter.XYs, 0, len(series.Forecast))
	for i, pt := range series.Forecast {
		x := float64(offset + i)
		projected = append(projected, plotter.XY{X: x, Y: pt.Value})
		lower = append(lower, plotter.XY{X: x, Y: pt.Lower})
		upper = append(upper, plotter.XY{X: x, Y: pt.Upper})
	}

	obsLine, err := plotter.NewLine(observed)
	if err != nil {
		return fmt.Errorf("failed to build observed line: %w", err)
	}
	obsLine.Width = vg.Points(1)
	obsLine.Color = color.RGBA{B: 200, A: 255}
	p.Add(obsLine)
	p.Legend.Add("observed", obsLine)

	if len(projected) > 0 {
		fcLine, err := plotter.NewLine(projected)
		if err != nil {
			return fmt.Errorf("failed to build forecast line: %w", err)
		}
		fcLine.Width = vg.Points(1)
		fcLine.Color = color.RGBA{R: 200, A: 255}
		p.Add(fcLine)
		p.Legend.Add("forecast", fcLine)

		for name, pts := range map[string]plotter.XYs{"lower": lower, "upper": upper} {
			band, err := plotter.NewLine(pts)
			if err != nil {
				return fmt.Errorf("failed to build %s band: %w", name, err)
			}
			band.Width = vg.Points(1)
			band.Color = color.RGBA{R: 200, G: 120, B: 120, A: 255}
			band.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
			p.Add(band)
		}
	}

	p.Legend.Top = true
	p.Legend.Left = true

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save forecast plot: %w", err)
	}
	return nil
}

// generateColors returns n visually distinct colours spaced around the hue
// wheel.
func generateColors(n int) []color.Color {
	out := make([]color.Color, n)
	for i := 0; i < n; i++ {
		h := float64(i) / math.Max(1, float64(n))
		out[i] = hsvToRGB(h, 0.75, 0.85)
	}
	return out
}

func hsvToRGB(h, s, v float64) color.RGBA {
	i := int(h * 6)
	f := h*6 - float64(i)
	p := v * (1 - s)
	q := v * (1 - f*s)
	t := v * (1 - (1-f)*s)

	var r, g, b float64
	switch i % 6 {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	case 5:
		r, g, b = v, p, q
	}
	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 255}
}
