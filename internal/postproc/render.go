package postproc

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/robert-malhotra/asf-insar/internal/raster"
)

// Scheme names a colour scheme.
type Scheme int

const (
	Diverging Scheme = iota
	Cyclic
	Gray
	Heat
)

// Arrows selects the direction arrows drawn on a figure.
type Arrows int

const (
	ArrowAzimuth Arrows = 1 << iota // flight direction
	ArrowLook                       // radar look direction
)

// Figure is one visualisation to render.
type Figure struct {
	Title   string
	Grid    raster.Grid
	Limits  Limits
	Scheme  Scheme
	Marker  [2]float64 // lon, lat of the area centre
	Arrows  Arrows
	Heading float64 // mean flipped azimuth in degrees
}

// arrow is a direction arrow in axes fractions, (0, 0) being the lower-left
// corner of the plot and (1, 1) the upper-right.
type arrow struct {
	Label   string
	Tail    plotter.XY
	Head    plotter.XY
	Wings   [2]plotter.XY
	LabelAt plotter.XY
}

// directionArrows places the flight and look arrows for heading, both
// starting near the lower-right corner. The flight arrow points at
// 180-heading degrees on screen, the look arrow at 90-heading.
func directionArrows(mode Arrows, heading float64) []arrow {
	anchor := plotter.XY{X: 0.80, Y: 0.20}
	var out []arrow
	add := func(label string, screenDeg, length, labelAt float64) {
		a := screenDeg * math.Pi / 180
		dx, dy := length*math.Cos(a), length*math.Sin(a)
		head := plotter.XY{X: anchor.X + dx, Y: anchor.Y + dy}
		arr := arrow{
			Label:   label,
			Tail:    anchor,
			Head:    head,
			LabelAt: plotter.XY{X: anchor.X + dx*labelAt, Y: anchor.Y + dy*labelAt},
		}
		for i, off := range []float64{150, -150} {
			w := a + off*math.Pi/180
			arr.Wings[i] = plotter.XY{X: head.X + 0.02*math.Cos(w), Y: head.Y + 0.02*math.Sin(w)}
		}
		out = append(out, arr)
	}
	if mode&ArrowAzimuth != 0 {
		add("Azimuth", 180-heading, 0.12, 1.3)
	}
	if mode&ArrowLook != 0 {
		add("Look", 90-heading, 0.06, 2.0)
	}
	return out
}

// extent returns the lon/lat bounds covered by g.
func extent(g raster.Grid) (minX, maxX, minY, maxY float64) {
	rows, cols := g.Dims()
	minX, maxX = math.Min(g.Lon(0), g.Lon(cols-1)), math.Max(g.Lon(0), g.Lon(cols-1))
	minY, maxY = math.Min(g.Lat(0), g.Lat(rows-1)), math.Max(g.Lat(0), g.Lat(rows-1))
	return minX, maxX, minY, maxY
}

// Renderer writes a figure to a PNG file.
type Renderer interface {
	Render(path string, fig Figure) error
}

// HeatMapRenderer draws figures as gonum/plot heat maps.
type HeatMapRenderer struct {
	Width, Height vg.Length
	Colors        int
}

// NewHeatMapRenderer returns a renderer with 10x8 inch figures.
func NewHeatMapRenderer() *HeatMapRenderer {
	return &HeatMapRenderer{Width: 10 * vg.Inch, Height: 8 * vg.Inch, Colors: 256}
}

// gridXYZ adapts a raster grid to plotter.GridXYZ with rows running south to north.
type gridXYZ struct {
	g    raster.Grid
	rows int
}

func (x gridXYZ) Dims() (c, r int) {
	rows, cols := x.g.Dims()
	return cols, rows
}

func (x gridXYZ) row(r int) int {
	if x.g.DLat < 0 {
		return x.rows - 1 - r
	}
	return r
}

func (x gridXYZ) Z(c, r int) float64 { return x.g.Data.At(x.row(r), c) }
func (x gridXYZ) X(c int) float64    { return x.g.Lon(c) }
func (x gridXYZ) Y(r int) float64    { return x.g.Lat(x.row(r)) }

type grayPalette int

func (p grayPalette) Colors() []color.Color {
	out := make([]color.Color, int(p))
	for i := range out {
		v := uint8(255 * i / (int(p) - 1))
		out[i] = color.Gray{Y: v}
	}
	return out
}

func (h *HeatMapRenderer) palette(s Scheme, lim Limits) palette.Palette {
	switch s {
	case Cyclic:
		return palette.Rainbow(h.Colors, 0, 1, 1, 1, 1)
	case Gray:
		return grayPalette(h.Colors)
	case Heat:
		return palette.Heat(h.Colors, 1)
	}
	cm := moreland.SmoothBlueRed()
	cm.SetMin(lim.Min)
	cm.SetMax(lim.Max)
	return cm.Palette(h.Colors)
}

// Render saves fig as a PNG at path.
func (h *HeatMapRenderer) Render(path string, fig Figure) (err error) {
	rows, cols := fig.Grid.Dims()
	if rows < 2 || cols < 2 {
		return fmt.Errorf("%s: grid %dx%d is too small to render", fig.Title, rows, cols)
	}
	if !(fig.Limits.Max > fig.Limits.Min) {
		return fmt.Errorf("%s: empty colour range [%g, %g]", fig.Title, fig.Limits.Min, fig.Limits.Max)
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: render: %v", fig.Title, r)
		}
	}()

	pal := h.palette(fig.Scheme, fig.Limits)
	colors := pal.Colors()

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s [%.3f, %.3f]", fig.Title, fig.Limits.Min, fig.Limits.Max)
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"

	hm := plotter.NewHeatMap(gridXYZ{g: fig.Grid, rows: rows}, pal)
	hm.Min, hm.Max = fig.Limits.Min, fig.Limits.Max
	hm.Underflow = colors[0]
	hm.Overflow = colors[len(colors)-1]
	hm.NaN = color.Transparent
	hm.Rasterized = true
	p.Add(hm)

	marker, err := plotter.NewScatter(plotter.XYs{{X: fig.Marker[0], Y: fig.Marker[1]}})
	if err != nil {
		return err
	}
	marker.GlyphStyle.Color = color.RGBA{R: 255, A: 255}
	marker.GlyphStyle.Radius = vg.Points(8)
	marker.GlyphStyle.Shape = draw.CrossGlyph{}
	p.Add(marker)

	if err := addArrows(p, fig); err != nil {
		return err
	}

	if err := p.Save(h.Width, h.Height, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// addArrows draws the direction arrows of fig onto p in data coordinates.
func addArrows(p *plot.Plot, fig Figure) error {
	arrows := directionArrows(fig.Arrows, fig.Heading)
	if len(arrows) == 0 {
		return nil
	}
	minX, maxX, minY, maxY := extent(fig.Grid)
	toData := func(pt plotter.XY) plotter.XY {
		return plotter.XY{X: minX + pt.X*(maxX-minX), Y: minY + pt.Y*(maxY-minY)}
	}

	for _, a := range arrows {
		shaft, err := plotter.NewLine(plotter.XYs{toData(a.Tail), toData(a.Head)})
		if err != nil {
			return err
		}
		shaft.LineStyle.Color = color.Black
		shaft.LineStyle.Width = vg.Points(2)

		head, err := plotter.NewLine(plotter.XYs{toData(a.Wings[0]), toData(a.Head), toData(a.Wings[1])})
		if err != nil {
			return err
		}
		head.LineStyle.Color = color.Black
		head.LineStyle.Width = vg.Points(2)

		label, err := plotter.NewLabels(plotter.XYLabels{
			XYs:    plotter.XYs{toData(a.LabelAt)},
			Labels: []string{a.Label},
		})
		if err != nil {
			return err
		}
		for i := range label.TextStyle {
			label.TextStyle[i].XAlign = draw.XCenter
			label.TextStyle[i].YAlign = draw.YCenter
		}
		p.Add(shaft, head, label)
	}
	return nil
}
