// Package postproc turns the merged engine outputs into the named result
// products: cropped, masked, converted to physical units, written as ENVI
// rasters and rendered as PNG figures.
package postproc

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/stat"

	"github.com/robert-malhotra/asf-insar/internal/engine"
	"github.com/robert-malhotra/asf-insar/internal/insar"
	"github.com/robert-malhotra/asf-insar/internal/raster"
	"github.com/robert-malhotra/asf-insar/internal/workspace"
)

// Config controls post-processing.
type Config struct {
	CoherenceThreshold float64
	RenderPlots        bool
}

// Processor extracts the result set from engine outputs.
type Processor struct {
	layout   workspace.Layout
	cfg      Config
	renderer Renderer
	logger   *slog.Logger
}

// NewProcessor creates a processor writing into the layout's results directory.
func NewProcessor(layout workspace.Layout, cfg Config, renderer Renderer, logger *slog.Logger) *Processor {
	return &Processor{layout: layout, cfg: cfg, renderer: renderer, logger: logger}
}

type output struct {
	name        string
	description string
	unit        string
	grid        raster.Grid
	title       string
	limits      Limits
	scheme      Scheme
}

// Process builds every product whose inputs are readable. Only a missing
// unwrapped phase fails the stage; other unreadable inputs are logged and
// the products depending on them skipped.
func (p *Processor) Process(ctx context.Context, eo insar.EngineOutputs, aoi insar.AreaOfInterest, orbit int) (insar.ResultSet, error) {
	const op = "post"
	bound := aoi.Bound()
	rs := insar.ResultSet{Dir: p.layout.Results()}

	read := func(name string, band int) (raster.Grid, bool) {
		path, ok := eo.Files[name]
		if !ok {
			path = filepath.Join(eo.MergedDir, name)
		}
		g, err := raster.ReadISCE(path, band)
		if err != nil {
			err = insar.E(insar.KindPostProcess, op, err)
			p.logger.Warn("input raster unavailable",
				slog.String("step", "post"),
				slog.String("file", name),
				slog.Int("band", band),
				slog.String("error", err.Error()),
			)
			return raster.Grid{}, false
		}
		return g.Crop(bound), true
	}

	unw, ok := read(engine.UnwrappedPhase, 2)
	if !ok {
		return rs, insar.Errorf(insar.KindPostProcess, op, "unwrapped phase %s is unreadable", engine.UnwrappedPhase)
	}
	los := unw.Apply(func(v float64) float64 { return v * PhaseToMeters })
	wrap := unw.Apply(Wrap)

	coh, hasCoh := read(engine.Coherence, 1)
	if hasCoh && !coh.SameShape(unw) {
		p.logger.Warn("coherence grid does not match the phase grid", slog.String("step", "post"))
		hasCoh = false
	}
	look, hasLook := read(engine.LOSGeometry, 1)
	az, hasAz := read(engine.LOSGeometry, 2)
	hasGeom := hasLook && hasAz && look.SameShape(unw) && az.SameShape(unw)
	if hasGeom {
		az = az.Apply(Flip)
	} else {
		rs.Skipped = append(rs.Skipped, VectorEast, VectorNorth, VectorUp)
	}

	// Pixels without geometry or phase are invalid everywhere; LOS and phase
	// additionally drop incoherent pixels.
	degenerate := func(r, c int) bool {
		if math.IsNaN(los.Data.At(r, c)) {
			return true
		}
		return hasGeom && look.Data.At(r, c) == 0
	}
	incoherent := func(r, c int) bool {
		return degenerate(r, c) || (hasCoh && coh.Data.At(r, c) < p.cfg.CoherenceThreshold)
	}
	mask(los, incoherent)
	mask(wrap, incoherent)

	outs := []output{
		{LOSDisplacement, "Line-of-sight displacement", "m", los, "LOS Displacement (m)", SymmetricLimits(los.Data), Diverging},
		{WrappedPhase, "Wrapped interferometric phase", "rad", wrap, "Wrapped Phase (rad)", phaseLimits, Cyclic},
	}
	if hasCoh {
		outs = append(outs, output{Coherence, "Interferometric coherence", "", coh, "Coherence", coherenceLimits, Gray})
	} else {
		rs.Skipped = append(rs.Skipped, Coherence)
	}

	heading := 0.0
	if hasGeom {
		rows, cols := unw.Dims()
		e, n, u := unw.Apply(func(float64) float64 { return 0 }), unw.Apply(func(float64) float64 { return 0 }), unw.Apply(func(float64) float64 { return 0 })
		var headings []float64
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				h := az.Data.At(r, c)
				if validHeading(h) {
					headings = append(headings, h)
				}
				ev, nv, uv := ENU(h, look.Data.At(r, c))
				e.Data.Set(r, c, ev)
				n.Data.Set(r, c, nv)
				u.Data.Set(r, c, uv)
			}
		}
		for _, g := range []raster.Grid{e, n, u} {
			mask(g, degenerate)
		}
		if len(headings) > 0 {
			heading = stat.Mean(headings, nil)
		}
		outs = append(outs,
			output{VectorEast, "LOS unit vector, east component", "", e, "LOS Vector East", SymmetricLimits(e.Data), Diverging},
			output{VectorNorth, "LOS unit vector, north component", "", n, "LOS Vector North", SymmetricLimits(n.Data), Diverging},
			output{VectorUp, "LOS unit vector, up component", "", u, "LOS Vector Up", SymmetricLimits(u.Data), Diverging},
		)
	}

	offAz, hasOffAz := read(engine.DenseOffsets, 1)
	offRg, hasOffRg := read(engine.DenseOffsets, 2)
	if hasOffRg {
		offRg = offRg.Apply(func(v float64) float64 { return v * RangePixel })
		if offRg.SameShape(unw) {
			mask(offRg, degenerate)
		}
		outs = append(outs, output{OffsetRange, "Range pixel offset", "m", offRg, "Range Offset (m)", SymmetricLimits(offRg.Data), Diverging})
	} else {
		rs.Skipped = append(rs.Skipped, OffsetRange)
	}
	if hasOffAz {
		offAz = offAz.Apply(func(v float64) float64 { return v * AzimuthPixel })
		if offAz.SameShape(unw) {
			mask(offAz, degenerate)
		}
		outs = append(outs, output{OffsetAzimuth, "Azimuth pixel offset", "m", offAz, "Azimuth Offset (m)", SymmetricLimits(offAz.Data), Diverging})
	} else {
		rs.Skipped = append(rs.Skipped, OffsetAzimuth)
	}
	if snr, ok := read(engine.OffsetSNR, 1); ok {
		if hasGeom && snr.SameShape(unw) {
			mask(snr, func(r, c int) bool { return look.Data.At(r, c) == 0 })
		}
		outs = append(outs, output{SNR, "Dense offset signal-to-noise ratio", "", snr, "SNR", PercentileLimits(snr.Data, 0.98), Heat})
	} else {
		rs.Skipped = append(rs.Skipped, SNR)
	}

	if err := os.MkdirAll(rs.Dir, 0o755); err != nil {
		return rs, insar.E(insar.KindPostProcess, op, err)
	}
	for _, o := range outs {
		if err := ctx.Err(); err != nil {
			return rs, insar.E(insar.KindPostProcess, op, err)
		}
		bin, hdr, err := raster.WriteENVI(rs.Dir, o.name, o.description, o.grid)
		if err != nil {
			return rs, insar.E(insar.KindPostProcess, op, fmt.Errorf("write %s: %w", o.name, err))
		}
		rs.Products = append(rs.Products, insar.Product{Name: o.name, Path: bin, HeaderPath: hdr, Description: o.description, Unit: o.unit})
	}
	p.logger.Info("wrote result products",
		slog.String("step", "post"),
		slog.Int("products", len(rs.Products)),
		slog.Any("skipped", rs.Skipped),
	)

	if p.cfg.RenderPlots && p.renderer != nil {
		p.render(&rs, outs, heading, orbit, aoi)
	}
	return rs, nil
}

// arrowModes lists the products drawn with direction arrows.
var arrowModes = map[string]Arrows{
	LOSDisplacement: ArrowAzimuth | ArrowLook,
	OffsetRange:     ArrowLook,
	OffsetAzimuth:   ArrowAzimuth,
}

// render draws one figure per product under the directory of the pass
// direction given by the mean heading. Failures are logged and skipped.
func (p *Processor) render(rs *insar.ResultSet, outs []output, heading float64, orbit int, aoi insar.AreaOfInterest) {
	dir := p.layout.PlotDir(heading >= 0, orbit)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		p.logger.Warn("cannot create plot directory", slog.String("step", "post"), slog.String("error", err.Error()))
		return
	}
	rs.PlotDir = dir
	for _, o := range outs {
		path := filepath.Join(dir, o.name+".png")
		fig := Figure{
			Title:   o.title,
			Grid:    o.grid,
			Limits:  o.limits,
			Scheme:  o.scheme,
			Marker:  [2]float64{aoi.Lon, aoi.Lat},
			Arrows:  arrowModes[o.name],
			Heading: heading,
		}
		if err := p.renderer.Render(path, fig); err != nil {
			p.logger.Warn("render failed",
				slog.String("step", "post"),
				slog.String("product", o.name),
				slog.String("error", err.Error()),
			)
			continue
		}
		rs.Plots = append(rs.Plots, path)
	}
}
