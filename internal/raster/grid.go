package raster

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"
)

// Grid is one geocoded band. Rows run north to south when DLat < 0.
type Grid struct {
	Data *mat.Dense
	Lon0 float64
	DLon float64
	Lat0 float64
	DLat float64
}

// Dims returns rows and columns.
func (g Grid) Dims() (int, int) { return g.Data.Dims() }

// Lon is the centre longitude of column c.
func (g Grid) Lon(c int) float64 { return g.Lon0 + (float64(c)+0.5)*g.DLon }

// Lat is the centre latitude of row r.
func (g Grid) Lat(r int) float64 { return g.Lat0 + (float64(r)+0.5)*g.DLat }

// Bound is the extent of the grid edges.
func (g Grid) Bound() orb.Bound {
	rows, cols := g.Dims()
	return Header{Width: cols, Length: rows, Lon0: g.Lon0, DLon: g.DLon, Lat0: g.Lat0, DLat: g.DLat}.Bound()
}

// SameShape reports whether o has the same dimensions and origin.
func (g Grid) SameShape(o Grid) bool {
	r1, c1 := g.Dims()
	r2, c2 := o.Dims()
	return r1 == r2 && c1 == c2 && g.Lon0 == o.Lon0 && g.Lat0 == o.Lat0
}

// Apply returns a new grid with f applied to every value.
func (g Grid) Apply(f func(v float64) float64) Grid {
	rows, cols := g.Dims()
	out := g
	out.Data = mat.NewDense(rows, cols, nil)
	out.Data.Apply(func(_, _ int, v float64) float64 { return f(v) }, g.Data)
	return out
}

// Crop keeps the rows and columns whose centres fall inside b. When no row
// or no column does, the full grid is returned unchanged.
func (g Grid) Crop(b orb.Bound) Grid {
	rows, cols := g.Dims()
	c0, c1 := -1, -1
	for c := 0; c < cols; c++ {
		if lon := g.Lon(c); lon >= b.Min[0] && lon <= b.Max[0] {
			if c0 < 0 {
				c0 = c
			}
			c1 = c + 1
		}
	}
	r0, r1 := -1, -1
	for r := 0; r < rows; r++ {
		if lat := g.Lat(r); lat >= b.Min[1] && lat <= b.Max[1] {
			if r0 < 0 {
				r0 = r
			}
			r1 = r + 1
		}
	}
	if c0 < 0 || r0 < 0 {
		return g
	}
	return Grid{
		Data: mat.DenseCopyOf(g.Data.Slice(r0, r1, c0, c1)),
		Lon0: g.Lon0 + float64(c0)*g.DLon,
		DLon: g.DLon,
		Lat0: g.Lat0 + float64(r0)*g.DLat,
		DLat: g.DLat,
	}
}

// ReadISCE reads band (1-based) of the ISCE image at path.
func ReadISCE(path string, band int) (Grid, error) {
	h, err := ReadHeader(path)
	if err != nil {
		return Grid{}, err
	}
	if band < 1 || band > h.Bands {
		return Grid{}, fmt.Errorf("%s: band %d out of range 1..%d", path, band, h.Bands)
	}
	f, err := os.Open(strings.TrimSuffix(path, ".xml"))
	if err != nil {
		return Grid{}, err
	}
	defer f.Close()

	sz := int64(h.sampleSize())
	w, l, nb, b := int64(h.Width), int64(h.Length), int64(h.Bands), int64(band-1)
	if fi, err := f.Stat(); err == nil && fi.Size() < w*l*nb*sz {
		return Grid{}, fmt.Errorf("%s: %d bytes, header implies %d", path, fi.Size(), w*l*nb*sz)
	}

	stride := int64(1)
	rowLen := w
	if h.Scheme == "BIP" {
		stride = nb
		rowLen = w * nb
	}
	buf := make([]byte, rowLen*sz)
	data := make([]float64, w*l)
	for r := int64(0); r < l; r++ {
		var off int64
		switch h.Scheme {
		case "BIL":
			off = (r*nb + b) * w
		case "BIP":
			off = r * w * nb
		case "BSQ":
			off = (b*l + r) * w
		}
		if _, err := f.ReadAt(buf, off*sz); err != nil {
			return Grid{}, fmt.Errorf("%s: row %d: %w", path, r, err)
		}
		for c := int64(0); c < w; c++ {
			i := c
			if h.Scheme == "BIP" {
				i = c*stride + b
			}
			data[r*w+c] = decode(buf[i*sz:(i+1)*sz], h.DataType, h.ByteOrder)
		}
	}

	return Grid{
		Data: mat.NewDense(h.Length, h.Width, data),
		Lon0: h.Lon0,
		DLon: h.DLon,
		Lat0: h.Lat0,
		DLat: h.DLat,
	}, nil
}

func decode(p []byte, dataType string, order binary.ByteOrder) float64 {
	switch dataType {
	case "BYTE":
		return float64(p[0])
	case "SHORT":
		return float64(int16(order.Uint16(p)))
	case "INT":
		return float64(int32(order.Uint32(p)))
	case "FLOAT":
		return float64(math.Float32frombits(order.Uint32(p)))
	case "DOUBLE":
		return math.Float64frombits(order.Uint64(p))
	}
	return math.NaN()
}
