// Package raster reads the geocoded ISCE image files written by the
// processing engine and writes single-band ENVI rasters.
package raster

import (
	"encoding/binary"
	"encoding/xml"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// Header describes an ISCE image file from its .xml sidecar.
type Header struct {
	Width     int
	Length    int
	Bands     int
	DataType  string // BYTE, SHORT, INT, FLOAT or DOUBLE
	Scheme    string // BIL, BIP or BSQ
	ByteOrder binary.ByteOrder

	// Lon0/Lat0 are the outer edges of the first column and row.
	Lon0, DLon float64
	Lat0, DLat float64
}

type xmlProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

type xmlComponent struct {
	Name       string        `xml:"name,attr"`
	Properties []xmlProperty `xml:"property"`
}

type xmlImage struct {
	XMLName    xml.Name       `xml:"imageFile"`
	Properties []xmlProperty  `xml:"property"`
	Components []xmlComponent `xml:"component"`
}

func lookup(props []xmlProperty, name string) (string, bool) {
	for _, p := range props {
		if strings.EqualFold(p.Name, name) {
			return strings.TrimSpace(p.Value), true
		}
	}
	return "", false
}

// ReadHeader parses path, which may name either the image or its .xml.
func ReadHeader(path string) (Header, error) {
	if !strings.HasSuffix(path, ".xml") {
		path += ".xml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Header{}, err
	}
	var doc xmlImage
	if err := xml.Unmarshal(data, &doc); err != nil {
		return Header{}, fmt.Errorf("parse %s: %w", path, err)
	}

	h := Header{Bands: 1, Scheme: "BIL", DataType: "FLOAT", ByteOrder: binary.LittleEndian}
	ints := map[string]*int{"width": &h.Width, "length": &h.Length, "number_bands": &h.Bands}
	for name, dst := range ints {
		v, ok := lookup(doc.Properties, name)
		if !ok {
			if name == "number_bands" {
				continue
			}
			return Header{}, fmt.Errorf("%s: missing %s", path, name)
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Header{}, fmt.Errorf("%s: %s: %w", path, name, err)
		}
		*dst = n
	}
	if v, ok := lookup(doc.Properties, "data_type"); ok {
		h.DataType = strings.ToUpper(v)
	}
	if v, ok := lookup(doc.Properties, "scheme"); ok {
		h.Scheme = strings.ToUpper(v)
	}
	if v, ok := lookup(doc.Properties, "byte_order"); ok && strings.HasPrefix(strings.ToLower(v), "b") {
		h.ByteOrder = binary.BigEndian
	}

	for _, c := range doc.Components {
		var start, delta *float64
		switch strings.ToLower(c.Name) {
		case "coordinate1":
			start, delta = &h.Lon0, &h.DLon
		case "coordinate2":
			start, delta = &h.Lat0, &h.DLat
		default:
			continue
		}
		for name, dst := range map[string]*float64{"startingvalue": start, "delta": delta} {
			v, ok := lookup(c.Properties, name)
			if !ok {
				return Header{}, fmt.Errorf("%s: %s missing %s", path, c.Name, name)
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return Header{}, fmt.Errorf("%s: %s %s: %w", path, c.Name, name, err)
			}
			*dst = f
		}
	}

	if err := h.validate(); err != nil {
		return Header{}, fmt.Errorf("%s: %w", path, err)
	}
	return h, nil
}

func (h Header) validate() error {
	if h.Width <= 0 || h.Length <= 0 || h.Bands <= 0 {
		return fmt.Errorf("invalid dimensions %dx%dx%d", h.Width, h.Length, h.Bands)
	}
	if h.sampleSize() == 0 {
		return fmt.Errorf("unsupported data type %s", h.DataType)
	}
	switch h.Scheme {
	case "BIL", "BIP", "BSQ":
	default:
		return fmt.Errorf("unsupported scheme %s", h.Scheme)
	}
	if h.DLon == 0 || h.DLat == 0 {
		return fmt.Errorf("image is not geocoded")
	}
	return nil
}

func (h Header) sampleSize() int {
	switch h.DataType {
	case "BYTE":
		return 1
	case "SHORT":
		return 2
	case "INT", "FLOAT":
		return 4
	case "DOUBLE":
		return 8
	}
	return 0
}

// Bound is the extent of the image edges.
func (h Header) Bound() orb.Bound {
	lon1 := h.Lon0 + float64(h.Width)*h.DLon
	lat1 := h.Lat0 + float64(h.Length)*h.DLat
	return orb.Bound{
		Min: orb.Point{math.Min(h.Lon0, lon1), math.Min(h.Lat0, lat1)},
		Max: orb.Point{math.Max(h.Lon0, lon1), math.Max(h.Lat0, lat1)},
	}
}

// Covers reports whether the image extent contains b.
func (h Header) Covers(b orb.Bound) bool {
	ext := h.Bound()
	return ext.Min[0] <= b.Min[0] && ext.Min[1] <= b.Min[1] &&
		ext.Max[0] >= b.Max[0] && ext.Max[1] >= b.Max[1]
}

// SquarePixels reports whether |Δlon| and |Δlat| agree within tol.
func (h Header) SquarePixels(tol float64) bool {
	return math.Abs(math.Abs(h.DLon)-math.Abs(h.DLat)) <= tol
}
