// Package rastertest writes small ISCE image files for tests.
package rastertest

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"
	"testing"
)

// Image is a geocoded multi-band FLOAT image stored BIL.
type Image struct {
	Width, Length int
	Lon0, DLon    float64
	Lat0, DLat    float64
	Bands         [][]float64 // each band is row-major Width*Length
}

// Write stores img at path with its .xml header.
func Write(t testing.TB, path string, img Image) {
	t.Helper()
	buf := make([]byte, 0, 4*img.Width*img.Length*len(img.Bands))
	for r := 0; r < img.Length; r++ {
		for _, band := range img.Bands {
			for c := 0; c < img.Width; c++ {
				buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(band[r*img.Width+c])))
			}
		}
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.WriteFile(path+".xml", []byte(Header(img.Width, img.Length, len(img.Bands), "FLOAT", "BIL", img.Lon0, img.DLon, img.Lat0, img.DLat)), 0o644); err != nil {
		t.Fatalf("write %s.xml: %v", path, err)
	}
}

// Header renders an ISCE image header.
func Header(width, length, bands int, dataType, scheme string, lon0, dlon, lat0, dlat float64) string {
	var b strings.Builder
	prop := func(name string, v any) {
		fmt.Fprintf(&b, "    <property name=\"%s\">\n        <value>%v</value>\n    </property>\n", name, v)
	}
	b.WriteString("<imageFile>\n")
	prop("byte_order", "l")
	prop("data_type", dataType)
	prop("length", length)
	prop("number_bands", bands)
	prop("scheme", scheme)
	prop("width", width)
	for i, c := range []struct {
		start, delta float64
		size         int
	}{{lon0, dlon, width}, {lat0, dlat, length}} {
		fmt.Fprintf(&b, "    <component name=\"coordinate%d\">\n", i+1)
		fmt.Fprintf(&b, "        <property name=\"delta\"><value>%v</value></property>\n", c.delta)
		fmt.Fprintf(&b, "        <property name=\"size\"><value>%d</value></property>\n", c.size)
		fmt.Fprintf(&b, "        <property name=\"startingvalue\"><value>%v</value></property>\n", c.start)
		b.WriteString("    </component>\n")
	}
	b.WriteString("</imageFile>\n")
	return b.String()
}

// Fill returns a band of n copies of v.
func Fill(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}
