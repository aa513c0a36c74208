package raster

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
)

const wgs84WKT = `GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]]`

// WriteENVI writes g as little-endian float32 <dir>/<name>.bin with an ENVI
// <name>.hdr carrying the geographic map info. Both files are written to
// temporaries first and renamed into place.
func WriteENVI(dir, name, description string, g Grid) (binPath, hdrPath string, err error) {
	rows, cols := g.Dims()
	binPath = filepath.Join(dir, name+".bin")
	hdrPath = filepath.Join(dir, name+".hdr")

	err = writeAtomic(binPath, func(w *bufio.Writer) error {
		var buf [4]byte
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				binary.LittleEndian.PutUint32(buf[:], math.Float32bits(float32(g.Data.At(r, c))))
				if _, err := w.Write(buf[:]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", "", err
	}

	var hdr strings.Builder
	fmt.Fprintln(&hdr, "ENVI")
	fmt.Fprintf(&hdr, "description = {%s}\n", description)
	fmt.Fprintf(&hdr, "samples = %d\n", cols)
	fmt.Fprintf(&hdr, "lines = %d\n", rows)
	fmt.Fprintln(&hdr, "bands = 1")
	fmt.Fprintln(&hdr, "header offset = 0")
	fmt.Fprintln(&hdr, "file type = ENVI Standard")
	fmt.Fprintln(&hdr, "data type = 4")
	fmt.Fprintln(&hdr, "interleave = bsq")
	fmt.Fprintln(&hdr, "byte order = 0")
	fmt.Fprintf(&hdr, "map info = {Geographic Lat/Lon, 1, 1, %s, %s, %s, %s, WGS-84, units=Degrees}\n",
		ftoa(g.Lon0), ftoa(g.Lat0), ftoa(math.Abs(g.DLon)), ftoa(math.Abs(g.DLat)))
	fmt.Fprintf(&hdr, "coordinate system string = {%s}\n", wgs84WKT)
	fmt.Fprintf(&hdr, "band names = {%s}\n", name)

	err = writeAtomic(hdrPath, func(w *bufio.Writer) error {
		_, err := w.WriteString(hdr.String())
		return err
	})
	if err != nil {
		return "", "", err
	}
	return binPath, hdrPath, nil
}

func ftoa(f float64) string {
	return fmt.Sprintf("%.10g", f)
}

func writeAtomic(path string, fill func(*bufio.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := fill(w); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
