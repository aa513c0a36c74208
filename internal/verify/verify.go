// Package verify checks downloaded and generated artifacts before a stage is
// allowed to report success.
package verify

import (
	"archive/zip"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robert-malhotra/asf-insar/internal/insar"
)

// orbitMarker opens every Earth Explorer orbit file.
var orbitMarker = []byte("<Earth_Explorer_File")

const orbitSniffBytes = 4096

// Expectation describes what a file on disk should be.
type Expectation struct {
	Kind insar.ArtifactKind
	Name string // expected base name, empty to skip
	Size int64  // expected size in bytes, 0 when unknown
	MD5  string // expected hex digest, empty when unknown
}

// ForEntry derives the expectation of a manifest entry.
func ForEntry(e insar.ManifestEntry) Expectation {
	return Expectation{Kind: e.Kind, Name: e.ExpectedName, Size: e.ExpectedSize, MD5: e.ExpectedMD5}
}

// File verifies path against exp. Failures are KindVerification errors.
func File(path string, exp Expectation) error {
	const op = "verify"
	info, err := os.Stat(path)
	if err != nil {
		return insar.E(insar.KindVerification, op, err)
	}
	if !info.Mode().IsRegular() {
		return insar.Errorf(insar.KindVerification, op, "%s is not a regular file", path)
	}
	if info.Size() == 0 {
		return insar.Errorf(insar.KindVerification, op, "%s is empty", path)
	}
	if exp.Size > 0 && info.Size() != exp.Size {
		return insar.Errorf(insar.KindVerification, op, "%s has %d bytes, expected %d", path, info.Size(), exp.Size)
	}
	if exp.Name != "" && !nameMatches(exp.Kind, filepath.Base(path), exp.Name) {
		return insar.Errorf(insar.KindVerification, op, "%s does not match expected name %s", filepath.Base(path), exp.Name)
	}

	switch exp.Kind {
	case insar.ArtifactSLC, insar.ArtifactDemTile:
		err = checkZip(path, info.Size())
	case insar.ArtifactOrbit:
		err = checkOrbit(path)
	}
	if err == nil && exp.MD5 != "" {
		err = checkMD5(path, exp.MD5)
	}
	return insar.E(insar.KindVerification, op, err)
}

func checkMD5(path, want string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("failed to hash %s: %w", path, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); !strings.EqualFold(got, want) {
		return fmt.Errorf("%s has md5 %s, expected %s", filepath.Base(path), got, want)
	}
	return nil
}

func nameMatches(kind insar.ArtifactKind, got, want string) bool {
	if kind == insar.ArtifactSLC {
		return strings.TrimSuffix(got, ".zip") == strings.TrimSuffix(want, ".zip")
	}
	return got == want
}

func checkZip(path string, size int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	zr, err := zip.NewReader(f, size)
	if err != nil {
		return fmt.Errorf("%s is not a readable zip archive: %w", filepath.Base(path), err)
	}
	if len(zr.File) == 0 {
		return fmt.Errorf("%s is an empty zip archive", filepath.Base(path))
	}
	return nil
}

func checkOrbit(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, orbitSniffBytes)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if !bytes.Contains(head[:n], orbitMarker) {
		return fmt.Errorf("%s is not an Earth Explorer orbit file", filepath.Base(path))
	}
	return nil
}

// Dir verifies that dir exists, is non-empty and contains every required
// file with non-zero size.
func Dir(dir string, required ...string) error {
	const op = "verify dir"
	entries, err := os.ReadDir(dir)
	if err != nil {
		return insar.E(insar.KindVerification, op, err)
	}
	if len(entries) == 0 {
		return insar.Errorf(insar.KindVerification, op, "%s is empty", dir)
	}
	var missing []string
	for _, name := range required {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.Size() == 0 {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return insar.Errorf(insar.KindVerification, op, "%s is missing %s", dir, strings.Join(missing, ", "))
	}
	return nil
}

// Fresh checks that every named file in dir was modified at or after since.
// since is truncated to the second for filesystems with coarse timestamps.
func Fresh(dir string, since time.Time, names ...string) error {
	const op = "verify fresh"
	cutoff := since.Truncate(time.Second)
	var stale []string
	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			return insar.E(insar.KindVerification, op, err)
		}
		if info.ModTime().Before(cutoff) {
			stale = append(stale, name)
		}
	}
	if len(stale) > 0 {
		return insar.E(insar.KindVerification, op,
			fmt.Errorf("%w: %s predates the run started at %s: %s", insar.ErrStaleInput, dir, since.Format(time.RFC3339), strings.Join(stale, ", ")))
	}
	return nil
}
