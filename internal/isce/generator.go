// Package isce renders the topsApp configuration documents of a run.
package isce

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/robert-malhotra/asf-insar/internal/insar"
)

const (
	WorkflowFile  = "tops.xml"
	ReferenceFile = "reference.xml"
	SecondaryFile = "secondary.xml"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.New("isce").Funcs(template.FuncMap{
	"esc":      escape,
	"safeList": safeList,
	"intList":  intList,
	"roi":      roi,
	"pybool":   pybool,
}).ParseFS(templateFS, "templates/*.tmpl"))

// Params are the fixed processing parameters.
type Params struct {
	Swaths         []int
	RangeLooks     int
	AzimuthLooks   int
	FilterStrength float64
	Unwrapper      string
	Polarization   string
	UseGPU         bool
}

// Inputs are the resolved artifacts the configuration references.
type Inputs struct {
	Pair     insar.ImagePair
	DEM      insar.DemRaster
	SLCPaths []string // reference, secondary
	OrbitDir string
	AOI      insar.AreaOfInterest
}

// Generator writes reference.xml, secondary.xml and tops.xml into a
// directory. Output depends only on its inputs, so regenerating is always
// safe and yields byte-identical files.
type Generator struct {
	dir    string
	params Params
}

// NewGenerator creates a generator writing into dir.
func NewGenerator(dir string, params Params) *Generator {
	return &Generator{dir: dir, params: params}
}

type imageView struct {
	Role         string
	OrbitDir     string
	SAFE         []string
	Polarization string
}

type topsView struct {
	Params
	ReferenceCatalog string
	SecondaryCatalog string
	DEM              string
	Region           [4]float64
}

// Generate checks every referenced path and writes the documents.
func (g *Generator) Generate(in Inputs) (insar.ProcessingConfig, error) {
	const op = "xml"
	if len(in.SLCPaths) != 2 {
		return insar.ProcessingConfig{}, insar.Errorf(insar.KindConfig, op, "expected 2 SLC paths, got %d", len(in.SLCPaths))
	}
	if err := in.AOI.Validate(); err != nil {
		return insar.ProcessingConfig{}, insar.E(insar.KindConfig, op, err)
	}
	if err := in.Pair.Validate(in.AOI); err != nil {
		return insar.ProcessingConfig{}, insar.E(insar.KindConfig, op, err)
	}
	for _, p := range []string{in.SLCPaths[0], in.SLCPaths[1], in.OrbitDir, in.DEM.Path, in.DEM.HeaderPath} {
		if p == "" {
			return insar.ProcessingConfig{}, insar.Errorf(insar.KindConfig, op, "referenced path is empty")
		}
		if _, err := os.Stat(p); err != nil {
			return insar.ProcessingConfig{}, insar.E(insar.KindConfig, op, fmt.Errorf("referenced path: %w", err))
		}
	}

	docs := []struct {
		name string
		tmpl string
		data any
	}{
		{ReferenceFile, "image.xml.tmpl", imageView{Role: "reference", OrbitDir: in.OrbitDir, SAFE: in.SLCPaths[:1], Polarization: g.params.Polarization}},
		{SecondaryFile, "image.xml.tmpl", imageView{Role: "secondary", OrbitDir: in.OrbitDir, SAFE: in.SLCPaths[1:], Polarization: g.params.Polarization}},
		{WorkflowFile, "tops.xml.tmpl", topsView{
			Params:           g.params,
			ReferenceCatalog: ReferenceFile,
			SecondaryCatalog: SecondaryFile,
			DEM:              in.DEM.Path,
			Region:           in.AOI.RegionOfInterest(),
		}},
	}

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return insar.ProcessingConfig{}, insar.E(insar.KindConfig, op, err)
	}
	digest := sha256.New()
	for _, d := range docs {
		var buf bytes.Buffer
		if err := templates.ExecuteTemplate(&buf, d.tmpl, d.data); err != nil {
			return insar.ProcessingConfig{}, insar.E(insar.KindConfig, op, fmt.Errorf("render %s: %w", d.name, err))
		}
		fmt.Fprintf(digest, "%s\x00%d\x00", d.name, buf.Len())
		digest.Write(buf.Bytes())
		if err := writeFileAtomic(filepath.Join(g.dir, d.name), buf.Bytes()); err != nil {
			return insar.ProcessingConfig{}, insar.E(insar.KindConfig, op, err)
		}
	}

	return insar.ProcessingConfig{
		Dir:           g.dir,
		WorkflowPath:  filepath.Join(g.dir, WorkflowFile),
		ReferencePath: filepath.Join(g.dir, ReferenceFile),
		SecondaryPath: filepath.Join(g.dir, SecondaryFile),
		Digest:        hex.EncodeToString(digest.Sum(nil)),
	}, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func escape(s string) (string, error) {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return "", err
	}
	return b.String(), nil
}

// safeList renders a Python list literal, the form topsApp expects.
func safeList(paths []string) (string, error) {
	quoted := make([]string, len(paths))
	for i, p := range paths {
		e, err := escape(p)
		if err != nil {
			return "", err
		}
		quoted[i] = "'" + e + "'"
	}
	return "[" + strings.Join(quoted, ", ") + "]", nil
}

func intList(v []int) string {
	s := make([]string, len(v))
	for i, n := range v {
		s[i] = strconv.Itoa(n)
	}
	return "[" + strings.Join(s, ",") + "]"
}

func roi(r [4]float64) string {
	return fmt.Sprintf("[%.4f, %.4f, %.4f, %.4f]", r[0], r[1], r[2], r[3])
}

func pybool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}
