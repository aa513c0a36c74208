// Package catalog describes a finished result set as a STAC item so the
// products can be indexed next to the archive scenes they were derived from.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/planetlabs/go-stac"

	"github.com/robert-malhotra/asf-insar/internal/insar"
	"github.com/robert-malhotra/asf-insar/pkg/geojson"
)

// StacVersion is the STAC version written into result items.
const StacVersion = "1.0.0"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// NewResultItem builds the STAC item for rs. Asset hrefs are relative to
// the results directory.
func NewResultItem(rs insar.ResultSet, pair insar.ImagePair, aoi insar.AreaOfInterest) (*stac.Item, error) {
	if len(rs.Products) == 0 {
		return nil, fmt.Errorf("result set has no products")
	}
	ref, sec := pair.Reference, pair.Secondary

	item := &stac.Item{
		Version:    StacVersion,
		Id:         itemID(pair),
		Properties: make(map[string]any),
		Assets:     make(map[string]*stac.Asset),
		Links:      make([]*stac.Link, 0),
	}

	b := aoi.Bound()
	geom, err := geojson.NewPolygonFromBBox([]float64{b.Left(), b.Bottom(), b.Right(), b.Top()})
	if err != nil {
		return nil, fmt.Errorf("failed to build geometry: %w", err)
	}
	item.Geometry = geom
	if bbox, err := geojson.ComputeBBox(geom); err == nil {
		item.Bbox = bbox
	}

	// An interferogram spans both acquisitions.
	item.Properties["datetime"] = nil
	item.Properties["start_datetime"] = ref.StartTime.UTC().Format(time.RFC3339)
	item.Properties["end_datetime"] = sec.StartTime.UTC().Format(time.RFC3339)
	item.Properties["platform"] = strings.ToLower(ref.Platform)
	item.Properties["constellation"] = "sentinel-1"
	item.Properties["instruments"] = []string{"c-sar"}

	item.Properties["sar:instrument_mode"] = "IW"
	item.Properties["sar:frequency_band"] = "C"
	item.Properties["sar:product_type"] = "INTERFEROGRAM"
	item.Properties["sat:relative_orbit"] = pair.RelativeOrbit()
	if ref.FlightDirection != "" {
		item.Properties["sat:orbit_state"] = strings.ToLower(ref.FlightDirection)
	}
	item.Properties["processing:level"] = "L2"

	item.Properties["insar:reference"] = ref.ID
	item.Properties["insar:secondary"] = sec.ID
	item.Properties["insar:temporal_baseline"] = int(sec.Date().Sub(ref.Date()).Hours() / 24)
	if rs.Provenance.RunID != "" {
		item.Properties["insar:run_id"] = rs.Provenance.RunID
	}
	if rs.Provenance.ConfigDigest != "" {
		item.Properties["insar:config_digest"] = rs.Provenance.ConfigDigest
	}
	if len(rs.Skipped) > 0 {
		item.Properties["insar:skipped"] = rs.Skipped
	}
	if !rs.Provenance.CreatedAt.IsZero() {
		item.Properties["created"] = rs.Provenance.CreatedAt.UTC().Format(time.RFC3339)
	}

	for _, p := range rs.Products {
		item.Assets[p.Name] = &stac.Asset{
			Href:  relative(rs.Dir, p.Path),
			Title: p.Description,
			Type:  "application/octet-stream",
			Roles: []string{"data"},
		}
		item.Assets[p.Name+"_header"] = &stac.Asset{
			Href:  relative(rs.Dir, p.HeaderPath),
			Title: p.Description + " (ENVI header)",
			Type:  "text/plain",
			Roles: []string{"metadata"},
		}
	}
	for _, plot := range rs.Plots {
		name := strings.TrimSuffix(filepath.Base(plot), filepath.Ext(plot))
		item.Assets[name+"_plot"] = &stac.Asset{
			Href:  relative(rs.Dir, plot),
			Title: name + " figure",
			Type:  "image/png",
			Roles: []string{"overview"},
		}
	}

	for _, a := range pair.Images() {
		if a.URL == "" {
			continue
		}
		item.Links = append(item.Links, &stac.Link{
			Rel:   "derived_from",
			Href:  a.URL,
			Type:  "application/zip",
			Title: a.ID,
		})
	}
	return item, nil
}

// itemID names the item after the pair, e.g. S1A_014_20251110_20251122.
func itemID(pair insar.ImagePair) string {
	return fmt.Sprintf("%s_%03d_%s_%s",
		insar.PlatformCode(pair.Platform()),
		pair.RelativeOrbit(),
		pair.ReferenceDate().Format("20060102"),
		pair.SecondaryDate().Format("20060102"),
	)
}

func relative(dir, path string) string {
	if rel, err := filepath.Rel(dir, path); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}

// MarshalItem encodes item as indented JSON.
func MarshalItem(item *stac.Item) ([]byte, error) {
	return json.MarshalIndent(item, "", "  ")
}

// WriteItem stores item at path, replacing any previous document atomically.
func WriteItem(path string, item *stac.Item) error {
	data, err := MarshalItem(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".item-*")
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
	return os.Rename(tmp.Name(), path)
}
