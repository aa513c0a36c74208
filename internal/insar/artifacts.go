package insar

import (
	"time"

	"github.com/paulmach/orb"
)

// ArtifactKind is the expected kind of a downloaded file.
type ArtifactKind string

const (
	ArtifactSLC     ArtifactKind = "SLC"
	ArtifactOrbit   ArtifactKind = "Orbit"
	ArtifactDemTile ArtifactKind = "DemTile"
)

// EntryStatus tracks a manifest entry: Pending -> Downloading -> Verified | Failed.
// Absent marks a DEM tile the server does not publish.
type EntryStatus string

const (
	StatusPending     EntryStatus = "pending"
	StatusDownloading EntryStatus = "downloading"
	StatusVerified    EntryStatus = "verified"
	StatusFailed      EntryStatus = "failed"
	StatusAbsent      EntryStatus = "absent"
)

// ManifestEntry is one planned download.
type ManifestEntry struct {
	Kind         ArtifactKind `json:"kind"`
	RemoteURL    string       `json:"remote_url"`
	LocalPath    string       `json:"local_path"`
	ExpectedName string       `json:"expected_name,omitempty"`
	ExpectedSize int64        `json:"expected_size,omitempty"`
	ExpectedMD5  string       `json:"expected_md5,omitempty"`
	Required     bool         `json:"required"`
	Status       EntryStatus  `json:"status"`
	Attempts     int          `json:"attempts"`
	Error        string       `json:"error,omitempty"`
}

// DownloadManifest is the ordered list of downloads of the fetch stage.
type DownloadManifest struct {
	Entries []ManifestEntry `json:"entries"`
}

// Of returns the entries of one kind, in manifest order.
func (m DownloadManifest) Of(kind ArtifactKind) []ManifestEntry {
	var out []ManifestEntry
	for _, e := range m.Entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// Replace swaps every entry of the given kind for entries, keeping the others.
func (m DownloadManifest) Replace(kind ArtifactKind, entries []ManifestEntry) DownloadManifest {
	out := DownloadManifest{Entries: make([]ManifestEntry, 0, len(m.Entries)+len(entries))}
	for _, e := range m.Entries {
		if e.Kind != kind {
			out.Entries = append(out.Entries, e)
		}
	}
	out.Entries = append(out.Entries, entries...)
	return out
}

// OrbitKind is the quality tier of an orbit file.
type OrbitKind string

const (
	OrbitPrecision  OrbitKind = "Precision"
	OrbitRestituted OrbitKind = "Restituted"
	OrbitMissing    OrbitKind = "Missing"
)

// Product returns the archive product type for the tier, e.g. "POEORB".
func (k OrbitKind) Product() string {
	switch k {
	case OrbitPrecision:
		return "POEORB"
	case OrbitRestituted:
		return "RESORB"
	default:
		return ""
	}
}

// OrbitSelection records which orbit file was chosen for an image.
type OrbitSelection struct {
	ImageID   string    `json:"image_id"`
	Kind      OrbitKind `json:"kind"`
	File      string    `json:"file,omitempty"`
	URL       string    `json:"url,omitempty"`
	LocalPath string    `json:"local_path,omitempty"`
}

// DemRaster is the stitched elevation raster.
type DemRaster struct {
	Path       string    `json:"path"`
	HeaderPath string    `json:"header_path"`
	Bound      orb.Bound `json:"bound"`
	DeltaLon   float64   `json:"delta_lon"`
	DeltaLat   float64   `json:"delta_lat"`
	Width      int       `json:"width"`
	Length     int       `json:"length"`
}

// ProcessingConfig is the generated configuration document set.
type ProcessingConfig struct {
	Dir           string `json:"dir"`
	WorkflowPath  string `json:"workflow_path"`
	ReferencePath string `json:"reference_path"`
	SecondaryPath string `json:"secondary_path"`
	Digest        string `json:"digest"`
}

// EngineOutputs locates the merged products written by the processing engine.
type EngineOutputs struct {
	MergedDir string            `json:"merged_dir"`
	Files     map[string]string `json:"files"`
	LogPath   string            `json:"log_path"`
	Duration  time.Duration     `json:"duration"`
}

// Product is one named raster of the result set.
type Product struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	HeaderPath  string `json:"header_path"`
	Description string `json:"description"`
	Unit        string `json:"unit,omitempty"`
}

// Provenance ties a result set to the run that produced it.
type Provenance struct {
	RunID         string    `json:"run_id"`
	ReferenceID   string    `json:"reference_id"`
	SecondaryID   string    `json:"secondary_id"`
	RelativeOrbit int       `json:"relative_orbit"`
	ConfigDigest  string    `json:"config_digest"`
	CreatedAt     time.Time `json:"created_at"`
}

// ResultSet is the immutable output of post-processing.
type ResultSet struct {
	Dir        string     `json:"dir"`
	Products   []Product  `json:"products"`
	PlotDir    string     `json:"plot_dir,omitempty"`
	Plots      []string   `json:"plots,omitempty"`
	ItemPath   string     `json:"item_path,omitempty"`
	Skipped    []string   `json:"skipped,omitempty"`
	Provenance Provenance `json:"provenance"`
}

// Product returns the named product, if present.
func (r ResultSet) Product(name string) (Product, bool) {
	for _, p := range r.Products {
		if p.Name == name {
			return p, true
		}
	}
	return Product{}, false
}
