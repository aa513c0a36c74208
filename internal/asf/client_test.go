package asf

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/robert-malhotra/asf-insar/pkg/geojson"
)

func intPtr(i int) *int { return &i }

func slcFeature(scene, start string, orbit int) Feature {
	return Feature{
		Type: "Feature",
		Geometry: &geojson.Geometry{
			Type:        "Polygon",
			Coordinates: json.RawMessage(`[[[9.0, 39.0], [11.0, 39.0], [11.0, 41.0], [9.0, 41.0], [9.0, 39.0]]]`),
		},
		Properties: Properties{
			SceneName:       scene,
			FileID:          scene + "-SLC",
			Platform:        "Sentinel-1A",
			BeamModeType:    "IW",
			FlightDirection: "ASCENDING",
			ProcessingLevel: "SLC",
			RelativeOrbit:   intPtr(orbit),
			StartTime:       start,
			URL:             "https://datapool.asf.alaska.edu/SLC/SA/" + scene + ".zip",
			FileName:        scene + ".zip",
			Bytes:           json.RawMessage(`4294967296`),
			MD5Sum:          "0123456789abcdef0123456789abcdef",
		},
	}
}

func TestClient_Search_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET request, got %s", r.Method)
		}
		if r.URL.Path != "/services/search/param" {
			t.Errorf("Expected path /services/search/param, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(GeoJSONResponse{
			Type:     "FeatureCollection",
			Features: []Feature{slcFeature("S1A_IW_SLC__1SDV_20230101T120000", "2023-01-01T12:00:00.000000", 44)},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, 30*time.Second)
	start := time.Date(2022, 12, 20, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 1, 22, 0, 0, 0, 0, time.UTC)

	result, err := client.Search(context.Background(), SLCParams("Sentinel-1", "POLYGON((0 0,1 0,1 1,0 0))", start, end, nil))
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(result.Features) != 1 {
		t.Fatalf("Expected 1 feature, got %d", len(result.Features))
	}
	if result.Features[0].Properties.Platform != "Sentinel-1A" {
		t.Errorf("Expected platform Sentinel-1A, got %s", result.Features[0].Properties.Platform)
	}
}

func TestClient_Search_WithParams(t *testing.T) {
	var captured string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.URL.RawQuery
		json.NewEncoder(w).Encode(GeoJSONResponse{Type: "FeatureCollection"})
	}))
	defer server.Close()

	client := NewClient(server.URL, 30*time.Second)
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2023, 1, 13, 23, 59, 59, 0, time.UTC)

	if _, err := client.Search(context.Background(), SLCParams("Sentinel-1A", "POLYGON((0 0,1 0,1 1,0 0))", start, end, intPtr(44))); err != nil {
		t.Fatalf("Search failed: %v", err)
	}

	for _, want := range []string{
		"platform=Sentinel-1A",
		"beamMode=IW",
		"processingLevel=SLC",
		"relativeOrbit=44",
		"maxResults=200",
		"output=geojson",
		"start=2023-01-01T00%3A00%3A00Z",
		"end=2023-01-13T23%3A59%3A59Z",
		"intersectsWith=POLYGON",
	} {
		if !strings.Contains(captured, want) {
			t.Errorf("query %q missing %q", captured, want)
		}
	}
}

func TestClient_Search_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("maintenance"))
	}))
	defer server.Close()

	client := NewClient(server.URL, 30*time.Second)
	_, err := client.Search(context.Background(), SearchParams{})
	if err == nil {
		t.Fatal("Expected error for 503 response")
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("Expected StatusError 503, got %v", err)
	}
	if !IsTemporary(err) {
		t.Error("503 should be temporary")
	}
}

func TestClient_Search_BadRequestIsPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad wkt", http.StatusBadRequest)
	}))
	defer server.Close()

	_, err := NewClient(server.URL, 30*time.Second).Search(context.Background(), SearchParams{})
	if err == nil || IsTemporary(err) {
		t.Fatalf("Expected permanent error, got %v", err)
	}
}

func TestClient_Search_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, 30*time.Second).Search(context.Background(), SearchParams{})
	if err == nil || !strings.Contains(err.Error(), "decode") {
		t.Fatalf("Expected decode error, got %v", err)
	}
}

func TestClient_Search_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(server.URL, 30*time.Second).Search(ctx, SearchParams{})
	if err == nil {
		t.Fatal("Expected error for cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestClient_GetGranule_MatchesSceneName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("granule_list"); got != "S1A_B" {
			t.Errorf("granule_list = %q", got)
		}
		if r.URL.Query().Has("maxResults") {
			t.Error("maxResults must not be sent with granule_list")
		}
		json.NewEncoder(w).Encode(GeoJSONResponse{Features: []Feature{
			slcFeature("S1A_A", "2023-01-01T12:00:00Z", 44),
			slcFeature("S1A_B", "2023-01-13T12:00:00Z", 44),
		}})
	}))
	defer server.Close()

	f, err := NewClient(server.URL, 30*time.Second).GetGranule(context.Background(), "S1A_B")
	if err != nil {
		t.Fatalf("GetGranule failed: %v", err)
	}
	if f.Properties.SceneName != "S1A_B" {
		t.Errorf("GetGranule returned %s", f.Properties.SceneName)
	}
}

func TestClient_GetGranule_NotFound(t *testing.T) {
	tests := []struct {
		name     string
		features []Feature
	}{
		{"empty result", nil},
		{"other scene only", []Feature{slcFeature("S1A_A", "2023-01-01T12:00:00Z", 44)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(GeoJSONResponse{Features: tt.features})
			}))
			defer server.Close()

			_, err := NewClient(server.URL, 30*time.Second).GetGranule(context.Background(), "missing")
			if !errors.Is(err, ErrGranuleNotFound) {
				t.Fatalf("Expected ErrGranuleNotFound, got %v", err)
			}
		})
	}
}

func TestClient_WithLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := NewClient("https://example.com", time.Second).WithLogger(logger)
	if client.logger != logger {
		t.Error("WithLogger did not set the logger")
	}
}

func TestFeature_Acquisition(t *testing.T) {
	f := slcFeature("S1A_IW_SLC__1SDV_20230101T120000", "2023-01-01T12:00:00.000000", 44)

	acq, err := f.Acquisition()
	if err != nil {
		t.Fatalf("Acquisition failed: %v", err)
	}
	if acq.RelativeOrbit != 44 {
		t.Errorf("RelativeOrbit = %d, want 44", acq.RelativeOrbit)
	}
	if acq.Bytes != 4294967296 {
		t.Errorf("Bytes = %d", acq.Bytes)
	}
	if !acq.StartTime.Equal(time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("StartTime = %v", acq.StartTime)
	}
	if len(acq.Footprint) != 1 || len(acq.Footprint[0]) != 5 {
		t.Errorf("Footprint = %v", acq.Footprint)
	}
}

func TestFeature_Acquisition_PathNumberFallback(t *testing.T) {
	f := slcFeature("S1A_X", "2023-01-01T12:00:00Z", 0)
	f.Properties.RelativeOrbit = nil
	f.Properties.PathNumber = intPtr(117)
	f.Properties.Bytes = json.RawMessage(`"1024"`)
	f.Properties.FileName = ""

	acq, err := f.Acquisition()
	if err != nil {
		t.Fatalf("Acquisition failed: %v", err)
	}
	if acq.RelativeOrbit != 117 {
		t.Errorf("RelativeOrbit = %d, want 117", acq.RelativeOrbit)
	}
	if acq.Bytes != 1024 {
		t.Errorf("Bytes = %d, want 1024", acq.Bytes)
	}
	if acq.FileName != "S1A_X.zip" {
		t.Errorf("FileName = %q, want name derived from URL", acq.FileName)
	}
}

func TestFeature_Acquisition_MissingOrbit(t *testing.T) {
	f := slcFeature("S1A_X", "2023-01-01T12:00:00Z", 0)
	f.Properties.RelativeOrbit = nil
	if _, err := f.Acquisition(); err == nil {
		t.Fatal("Expected error without relative orbit")
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2023-06-15T14:00:00.000000", want: time.Date(2023, 6, 15, 14, 0, 0, 0, time.UTC)},
		{in: "2023-06-15T14:00:00Z", want: time.Date(2023, 6, 15, 14, 0, 0, 0, time.UTC)},
		{in: "2023-06-15T16:00:00+02:00", want: time.Date(2023, 6, 15, 14, 0, 0, 0, time.UTC)},
		{in: "", wantErr: true},
		{in: "yesterday", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTime(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("ParseTime(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
