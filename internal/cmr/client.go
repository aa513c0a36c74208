// Package cmr queries NASA's Common Metadata Repository for Sentinel-1 SLC
// granules. It is an alternative catalogue to the ASF Search API backed by
// the same ASF holdings.
package cmr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultBaseURL is the default CMR API base URL.
	DefaultBaseURL = "https://cmr.earthdata.nasa.gov/search"

	// DefaultProvider is the default CMR provider for ASF data.
	DefaultProvider = "ASF"

	// DefaultPageSize is the default number of results per page.
	DefaultPageSize = 250

	// MaxPages bounds one search; a pair search never needs more.
	MaxPages = 8

	// SearchAfterHeader carries the pagination cursor.
	SearchAfterHeader = "CMR-Search-After"
)

// ErrGranuleNotFound is returned by GetGranule when CMR holds no SLC granule
// for the scene.
var ErrGranuleNotFound = errors.New("granule not found")

// StatusError is returned when CMR answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("CMR API returned status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// IsTemporary reports whether err is a transient API failure.
func IsTemporary(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return false
}

// Client handles communication with the CMR API.
type Client struct {
	baseURL    string
	provider   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new CMR API client.
func NewClient(baseURL, provider string, timeout time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if provider == "" {
		provider = DefaultProvider
	}

	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		provider: provider,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger for the client.
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// SearchResult is one page of granules.
type SearchResult struct {
	Granules    []UMMGranule
	Hits        int
	SearchAfter string
}

// Search fetches one page of granules.
func (c *Client) Search(ctx context.Context, params SearchParams) (*SearchResult, error) {
	values := params.ToURLValues()
	values.Set("provider", c.provider)
	searchURL := c.baseURL + "/granules.umm_json?" + values.Encode()

	c.logger.DebugContext(ctx, "executing CMR search",
		slog.String("url", searchURL),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.nasa.cmr.umm_results+json")
	req.Header.Set("User-Agent", "asf-insar/1.0")
	if params.SearchAfter != "" {
		req.Header.Set(SearchAfterHeader, params.SearchAfter)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "CMR API request failed",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("CMR API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.ErrorContext(ctx, "CMR API returned non-200 status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(body)),
		)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var page UMMSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode CMR response: %w", err)
	}

	granules := make([]UMMGranule, 0, len(page.Items))
	for _, item := range page.Items {
		granules = append(granules, item.UMM)
	}
	return &SearchResult{
		Granules:    granules,
		Hits:        page.Hits,
		SearchAfter: resp.Header.Get(SearchAfterHeader),
	}, nil
}

// SearchAll follows the search-after cursor until the result set is
// exhausted or MaxPages pages were read.
func (c *Client) SearchAll(ctx context.Context, params SearchParams) ([]UMMGranule, error) {
	var all []UMMGranule
	for page := 0; page < MaxPages; page++ {
		res, err := c.Search(ctx, params)
		if err != nil {
			return nil, err
		}
		all = append(all, res.Granules...)
		if res.SearchAfter == "" || len(all) >= res.Hits || len(res.Granules) == 0 {
			return all, nil
		}
		params.SearchAfter = res.SearchAfter
	}
	c.logger.WarnContext(ctx, "CMR search truncated",
		slog.Int("pages", MaxPages),
		slog.Int("granules", len(all)),
	)
	return all, nil
}

// GetGranule retrieves the SLC granule of a scene. CMR records SLC scenes
// under the scene name with an "-SLC" suffix.
func (c *Client) GetGranule(ctx context.Context, sceneName string) (*UMMGranule, error) {
	platform := sceneName
	if len(platform) >= 3 {
		platform = platform[:3]
	}
	ur := sceneName + "-SLC"
	res, err := c.Search(ctx, SearchParams{
		ShortName: CollectionsFor(platform),
		GranuleUR: []string{ur},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search for granule: %w", err)
	}
	for i := range res.Granules {
		if res.Granules[i].GranuleUR == ur {
			return &res.Granules[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrGranuleNotFound, sceneName)
}

// SearchParams represents parameters for CMR granule searches.
type SearchParams struct {
	ShortName   []string // collection short names, e.g. SENTINEL-1A_SLC
	GranuleUR   []string
	BoundingBox string   // west,south,east,north
	Start, End  time.Time

	BeamMode      []string
	RelativeOrbit []int

	PageSize    int
	SearchAfter string
}

// SLCParams returns the parameters of an IW SLC query for platform over
// bbox between start and end.
func SLCParams(platform string, bbox [4]float64, start, end time.Time, relativeOrbit *int) SearchParams {
	p := SearchParams{
		ShortName:   CollectionsFor(platform),
		BoundingBox: fmt.Sprintf("%g,%g,%g,%g", bbox[0], bbox[1], bbox[2], bbox[3]),
		Start:       start,
		End:         end,
		BeamMode:    []string{"IW"},
	}
	if relativeOrbit != nil {
		p.RelativeOrbit = []int{*relativeOrbit}
	}
	return p
}

// CollectionsFor maps a platform name to the SLC collection short names.
// The family name selects every mission.
func CollectionsFor(platform string) []string {
	switch strings.ToUpper(platform) {
	case "SENTINEL-1A", "S1A":
		return []string{"SENTINEL-1A_SLC"}
	case "SENTINEL-1B", "S1B":
		return []string{"SENTINEL-1B_SLC"}
	case "SENTINEL-1C", "S1C":
		return []string{"SENTINEL-1C_SLC"}
	default:
		return []string{"SENTINEL-1A_SLC", "SENTINEL-1B_SLC", "SENTINEL-1C_SLC"}
	}
}

// ToURLValues converts SearchParams to URL query parameters.
func (p SearchParams) ToURLValues() url.Values {
	values := url.Values{}
	for _, sn := range p.ShortName {
		values.Add("short_name", sn)
	}
	for _, ur := range p.GranuleUR {
		values.Add("granule_ur[]", ur)
	}
	if p.BoundingBox != "" {
		values.Set("bounding_box", p.BoundingBox)
	}
	if !p.Start.IsZero() || !p.End.IsZero() {
		values.Set("temporal", formatTime(p.Start)+","+formatTime(p.End))
	}
	for _, bm := range p.BeamMode {
		values.Add("attribute[]", "string,BEAM_MODE,"+bm)
	}
	for _, ro := range p.RelativeOrbit {
		values.Add("attribute[]", fmt.Sprintf("int,PATH_NUMBER,%d", ro))
	}
	size := p.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	values.Set("page_size", fmt.Sprint(size))
	values.Set("sort_key", "start_date")
	return values
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
