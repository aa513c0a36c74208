// Package asf talks to the ASF Search API: it queries Sentinel-1 SLC granules
// and converts the GeoJSON features into acquisitions.
package asf

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultBaseURL is the public ASF Search API.
const DefaultBaseURL = "https://api.daac.asf.alaska.edu"

const searchPath = "/services/search/param"

// ErrGranuleNotFound is returned by GetGranule when the archive has no SLC
// granule with the requested scene name.
var ErrGranuleNotFound = errors.New("granule not found")

// StatusError is returned when the API answers with a non-200 status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ASF API returned status %d: %s", e.StatusCode, e.Body)
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

// Client handles communication with the ASF Search API
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	logger     *slog.Logger
}

// NewClient creates a new ASF API client
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		userAgent: "asf-insar/1.0",
		logger:    slog.Default(),
	}
}

// WithLogger sets a custom logger for the client
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	c.logger = logger
	return c
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// Search performs a search against the ASF API
func (c *Client) Search(ctx context.Context, params SearchParams) (*GeoJSONResponse, error) {
	searchURL, err := c.buildSearchURL(params)
	if err != nil {
		return nil, fmt.Errorf("failed to build search URL: %w", err)
	}

	c.logger.DebugContext(ctx, "executing ASF search",
		slog.String("url", searchURL),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "ASF API request failed",
			slog.String("error", err.Error()),
			slog.String("url", searchURL),
		)
		return nil, fmt.Errorf("ASF API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.ErrorContext(ctx, "ASF API returned non-200 status",
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", string(body)),
		)
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result GeoJSONResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.logger.ErrorContext(ctx, "failed to decode ASF response",
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("failed to decode ASF response: %w", err)
	}

	c.logger.DebugContext(ctx, "ASF search completed",
		slog.Int("feature_count", len(result.Features)),
	)
	return &result, nil
}

// GetGranule retrieves a single SLC granule by scene name.
func (c *Client) GetGranule(ctx context.Context, sceneName string) (*Feature, error) {
	result, err := c.Search(ctx, SearchParams{
		GranuleList:     []string{sceneName},
		ProcessingLevel: []string{ProcessingLevelSLC},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search for granule: %w", err)
	}
	for i := range result.Features {
		if result.Features[i].Properties.SceneName == sceneName {
			return &result.Features[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrGranuleNotFound, sceneName)
}

func (c *Client) buildSearchURL(params SearchParams) (string, error) {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	base.Path = searchPath
	base.RawQuery = params.ToURLValues().Encode()
	return base.String(), nil
}
