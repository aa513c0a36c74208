package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/robert-malhotra/asf-insar/internal/insar"
)

// IndexOrbitSource lists orbit files from the ASF s1qc directory listings,
// one page per tier. Listings are fetched once per source.
type IndexOrbitSource struct {
	client *http.Client
	urls   map[insar.OrbitKind]string
	logger *slog.Logger

	mu    sync.Mutex
	cache map[insar.OrbitKind][]OrbitFile
}

// NewIndexOrbitSource creates a source over the precision and restituted index pages.
func NewIndexOrbitSource(precisionURL, restitutedURL string, timeout time.Duration, logger *slog.Logger) *IndexOrbitSource {
	return &IndexOrbitSource{
		client: &http.Client{Timeout: timeout},
		urls: map[insar.OrbitKind]string{
			insar.OrbitPrecision:  precisionURL,
			insar.OrbitRestituted: restitutedURL,
		},
		logger: logger,
		cache:  map[insar.OrbitKind][]OrbitFile{},
	}
}

// List returns every file of the tier for mission; coverage is left to the resolver.
func (s *IndexOrbitSource) List(ctx context.Context, kind insar.OrbitKind, mission string, _ time.Time) ([]OrbitFile, error) {
	all, err := s.listing(ctx, kind)
	if err != nil {
		return nil, err
	}
	var out []OrbitFile
	for _, f := range all {
		if f.Mission == mission {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *IndexOrbitSource) listing(ctx context.Context, kind insar.OrbitKind) ([]OrbitFile, error) {
	const op = "orbit index"
	s.mu.Lock()
	defer s.mu.Unlock()
	if files, ok := s.cache[kind]; ok {
		return files, nil
	}

	index, ok := s.urls[kind]
	if !ok {
		return nil, insar.Errorf(insar.KindFetch, op, "no index for orbit kind %s", kind)
	}
	base, err := url.Parse(index)
	if err != nil {
		return nil, insar.E(insar.KindFetch, op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, index, nil)
	if err != nil {
		return nil, insar.E(insar.KindFetch, op, err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, insar.E(insar.KindNetwork, op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, insar.Errorf(insar.KindNetwork, op, "GET %s: status %d", index, resp.StatusCode)
	}

	hrefs, err := anchors(resp.Body)
	if err != nil {
		return nil, insar.E(insar.KindFetch, op, fmt.Errorf("parse %s: %w", index, err))
	}

	var files []OrbitFile
	for _, href := range hrefs {
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		f, err := ParseOrbitName(path.Base(ref.Path))
		if err != nil || f.Kind != kind {
			continue
		}
		f.URL = base.ResolveReference(ref).String()
		files = append(files, f)
	}
	s.logger.Debug("parsed orbit index",
		slog.String("kind", string(kind)),
		slog.String("url", index),
		slog.Int("files", len(files)),
	)
	s.cache[kind] = files
	return files, nil
}

// anchors returns the href of every <a> element.
func anchors(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}
	var hrefs []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, a := range n.Attr {
				if a.Key == "href" {
					hrefs = append(hrefs, a.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return hrefs, nil
}
