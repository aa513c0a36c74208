// Package search resolves a spatial/temporal request into exactly one
// reference/secondary acquisition pair.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/robert-malhotra/asf-insar/internal/asf"
	"github.com/robert-malhotra/asf-insar/internal/cmr"
	"github.com/robert-malhotra/asf-insar/internal/insar"
)

// Archive is a catalogue of SLC acquisitions.
type Archive interface {
	// Search returns the acquisitions intersecting the query area within
	// [Start, End] on the given platform and, if set, relative orbit.
	Search(ctx context.Context, q Query) ([]insar.Acquisition, error)
}

// Query is a single archive lookup.
type Query struct {
	Platform      string
	AOI           insar.AreaOfInterest
	Start         time.Time
	End           time.Time
	RelativeOrbit *int
}

// ASFArchive implements Archive on the ASF Search API.
type ASFArchive struct {
	client *asf.Client
	logger *slog.Logger
}

// NewASFArchive creates an archive backed by client.
func NewASFArchive(client *asf.Client, logger *slog.Logger) *ASFArchive {
	return &ASFArchive{client: client, logger: logger}
}

// Search queries IW SLC granules and converts them to acquisitions. Features
// that cannot be converted are logged and skipped.
func (a *ASFArchive) Search(ctx context.Context, q Query) ([]insar.Acquisition, error) {
	wkt, err := q.AOI.WKT()
	if err != nil {
		return nil, insar.E(insar.KindUsage, "search", err)
	}

	resp, err := a.client.Search(ctx, asf.SLCParams(q.Platform, wkt, q.Start, q.End, q.RelativeOrbit))
	if err != nil {
		return nil, classify(err)
	}

	out := make([]insar.Acquisition, 0, len(resp.Features))
	for _, feature := range resp.Features {
		acq, err := feature.Acquisition()
		if err != nil {
			a.logger.Warn("skipping ASF feature",
				slog.String("scene", feature.Properties.SceneName),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, acq)
	}
	return out, nil
}

// Locate looks a scene up by name, returning its current download URL,
// size and checksum.
func (a *ASFArchive) Locate(ctx context.Context, sceneID string) (insar.Acquisition, error) {
	feature, err := a.client.GetGranule(ctx, sceneID)
	if err != nil {
		return insar.Acquisition{}, classifyLocate(sceneID, err, asf.ErrGranuleNotFound)
	}
	acq, err := feature.Acquisition()
	if err != nil {
		return insar.Acquisition{}, insar.E(insar.KindSearch, "locate", err)
	}
	return acq, nil
}

// CMRArchive implements Archive on NASA CMR granule search.
type CMRArchive struct {
	client *cmr.Client
	logger *slog.Logger
}

// NewCMRArchive creates an archive backed by client.
func NewCMRArchive(client *cmr.Client, logger *slog.Logger) *CMRArchive {
	return &CMRArchive{client: client, logger: logger}
}

// Search pages through the IW SLC granules of the query. Granules that cannot
// be converted are logged and skipped.
func (a *CMRArchive) Search(ctx context.Context, q Query) ([]insar.Acquisition, error) {
	b := q.AOI.Bound()
	params := cmr.SLCParams(q.Platform, [4]float64{b.Left(), b.Bottom(), b.Right(), b.Top()}, q.Start, q.End, q.RelativeOrbit)

	granules, err := a.client.SearchAll(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	out := make([]insar.Acquisition, 0, len(granules))
	for i := range granules {
		acq, err := granules[i].Acquisition()
		if err != nil {
			a.logger.Warn("skipping CMR granule",
				slog.String("granule_ur", granules[i].GranuleUR),
				slog.String("error", err.Error()),
			)
			continue
		}
		out = append(out, acq)
	}
	return out, nil
}

// Locate looks a scene up by its granule UR.
func (a *CMRArchive) Locate(ctx context.Context, sceneID string) (insar.Acquisition, error) {
	granule, err := a.client.GetGranule(ctx, sceneID)
	if err != nil {
		return insar.Acquisition{}, classifyLocate(sceneID, err, cmr.ErrGranuleNotFound)
	}
	acq, err := granule.Acquisition()
	if err != nil {
		return insar.Acquisition{}, insar.E(insar.KindSearch, "locate", err)
	}
	return acq, nil
}

func classifyLocate(sceneID string, err, notFound error) error {
	if errors.Is(err, notFound) {
		return insar.E(insar.KindSearch, "locate", fmt.Errorf("%w: scene %s is no longer in the archive", insar.ErrNotFound, sceneID))
	}
	return classify(err)
}

func classify(err error) error {
	const op = "archive search"
	var ue *url.Error
	var ne net.Error
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return insar.E(insar.KindNetwork, op, err)
	case asf.IsTemporary(err), cmr.IsTemporary(err), errors.As(err, &ue), errors.As(err, &ne):
		return insar.E(insar.KindNetwork, op, err)
	default:
		return insar.E(insar.KindSearch, op, fmt.Errorf("archive search failed: %w", err))
	}
}
