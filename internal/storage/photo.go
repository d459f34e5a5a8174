package storage

import (
	"context"
	"fmt"
	"path"

	"github.com/rs/zerolog/log"

	"github.com/fpang/storybook-faceswap/internal/imaging"
	"github.com/fpang/storybook-faceswap/internal/provider"
)

// PhotoPreparer normalizes the child's photo and stores the result.
type PhotoPreparer struct {
	fetcher   *Fetcher
	persister provider.Persister
	maxEdge   int
}

// NewPhotoPreparer creates a PhotoPreparer. maxEdge <= 0 uses imaging.DefaultMaxEdge.
func NewPhotoPreparer(fetcher *Fetcher, persister provider.Persister, maxEdge int) *PhotoPreparer {
	return &PhotoPreparer{fetcher: fetcher, persister: persister, maxEdge: maxEdge}
}

// PrepareSourcePhoto downloads the photo, rotates it upright, bounds its
// size and stores it as runs/{runID}/source.jpg.
func (p *PhotoPreparer) PrepareSourcePhoto(ctx context.Context, photoURL, runID string) (string, error) {
	data, _, err := p.fetcher.Fetch(ctx, photoURL)
	if err != nil {
		return "", fmt.Errorf("download source photo: %w", err)
	}
	normalized, info, err := imaging.Normalize(data, p.maxEdge)
	if err != nil {
		return "", fmt.Errorf("normalize source photo: %w", err)
	}
	if runID == "" {
		runID = "adhoc"
	}
	key := path.Join("runs", runID, "source.jpg")
	url, err := p.persister.Persist(ctx, normalized, key, "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("store source photo: %w", err)
	}
	log.Info().
		Str("runId", runID).
		Int("width", info.Width).
		Int("height", info.Height).
		Int("bytes", len(normalized)).
		Msg("Source photo prepared")
	return url, nil
}
