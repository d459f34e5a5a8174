package storage

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/fpang/storybook-faceswap/internal/provider"
)

// Rehoster copies provider output into durable storage.
type Rehoster struct {
	fetcher   *Fetcher
	persister provider.Persister
}

// NewRehoster creates a Rehoster.
func NewRehoster(fetcher *Fetcher, persister provider.Persister) *Rehoster {
	return &Rehoster{fetcher: fetcher, persister: persister}
}

// Rehost downloads sourceURL and stores it under key plus an extension
// derived from its content type. Any failure is logged and sourceURL is
// returned unchanged.
func (r *Rehoster) Rehost(ctx context.Context, sourceURL, key string) string {
	data, ct, err := r.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Rehost download failed, keeping provider URL")
		return sourceURL
	}
	url, err := r.persister.Persist(ctx, data, key+extensionFor(ct), ct)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Rehost upload failed, keeping provider URL")
		return sourceURL
	}
	return url
}
