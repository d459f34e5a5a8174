package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"

	"github.com/fpang/storybook-faceswap/internal/provider"
)

// Bridge makes image URLs reachable by external providers. Public http(s)
// URLs pass through. Relative URLs are resolved against the public base URL
// first. URLs pointing at loopback, private or link-local hosts, and data:
// URLs, are uploaded to storage and replaced by a presigned URL. Uploads are
// cached by source URL for half the presign lifetime.
type Bridge struct {
	fetcher   *Fetcher
	persister provider.Persister
	baseURL   *url.URL
	cache     *gocache.Cache
}

var _ provider.URLBridge = (*Bridge)(nil)

// NewBridge creates a Bridge. urlLifetime is how long persisted URLs stay
// valid; baseURL may be empty.
func NewBridge(fetcher *Fetcher, persister provider.Persister, baseURL string, urlLifetime time.Duration) (*Bridge, error) {
	var base *url.URL
	if baseURL != "" {
		u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse public base URL: %w", err)
		}
		base = u
	}
	if urlLifetime <= 0 {
		urlLifetime = DefaultPresignExpiry
	}
	ttl := urlLifetime / 2
	return &Bridge{
		fetcher:   fetcher,
		persister: persister,
		baseURL:   base,
		cache:     gocache.New(ttl, ttl),
	}, nil
}

// Bridge returns a URL providers can fetch.
func (b *Bridge) Bridge(ctx context.Context, rawURL string) (string, error) {
	if rawURL == "" {
		return "", fmt.Errorf("bridge: empty URL")
	}
	resolved := rawURL
	if !strings.HasPrefix(rawURL, "data:") {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", fmt.Errorf("bridge: parse %q: %w", redact(rawURL), err)
		}
		if !u.IsAbs() {
			if b.baseURL == nil {
				return "", fmt.Errorf("bridge: relative URL %q without a public base URL", redact(rawURL))
			}
			u = b.baseURL.ResolveReference(u)
			resolved = u.String()
		}
		if IsPublicURL(u) {
			return resolved, nil
		}
	}

	if cached, ok := b.cache.Get(resolved); ok {
		return cached.(string), nil
	}

	data, ct, err := b.fetcher.Fetch(ctx, resolved)
	if err != nil {
		return "", fmt.Errorf("bridge: %w", err)
	}
	sum := sha256.Sum256(data)
	key := "bridge/" + hex.EncodeToString(sum[:12]) + extensionFor(ct)
	out, err := b.persister.Persist(ctx, data, key, ct)
	if err != nil {
		return "", fmt.Errorf("bridge: %w", err)
	}
	b.cache.SetDefault(resolved, out)
	log.Debug().Str("source", redact(resolved)).Str("key", key).Msg("Bridged local image URL")
	return out, nil
}

// IsPublicURL reports whether an absolute URL is plausibly reachable from
// the internet. Hostnames are not resolved.
func IsPublicURL(u *url.URL) bool {
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" || host == "localhost" || strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified())
	}
	return true
}
