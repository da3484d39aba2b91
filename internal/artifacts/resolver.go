package artifacts

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/exporthaven/forecaster/internal/metrics"
)

// Resolver maps a country to a local artifact path, downloading on first use
type Resolver struct {
	cacheDir string
	baseURL  string
	fetcher  Fetcher
	blobs    BlobCache
	metrics  *metrics.Registry
}

// ResolverOption customises a Resolver
type ResolverOption func(*Resolver)

// WithBlobCache adds a shared blob tier consulted before the remote store
func WithBlobCache(c BlobCache) ResolverOption {
	return func(r *Resolver) { r.blobs = c }
}

// WithMetrics records cache and fetch metrics
func WithMetrics(m *metrics.Registry) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver creates a resolver caching under cacheDir and fetching from baseURL
func NewResolver(cacheDir, baseURL string, fetcher Fetcher, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		cacheDir: cacheDir,
		baseURL:  baseURL,
		fetcher:  fetcher,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the local artifact path for country. An existing file is
// returned as-is with no freshness check.
func (r *Resolver) Resolve(ctx context.Context, country string) (string, error) {
	path := LocalPath(r.cacheDir, country)

	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		r.metrics.RecordCacheHit(metrics.TierDisk)
		log.Debug().Str("country", country).Str("path", path).Msg("Artifact already cached")
		return path, nil
	}
	r.metrics.RecordCacheMiss(metrics.TierDisk)

	if data, ok := r.fromBlobCache(ctx, country); ok {
		if err := writeFileAtomic(path, data); err != nil {
			return "", fmt.Errorf("failed to cache artifact for %s: %w", country, err)
		}
		return path, nil
	}

	url := RemoteURL(r.baseURL, country)
	log.Info().Str("country", country).Str("url", url).Msg("Downloading artifact")

	data, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		if IsNotFound(err) {
			r.metrics.RecordFetch(metrics.FetchNotFound)
		} else {
			r.metrics.RecordFetch(metrics.FetchError)
		}
		return "", &UnavailableError{Country: country, Location: url, Err: err}
	}
	r.metrics.RecordFetch(metrics.FetchOK)

	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to cache artifact for %s: %w", country, err)
	}

	if r.blobs != nil {
		if err := r.blobs.Set(ctx, RemoteName(country), data); err != nil {
			log.Warn().Err(err).Str("country", country).Msg("Failed to populate blob cache")
		}
	}

	log.Info().
		Str("country", country).
		Str("path", path).
		Int("bytes", len(data)).
		Msg("Artifact downloaded")

	return path, nil
}

func (r *Resolver) fromBlobCache(ctx context.Context, country string) ([]byte, bool) {
	if r.blobs == nil {
		return nil, false
	}

	data, ok, err := r.blobs.Get(ctx, RemoteName(country))
	if err != nil {
		log.Warn().Err(err).Str("country", country).Msg("Blob cache lookup failed, falling back to remote store")
		r.metrics.RecordCacheMiss(metrics.TierRedis)
		return nil, false
	}
	if !ok {
		r.metrics.RecordCacheMiss(metrics.TierRedis)
		return nil, false
	}

	r.metrics.RecordCacheHit(metrics.TierRedis)
	return data, true
}
