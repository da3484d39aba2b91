package artifacts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrTooLarge is returned when a remote artifact exceeds the size cap
var ErrTooLarge = errors.New("artifact exceeds size limit")

// Fetcher downloads a remote artifact
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetcherConfig configures the remote HTTP fetcher
type FetcherConfig struct {
	Timeout  time.Duration
	MaxBytes int64
	RPS      float64
	Burst    int

	// Breaker settings
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	BreakerInterval time.Duration
}

// DefaultFetcherConfig returns production defaults
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Timeout:         30 * time.Second,
		MaxBytes:        256 << 20,
		RPS:             5,
		Burst:           10,
		BreakerFailures: 3,
		BreakerTimeout:  60 * time.Second,
		BreakerInterval: 60 * time.Second,
	}
}

// HTTPFetcher fetches artifacts over HTTP behind a rate limiter and a circuit breaker
type HTTPFetcher struct {
	client  *http.Client
	config  FetcherConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPFetcher creates a fetcher; a nil client uses a default one
func NewHTTPFetcher(client *http.Client, config FetcherConfig) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}

	settings := gobreaker.Settings{
		Name:     "artifact-store",
		Interval: config.BreakerInterval,
		Timeout:  config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerFailures
		},
		// A missing country is a normal answer from the store, not an outage
		IsSuccessful: func(err error) bool {
			return err == nil || IsNotFound(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	}

	var limiter *rate.Limiter
	if config.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RPS), max(config.Burst, 1))
	}

	return &HTTPFetcher{
		client:  client,
		config:  config,
		limiter: limiter,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Fetch downloads url, failing on any non-200 response
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.config.Timeout)
		defer cancel()
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait failed: %w", err)
		}
	}

	body, err := f.breaker.Execute(func() (interface{}, error) {
		return f.get(ctx, url)
	})
	if err != nil {
		return nil, err
	}
	return body.([]byte), nil
}

// BreakerState returns the current circuit breaker state
func (f *HTTPFetcher) BreakerState() gobreaker.State {
	return f.breaker.State()
}

func (f *HTTPFetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	reader := io.Reader(resp.Body)
	if f.config.MaxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.config.MaxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	if f.config.MaxBytes > 0 && int64(len(data)) > f.config.MaxBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.config.MaxBytes)
	}
	return data, nil
}
