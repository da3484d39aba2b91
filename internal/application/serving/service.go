package serving

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/exporthaven/forecaster/internal/domain/forecast"
	"github.com/exporthaven/forecaster/internal/metrics"
)

// Resolver maps a country to a local artifact path
type Resolver interface {
	Resolve(ctx context.Context, country string) (string, error)
}

// Loader decodes the artifact at path into a bundle
type Loader interface {
	Load(ctx context.Context, country, path string) (*forecast.Bundle, error)
}

// State is a step of the prediction pipeline
type State string

const (
	StateValidating  State = "validating"
	StateResolving   State = "resolving"
	StateLoading     State = "loading"
	StateForecasting State = "forecasting"
	StateRanking     State = "ranking"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Request is a prediction query
type Request struct {
	Month   string `json:"month"`
	Country string `json:"country"`
}

// Response carries the ranked predictions for a request
type Response struct {
	Country     string           `json:"country"`
	Month       string           `json:"month"`
	Horizon     forecast.Horizon `json:"horizon"`
	Predictions forecast.Ranking `json:"predictions"`
}

// Config holds service settings
type Config struct {
	TopK           int
	Workers        int
	BundleCacheTTL time.Duration
}

// Service answers "top products for country at month" queries
type Service struct {
	resolver Resolver
	bundles  *BundleCache
	engine   *forecast.Engine
	topK     int
	metrics  *metrics.Registry
}

// NewService wires resolver, loader and engine together
func NewService(resolver Resolver, loader Loader, cfg Config, m *metrics.Registry) *Service {
	topK := cfg.TopK
	if topK <= 0 {
		topK = forecast.DefaultTopK
	}

	var observer forecast.Observer
	if m != nil {
		observer = m
	}

	return &Service{
		resolver: resolver,
		bundles:  NewBundleCache(loader, cfg.BundleCacheTTL, m),
		engine:   forecast.NewEngine(cfg.Workers, observer),
		topK:     topK,
		metrics:  m,
	}
}

// Bundles exposes the warm bundle cache
func (s *Service) Bundles() *BundleCache {
	return s.bundles
}

// Predict runs validation, resolution, loading, forecasting and ranking.
// Any step failure ends the request; nothing is retried.
func (s *Service) Predict(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	resp, state, err := s.predict(ctx, req)
	if err != nil {
		log.Warn().
			Err(err).
			Str("country", req.Country).
			Str("month", req.Month).
			Str("failed_state", string(state)).
			Str("kind", string(forecast.KindOf(err))).
			Dur("duration", time.Since(start)).
			Msg("Prediction failed")
		return nil, err
	}

	log.Info().
		Str("country", resp.Country).
		Str("month", resp.Month).
		Int("horizon", int(resp.Horizon)).
		Int("predictions", len(resp.Predictions)).
		Dur("duration", time.Since(start)).
		Msg("Prediction served")

	return resp, nil
}

func (s *Service) predict(ctx context.Context, req Request) (*Response, State, error) {
	// Validating
	timer := s.metrics.StartStepTimer(string(StateValidating))
	horizon, country, err := validate(req)
	if err != nil {
		timer.Stop(string(StateFailed))
		return nil, StateValidating, err
	}
	timer.Stop(string(StateDone))

	// Resolving
	timer = s.metrics.StartStepTimer(string(StateResolving))
	path, err := s.resolver.Resolve(ctx, country)
	if err != nil {
		timer.Stop(string(StateFailed))
		return nil, StateResolving, err
	}
	timer.Stop(string(StateDone))

	// Loading
	timer = s.metrics.StartStepTimer(string(StateLoading))
	bundle, err := s.bundles.Load(ctx, country, path)
	if err != nil {
		timer.Stop(string(StateFailed))
		return nil, StateLoading, err
	}
	timer.Stop(string(StateDone))

	// Forecasting
	timer = s.metrics.StartStepTimer(string(StateForecasting))
	result, err := s.engine.ForecastAll(ctx, bundle, horizon)
	if err != nil {
		timer.Stop(string(StateFailed))
		return nil, StateForecasting, err
	}
	if len(result.Predictions) == 0 {
		timer.Stop(string(StateFailed))
		return nil, StateForecasting, fmt.Errorf("%w: country=%s month=%s (%d products, %d skipped, %d failed)",
			forecast.ErrNoUsablePredictions, country, req.Month,
			len(result.Outcomes), result.Count(forecast.OutcomeSkipped), result.Count(forecast.OutcomeFailed))
	}
	timer.Stop(string(StateDone))

	// Ranking
	timer = s.metrics.StartStepTimer(string(StateRanking))
	ranked := forecast.TopK(result.Predictions, s.topK)
	timer.Stop(string(StateDone))

	return &Response{
		Country:     country,
		Month:       req.Month,
		Horizon:     horizon,
		Predictions: ranked,
	}, StateDone, nil
}

func validate(req Request) (forecast.Horizon, string, error) {
	horizon, err := forecast.ParseMonth(req.Month)
	if err != nil {
		return 0, "", err
	}
	country, err := forecast.NormalizeCountry(req.Country)
	if err != nil {
		return 0, "", err
	}
	return horizon, country, nil
}
