package forecast

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrShortForecast is returned when a model yields fewer steps than requested
	ErrShortForecast = errors.New("forecast shorter than horizon")
	// ErrNonFinite is returned when the final-step prediction is NaN or infinite
	ErrNonFinite = errors.New("non-finite prediction")
)

// OutcomeStatus describes what happened to one product during forecasting
type OutcomeStatus string

const (
	OutcomeOK      OutcomeStatus = "ok"
	OutcomeSkipped OutcomeStatus = "skipped"
	OutcomeFailed  OutcomeStatus = "failed"
)

// Outcome is the per-product result of a forecast run
type Outcome struct {
	Product string
	Status  OutcomeStatus
	Value   float64
	Err     error
}

// Result holds the successful predictions and every per-product outcome
type Result struct {
	Predictions []Prediction
	Outcomes    []Outcome
}

// Count returns how many outcomes have the given status
func (r Result) Count(status OutcomeStatus) int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Observer receives per-product outcomes, typically for metrics
type Observer interface {
	ObserveOutcome(status OutcomeStatus)
}

// Engine runs every model in a bundle at a fixed horizon
type Engine struct {
	workers  int
	observer Observer
}

// NewEngine creates an engine with a bounded worker pool
func NewEngine(workers int, observer Observer) *Engine {
	if workers <= 0 {
		workers = 1
	}
	return &Engine{workers: workers, observer: observer}
}

// ForecastAll produces the final-step prediction for each product in the
// bundle. Products without a training timestamp are skipped and products
// whose model fails are recorded as failed; neither affects the others.
func (e *Engine) ForecastAll(ctx context.Context, bundle *Bundle, horizon Horizon) (Result, error) {
	if !horizon.Valid() {
		return Result{}, fmt.Errorf("%w: horizon %d outside [%d,%d]", ErrInvalidInput, horizon, MinHorizon, MaxHorizon)
	}
	if bundle.Len() == 0 {
		return Result{}, nil
	}

	outcomes := make([]Outcome, len(bundle.Entries))
	sem := make(chan struct{}, e.workers)
	var wg sync.WaitGroup

	for i, entry := range bundle.Entries {
		select {
		case <-ctx.Done():
			outcomes[i] = Outcome{Product: entry.Product, Status: OutcomeFailed, Err: ctx.Err()}
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, entry Entry) {
			defer wg.Done()
			defer func() { <-sem }()
			outcomes[i] = forecastOne(entry, horizon)
		}(i, entry)
	}
	wg.Wait()

	result := Result{Outcomes: outcomes}
	for _, o := range outcomes {
		switch o.Status {
		case OutcomeOK:
			result.Predictions = append(result.Predictions, Prediction{Product: o.Product, Value: o.Value})
		case OutcomeSkipped:
			log.Debug().
				Str("country", bundle.Country).
				Str("product", o.Product).
				Msg("Skipping product without training timestamp")
		case OutcomeFailed:
			log.Warn().
				Err(o.Err).
				Str("country", bundle.Country).
				Str("product", o.Product).
				Int("horizon", int(horizon)).
				Msg("Forecast failed")
		}
		if e.observer != nil {
			e.observer.ObserveOutcome(o.Status)
		}
	}

	return result, nil
}

// forecastOne runs a single model and converts errors and panics into an outcome
func forecastOne(entry Entry, horizon Horizon) (out Outcome) {
	out.Product = entry.Product

	defer func() {
		if r := recover(); r != nil {
			out.Status = OutcomeFailed
			out.Err = fmt.Errorf("model panicked: %v", r)
		}
	}()

	if entry.Model == nil {
		out.Status = OutcomeFailed
		out.Err = errors.New("nil model")
		return out
	}

	if _, ok := entry.Model.LastTrainingTimestamp(); !ok {
		out.Status = OutcomeSkipped
		return out
	}

	steps := horizon.Steps()
	values, err := entry.Model.Forecast(steps)
	if err != nil {
		out.Status = OutcomeFailed
		out.Err = err
		return out
	}
	if len(values) < steps {
		out.Status = OutcomeFailed
		out.Err = fmt.Errorf("%w: got %d of %d steps", ErrShortForecast, len(values), steps)
		return out
	}

	v := values[steps-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		out.Status = OutcomeFailed
		out.Err = fmt.Errorf("%w at step %d", ErrNonFinite, steps)
		return out
	}

	out.Status = OutcomeOK
	out.Value = v
	return out
}
