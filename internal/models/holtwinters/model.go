// Package holtwinters implements additive triple exponential smoothing for
// monthly series with yearly seasonality.
package holtwinters

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Kind identifies this model type inside artifacts
const Kind = "holt_winters"

// DefaultPeriod is the seasonal cycle length for monthly data
const DefaultPeriod = 12

var (
	// ErrInsufficientData is returned when a series is shorter than two seasons
	ErrInsufficientData = errors.New("insufficient data")
	// ErrIncompatibleState is returned when the fitted state is internally inconsistent
	ErrIncompatibleState = errors.New("incompatible model state")
	// ErrNumerical is returned when the state contains NaN or infinite values
	ErrNumerical = errors.New("numerical failure")
)

// Params are the smoothing coefficients, each in (0,1)
type Params struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
	Gamma float64 `json:"gamma"`
}

// Observation is a single point of a time series
type Observation struct {
	Time  time.Time
	Value float64
}

// Model is a fitted additive Holt-Winters model.
// Forecast only reads the fitted state, so a Model is safe for concurrent use.
type Model struct {
	Period       int         `json:"period"`
	Params       Params      `json:"params"`
	Level        float64     `json:"level"`
	Trend        float64     `json:"trend"`
	Seasonal     []float64   `json:"seasonal"`
	Observations int         `json:"observations"`
	SSE          float64     `json:"sse"`
	Index        []time.Time `json:"index,omitempty"`
	Values       []float64   `json:"values,omitempty"`
}

// LastTrainingTimestamp returns the last fitted observation time, if the index was kept
func (m *Model) LastTrainingTimestamp() (time.Time, bool) {
	if len(m.Index) == 0 {
		return time.Time{}, false
	}
	return m.Index[len(m.Index)-1], true
}

// TrainingDataRetained reports whether the training series is still embedded
func (m *Model) TrainingDataRetained() bool {
	return len(m.Values) > 0
}

// Forecast returns predictions for the next steps after the last observation
func (m *Model) Forecast(steps int) ([]float64, error) {
	if steps < 1 {
		return nil, fmt.Errorf("steps must be positive, got %d", steps)
	}
	if err := m.check(); err != nil {
		return nil, err
	}

	out := make([]float64, steps)
	last := m.Observations - 1
	for h := 1; h <= steps; h++ {
		season := m.Seasonal[(last+h)%m.Period]
		out[h-1] = m.Level + float64(h)*m.Trend + season
	}
	return out, nil
}

// check validates the fitted state before forecasting
func (m *Model) check() error {
	if m.Period < 2 {
		return fmt.Errorf("%w: period %d", ErrIncompatibleState, m.Period)
	}
	if len(m.Seasonal) != m.Period {
		return fmt.Errorf("%w: %d seasonal terms for period %d", ErrIncompatibleState, len(m.Seasonal), m.Period)
	}
	if m.Observations < 2*m.Period {
		return fmt.Errorf("%w: fitted on %d observations", ErrIncompatibleState, m.Observations)
	}
	if !finite(m.Level) || !finite(m.Trend) {
		return fmt.Errorf("%w: level=%v trend=%v", ErrNumerical, m.Level, m.Trend)
	}
	for i, s := range m.Seasonal {
		if !finite(s) {
			return fmt.Errorf("%w: seasonal[%d]=%v", ErrNumerical, i, s)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
