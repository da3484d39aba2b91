package holtwinters

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// StripPolicy controls how much training data is kept in a fitted model
type StripPolicy string

const (
	// StripNone keeps the index and the training values
	StripNone StripPolicy = "retain"
	// StripValues drops the training values but keeps the index
	StripValues StripPolicy = "values"
	// StripAll drops both; the model then has no last training timestamp
	StripAll StripPolicy = "all"
)

// ParseStripPolicy validates a policy name
func ParseStripPolicy(s string) (StripPolicy, error) {
	switch p := StripPolicy(s); p {
	case StripNone, StripValues, StripAll:
		return p, nil
	default:
		return "", fmt.Errorf("unknown strip policy %q (want retain, values or all)", s)
	}
}

// FitConfig configures model fitting
type FitConfig struct {
	Period int
	// Grid is the set of candidate values tried for alpha, beta and gamma
	Grid []float64
}

// DefaultFitConfig returns a monthly configuration with a 0.1 step grid
func DefaultFitConfig() FitConfig {
	return FitConfig{
		Period: DefaultPeriod,
		Grid:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9},
	}
}

// Fit estimates a model from a time-ordered series by grid search over the
// smoothing parameters, minimising the one-step-ahead squared error.
func Fit(series []Observation, cfg FitConfig) (*Model, error) {
	if cfg.Period < 2 {
		return nil, fmt.Errorf("period must be at least 2, got %d", cfg.Period)
	}
	if len(series) < 2*cfg.Period {
		return nil, fmt.Errorf("%w: %d observations, need %d", ErrInsufficientData, len(series), 2*cfg.Period)
	}
	if len(cfg.Grid) == 0 {
		cfg.Grid = DefaultFitConfig().Grid
	}

	ordered := make([]Observation, len(series))
	copy(ordered, series)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Time.Before(ordered[j].Time) })

	values := make([]float64, len(ordered))
	index := make([]time.Time, len(ordered))
	for i, o := range ordered {
		if !finite(o.Value) {
			return nil, fmt.Errorf("%w: observation %d is %v", ErrNumerical, i, o.Value)
		}
		values[i] = o.Value
		index[i] = o.Time
	}

	var best *Model
	for _, a := range cfg.Grid {
		for _, b := range cfg.Grid {
			for _, g := range cfg.Grid {
				m := smooth(values, cfg.Period, Params{Alpha: a, Beta: b, Gamma: g})
				if !finite(m.SSE) {
					continue
				}
				if best == nil || m.SSE < best.SSE {
					best = m
				}
			}
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no parameter combination converged", ErrNumerical)
	}

	best.Index = index
	best.Values = values
	return best, nil
}

// smooth runs the additive recursions over values with fixed parameters
func smooth(values []float64, period int, p Params) *Model {
	first := mean(values[:period])
	second := mean(values[period : 2*period])

	level := first
	trend := (second - first) / float64(period)
	seasonal := make([]float64, period)
	for i := 0; i < period; i++ {
		seasonal[i] = values[i] - first
	}

	sse := 0.0
	for t := period; t < len(values); t++ {
		s := seasonal[t%period]
		predicted := level + trend + s
		diff := values[t] - predicted
		sse += diff * diff

		prevLevel := level
		level = p.Alpha*(values[t]-s) + (1-p.Alpha)*(level+trend)
		trend = p.Beta*(level-prevLevel) + (1-p.Beta)*trend
		seasonal[t%period] = p.Gamma*(values[t]-level) + (1-p.Gamma)*s
	}

	return &Model{
		Period:       period,
		Params:       p,
		Level:        level,
		Trend:        trend,
		Seasonal:     seasonal,
		Observations: len(values),
		SSE:          sse,
	}
}

// Strip removes training data according to policy and returns the model
func (m *Model) Strip(policy StripPolicy) *Model {
	switch policy {
	case StripValues:
		m.Values = nil
	case StripAll:
		m.Values = nil
		m.Index = nil
	}
	return m
}

// Evaluation holds out-of-sample accuracy for a fitted model
type Evaluation struct {
	MAPE float64 `json:"mape"`
	RMSE float64 `json:"rmse"`
	N    int     `json:"n"`
}

// Evaluate forecasts len(actual) steps and compares against actual values.
// MAPE ignores zero actuals; it is NaN when every actual is zero.
func Evaluate(m *Model, actual []float64) (Evaluation, error) {
	if len(actual) == 0 {
		return Evaluation{}, fmt.Errorf("no test observations")
	}
	predicted, err := m.Forecast(len(actual))
	if err != nil {
		return Evaluation{}, err
	}

	var sq, pct float64
	pctN := 0
	for i, a := range actual {
		d := a - predicted[i]
		sq += d * d
		if a != 0 {
			pct += math.Abs(d / a)
			pctN++
		}
	}

	eval := Evaluation{
		RMSE: math.Sqrt(sq / float64(len(actual))),
		MAPE: math.NaN(),
		N:    len(actual),
	}
	if pctN > 0 {
		eval.MAPE = math.Round(pct/float64(pctN)*100*100) / 100
	}
	eval.RMSE = math.Round(eval.RMSE*100) / 100
	return eval, nil
}

func mean(xs []float64) float64 {
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
