package training

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog/log"

	"github.com/exporthaven/forecaster/internal/artifacts"
	"github.com/exporthaven/forecaster/internal/domain/forecast"
	"github.com/exporthaven/forecaster/internal/metrics"
	"github.com/exporthaven/forecaster/internal/models/holtwinters"
)

// Config controls the offline training run
type Config struct {
	MinObservations int
	TrainRatio      float64
	Fit             holtwinters.FitConfig
	Strip           holtwinters.StripPolicy
	OutputDir       string
}

// DefaultConfig mirrors the production training settings
func DefaultConfig() Config {
	return Config{
		MinObservations: 30,
		TrainRatio:      0.8,
		Fit:             holtwinters.DefaultFitConfig(),
		Strip:           holtwinters.StripValues,
		OutputDir:       "artifacts_out",
	}
}

// SeriesStatus is the outcome for one (country, product) series
type SeriesStatus string

const (
	SeriesFitted  SeriesStatus = "fitted"
	SeriesSkipped SeriesStatus = "skipped"
	SeriesFailed  SeriesStatus = "failed"
)

// SeriesReport describes what happened to one series
type SeriesReport struct {
	Country      string
	Product      string
	Observations int
	Train        int
	Test         int
	Status       SeriesStatus
	Reason       string
	Evaluation   *holtwinters.Evaluation
}

// ArtifactReport describes one written bundle
type ArtifactReport struct {
	Country  string
	Path     string
	Products int
	Bytes    int
	Digest   string
}

// Report summarises a training run
type Report struct {
	Series    []SeriesReport
	Artifacts []ArtifactReport
	Duration  time.Duration
}

// Count returns the number of series with status
func (r *Report) Count(status SeriesStatus) int {
	n := 0
	for _, s := range r.Series {
		if s.Status == status {
			n++
		}
	}
	return n
}

// Pipeline fits one model per (country, product) series and writes a bundle per country
type Pipeline struct {
	source  Source
	config  Config
	metrics *metrics.Registry
}

// NewPipeline creates a training pipeline reading from source
func NewPipeline(source Source, config Config, m *metrics.Registry) *Pipeline {
	return &Pipeline{
		source:  source,
		config:  config,
		metrics: m,
	}
}

// seriesKey identifies one series
type seriesKey struct {
	country string
	product string
}

// Run executes the pipeline end to end
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	timer := p.metrics.StartStepTimer("train_load")
	records, err := p.source.Records(ctx)
	if err != nil {
		timer.Stop("failed")
		return nil, fmt.Errorf("failed to load observations: %w", err)
	}
	timer.Stop("done")

	log.Info().Int("records", len(records)).Msg("Loaded training observations")

	keys, series := group(records)
	report := &Report{}

	var countries []string
	bundles := make(map[string]*forecast.Bundle)

	timer = p.metrics.StartStepTimer("train_fit")
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			timer.Stop("failed")
			return nil, err
		}

		sr, model := p.fitSeries(key, series[key])
		report.Series = append(report.Series, sr)
		if model == nil {
			continue
		}

		b, ok := bundles[key.country]
		if !ok {
			b = forecast.NewBundle(key.country)
			bundles[key.country] = b
			countries = append(countries, key.country)
		}
		b.Entries = append(b.Entries, forecast.Entry{Product: key.product, Model: model.Strip(p.config.Strip)})
	}
	timer.Stop("done")

	timer = p.metrics.StartStepTimer("train_write")
	for _, country := range countries {
		ar, err := p.writeBundle(bundles[country])
		if err != nil {
			timer.Stop("failed")
			return nil, err
		}
		report.Artifacts = append(report.Artifacts, ar)
	}
	timer.Stop("done")

	report.Duration = time.Since(start)

	log.Info().
		Int("series", len(report.Series)).
		Int("fitted", report.Count(SeriesFitted)).
		Int("skipped", report.Count(SeriesSkipped)).
		Int("failed", report.Count(SeriesFailed)).
		Int("artifacts", len(report.Artifacts)).
		Dur("duration", report.Duration).
		Msg("Training complete")

	return report, nil
}

func (p *Pipeline) fitSeries(key seriesKey, obs []holtwinters.Observation) (SeriesReport, *holtwinters.Model) {
	sr := SeriesReport{
		Country:      key.country,
		Product:      key.product,
		Observations: len(obs),
	}

	if len(obs) < p.config.MinObservations {
		sr.Status = SeriesSkipped
		sr.Reason = fmt.Sprintf("insufficient data: %d observations, need %d", len(obs), p.config.MinObservations)
		log.Debug().Str("country", key.country).Str("product", key.product).Msg(sr.Reason)
		return sr, nil
	}

	split := int(float64(len(obs)) * p.config.TrainRatio)
	train, test := obs[:split], obs[split:]
	sr.Train, sr.Test = len(train), len(test)

	model, err := holtwinters.Fit(train, p.config.Fit)
	if err != nil {
		if errors.Is(err, holtwinters.ErrInsufficientData) {
			sr.Status = SeriesSkipped
		} else {
			sr.Status = SeriesFailed
		}
		sr.Reason = err.Error()
		log.Warn().Err(err).Str("country", key.country).Str("product", key.product).Msg("Failed to fit series")
		return sr, nil
	}

	if len(test) > 0 {
		actual := make([]float64, len(test))
		for i, o := range test {
			actual[i] = o.Value
		}
		eval, err := holtwinters.Evaluate(model, actual)
		if err != nil {
			log.Warn().Err(err).Str("country", key.country).Str("product", key.product).Msg("Failed to evaluate series")
		} else {
			sr.Evaluation = &eval
			log.Info().
				Str("country", key.country).
				Str("product", key.product).
				Float64("mape", eval.MAPE).
				Float64("rmse", eval.RMSE).
				Msg("Series evaluated")
		}
	}

	sr.Status = SeriesFitted
	return sr, model
}

func (p *Pipeline) writeBundle(bundle *forecast.Bundle) (ArtifactReport, error) {
	data, err := artifacts.EncodeBytes(bundle)
	if err != nil {
		return ArtifactReport{}, fmt.Errorf("failed to encode bundle for %s: %w", bundle.Country, err)
	}

	path := filepath.Join(p.config.OutputDir, artifacts.RemoteName(bundle.Country))
	if err := artifacts.WriteFile(path, data); err != nil {
		return ArtifactReport{}, fmt.Errorf("failed to write bundle for %s: %w", bundle.Country, err)
	}

	ar := ArtifactReport{
		Country:  bundle.Country,
		Path:     path,
		Products: bundle.Len(),
		Bytes:    len(data),
		Digest:   digest.FromBytes(data).String(),
	}

	log.Info().
		Str("country", ar.Country).
		Str("path", ar.Path).
		Int("products", ar.Products).
		Int("bytes", ar.Bytes).
		Str("digest", ar.Digest).
		Msg("Bundle written")

	return ar, nil
}

// group splits records into series keyed by (country, product) in first-seen
// order, each sorted by date
func group(records []Record) ([]seriesKey, map[seriesKey][]holtwinters.Observation) {
	var keys []seriesKey
	series := make(map[seriesKey][]holtwinters.Observation)

	for _, r := range records {
		key := seriesKey{country: r.Country, product: r.Product}
		if _, ok := series[key]; !ok {
			keys = append(keys, key)
		}
		series[key] = append(series[key], holtwinters.Observation{Time: r.Date, Value: r.Value})
	}

	for _, obs := range series {
		sort.SliceStable(obs, func(i, j int) bool { return obs[i].Time.Before(obs[j].Time) })
	}

	return keys, series
}
