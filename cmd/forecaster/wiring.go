package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/exporthaven/forecaster/internal/application/serving"
	"github.com/exporthaven/forecaster/internal/artifacts"
	"github.com/exporthaven/forecaster/internal/config"
	"github.com/exporthaven/forecaster/internal/metrics"
)

// components are the long-lived objects shared by the serving commands
type components struct {
	metrics  *metrics.Registry
	fetcher  *artifacts.HTTPFetcher
	resolver *artifacts.Resolver
	service  *serving.Service
	redis    *redis.Client
}

func (c *components) Close() {
	if c.redis != nil {
		if err := c.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close redis client")
		}
	}
}

// buildComponents wires metrics, fetcher, resolver and service from config
func buildComponents(ctx context.Context, cfg *config.Config) *components {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	fetcher := artifacts.NewHTTPFetcher(&http.Client{}, cfg.Artifacts.FetcherConfig())

	opts := []artifacts.ResolverOption{artifacts.WithMetrics(m)}

	c := &components{metrics: m, fetcher: fetcher}

	if rc := cfg.Artifacts.Redis; rc.Enabled {
		client := redis.NewClient(&redis.Options{Addr: rc.Addr, DB: rc.DB})

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()

		if err != nil {
			log.Warn().Err(err).Str("addr", rc.Addr).Msg("Redis unavailable, continuing without shared artifact cache")
			client.Close()
		} else {
			log.Info().Str("addr", rc.Addr).Msg("Shared artifact cache enabled")
			c.redis = client
			opts = append(opts, artifacts.WithBlobCache(artifacts.NewRedisBlobCache(client, rc.Prefix, rc.TTL)))
		}
	}

	c.resolver = artifacts.NewResolver(cfg.Artifacts.CacheDir, cfg.Artifacts.BaseURL, fetcher, opts...)
	c.service = serving.NewService(c.resolver, artifacts.NewLoader(), serving.Config{
		TopK:           cfg.Forecast.TopK,
		Workers:        cfg.Forecast.Workers,
		BundleCacheTTL: cfg.Forecast.BundleCacheTTL,
	}, m)

	return c
}
