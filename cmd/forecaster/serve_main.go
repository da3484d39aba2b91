package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/exporthaven/forecaster/internal/artifacts"
	httpapi "github.com/exporthaven/forecaster/internal/interfaces/http"
)

// runServe starts the forecast HTTP server
func runServe(cmd *cobra.Command, args []string) error {
	serverCfg := cfg.Server
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		serverCfg.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		if port < 0 || port > 65535 {
			return fmt.Errorf("invalid port: %d", port)
		}
		serverCfg.Port = port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := buildComponents(ctx, cfg)
	defer c.Close()

	handlers := httpapi.NewHandlers(c.service, version, map[string]httpapi.HealthCheck{
		"remote_breaker": func() string { return c.fetcher.BreakerState().String() },
		"cached_artifacts": func() string {
			result, err := artifacts.ScanCache(cfg.Artifacts.CacheDir, false)
			if err != nil {
				return "error: " + err.Error()
			}
			return strconv.Itoa(len(result.Artifacts))
		},
	})
	server := httpapi.NewServer(serverCfg, handlers, c.metrics)

	if ttl := cfg.Forecast.BundleCacheTTL; ttl > 0 {
		go sweepBundles(ctx, c, ttl)
	}

	// Start server in goroutine
	serverErr := make(chan error, 1)
	go func() {
		addr := server.GetAddress()
		log.Info().
			Str("predict", fmt.Sprintf("http://%s/api/predict", addr)).
			Str("health", fmt.Sprintf("http://%s/health", addr)).
			Str("metrics", fmt.Sprintf("http://%s/metrics", addr)).
			Str("cache_dir", cfg.Artifacts.CacheDir).
			Msg("Forecast endpoints available")

		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
		return err
	}

	log.Info().Msg("Forecast server shutdown complete")
	return nil
}

// sweepBundles drops expired bundles so idle countries do not pin memory
func sweepBundles(ctx context.Context, c *components, ttl time.Duration) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.service.Bundles().CleanExpired(); n > 0 {
				log.Debug().Int("evicted", n).Msg("Expired model bundles evicted")
			}
		}
	}
}
