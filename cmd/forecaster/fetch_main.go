package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/exporthaven/forecaster/internal/domain/forecast"
)

// runFetch resolves each country so the artifact lands in the local cache
func runFetch(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	c := buildComponents(ctx, cfg)
	defer c.Close()

	failed := 0
	for _, arg := range args {
		country, err := forecast.NormalizeCountry(arg)
		if err != nil {
			log.Error().Err(err).Msg("Skipping country")
			failed++
			continue
		}

		path, err := c.resolver.Resolve(ctx, country)
		if err != nil {
			log.Error().Err(err).Str("country", country).Msg("Fetch failed")
			failed++
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", country, path)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d countries failed", failed, len(args))
	}
	return nil
}
