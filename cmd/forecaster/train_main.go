package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/exporthaven/forecaster/internal/application/training"
	"github.com/exporthaven/forecaster/internal/models/holtwinters"
)

// runTrain fits models from the configured source and writes country bundles
func runTrain(cmd *cobra.Command, args []string) error {
	tc := cfg.Training
	if v, _ := cmd.Flags().GetString("source"); v != "" {
		tc.Source = v
	}
	if v, _ := cmd.Flags().GetString("csv"); v != "" {
		tc.CSVPath = v
	}
	if v, _ := cmd.Flags().GetString("out"); v != "" {
		tc.OutputDir = v
	}
	if v, _ := cmd.Flags().GetString("strip"); v != "" {
		tc.Strip = v
	}
	if err := tc.Validate(); err != nil {
		return fmt.Errorf("invalid training config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var source training.Source
	switch tc.Source {
	case "postgres":
		db, err := training.OpenPostgres(ctx, tc.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		source = training.NewPostgresSource(db, tc.Query, tc.QueryTimeout)
	default:
		source = training.NewCSVSource(tc.CSVPath)
	}

	strip, _ := holtwinters.ParseStripPolicy(tc.Strip)
	fit := holtwinters.DefaultFitConfig()
	fit.Period = tc.Period

	pipeline := training.NewPipeline(source, training.Config{
		MinObservations: tc.MinObservations,
		TrainRatio:      tc.TrainRatio,
		Fit:             fit,
		Strip:           strip,
		OutputDir:       tc.OutputDir,
	}, nil)

	log.Info().
		Str("source", tc.Source).
		Str("output_dir", tc.OutputDir).
		Str("strip", string(strip)).
		Msg("Starting training run")

	report, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COUNTRY\tPRODUCTS\tBYTES\tPATH\tDIGEST")
	for _, a := range report.Artifacts {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", a.Country, a.Products, a.Bytes, a.Path, a.Digest)
	}
	tw.Flush()

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d fitted, %d skipped, %d failed in %s\n",
		report.Count(training.SeriesFitted),
		report.Count(training.SeriesSkipped),
		report.Count(training.SeriesFailed),
		report.Duration.Round(time.Millisecond))

	if report.Count(training.SeriesFitted) == 0 {
		log.Warn().Int("series", len(report.Series)).Msg("No series could be fitted")
	}
	return nil
}
