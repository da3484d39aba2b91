package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/exporthaven/forecaster/internal/config"
)

const (
	appName = "forecaster"
	version = "v1.0.0"
)

// cfg is loaded once by the root command before any subcommand runs
var cfg *config.Config

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	setupLogger(os.Stderr, "auto", "info")

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Export forecast service",
		Version: version,
		Long: `forecaster serves the top forecast products for a country at a month horizon.

Fitted model bundles are cached locally and fetched from the remote model store on
first use. Offline commands train, fetch and inspect bundles.`,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (auto|console|json)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the forecast HTTP server",
		Long:  "Starts the HTTP server with /api/predict, /health and /metrics endpoints",
		RunE:  runServe,
	}
	serveCmd.Flags().String("host", "", "Listen host (overrides config)")
	serveCmd.Flags().Int("port", 0, "Listen port (overrides config)")

	predictCmd := &cobra.Command{
		Use:   "predict",
		Short: "Print the top products for a country and month",
		Long:  "Runs one prediction through the same pipeline the server uses and prints the ranking as JSON",
		RunE:  runPredict,
	}
	predictCmd.Flags().String("country", "", "Country name (required)")
	predictCmd.Flags().String("month", "", "Month name or abbreviation (required)")
	predictCmd.MarkFlagRequired("country")
	predictCmd.MarkFlagRequired("month")

	fetchCmd := &cobra.Command{
		Use:   "fetch [country...]",
		Short: "Warm the local artifact cache",
		Long:  "Resolves the artifact for each country, downloading any that are not cached yet",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runFetch,
	}

	trainCmd := &cobra.Command{
		Use:   "train",
		Short: "Fit models and write one bundle per country",
		Long:  "Reads observations from CSV or Postgres, fits one model per (country, product) and writes models_{country}.pkl bundles",
		RunE:  runTrain,
	}
	trainCmd.Flags().String("source", "", "Observation source (csv|postgres)")
	trainCmd.Flags().String("csv", "", "CSV observations path")
	trainCmd.Flags().String("out", "", "Output directory")
	trainCmd.Flags().String("strip", "", "Strip policy (retain|values|all)")

	inspectCmd := &cobra.Command{
		Use:   "inspect <path>",
		Short: "Describe the models in a bundle",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	inspectCmd.Flags().Bool("json", false, "Print the description as JSON")

	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "List artifacts in the local cache",
		RunE:  runCache,
	}
	cacheCmd.Flags().Bool("digest", false, "Compute content digests")
	cacheCmd.Flags().Bool("json", false, "Print the listing as JSON")

	rootCmd.AddCommand(serveCmd, predictCmd, fetchCmd, trainCmd, inspectCmd, cacheCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies logging flags
func loadConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")

	loaded, err := config.Load(path)
	if err != nil {
		return err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		loaded.Log.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		loaded.Log.Format = format
	}

	if err := setupLogger(os.Stderr, loaded.Log.Format, loaded.Log.Level); err != nil {
		return err
	}

	cfg = loaded
	log.Debug().Str("config", path).Msg("Configuration loaded")
	return nil
}

// setupLogger installs the global logger. Console output is used for
// terminals and JSON otherwise unless format forces one.
func setupLogger(out *os.File, format, level string) error {
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)

	var w io.Writer = out
	switch format {
	case "console":
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
	case "json":
	default:
		if term.IsTerminal(int(out.Fd())) {
			w = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}
		}
	}

	log.Logger = zerolog.New(w).With().Timestamp().Str("app", appName).Logger()
	return nil
}
