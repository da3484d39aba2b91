package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/exporthaven/forecaster/internal/artifacts"
	"github.com/exporthaven/forecaster/internal/models/holtwinters"
)

// modelSummary describes one model inside a bundle
type modelSummary struct {
	Product      string  `json:"product"`
	Kind         string  `json:"kind"`
	LastTrained  string  `json:"last_trained,omitempty"`
	Servable     bool    `json:"servable"`
	Retained     bool    `json:"training_data_retained"`
	Observations int     `json:"observations,omitempty"`
	SSE          float64 `json:"sse,omitempty"`
}

// bundleSummary describes a bundle file
type bundleSummary struct {
	Country string         `json:"country"`
	Path    string         `json:"path"`
	Digest  string         `json:"digest"`
	Models  []modelSummary `json:"models"`
}

// runInspect prints the contents of a bundle file
func runInspect(cmd *cobra.Command, args []string) error {
	path := args[0]
	asJSON, _ := cmd.Flags().GetBool("json")

	country := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "model_"), ".pkl")
	country = strings.TrimPrefix(country, "models_")

	bundle, err := artifacts.NewLoader().Load(context.Background(), country, path)
	if err != nil {
		return err
	}

	summary := bundleSummary{
		Country: bundle.Country,
		Path:    bundle.Path,
		Digest:  bundle.Digest,
	}
	for _, e := range bundle.Entries {
		ms := modelSummary{Product: e.Product, Kind: fmt.Sprintf("%T", e.Model)}
		if ts, ok := e.Model.LastTrainingTimestamp(); ok {
			ms.Servable = true
			ms.LastTrained = ts.Format(time.DateOnly)
		}
		if hw, ok := e.Model.(*holtwinters.Model); ok {
			ms.Kind = holtwinters.Kind
			ms.Retained = hw.TrainingDataRetained()
			ms.Observations = hw.Observations
			ms.SSE = hw.SSE
		}
		summary.Models = append(summary.Models, ms)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}

	fmt.Fprintf(out, "country: %s\npath:    %s\ndigest:  %s\n\n", summary.Country, summary.Path, summary.Digest)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tKIND\tLAST TRAINED\tSERVABLE\tRETAINED\tOBS")
	for _, m := range summary.Models {
		last := m.LastTrained
		if last == "" {
			last = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\t%d\n", m.Product, m.Kind, last, m.Servable, m.Retained, m.Observations)
	}
	return tw.Flush()
}
