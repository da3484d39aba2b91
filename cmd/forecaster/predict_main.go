package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/exporthaven/forecaster/internal/application/serving"
)

// runPredict answers one query from the command line
func runPredict(cmd *cobra.Command, args []string) error {
	country, _ := cmd.Flags().GetString("country")
	month, _ := cmd.Flags().GetString("month")

	// A zero request timeout means no deadline, as in the HTTP middleware
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout := cfg.Server.RequestTimeout; timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	c := buildComponents(ctx, cfg)
	defer c.Close()

	resp, err := c.service.Predict(ctx, serving.Request{Month: month, Country: country})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp.Predictions); err != nil {
		return fmt.Errorf("failed to write predictions: %w", err)
	}
	return nil
}
