package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/exporthaven/forecaster/internal/artifacts"
)

// runCache lists the artifacts in the local cache directory
func runCache(cmd *cobra.Command, args []string) error {
	withDigest, _ := cmd.Flags().GetBool("digest")
	asJSON, _ := cmd.Flags().GetBool("json")

	result, err := artifacts.ScanCache(cfg.Artifacts.CacheDir, withDigest)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COUNTRY\tBYTES\tMODIFIED\tDIGEST")
	for _, a := range result.Artifacts {
		d := a.Digest
		if d == "" {
			d = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", a.Country, a.Size, a.ModifiedAt.Format(time.RFC3339), d)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(out, "\n%d artifacts, %d bytes in %s\n", len(result.Artifacts), result.BytesScanned, cfg.Artifacts.CacheDir)
	return nil
}
