package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load the knowledge base and report what was indexed",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.Close()

		stats, err := a.Ingest(cmd.Context())
		if err != nil {
			return err
		}
		source := cfg.Knowledge.Dir
		if source == "" {
			source = "built-in knowledge base"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d documents, %d chunks in %s\n",
			source, stats.Documents, stats.Chunks, stats.Duration.Round(time.Millisecond))
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, true)
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Retrieval.Retrieve(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if result.Empty() {
			fmt.Fprintln(out, "No relevant passages.")
			return nil
		}
		for i, p := range result.Passages {
			fmt.Fprintf(out, "[%d] %s (%.2f)\n%s\n\n", i+1, p.Citation, p.Score, p.Text)
		}
		return nil
	},
}
