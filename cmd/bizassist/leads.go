package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/run-bigpig/bizassist/internal/app"
	"github.com/run-bigpig/bizassist/internal/crm"
	"github.com/run-bigpig/bizassist/internal/models"
)

var (
	leadsStatus   string
	leadsMinScore int
	leadsLimit    int
	leadsJSON     bool
	leadsOut      string
)

var leadsCmd = &cobra.Command{
	Use:   "leads",
	Short: "Inspect captured leads",
}

var leadsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List leads, highest score first",
	RunE:  runLeadsList,
}

var leadsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show lead counts by status",
	RunE:  runLeadsStats,
}

var leadsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export leads to an Excel workbook",
	RunE:  runLeadsExport,
}

func init() {
	leadsListCmd.Flags().StringVar(&leadsStatus, "status", "", "filter by status (Cold, Nurture, Qualified, Hot)")
	leadsListCmd.Flags().IntVar(&leadsMinScore, "min-score", 0, "minimum lead score")
	leadsListCmd.Flags().IntVar(&leadsLimit, "limit", 50, "maximum number of leads")
	leadsListCmd.Flags().BoolVar(&leadsJSON, "json", false, "print JSON")
	leadsStatsCmd.Flags().BoolVar(&leadsJSON, "json", false, "print JSON")
	leadsExportCmd.Flags().StringVarP(&leadsOut, "out", "o", "leads.xlsx", "output file")

	leadsCmd.AddCommand(leadsListCmd)
	leadsCmd.AddCommand(leadsStatsCmd)
	leadsCmd.AddCommand(leadsExportCmd)
}

func runLeadsList(cmd *cobra.Command, _ []string) error {
	store, err := app.OpenLeadStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	leads, err := store.List(cmd.Context(), crm.ListOptions{
		Status:   models.LeadStatus(leadsStatus),
		MinScore: leadsMinScore,
		Limit:    leadsLimit,
	})
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if leadsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(leads)
	}
	if len(leads) == 0 {
		fmt.Fprintln(out, "No leads.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EMAIL\tNAME\tCOMPANY\tSCORE\tSTATUS\tMEETING")
	for _, l := range leads {
		meeting := "-"
		if l.MeetingTime != nil {
			meeting = l.MeetingTime.Format("2006-01-02 15:04 MST")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n", l.Email, l.Name, l.Company, l.Score, l.Status, meeting)
	}
	return w.Flush()
}

func runLeadsStats(cmd *cobra.Command, _ []string) error {
	store, err := app.OpenLeadStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := crm.Stats(cmd.Context(), store)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if leadsJSON {
		return json.NewEncoder(out).Encode(stats)
	}
	fmt.Fprintf(out, "Total: %d (average score %.1f)\n", stats.Total, stats.AverageScore)
	for _, status := range models.AllLeadStatuses {
		fmt.Fprintf(out, "  %-10s %d\n", status, stats.ByStatus[status])
	}
	return nil
}

func runLeadsExport(cmd *cobra.Command, _ []string) error {
	store, err := app.OpenLeadStore(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	f, err := os.Create(leadsOut)
	if err != nil {
		return err
	}
	n, err := crm.ExportXLSX(cmd.Context(), store, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Exported %d leads to %s\n", n, leadsOut)
	return nil
}
