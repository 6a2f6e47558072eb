package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/amishk599/leadflow/internal/browse"
	"github.com/amishk599/leadflow/internal/export"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Qualification results",
}

var resultsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a qualification's results to an XLSX workbook",
	RunE:  runResultsExport,
}

var (
	resultsOrg           int64
	resultsQualification int64
	resultsOut           string
)

func init() {
	rootCmd.AddCommand(resultsCmd)
	resultsCmd.AddCommand(resultsExportCmd)
	resultsExportCmd.Flags().Int64Var(&resultsOrg, "org", 0, "organization id")
	resultsExportCmd.Flags().Int64Var(&resultsQualification, "qualification", 0, "qualification id")
	resultsExportCmd.Flags().StringVarP(&resultsOut, "out", "o", "", "output file (default: qualification-<id>.xlsx)")
	_ = resultsExportCmd.MarkFlagRequired("org")
	_ = resultsExportCmd.MarkFlagRequired("qualification")
}

func runResultsExport(cmd *cobra.Command, args []string) error {
	a := mustOpenApp(true)
	defer a.Close()

	out := resultsOut
	if out == "" {
		out = fmt.Sprintf("qualification-%d.xlsx", resultsQualification)
	}

	svc := export.NewService(a.store, a.logger)
	err := browse.RunWithSpinner("Exporting results", func(ctx context.Context) error {
		data, err := svc.ExportResultsXLSX(ctx, resultsOrg, resultsQualification)
		if err != nil {
			return err
		}
		return os.WriteFile(out, data, 0o644)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "export failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", out)
	return nil
}
