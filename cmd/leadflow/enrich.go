package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/amishk599/leadflow/internal/dispatch"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Create an enrichment job",
	Long:  "Submits profiles of an organization for enrichment, optionally scoring them against a qualification. Prints the job receipt as JSON.",
	RunE:  runEnrich,
}

var (
	enrichOrg           int64
	enrichProfiles      []int64
	enrichQualification int64
)

func init() {
	rootCmd.AddCommand(enrichCmd)
	enrichCmd.Flags().Int64Var(&enrichOrg, "org", 0, "organization id")
	enrichCmd.Flags().Int64SliceVar(&enrichProfiles, "profiles", nil, "comma-separated profile ids")
	enrichCmd.Flags().Int64Var(&enrichQualification, "qualification", 0, "qualification id to score against (optional)")
	_ = enrichCmd.MarkFlagRequired("org")
	_ = enrichCmd.MarkFlagRequired("profiles")
}

func runEnrich(cmd *cobra.Command, args []string) error {
	a := mustOpenApp(false)
	defer a.Close()

	req := dispatch.Request{OrganizationID: enrichOrg, ProfileIDs: enrichProfiles}
	if enrichQualification > 0 {
		req.QualificationID = &enrichQualification
	}

	receipt, err := a.dispatcher.Dispatch(context.Background(), req)
	if err != nil {
		if receipt.JobID != "" {
			fmt.Fprintf(os.Stderr, "job %s failed: %v\n", receipt.JobID, err)
		} else {
			fmt.Fprintf(os.Stderr, "enrich: %v\n", err)
		}
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(receipt)
}
