package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/amishk599/leadflow/internal/model"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage captured profiles",
}

var profilesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import captured profiles from a YAML or JSON file",
	Long:  "Reads a list of {url, name, company} entries and upserts them for the organization, printing each profile id.",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfilesImport,
}

var profilesOrg int64

func init() {
	rootCmd.AddCommand(profilesCmd)
	profilesCmd.AddCommand(profilesImportCmd)
	profilesImportCmd.Flags().Int64Var(&profilesOrg, "org", 0, "organization id")
	_ = profilesImportCmd.MarkFlagRequired("org")
}

type profileEntry struct {
	URL     string `yaml:"url"`
	Name    string `yaml:"name"`
	Company string `yaml:"company"`
}

// parseProfiles decodes a YAML (or JSON, which YAML accepts) list of profiles.
func parseProfiles(data []byte) ([]profileEntry, error) {
	var entries []profileEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}
	for i, e := range entries {
		if strings.TrimSpace(e.URL) == "" {
			return nil, fmt.Errorf("profiles[%d]: url is required", i)
		}
	}
	return entries, nil
}

func runProfilesImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read profiles: %w", err)
	}
	entries, err := parseProfiles(data)
	if err != nil {
		return err
	}

	a := mustOpenApp(false)
	defer a.Close()
	ctx := context.Background()

	for _, e := range entries {
		id, err := a.store.UpsertProfile(ctx, model.Profile{
			OrganizationID: profilesOrg,
			CanonicalURL:   strings.TrimSpace(e.URL),
			FullName:       strings.TrimSpace(e.Name),
			Company:        strings.TrimSpace(e.Company),
		})
		if err != nil {
			return err
		}
		fmt.Printf("%d\t%s\n", id, e.URL)
	}
	fmt.Printf("\nImported %d profiles\n", len(entries))
	return nil
}
