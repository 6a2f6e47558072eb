package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/amishk599/leadflow/internal/model"
	"github.com/amishk599/leadflow/internal/qualify"
)

var qualificationsCmd = &cobra.Command{
	Use:     "qualifications",
	Aliases: []string{"quals"},
	Short:   "Manage qualification criteria",
}

var qualificationsCreateCmd = &cobra.Command{
	Use:   "create <criteria-file>",
	Short: "Create a qualification from a YAML or JSON criteria file",
	Args:  cobra.ExactArgs(1),
	RunE:  runQualificationsCreate,
}

var qualificationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a qualification",
	Args:  cobra.ExactArgs(1),
	RunE:  runQualificationsShow,
}

var (
	qualOrg         int64
	qualName        string
	qualDescription string
	qualThreshold   int
)

func init() {
	rootCmd.AddCommand(qualificationsCmd)
	qualificationsCmd.AddCommand(qualificationsCreateCmd, qualificationsShowCmd)
	qualificationsCmd.PersistentFlags().Int64Var(&qualOrg, "org", 0, "organization id")
	_ = qualificationsCmd.MarkPersistentFlagRequired("org")
	qualificationsCreateCmd.Flags().StringVar(&qualName, "name", "", "qualification name")
	qualificationsCreateCmd.Flags().StringVar(&qualDescription, "description", "", "optional description")
	qualificationsCreateCmd.Flags().IntVar(&qualThreshold, "threshold", model.DefaultPassThreshold, "score at or above which a profile passes (0-100)")
	_ = qualificationsCreateCmd.MarkFlagRequired("name")
}

// criteriaFile mirrors model.Criteria with YAML keys matching its JSON names.
type criteriaFile struct {
	Summary            string   `yaml:"summary"`
	MustHave           []string `yaml:"must_have"`
	NiceToHave         []string `yaml:"nice_to_have"`
	Disqualifiers      []string `yaml:"disqualifiers"`
	TargetTitles       []string `yaml:"target_titles"`
	TargetLocations    []string `yaml:"target_locations"`
	MinYearsExperience float64  `yaml:"min_years_experience"`
}

func parseCriteria(data []byte) (model.Criteria, error) {
	var f criteriaFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return model.Criteria{}, fmt.Errorf("parse criteria: %w", err)
	}
	c := model.Criteria(f)
	if err := qualify.ValidateCriteria(c); err != nil {
		return model.Criteria{}, err
	}
	return c, nil
}

func runQualificationsCreate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read criteria: %w", err)
	}
	criteria, err := parseCriteria(data)
	if err != nil {
		return err
	}
	if qualThreshold < 0 || qualThreshold > 100 {
		return fmt.Errorf("--threshold must be between 0 and 100")
	}

	a := mustOpenApp(false)
	defer a.Close()

	q := &model.Qualification{
		OrganizationID: qualOrg,
		Name:           qualName,
		Description:    qualDescription,
		Criteria:       criteria,
		CriteriaHash:   qualify.HashCriteria(criteria),
		PassThreshold:  qualThreshold,
	}
	if err := a.store.CreateQualification(context.Background(), q); err != nil {
		return err
	}
	fmt.Printf("created qualification %d (%s)\n", q.ID, q.CriteriaHash[:12])
	return nil
}

func runQualificationsShow(cmd *cobra.Command, args []string) error {
	var id int64
	if _, err := fmt.Sscan(args[0], &id); err != nil {
		return fmt.Errorf("invalid qualification id %q", args[0])
	}

	a := mustOpenApp(false)
	defer a.Close()

	q, err := a.store.GetQualification(context.Background(), qualOrg, id)
	if err != nil {
		return fmt.Errorf("qualification %d: %w", id, err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(q)
}
