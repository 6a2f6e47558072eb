package main

import (
	"errors"
	"testing"

	"github.com/amishk599/leadflow/internal/model"
)

func TestParseProfiles(t *testing.T) {
	yamlInput := []byte(`
- url: https://www.linkedin.com/in/ada
  name: Ada Lovelace
  company: Analytical Engines
- url: https://www.linkedin.com/in/grace
`)
	entries, err := parseProfiles(yamlInput)
	if err != nil {
		t.Fatalf("parseProfiles yaml: %v", err)
	}
	if len(entries) != 2 || entries[0].Company != "Analytical Engines" || entries[1].Name != "" {
		t.Errorf("entries = %+v", entries)
	}

	jsonInput := []byte(`[{"url": "https://www.linkedin.com/in/alan", "name": "Alan Turing"}]`)
	entries, err = parseProfiles(jsonInput)
	if err != nil {
		t.Fatalf("parseProfiles json: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "Alan Turing" {
		t.Errorf("entries = %+v", entries)
	}

	if _, err := parseProfiles([]byte(`- name: No URL`)); err == nil {
		t.Error("expected error for entry without url")
	}
}

func TestParseCriteria(t *testing.T) {
	c, err := parseCriteria([]byte(`
summary: Heads of growth at B2B SaaS companies
must_have: [SaaS, "growth leadership"]
min_years_experience: 5
`))
	if err != nil {
		t.Fatalf("parseCriteria: %v", err)
	}
	if len(c.MustHave) != 2 || c.MinYearsExperience != 5 {
		t.Errorf("criteria = %+v", c)
	}

	_, err = parseCriteria([]byte(`must_have: [SaaS]`))
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("err = %v, want ValidationError for missing summary", err)
	}
}
