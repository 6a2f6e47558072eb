package qualify

import (
	_ "embed"
	"text/template"
)

//go:embed prompts/qualify.md
var qualifyPromptRaw string

// QualifyTemplate is the parsed prompt template for profile qualification.
var QualifyTemplate = template.Must(template.New("qualify").Parse(qualifyPromptRaw))
