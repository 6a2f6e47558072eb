package qualify

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/amishk599/leadflow/internal/model"
)

// verdictRequestSchema is the structured-output schema sent to the backend.
var verdictRequestSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"properties": map[string]any{
		"score":     map[string]any{"type": "integer"},
		"reasoning": map[string]any{"type": "string"},
		"passed":    map[string]any{"type": "boolean"},
	},
	"required": []string{"score", "reasoning", "passed"},
}

// verdictAcceptSchema is what we accept back. It is looser than the request
// schema: a missing or out-of-range score is coerced rather than rejected.
var verdictAcceptSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"score":     map[string]any{"type": []string{"number", "null"}},
		"reasoning": map[string]any{"type": []string{"string", "null"}},
		"passed":    map[string]any{"type": []string{"boolean", "null"}},
	},
}

var criteriaSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"summary":              map[string]any{"type": "string", "minLength": 1},
		"must_have":            stringList,
		"nice_to_have":         stringList,
		"disqualifiers":        stringList,
		"target_titles":        stringList,
		"target_locations":     stringList,
		"min_years_experience": map[string]any{"type": "number", "minimum": 0, "maximum": 60},
	},
	"required": []string{"summary"},
}

var stringList = map[string]any{
	"type":  "array",
	"items": map[string]any{"type": "string", "minLength": 1},
}

var (
	compiledVerdict  = mustCompile(verdictAcceptSchema)
	compiledCriteria = mustCompile(criteriaSchema)
)

func mustCompile(schemaMap map[string]any) *jsonschema.Schema {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		panic(fmt.Sprintf("marshal schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		panic(fmt.Sprintf("add schema: %v", err))
	}
	return compiler.MustCompile("schema.json")
}

func validateJSON(schema *jsonschema.Schema, data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// ValidateCriteria checks a criteria document before it is stored.
func ValidateCriteria(c model.Criteria) error {
	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding criteria: %w", err)
	}
	if err := validateJSON(compiledCriteria, b); err != nil {
		return &model.ValidationError{Field: "criteria", Message: err.Error()}
	}
	return nil
}

// HashCriteria returns a stable fingerprint of c, stored with each result so
// scores can be traced to the criteria they were computed against.
func HashCriteria(c model.Criteria) string {
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// verdict is a scorer answer after coercion.
type verdict struct {
	Score         int
	Reasoning     string
	Passed        bool
	LowConfidence bool
}

type rawVerdict struct {
	Score     *float64 `json:"score"`
	Reasoning *string  `json:"reasoning"`
	Passed    *bool    `json:"passed"`
}

// parseVerdict validates a scorer answer and coerces it into 0..100. A missing
// or out-of-range score is clamped and flagged low confidence. Passed is
// always recomputed from threshold.
func parseVerdict(raw string, threshold int) (verdict, error) {
	if err := validateJSON(compiledVerdict, []byte(raw)); err != nil {
		return verdict{}, fmt.Errorf("invalid verdict: %w", err)
	}
	var rv rawVerdict
	if err := json.Unmarshal([]byte(raw), &rv); err != nil {
		return verdict{}, fmt.Errorf("unmarshal verdict: %w", err)
	}

	var v verdict
	if rv.Reasoning != nil {
		v.Reasoning = *rv.Reasoning
	}
	switch {
	case rv.Score == nil || math.IsNaN(*rv.Score):
		v.Score = 0
		v.LowConfidence = true
	case *rv.Score < 0:
		v.Score = 0
		v.LowConfidence = true
	case *rv.Score > 100:
		v.Score = 100
		v.LowConfidence = true
	default:
		v.Score = int(math.Round(*rv.Score))
	}
	v.Passed = v.Score >= threshold
	return v, nil
}
