package qualify

import (
	"errors"
	"testing"

	"google.golang.org/genai"

	"github.com/amishk599/leadflow/internal/model"
)

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    verdict
		wantErr bool
	}{
		{
			name: "in range",
			raw:  `{"score": 71, "reasoning": "fits", "passed": false}`,
			want: verdict{Score: 71, Reasoning: "fits", Passed: true},
		},
		{
			name: "above range",
			raw:  `{"score": 150, "reasoning": "great", "passed": true}`,
			want: verdict{Score: 100, Reasoning: "great", Passed: true, LowConfidence: true},
		},
		{
			name: "below range",
			raw:  `{"score": -5, "reasoning": "no", "passed": false}`,
			want: verdict{Score: 0, Reasoning: "no", LowConfidence: true},
		},
		{
			name: "missing score",
			raw:  `{"reasoning": "unsure"}`,
			want: verdict{Score: 0, Reasoning: "unsure", LowConfidence: true},
		},
		{
			name: "fractional score",
			raw:  `{"score": 69.6, "reasoning": "close"}`,
			want: verdict{Score: 70, Reasoning: "close", Passed: true},
		},
		{name: "score as text", raw: `{"score": "high"}`, wantErr: true},
		{name: "not an object", raw: `[1, 2]`, wantErr: true},
		{name: "not json", raw: `score: 50`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseVerdict(tt.raw, 70)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestValidateCriteria(t *testing.T) {
	valid := model.Criteria{Summary: "Series B fintech buyers", MustHave: []string{"budget owner"}, MinYearsExperience: 5}
	if err := ValidateCriteria(valid); err != nil {
		t.Errorf("valid criteria rejected: %v", err)
	}

	invalid := []model.Criteria{
		{},
		{Summary: "x", MustHave: []string{""}},
		{Summary: "x", MinYearsExperience: -1},
	}
	for _, c := range invalid {
		var ve *model.ValidationError
		if err := ValidateCriteria(c); !errors.As(err, &ve) {
			t.Errorf("ValidateCriteria(%+v) = %v, want ValidationError", c, err)
		}
	}
}

func TestHashCriteria(t *testing.T) {
	a := model.Criteria{Summary: "x", MustHave: []string{"a"}}
	b := model.Criteria{Summary: "x", MustHave: []string{"a"}}
	c := model.Criteria{Summary: "x", MustHave: []string{"b"}}
	if HashCriteria(a) != HashCriteria(b) {
		t.Error("equal criteria hash differently")
	}
	if HashCriteria(a) == HashCriteria(c) {
		t.Error("different criteria hash the same")
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyGeminiErr(t *testing.T) {
	tests := []struct {
		name          string
		in            error
		wantTransient bool
	}{
		{name: "api_429", in: genai.APIError{Code: 429}, wantTransient: true},
		{name: "api_503", in: genai.APIError{Code: 503}, wantTransient: true},
		{name: "api_400", in: genai.APIError{Code: 400}, wantTransient: false},
		{name: "timeout", in: timeoutErr{}, wantTransient: true},
		{name: "plain", in: errors.New("boom"), wantTransient: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := model.IsTransient(classifyGeminiErr(tt.in)); got != tt.wantTransient {
				t.Errorf("transient = %v, want %v", got, tt.wantTransient)
			}
		})
	}
}
