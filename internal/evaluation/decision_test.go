package evaluation

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/zulandar/consortium/internal/errs"
)

func TestParseDecision(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Decision
	}{
		{
			name: "full",
			raw:  `{"confidence":0.85,"refinement_areas":["edge cases","tone"],"chosen_model":"claude","synthesis":"S","analysis":"A"}`,
			want: Decision{Confidence: 0.85, RefinementAreas: []string{"edge cases", "tone"}, ChosenModel: "claude", Synthesis: "S", Analysis: "A"},
		},
		{
			name: "string confidence and single area",
			raw:  `{"confidence":" 0.4 ","refinement_areas":"clarity"}`,
			want: Decision{Confidence: 0.4, RefinementAreas: []string{"clarity"}},
		},
		{
			name: "missing confidence defaults to zero",
			raw:  `{"synthesis":"S"}`,
			want: Decision{Synthesis: "S"},
		},
		{
			name: "extra keys preserved",
			raw:  `{"confidence":1,"needs_iteration":false,"scores":{"a":1}}`,
			want: Decision{Confidence: 1, Extra: map[string]any{"needs_iteration": false, "scores": map[string]any{"a": float64(1)}}},
		},
		{
			name: "blank areas dropped",
			raw:  `{"refinement_areas":["", "  ", "x"]}`,
			want: Decision{RefinementAreas: []string{"x"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecision([]byte(tt.raw))
			if err != nil {
				t.Fatalf("ParseDecision: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseDecision_Invalid(t *testing.T) {
	for _, raw := range []string{
		`{"confidence":`,
		`"just a string"`,
		`{"confidence":"high"}`,
		`{"confidence":[1]}`,
	} {
		if _, err := ParseDecision([]byte(raw)); !errs.IsValidation(err) {
			t.Errorf("ParseDecision(%s) err = %v, want ValidationError", raw, err)
		}
	}
}

func TestDecision_JSONRoundTrip(t *testing.T) {
	d := Decision{
		Confidence:      0.7,
		RefinementAreas: []string{"depth"},
		ChosenModel:     "gpt",
		Extra:           map[string]any{"confidence": "ignored", "votes": float64(3)},
	}
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var flat map[string]any
	json.Unmarshal(b, &flat)
	if flat["confidence"] != 0.7 {
		t.Errorf("named confidence should win over extra, got %v", flat["confidence"])
	}
	if _, ok := flat["synthesis"]; ok {
		t.Error("empty synthesis should be omitted")
	}

	var back Decision
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	want := Decision{Confidence: 0.7, RefinementAreas: []string{"depth"}, ChosenModel: "gpt", Extra: map[string]any{"votes": float64(3)}}
	if diff := cmp.Diff(want, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecision_MarshalEmptyAreas(t *testing.T) {
	b, _ := json.Marshal(Decision{})
	if string(b) != `{"confidence":0,"refinement_areas":[]}` {
		t.Errorf("Marshal(Decision{}) = %s", b)
	}
}
