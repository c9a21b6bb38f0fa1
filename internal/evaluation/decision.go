// Package evaluation persists arbiter decisions and the per-model
// performance projection derived from them, and answers the aggregate
// queries built on top: leaderboard, recent runs, run details and
// training-data export.
package evaluation

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/zulandar/consortium/internal/errs"
)

// Decision is an arbiter's verdict on one iteration. Keys the arbiter sent
// beyond the named fields are kept in Extra.
type Decision struct {
	Confidence      float64
	RefinementAreas []string
	ChosenModel     string
	Synthesis       string
	Analysis        string
	Extra           map[string]any
}

var decisionKeys = map[string]bool{
	"confidence":       true,
	"refinement_areas": true,
	"chosen_model":     true,
	"synthesis":        true,
	"analysis":         true,
}

// MarshalJSON flattens Extra next to the named fields. Named fields win.
func (d Decision) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+len(decisionKeys))
	for k, v := range d.Extra {
		out[k] = v
	}
	areas := d.RefinementAreas
	if areas == nil {
		areas = []string{}
	}
	out["confidence"] = d.Confidence
	out["refinement_areas"] = areas
	if d.ChosenModel != "" {
		out["chosen_model"] = d.ChosenModel
	}
	if d.Synthesis != "" {
		out["synthesis"] = d.Synthesis
	}
	if d.Analysis != "" {
		out["analysis"] = d.Analysis
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the loose shapes arbiters produce; see ParseDecision.
func (d *Decision) UnmarshalJSON(b []byte) error {
	parsed, err := ParseDecision(b)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDecision reads a decision object. Confidence may be a number or a
// numeric string; refinement_areas may be an array or a single string.
// Missing confidence is 0.
func ParseDecision(raw []byte) (Decision, error) {
	var d Decision
	if !gjson.ValidBytes(raw) {
		return d, errs.Invalid("decision", "malformed JSON")
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return d, errs.Invalid("decision", "expected a JSON object")
	}

	if c := doc.Get("confidence"); c.Exists() && c.Type != gjson.Null {
		switch c.Type {
		case gjson.Number:
			d.Confidence = c.Float()
		case gjson.String:
			v, err := strconv.ParseFloat(strings.TrimSpace(c.String()), 64)
			if err != nil {
				return d, errs.Invalid("decision.confidence", fmt.Sprintf("not a number: %q", c.String()))
			}
			d.Confidence = v
		default:
			return d, errs.Invalid("decision.confidence", "not a number: "+c.Raw)
		}
	}

	switch areas := doc.Get("refinement_areas"); {
	case areas.IsArray():
		for _, a := range areas.Array() {
			if s := strings.TrimSpace(a.String()); s != "" {
				d.RefinementAreas = append(d.RefinementAreas, s)
			}
		}
	case areas.Type == gjson.String && strings.TrimSpace(areas.String()) != "":
		d.RefinementAreas = []string{strings.TrimSpace(areas.String())}
	}

	d.ChosenModel = doc.Get("chosen_model").String()
	d.Synthesis = doc.Get("synthesis").String()
	d.Analysis = doc.Get("analysis").String()

	doc.ForEach(func(k, v gjson.Result) bool {
		if decisionKeys[k.String()] {
			return true
		}
		if d.Extra == nil {
			d.Extra = map[string]any{}
		}
		d.Extra[k.String()] = v.Value()
		return true
	})

	if err := d.Validate(); err != nil {
		return Decision{}, err
	}
	return d, nil
}

// Validate rejects confidences that cannot be stored or ranked.
func (d Decision) Validate() error {
	if math.IsNaN(d.Confidence) || math.IsInf(d.Confidence, 0) {
		return errs.Invalid("decision.confidence", "must be finite")
	}
	return nil
}
