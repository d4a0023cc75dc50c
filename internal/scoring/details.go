package scoring

import (
	"encoding/json"
	"math"
)

// Detail is one 1..10 breakdown item shown next to a score.
type Detail struct {
	Category    string `json:"category"`
	Score       int    `json:"score"`
	Description string `json:"description"`
}

// Details derives the breakdown shown with a submitted score.
func Details(score float64) []Detail {
	tenth := int(score / 10)
	harmony := tenth
	if math.Mod(score, 10) > 5 {
		harmony++
	}
	return []Detail{
		{Category: "overall", Score: tenth, Description: Describe(score)},
		{Category: "harmony", Score: min(10, harmony), Description: "well proportioned features, clear contours"},
		{Category: "skin", Score: min(10, max(7, int(score/12))), Description: "even tone, fine texture"},
		{Category: "temperament", Score: min(10, max(6, int(score/11))), Description: "strong presence"},
	}
}

// Describe returns the band description for a score.
func Describe(score float64) string {
	switch {
	case score >= 90:
		return "outstanding looks"
	case score >= 80:
		return "very good looks"
	case score >= 70:
		return "good looks, natural"
	case score >= 60:
		return "average looks"
	default:
		return "room to improve"
	}
}

// Highlights picks the headline attributes out of a feature blob. Fields
// the provider did not report are omitted. Both the Baidu shape
// ({"gender":{"type":"male"}}) and the flat local shape are understood.
func Highlights(blob json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(blob) == 0 {
		return out
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(blob, &fields); err != nil {
		return out
	}

	for _, k := range []string{"beauty", "age"} {
		var n float64
		if raw, ok := fields[k]; ok && json.Unmarshal(raw, &n) == nil {
			out[k] = n
		}
	}
	for _, k := range []string{"gender", "face_shape", "expression"} {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var typed struct {
			Type string `json:"type"`
		}
		var flat string
		switch {
		case json.Unmarshal(raw, &typed) == nil && typed.Type != "":
			out[k] = typed.Type
		case json.Unmarshal(raw, &flat) == nil && flat != "":
			out[k] = flat
		}
	}
	return out
}
