package assessment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reBlockComment  = regexp.MustCompile(`(?s)/\*.*?\*/`)
	reLineComment   = regexp.MustCompile(`(?m)^\s*//.*$`)
	reInlineComment = regexp.MustCompile(`([,{\[])[ \t]*//[^\n]*`)
	reTrailingComma = regexp.MustCompile(`,(\s*[}\]])`)
	reLeadingNumber = regexp.MustCompile(`^[-+]?\d+(?:[.,]\d+)?`)
	reThousands     = regexp.MustCompile(`^[-+]?\d{1,3}(?:,\d{3})+(?:\.\d+)?`)
)

// Canonical vocabularies. Model replies are matched case-insensitively.
var (
	PestRiskValues        = []string{"Low", "Moderate", "High", "Visible Evidence"}
	LeafColorHealthValues = []string{"Healthy Green", "Yellowish", "Dark Green", "Uneven"}
	LodgingValues         = []string{"None", "Slight", "Moderate", "Severe"}
)

type wireResponse struct {
	Analysis *struct {
		Description json.RawMessage `json:"description"`
		Suggestions json.RawMessage `json:"suggestions"`
	} `json:"analysis"`
	Metrics map[string]json.RawMessage `json:"metrics"`
}

// ParseResponse decodes a model reply into an Assessment.
// The reply must contain one JSON object with "analysis" and "metrics";
// absent metric keys stay nil.
func ParseResponse(raw string) (Assessment, error) {
	cleaned := sanitizeModelJSON(raw)
	if !strings.HasPrefix(cleaned, "{") {
		return Assessment{}, fmt.Errorf("no JSON object in model response")
	}

	var wire wireResponse
	if err := json.Unmarshal([]byte(cleaned), &wire); err != nil {
		return Assessment{}, fmt.Errorf("invalid JSON in model response: %w", err)
	}
	if wire.Analysis == nil {
		return Assessment{}, fmt.Errorf("model response is missing %q", "analysis")
	}
	if wire.Metrics == nil {
		return Assessment{}, fmt.Errorf("model response is missing %q", "metrics")
	}

	m := wire.Metrics
	out := Assessment{
		Status:      StatusOK,
		Description: text(wire.Analysis.Description),
		Suggestions: text(wire.Analysis.Suggestions),
		Metrics: Metrics{
			RowSpacingCM:         number(m["estimated_row_spacing_cm"]),
			PlantSpacingCM:       number(m["estimated_plant_spacing_cm"]),
			SeedlingsPerMu:       number(m["seedlings_per_mu"]),
			PanicleCountInSample: number(m["panicle_count_in_1m_sample"]),
			PaniclesPerMu:        number(m["panicles_per_mu"]),
			PestRisk:             category(m["pest_risk"], PestRiskValues),
			LeafColorHealth:      category(m["leaf_color_health"], LeafColorHealthValues),
			LodgingStatus:        category(m["lodging_status"], LodgingValues),
			LeafAge:              number(m["estimated_leaf_age"]),
			TillersPerPlant:      number(m["estimated_tillers_per_plant"]),
		},
	}
	out.Derived = out.Metrics.derive()
	return out, nil
}

// sanitizeModelJSON removes code fences, comments and trailing commas, and
// keeps only the outermost {...}.
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	// Strip triple-backtick fences, with or without a language tag
	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = reBlockComment.ReplaceAllString(raw, "")
	raw = reLineComment.ReplaceAllString(raw, "")
	raw = reInlineComment.ReplaceAllString(raw, "$1")
	raw = reTrailingComma.ReplaceAllString(raw, "$1")

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

// number accepts a JSON number or a string starting with one ("25 cm").
func number(raw json.RawMessage) *float64 {
	if isNull(raw) {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	s = strings.TrimSpace(s)
	var lead string
	if t := reThousands.FindString(s); t != "" {
		lead = strings.ReplaceAll(t, ",", "")
	} else {
		lead = strings.ReplaceAll(reLeadingNumber.FindString(s), ",", ".")
	}
	if lead == "" {
		return nil
	}
	f, err := strconv.ParseFloat(lead, 64)
	if err != nil {
		return nil
	}
	return &f
}

// category normalises a categorical value to its canonical spelling when it
// matches one; otherwise the trimmed reply is kept as-is.
func category(raw json.RawMessage, vocabulary []string) *string {
	s := text(raw)
	if s == "" {
		return nil
	}
	for _, v := range vocabulary {
		if strings.EqualFold(s, v) {
			s = v
			break
		}
	}
	return &s
}

// text accepts a string, or an array of strings joined by newlines.
func text(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.TrimSpace(strings.Join(list, "\n"))
	}
	return strings.TrimSpace(string(raw))
}
