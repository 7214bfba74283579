package risk

import "encoding/json"

// RiskScore is one AI-scored dimension with the model's explanation.
type RiskScore struct {
	Score float64 `json:"score"`
	Text  string  `json:"text,omitempty"`
}

// RiskScores maps a dimension name (e.g. "schedule", "budget") to its score.
type RiskScores map[string]RiskScore

type SeverityLevel string

const (
	SeverityHigh   SeverityLevel = "High"
	SeverityMedium SeverityLevel = "Medium"
	SeverityLow    SeverityLevel = "Low"
	SeverityNone   SeverityLevel = ""
)

const (
	highThreshold   = 4.0
	mediumThreshold = 3.0
)

// ParseRiskScores decodes the stored JSON. A null or empty payload yields nil.
func ParseRiskScores(raw []byte) (RiskScores, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var scores RiskScores
	if err := json.Unmarshal(raw, &scores); err != nil {
		return nil, err
	}
	return scores, nil
}

// MaxScore returns the highest sub-score and whether any score exists.
func (r RiskScores) MaxScore() (float64, bool) {
	found := false
	max := 0.0
	for _, score := range r {
		if !found || score.Score > max {
			max = score.Score
			found = true
		}
	}
	return max, found
}

// Severity derives the executive severity from the maximum sub-score.
func Severity(scores RiskScores) SeverityLevel {
	max, ok := scores.MaxScore()
	if !ok {
		return SeverityNone
	}
	switch {
	case max >= highThreshold:
		return SeverityHigh
	case max >= mediumThreshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
