// File: internal/engine/parse.go
// Description: Helpers for decoding the structured JSON payloads providers
// return for the analytic phases. Providers are asked for JSON but are not
// trusted to produce it cleanly, so everything here tolerates code fences and
// surrounding prose.
package engine

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// extractJSON strips markdown fences and leading/trailing prose, returning
// the first top-level JSON value in the text.
func extractJSON(text string) string {
	s := strings.TrimSpace(text)
	if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		s = strings.TrimPrefix(s, "json")
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "[{")
	if start < 0 {
		return s
	}
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}

type directionPayload struct {
	Name           string `json:"name"`
	CoreAssumption string `json:"core_assumption"`
	Focus          string `json:"focus"`
}

// parseDirections decodes the meta-analysis response.
func parseDirections(text string) ([]directionPayload, error) {
	var out []directionPayload
	if err := json.UnmarshalFromString(extractJSON(text), &out); err != nil {
		return nil, fmt.Errorf("failed to decode directions payload: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("directions payload is empty")
	}
	return out, nil
}

type critiquePayload struct {
	Content       string  `json:"content"`
	SeverityScore int     `json:"severity_score"`
	QualityScore  float64 `json:"quality_score"`
}

// parseCritique decodes a reflection response and clamps scores into their
// documented ranges.
func parseCritique(text string) (critiquePayload, error) {
	var out critiquePayload
	if err := json.UnmarshalFromString(extractJSON(text), &out); err != nil {
		return critiquePayload{}, fmt.Errorf("failed to decode critique payload: %w", err)
	}
	if out.Content == "" {
		return critiquePayload{}, fmt.Errorf("critique payload has no content")
	}
	out.SeverityScore = clampInt(out.SeverityScore, 1, 10)
	out.QualityScore = clampFloat(out.QualityScore, 1, 100)
	return out, nil
}

type verdictPayload struct {
	Winner         string             `json:"winner"`
	Reasoning      string             `json:"reasoning"`
	CriteriaScores map[string]float64 `json:"criteria_scores"`
}

// parseVerdict decodes a tournament comparison response. The winner field
// accepts "A"/"B" in any casing.
func parseVerdict(text string) (verdictPayload, error) {
	var out verdictPayload
	if err := json.UnmarshalFromString(extractJSON(text), &out); err != nil {
		return verdictPayload{}, fmt.Errorf("failed to decode verdict payload: %w", err)
	}
	switch strings.ToUpper(strings.TrimSpace(out.Winner)) {
	case "A":
		out.Winner = "A"
	case "B":
		out.Winner = "B"
	default:
		return verdictPayload{}, fmt.Errorf("verdict winner %q is neither A nor B", out.Winner)
	}
	return out, nil
}

type evolutionPayload struct {
	EvolvedContent string   `json:"evolved_content"`
	Improvements   []string `json:"improvements"`
}

// parseEvolution decodes an evolution response.
func parseEvolution(text string) (evolutionPayload, error) {
	var out evolutionPayload
	if err := json.UnmarshalFromString(extractJSON(text), &out); err != nil {
		return evolutionPayload{}, fmt.Errorf("failed to decode evolution payload: %w", err)
	}
	if out.EvolvedContent == "" {
		return evolutionPayload{}, fmt.Errorf("evolution payload has no content")
	}
	return out, nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
