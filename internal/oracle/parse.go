package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/mbti-assistant/internal/domain"
)

// turnWire tolerates numbers encoded as floats or strings.
type turnWire struct {
	ReplyText        string      `json:"reply_text"`
	IsFinished       bool        `json:"is_finished"`
	Prediction       string      `json:"current_prediction"`
	Confidence       json.Number `json:"confidence_score"`
	Progress         json.Number `json:"progress"`
	CognitiveStack   []string    `json:"cognitive_stack"`
	DevelopmentLevel string      `json:"development_level"`
}

// parseTurn decodes a structured round reply. The model may wrap the JSON in
// code fences or surround it with prose; the outermost object is used.
func parseTurn(raw string) (*TurnResult, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, newError(KindMalformed, errors.New("no JSON object in response"))
	}

	var w turnWire
	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&w); err != nil {
		return nil, newError(KindMalformed, fmt.Errorf("decode turn: %w", err))
	}
	if strings.TrimSpace(w.ReplyText) == "" {
		return nil, newError(KindMalformed, errors.New("reply_text is empty"))
	}

	prediction := strings.TrimSpace(w.Prediction)
	if prediction == "" {
		prediction = domain.UnknownPrediction
	}

	return &TurnResult{
		ReplyText:        strings.TrimSpace(w.ReplyText),
		IsFinished:       w.IsFinished,
		Prediction:       prediction,
		Confidence:       clampPercent(w.Confidence),
		Progress:         clampPercent(w.Progress),
		CognitiveStack:   cleanStack(w.CognitiveStack),
		DevelopmentLevel: strings.TrimSpace(w.DevelopmentLevel),
	}, nil
}

func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func clampPercent(n json.Number) int {
	if n == "" {
		return 0
	}
	f, err := n.Float64()
	if err != nil {
		return 0
	}
	switch {
	case f < 0:
		return 0
	case f > 100:
		return 100
	default:
		return int(f + 0.5)
	}
}

func cleanStack(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, fn := range in {
		if fn = strings.TrimSpace(fn); fn != "" {
			out = append(out, fn)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
