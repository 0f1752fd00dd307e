package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// TurnKind discriminates the TurnMetadata variants on the wire.
type TurnKind string

const (
	KindStandardTurn TurnKind = "standard"
	KindDeepTurn     TurnKind = "deep"
	KindUpgradeTurn  TurnKind = "upgrade"
)

// TurnMetadata is the oracle state snapshot attached to a model message.
// The set of implementations is closed: StandardTurn, DeepTurn, UpgradeTurn.
type TurnMetadata interface {
	Kind() TurnKind
	sealed()
}

// StandardTurn records the oracle's reported state after a reply.
type StandardTurn struct {
	IsFinished bool
	Prediction string
	Confidence int
	Progress   int
}

// DeepTurn adds the cognitive-function analysis produced in deeper tiers.
type DeepTurn struct {
	StandardTurn
	CognitiveStack   []string
	DevelopmentLevel string
}

// UpgradeTurn marks a tier transition question. The prediction and confidence
// are frozen to their values before the upgrade.
type UpgradeTurn struct {
	FrozenPrediction string
	FrozenConfidence int
	Progress         int
	FromDepth        Depth
	ToDepth          Depth
}

func (StandardTurn) Kind() TurnKind { return KindStandardTurn }
func (DeepTurn) Kind() TurnKind     { return KindDeepTurn }
func (UpgradeTurn) Kind() TurnKind  { return KindUpgradeTurn }

func (StandardTurn) sealed() {}
func (DeepTurn) sealed()     {}
func (UpgradeTurn) sealed()  {}

// MetadataWire is the flat JSON shape persisted and returned by the history API.
type MetadataWire struct {
	Kind             TurnKind `json:"kind"`
	IsFinished       bool     `json:"is_finished"`
	Prediction       string   `json:"current_prediction"`
	Confidence       int      `json:"confidence_score"`
	Progress         int      `json:"progress"`
	CognitiveStack   []string `json:"cognitive_stack,omitempty"`
	DevelopmentLevel string   `json:"development_level,omitempty"`
	IsUpgrade        bool     `json:"is_upgrade_message,omitempty"`
	FromDepth        Depth    `json:"from_depth,omitempty"`
	ToDepth          Depth    `json:"to_depth,omitempty"`
}

// ErrUnknownTurnKind is returned when decoding metadata with an unrecognized kind.
var ErrUnknownTurnKind = errors.New("unknown turn metadata kind")

// WireMetadata flattens a variant into its wire form.
func WireMetadata(m TurnMetadata) MetadataWire {
	switch v := m.(type) {
	case StandardTurn:
		return MetadataWire{
			Kind:       KindStandardTurn,
			IsFinished: v.IsFinished,
			Prediction: v.Prediction,
			Confidence: v.Confidence,
			Progress:   v.Progress,
		}
	case DeepTurn:
		return MetadataWire{
			Kind:             KindDeepTurn,
			IsFinished:       v.IsFinished,
			Prediction:       v.Prediction,
			Confidence:       v.Confidence,
			Progress:         v.Progress,
			CognitiveStack:   v.CognitiveStack,
			DevelopmentLevel: v.DevelopmentLevel,
		}
	case UpgradeTurn:
		return MetadataWire{
			Kind:       KindUpgradeTurn,
			Prediction: v.FrozenPrediction,
			Confidence: v.FrozenConfidence,
			Progress:   v.Progress,
			IsUpgrade:  true,
			FromDepth:  v.FromDepth,
			ToDepth:    v.ToDepth,
		}
	default:
		panic(fmt.Sprintf("domain: unhandled turn metadata %T", m))
	}
}

// EncodeMetadata serializes metadata for storage. Nil encodes to nil.
func EncodeMetadata(m TurnMetadata) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(WireMetadata(m))
	if err != nil {
		return nil, fmt.Errorf("marshal turn metadata: %w", err)
	}
	return data, nil
}

// DecodeMetadata parses stored metadata. Empty input decodes to nil.
func DecodeMetadata(data []byte) (TurnMetadata, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var w MetadataWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("unmarshal turn metadata: %w", err)
	}
	base := StandardTurn{
		IsFinished: w.IsFinished,
		Prediction: w.Prediction,
		Confidence: w.Confidence,
		Progress:   w.Progress,
	}
	switch w.Kind {
	case KindStandardTurn:
		return base, nil
	case KindDeepTurn:
		return DeepTurn{StandardTurn: base, CognitiveStack: w.CognitiveStack, DevelopmentLevel: w.DevelopmentLevel}, nil
	case KindUpgradeTurn:
		return UpgradeTurn{
			FrozenPrediction: w.Prediction,
			FrozenConfidence: w.Confidence,
			Progress:         w.Progress,
			FromDepth:        w.FromDepth,
			ToDepth:          w.ToDepth,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTurnKind, w.Kind)
	}
}

// LastUpgrade returns the most recent upgrade marker in a transcript, if any.
func LastUpgrade(msgs []*Message) (UpgradeTurn, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		if u, ok := msgs[i].Metadata.(UpgradeTurn); ok {
			return u, true
		}
	}
	return UpgradeTurn{}, false
}
