// Package domain contains core domain types for the MBTI assistant.
package domain

import (
	"fmt"
	"strings"
)

// Depth is the analysis tier of a session.
type Depth string

const (
	DepthShallow  Depth = "shallow"
	DepthStandard Depth = "standard"
	DepthDeep     Depth = "deep"
)

// ParseDepth validates a raw depth value.
func ParseDepth(s string) (Depth, error) {
	switch d := Depth(strings.ToLower(strings.TrimSpace(s))); d {
	case DepthShallow, DepthStandard, DepthDeep:
		return d, nil
	default:
		return "", fmt.Errorf("unknown depth %q: must be shallow, standard, or deep", s)
	}
}

// Next returns the tier a session can be upgraded to.
func (d Depth) Next() (Depth, bool) {
	switch d {
	case DepthShallow:
		return DepthStandard, true
	case DepthStandard:
		return DepthDeep, true
	default:
		return "", false
	}
}

func (d Depth) String() string { return string(d) }

// RoundPolicy holds the round budget of each tier.
type RoundPolicy struct {
	Shallow  int
	Standard int
	Deep     int
}

// DefaultRoundPolicy returns the stock budgets: 5, 15 and 30 rounds.
func DefaultRoundPolicy() RoundPolicy {
	return RoundPolicy{Shallow: 5, Standard: 15, Deep: 30}
}

// Validate checks that every budget is positive and the tiers strictly increase.
func (p RoundPolicy) Validate() error {
	if p.Shallow <= 0 {
		return fmt.Errorf("shallow round budget must be > 0, got %d", p.Shallow)
	}
	if p.Standard <= p.Shallow {
		return fmt.Errorf("standard round budget (%d) must exceed shallow (%d)", p.Standard, p.Shallow)
	}
	if p.Deep <= p.Standard {
		return fmt.Errorf("deep round budget (%d) must exceed standard (%d)", p.Deep, p.Standard)
	}
	return nil
}

// MaxRounds returns the hard round cap for a tier.
func (p RoundPolicy) MaxRounds(d Depth) int {
	switch d {
	case DepthShallow:
		return p.Shallow
	case DepthDeep:
		return p.Deep
	default:
		return p.Standard
	}
}

// MinExtraAfterContinue is the number of rounds a session must run after a
// continue-for-precision action before it may be finished again.
func (p RoundPolicy) MinExtraAfterContinue(d Depth) int {
	switch d {
	case DepthShallow:
		return 1
	case DepthDeep:
		return 3
	default:
		return 2
	}
}
