package domain

import (
	"fmt"
	"time"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ParseRole validates a stored or submitted role.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUser, RoleModel:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Message is an append-only conversation entry.
type Message struct {
	ID        int64
	SessionID string
	Role      Role
	Content   string
	// Metadata is nil for user messages.
	Metadata  TurnMetadata
	CreatedAt time.Time
}

// Turn is the role/content pair handed to the oracle.
type Turn struct {
	Role    Role
	Content string
}

// Transcript converts stored messages into oracle history.
func Transcript(msgs []*Message) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, Turn{Role: m.Role, Content: m.Content})
	}
	return turns
}
