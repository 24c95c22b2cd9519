// Package guard enforces input policy on inbound turn events before
// they reach the orchestrator.
package guard

import (
	"strings"
	"unicode/utf8"
)

// Policy defines the limits applied to each inbound message.
type Policy struct {
	MaxContentBytes int  `json:"max_content_bytes"`
	RequireUTF8     bool `json:"require_utf8"`
}

// DefaultPolicy provides safe defaults.
var DefaultPolicy = Policy{
	MaxContentBytes: 8192,
	RequireUTF8:     true,
}

// Violation represents a specific breach of policy.
type Violation struct {
	Rule    string
	Message string
}

// Guard enforces the policy.
type Guard struct {
	policy Policy
}

func New(p Policy) *Guard {
	if p.MaxContentBytes <= 0 {
		p.MaxContentBytes = DefaultPolicy.MaxContentBytes
	}
	return &Guard{policy: p}
}

// Policy returns the guard's current policy configuration.
func (g *Guard) Policy() Policy {
	return g.policy
}

// CheckContent verifies that a message body is acceptable.
func (g *Guard) CheckContent(content string) *Violation {
	if strings.TrimSpace(content) == "" {
		return &Violation{Rule: "empty_content", Message: "message content is empty"}
	}
	if len(content) > g.policy.MaxContentBytes {
		return &Violation{Rule: "max_content_bytes", Message: "message content exceeds size limit"}
	}
	if g.policy.RequireUTF8 && !utf8.ValidString(content) {
		return &Violation{Rule: "invalid_encoding", Message: "message content is not valid UTF-8"}
	}
	return nil
}
