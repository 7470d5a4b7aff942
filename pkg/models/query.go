// Package models holds the shared data types exchanged between the front
// door, the coordinator, and the routing engine.
package models

import "strings"

// Phase selects the security regime for a query. phase1 and phase2 skip all
// policy checkpoints; phase3 enables the full four-checkpoint pipeline.
const (
	Phase1 = "phase1"
	Phase2 = "phase2"
	Phase3 = "phase3"
)

// ValidPhase reports whether p is a recognized phase tag. The empty string is
// accepted and treated as Phase1 by the coordinator.
func ValidPhase(p string) bool {
	switch p {
	case "", Phase1, Phase2, Phase3:
		return true
	}
	return false
}

// Turn is a single prior conversation turn supplied by the host service.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// UserContext carries the caller's identity and recent conversation history.
// Identity fields are appended to downstream payloads as a "[User context: …]"
// tail; they are never masked by policy checkpoints (only the query portion is).
type UserContext struct {
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	Role       string `json:"role,omitempty"`
	Department string `json:"department,omitempty"`
	EmployeeID string `json:"employeeId,omitempty"`
	History    []Turn `json:"history,omitempty"`
}

// HasIdentity reports whether the context names a concrete user. Personal
// queries ("my vacation days") are refused without one.
func (u *UserContext) HasIdentity() bool {
	if u == nil {
		return false
	}
	return u.Email != "" || u.Name != "" || u.EmployeeID != ""
}

// ContextTail renders the identity fields as the "[User context: …]" suffix
// appended to every downstream dispatch. Returns "" when no identity is set.
func (u *UserContext) ContextTail() string {
	if u == nil {
		return ""
	}
	var parts []string
	add := func(label, v string) {
		if v != "" {
			parts = append(parts, label+": "+v)
		}
	}
	add("name", u.Name)
	add("email", u.Email)
	add("role", u.Role)
	add("department", u.Department)
	add("employeeId", u.EmployeeID)
	if len(parts) == 0 {
		return ""
	}
	return "[User context: " + strings.Join(parts, ", ") + "]"
}

// RecentHistory returns at most n trailing turns. n <= 0 returns nil.
func (u *UserContext) RecentHistory(n int) []Turn {
	if u == nil || n <= 0 || len(u.History) == 0 {
		return nil
	}
	if len(u.History) <= n {
		return u.History
	}
	return u.History[len(u.History)-n:]
}
