// Package audit persists a per-query audit trail: which agents served the
// query, whether policy blocked it, and the token spend. Persistence is
// optional; without DATABASE_URL the gateway runs with the no-op sink.
package audit

import (
	"context"
	"time"
)

// Entry is one completed user query.
type Entry struct {
	TrID              string
	UserEmail         string
	Phase             string
	Query             string // post-masking; raw user text is never persisted
	Strategy          string
	Agents            []string
	Blocked           bool
	BlockCategory     string
	CoordinatorTokens int
	AgentTokens       int
	TotalTokens       int
	Latency           time.Duration
	CreatedAt         time.Time
}

// Sink receives completed query entries.
type Sink interface {
	RecordQuery(ctx context.Context, e Entry) error
	Close() error
}

// NopSink discards every entry.
type NopSink struct{}

func (NopSink) RecordQuery(context.Context, Entry) error { return nil }
func (NopSink) Close() error                             { return nil }
