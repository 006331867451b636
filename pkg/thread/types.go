// Package thread owns the Thread and Hop entities and the ledger that
// enforces their lifecycle: threads are append-only records of one agent
// task from origin to close, integrity-protected by a per-thread hash chain.
package thread

import (
	"time"
)

// OriginType classifies who or what started a thread.
type OriginType string

const (
	OriginHuman     OriginType = "human"
	OriginSystem    OriginType = "system"
	OriginScheduled OriginType = "scheduled"
	OriginDelegated OriginType = "delegated"
)

var validOrigins = map[OriginType]bool{
	OriginHuman:     true,
	OriginSystem:    true,
	OriginScheduled: true,
	OriginDelegated: true,
}

// Status is monotonic: open threads may close, closed threads never reopen.
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Outcome records how a closed thread ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeAbandoned Outcome = "abandoned"
)

var validOutcomes = map[Outcome]bool{
	OutcomeSuccess:   true,
	OutcomeFailure:   true,
	OutcomeAbandoned: true,
}

// Hop is one agent's recorded interpretation and actions within a thread.
type Hop struct {
	Sequence       int           `json:"sequence"`
	AgentID        string        `json:"agent_id"`
	AgentType      string        `json:"agent_type"`
	ReceivedIntent string        `json:"received_intent"`
	Actions        []interface{} `json:"actions"`
	Timestamp      time.Time     `json:"timestamp"`
	PrevHash       string        `json:"prev_hash"`
	Hash           string        `json:"hash"`
}

// Thread is the append-only record of one agent task's lifecycle.
// HeadHash always equals the chain recomputation over Hops from genesis;
// divergence signals tampering and is surfaced by verification, never
// silently repaired.
type Thread struct {
	ID             string            `json:"id"`
	OriginType     OriginType        `json:"origin_type"`
	OriginIdentity string            `json:"origin_identity"`
	Intent         string            `json:"intent"`
	Constraints    []string          `json:"constraints,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Status         Status            `json:"status"`
	Outcome        Outcome           `json:"outcome,omitempty"`
	Hops           []Hop             `json:"hops"`
	HeadHash       string            `json:"head_hash"`
	CreatedAt      time.Time         `json:"created_at"`
	ClosedAt       *time.Time        `json:"closed_at,omitempty"`
}

// Clone returns a deep copy so callers can never mutate stored state.
func (t *Thread) Clone() *Thread {
	cp := *t
	cp.Constraints = append([]string(nil), t.Constraints...)
	cp.Hops = append([]Hop(nil), t.Hops...)
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	if t.ClosedAt != nil {
		closedAt := *t.ClosedAt
		cp.ClosedAt = &closedAt
	}
	return &cp
}
