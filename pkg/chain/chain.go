// Package chain computes and verifies per-thread hash chains over ordered
// hops. Append is pure and deterministic: the same inputs always yield the
// same hash, so independent verifiers reproduce identical chains.
package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/weftlabs/weft/pkg/canonicalize"
)

const (
	genesisPrefix = "weft:thread:genesis:v1"
	hopPrefix     = "weft:thread:hop:v1"
)

// DefaultNamespace is used when a deployment does not configure its own.
const DefaultNamespace = "default"

// HopFields are the fields of a hop that are bound into its hash.
// Timestamp is formatted to RFC3339Nano UTC before encoding so the canonical
// form is identical regardless of the source location or precision.
type HopFields struct {
	Sequence       int           `json:"sequence"`
	AgentID        string        `json:"agent_id"`
	AgentType      string        `json:"agent_type"`
	ReceivedIntent string        `json:"received_intent"`
	Actions        []interface{} `json:"actions"`
	Timestamp      string        `json:"timestamp"`
}

// NewHopFields builds HopFields with the timestamp in canonical form.
func NewHopFields(sequence int, agentID, agentType, receivedIntent string, actions []interface{}, ts time.Time) HopFields {
	return HopFields{
		Sequence:       sequence,
		AgentID:        agentID,
		AgentType:      agentType,
		ReceivedIntent: receivedIntent,
		Actions:        actions,
		Timestamp:      ts.UTC().Format(time.RFC3339Nano),
	}
}

// GenesisHash derives the well-known head hash of an empty thread.
// The deployment namespace is mixed in to avoid cross-deployment collision.
func GenesisHash(namespace string) string {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	var buf bytes.Buffer
	buf.WriteString(genesisPrefix)
	buf.WriteByte(0)
	buf.WriteString(namespace)
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

// Append computes the hash of a hop given the thread's current head hash.
// It has no side effects and never mutates stored state.
func Append(prevHash string, fields HopFields) (string, error) {
	canonical, err := canonicalize.JCS(fields)
	if err != nil {
		return "", fmt.Errorf("chain: encode hop %d: %w", fields.Sequence, err)
	}

	var buf bytes.Buffer
	buf.WriteString(hopPrefix)
	buf.WriteByte(0)
	buf.WriteString(prevHash)
	buf.WriteByte(0)
	buf.Write(canonical)

	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// Record is one stored hop as seen by verification: the hashed fields plus
// the link hashes recorded at append time.
type Record struct {
	Fields   HopFields
	PrevHash string
	Hash     string
}

// Result reports the outcome of a chain verification.
// BrokenAt is the first divergent sequence number, or -1 when the chain is
// valid.
type Result struct {
	Valid    bool `json:"valid"`
	BrokenAt int  `json:"broken_at"`
}

func valid() Result         { return Result{Valid: true, BrokenAt: -1} }
func broken(seq int) Result { return Result{Valid: false, BrokenAt: seq} }

// Verify recomputes every hop hash from genesis and compares against the
// stored hashes and prev_hash links. The first divergence wins: a tampered
// hop is reported at its own sequence, never at a later one.
func Verify(genesis string, hops []Record, headHash string) (Result, error) {
	prev := genesis
	for i, hop := range hops {
		if hop.Fields.Sequence != i {
			return broken(i), nil
		}
		if hop.PrevHash != prev {
			return broken(i), nil
		}

		recomputed, err := Append(prev, hop.Fields)
		if err != nil {
			return Result{}, err
		}
		if recomputed != hop.Hash {
			return broken(i), nil
		}
		prev = hop.Hash
	}

	if headHash != prev {
		// Head diverged from the recomputed chain tail.
		return broken(len(hops)), nil
	}
	return valid(), nil
}
