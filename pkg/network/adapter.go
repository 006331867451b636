// Package network defines the capability boundary to external ledgers:
// fee estimation, unsigned transaction construction, signed submission, and
// on-chain read-back. Adapters never hold key material; signing happens
// outside this subsystem's trust boundary.
package network

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// PayloadPrefix marks weft anchor payloads on chain.
const PayloadPrefix = "weft:v1:"

// CostEstimate is a point-in-time fee estimate for one anchor transaction.
type CostEstimate struct {
	Network     string    `json:"network"`
	Amount      uint64    `json:"amount"`
	Currency    string    `json:"currency"`
	EstimatedAt time.Time `json:"estimated_at"`
}

// UnsignedTx is a network-specific transaction body awaiting an external
// signature.
type UnsignedTx struct {
	Network     string       `json:"network"`
	Payload     []byte       `json:"payload"`
	PayloadHash string       `json:"payload_hash"`
	Fee         CostEstimate `json:"fee"`
}

// TxRef identifies a submitted transaction on its network.
type TxRef string

// Confirmation is the on-chain read-back for a submitted transaction.
// Failed reports a transaction the chain executed and rejected; a failed or
// stuck submission is resolved by submitting a new transaction, never by
// retracting the old one.
type Confirmation struct {
	Confirmations uint64 `json:"confirmations"`
	CommittedData []byte `json:"committed_data"`
	Failed        bool   `json:"failed"`
}

// Adapter is the per-ledger capability interface. All calls are subject to
// the adapter's configured timeout; internal ledger operations are not.
type Adapter interface {
	Name() string
	EstimateFee(ctx context.Context) (CostEstimate, error)
	BuildUnsignedTx(ctx context.Context, payload []byte) (UnsignedTx, error)
	Submit(ctx context.Context, signedTx []byte) (TxRef, error)
	FetchConfirmation(ctx context.Context, ref TxRef) (Confirmation, error)
}

// AdapterError wraps a failure from a network adapter, distinguished from
// internal errors and carrying the adapter's native detail.
type AdapterError struct {
	Network string
	Op      string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("network %s: %s: %v", e.Network, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// ErrUnknownNetwork is returned for a network name with no registered
// adapter.
var ErrUnknownNetwork = errors.New("unknown network")

// Registry holds the configured adapters and their finality thresholds,
// keyed by network name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	finality map[string]uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		finality: make(map[string]uint64),
	}
}

// Register adds an adapter with its confirmation-depth finality threshold.
func (r *Registry) Register(adapter Adapter, finality uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Name()] = adapter
	r.finality[adapter.Name()] = finality
}

// Adapter returns the adapter for a network name.
func (r *Registry) Adapter(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adapter, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
	return adapter, nil
}

// Finality returns the configured confirmation depth for a network.
func (r *Registry) Finality(name string) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	depth, ok := r.finality[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
	}
	return depth, nil
}

// Names lists the registered network names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
