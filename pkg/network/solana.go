package network

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/weftlabs/weft/pkg/canonicalize"
)

// SolanaConfig configures a Solana-style JSON-RPC adapter.
type SolanaConfig struct {
	Name     string        `yaml:"name"`
	Endpoint string        `yaml:"endpoint"`
	Payer    string        `yaml:"payer"`
	Timeout  time.Duration `yaml:"timeout"`
}

// defaultLamportsPerSignature is used when the node does not return a fee.
const defaultLamportsPerSignature = 5000

// SolanaAdapter anchors batch roots through a memo instruction on a
// Solana-style network.
type SolanaAdapter struct {
	cfg SolanaConfig
	rpc *rpcClient
}

// NewSolanaAdapter builds an adapter for one Solana-style network.
func NewSolanaAdapter(cfg SolanaConfig) *SolanaAdapter {
	return &SolanaAdapter{cfg: cfg, rpc: newRPCClient(cfg.Name, cfg.Endpoint, cfg.Timeout)}
}

func (a *SolanaAdapter) Name() string { return a.cfg.Name }

func (a *SolanaAdapter) wrap(op string, err error) error {
	return &AdapterError{Network: a.cfg.Name, Op: op, Err: err}
}

type solanaFeeResult struct {
	Value *uint64 `json:"value"`
}

// EstimateFee returns the lamport fee for a single-signature memo
// transaction.
func (a *SolanaAdapter) EstimateFee(ctx context.Context) (CostEstimate, error) {
	// getFeeForMessage needs a built message; a base fee query keeps the
	// estimate side effect free. Nodes without the endpoint fall back to the
	// protocol default.
	amount := uint64(defaultLamportsPerSignature)

	var result solanaFeeResult
	err := a.rpc.call(ctx, "getFeeForMessage", []interface{}{"", map[string]string{"commitment": "processed"}}, &result)
	if err == nil && result.Value != nil && *result.Value > 0 {
		amount = *result.Value
	}

	return CostEstimate{
		Network:     a.cfg.Name,
		Amount:      amount,
		Currency:    "lamports",
		EstimatedAt: time.Now().UTC(),
	}, nil
}

type solanaBlockhashResult struct {
	Value struct {
		Blockhash string `json:"blockhash"`
	} `json:"value"`
}

// BuildUnsignedTx builds a canonical memo-transaction skeleton carrying the
// payload, bound to a recent blockhash.
func (a *SolanaAdapter) BuildUnsignedTx(ctx context.Context, payload []byte) (UnsignedTx, error) {
	var blockhash solanaBlockhashResult
	if err := a.rpc.call(ctx, "getLatestBlockhash", []interface{}{map[string]string{"commitment": "finalized"}}, &blockhash); err != nil {
		return UnsignedTx{}, a.wrap("build_unsigned_tx", err)
	}

	fee, err := a.EstimateFee(ctx)
	if err != nil {
		return UnsignedTx{}, err
	}

	skeleton := map[string]interface{}{
		"recentBlockhash": blockhash.Value.Blockhash,
		"feePayer":        a.cfg.Payer,
		"instructions": []map[string]interface{}{
			{
				"program": "memo",
				"data":    base64.StdEncoding.EncodeToString(payload),
			},
		},
	}

	body, err := canonicalize.JCS(skeleton)
	if err != nil {
		return UnsignedTx{}, a.wrap("build_unsigned_tx", err)
	}

	return UnsignedTx{
		Network:     a.cfg.Name,
		Payload:     body,
		PayloadHash: canonicalize.HashBytes(body),
		Fee:         fee,
	}, nil
}

// Submit forwards an already-signed transaction in base64 wire encoding.
func (a *SolanaAdapter) Submit(ctx context.Context, signedTx []byte) (TxRef, error) {
	raw := strings.TrimSpace(string(signedTx))
	if raw == "" {
		return "", a.wrap("submit", fmt.Errorf("signed transaction is empty"))
	}
	if _, err := base64.StdEncoding.DecodeString(raw); err != nil {
		return "", a.wrap("submit", fmt.Errorf("signed transaction is not valid base64: %w", err))
	}

	var signature string
	err := a.rpc.call(ctx, "sendTransaction", []interface{}{raw, map[string]string{"encoding": "base64"}}, &signature)
	if err != nil {
		return "", a.wrap("submit", err)
	}
	return TxRef(signature), nil
}

type solanaSignatureStatuses struct {
	Value []*struct {
		Confirmations      *uint64 `json:"confirmations"`
		ConfirmationStatus string  `json:"confirmationStatus"`
		Err                any     `json:"err"`
	} `json:"value"`
}

// FetchConfirmation reads back a signature status. A finalized transaction
// reports unbounded depth; the node signals that with a null confirmation
// count.
func (a *SolanaAdapter) FetchConfirmation(ctx context.Context, ref TxRef) (Confirmation, error) {
	var statuses solanaSignatureStatuses
	err := a.rpc.call(ctx, "getSignatureStatuses", []interface{}{
		[]string{string(ref)},
		map[string]bool{"searchTransactionHistory": true},
	}, &statuses)
	if err != nil {
		return Confirmation{}, a.wrap("fetch_confirmation", err)
	}

	if len(statuses.Value) == 0 || statuses.Value[0] == nil {
		return Confirmation{}, nil
	}

	status := statuses.Value[0]
	if status.Err != nil {
		// Executed and rejected by the cluster. Not a transport fault: the
		// caller decides what to do with a dead transaction.
		return Confirmation{Failed: true}, nil
	}

	confirmations := uint64(0)
	if status.Confirmations != nil {
		confirmations = *status.Confirmations
	} else if status.ConfirmationStatus == "finalized" {
		confirmations = math.MaxUint32
	}

	return Confirmation{Confirmations: confirmations}, nil
}
