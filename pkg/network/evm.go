package network

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/weftlabs/weft/pkg/canonicalize"
)

// EVMConfig configures an Ethereum-style JSON-RPC adapter.
type EVMConfig struct {
	Name     string        `yaml:"name"`
	Endpoint string        `yaml:"endpoint"`
	ChainID  uint64        `yaml:"chain_id"`
	From     string        `yaml:"from"`
	To       string        `yaml:"to"`
	Timeout  time.Duration `yaml:"timeout"`
}

// EVMAdapter anchors batch roots as calldata on an Ethereum-style network.
type EVMAdapter struct {
	cfg EVMConfig
	rpc *rpcClient
}

// NewEVMAdapter builds an adapter for one EVM-style network.
func NewEVMAdapter(cfg EVMConfig) *EVMAdapter {
	return &EVMAdapter{cfg: cfg, rpc: newRPCClient(cfg.Name, cfg.Endpoint, cfg.Timeout)}
}

func (a *EVMAdapter) Name() string { return a.cfg.Name }

func (a *EVMAdapter) wrap(op string, err error) error {
	return &AdapterError{Network: a.cfg.Name, Op: op, Err: err}
}

// anchorPayloadBytes sizes fee estimates: prefix plus a hex-encoded root.
const anchorPayloadBytes = 75

func anchorGas(payloadLen int) uint64 {
	// 21000 base + 16 gas per calldata byte.
	return uint64(21000 + 16*payloadLen)
}

func (a *EVMAdapter) gasPrice(ctx context.Context) (uint64, error) {
	var gasPriceHex string
	if err := a.rpc.call(ctx, "eth_gasPrice", nil, &gasPriceHex); err != nil {
		return 0, err
	}
	return parseHexUint(gasPriceHex)
}

// EstimateFee returns gas price times the gas needed for an anchor-sized
// calldata transaction, in wei.
func (a *EVMAdapter) EstimateFee(ctx context.Context) (CostEstimate, error) {
	gasPrice, err := a.gasPrice(ctx)
	if err != nil {
		return CostEstimate{}, a.wrap("estimate_fee", err)
	}

	return CostEstimate{
		Network:     a.cfg.Name,
		Amount:      gasPrice * anchorGas(anchorPayloadBytes),
		Currency:    "wei",
		EstimatedAt: time.Now().UTC(),
	}, nil
}

// BuildUnsignedTx builds the unsigned transaction skeleton embedding the
// payload as calldata. The skeleton is canonical JSON so external signers
// reproduce the exact payload hash.
func (a *EVMAdapter) BuildUnsignedTx(ctx context.Context, payload []byte) (UnsignedTx, error) {
	var nonceHex string
	if err := a.rpc.call(ctx, "eth_getTransactionCount", []interface{}{a.cfg.From, "pending"}, &nonceHex); err != nil {
		return UnsignedTx{}, a.wrap("build_unsigned_tx", err)
	}

	gasPrice, err := a.gasPrice(ctx)
	if err != nil {
		return UnsignedTx{}, a.wrap("build_unsigned_tx", err)
	}
	gas := anchorGas(len(payload))

	skeleton := map[string]interface{}{
		"chainId":  fmt.Sprintf("0x%x", a.cfg.ChainID),
		"from":     a.cfg.From,
		"to":       a.cfg.To,
		"nonce":    nonceHex,
		"value":    "0x0",
		"gas":      fmt.Sprintf("0x%x", gas),
		"gasPrice": fmt.Sprintf("0x%x", gasPrice),
		"data":     "0x" + hex.EncodeToString(payload),
	}

	body, err := canonicalize.JCS(skeleton)
	if err != nil {
		return UnsignedTx{}, a.wrap("build_unsigned_tx", err)
	}

	return UnsignedTx{
		Network:     a.cfg.Name,
		Payload:     body,
		PayloadHash: keccakHex(body),
		Fee: CostEstimate{
			Network:     a.cfg.Name,
			Amount:      gasPrice * gas,
			Currency:    "wei",
			EstimatedAt: time.Now().UTC(),
		},
	}, nil
}

// Submit forwards an already-signed raw transaction. The signed blob must be
// 0x-prefixed hex; anything else is rejected by the node and surfaced as an
// AdapterError without retry.
func (a *EVMAdapter) Submit(ctx context.Context, signedTx []byte) (TxRef, error) {
	raw := strings.TrimSpace(string(signedTx))
	if !strings.HasPrefix(raw, "0x") {
		return "", a.wrap("submit", fmt.Errorf("signed transaction is not 0x-prefixed hex"))
	}
	if _, err := hex.DecodeString(raw[2:]); err != nil {
		return "", a.wrap("submit", fmt.Errorf("signed transaction is not valid hex: %w", err))
	}

	var txHash string
	if err := a.rpc.call(ctx, "eth_sendRawTransaction", []interface{}{raw}, &txHash); err != nil {
		return "", a.wrap("submit", err)
	}
	return TxRef(txHash), nil
}

type evmReceipt struct {
	BlockNumber string `json:"blockNumber"`
	Status      string `json:"status"`
}

type evmTransaction struct {
	Input string `json:"input"`
}

// FetchConfirmation reads back the receipt and reports the confirmation
// depth plus the committed calldata.
func (a *EVMAdapter) FetchConfirmation(ctx context.Context, ref TxRef) (Confirmation, error) {
	var receipt *evmReceipt
	if err := a.rpc.call(ctx, "eth_getTransactionReceipt", []interface{}{string(ref)}, &receipt); err != nil {
		return Confirmation{}, a.wrap("fetch_confirmation", err)
	}
	if receipt == nil || receipt.BlockNumber == "" {
		// Known to the mempool at best; zero confirmations.
		return Confirmation{}, nil
	}

	var headHex string
	if err := a.rpc.call(ctx, "eth_blockNumber", nil, &headHex); err != nil {
		return Confirmation{}, a.wrap("fetch_confirmation", err)
	}

	head, err := parseHexUint(headHex)
	if err != nil {
		return Confirmation{}, a.wrap("fetch_confirmation", err)
	}
	mined, err := parseHexUint(receipt.BlockNumber)
	if err != nil {
		return Confirmation{}, a.wrap("fetch_confirmation", err)
	}

	confirmations := uint64(0)
	if head >= mined {
		confirmations = head - mined + 1
	}

	var tx *evmTransaction
	if err := a.rpc.call(ctx, "eth_getTransactionByHash", []interface{}{string(ref)}, &tx); err != nil {
		return Confirmation{}, a.wrap("fetch_confirmation", err)
	}

	var committed []byte
	if tx != nil && strings.HasPrefix(tx.Input, "0x") {
		committed, _ = hex.DecodeString(tx.Input[2:])
	}

	return Confirmation{
		Confirmations: confirmations,
		CommittedData: committed,
		Failed:        receipt.Status == "0x0",
	}, nil
}

func parseHexUint(s string) (uint64, error) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, fmt.Errorf("empty hex quantity")
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse hex quantity %q: %w", s, err)
	}
	return v, nil
}

func keccakHex(data []byte) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
