package network_test

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftlabs/weft/pkg/network"
)

// fakeNode serves JSON-RPC 2.0 from a method table and records the params
// it saw per method.
type fakeNode struct {
	t       *testing.T
	results map[string]interface{}
	errs    map[string]string
	params  map[string]json.RawMessage
	server  *httptest.Server
}

func newFakeNode(t *testing.T) *fakeNode {
	t.Helper()
	n := &fakeNode{
		t:       t,
		results: make(map[string]interface{}),
		errs:    make(map[string]string),
		params:  make(map[string]json.RawMessage),
	}
	n.server = httptest.NewServer(http.HandlerFunc(n.handle))
	t.Cleanup(n.server.Close)
	return n
}

func (n *fakeNode) handle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     uint64          `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	n.params[req.Method] = req.Params

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if msg, ok := n.errs[req.Method]; ok {
		resp["error"] = map[string]interface{}{"code": -32000, "message": msg}
	} else if result, ok := n.results[req.Method]; ok {
		resp["result"] = result
	} else {
		resp["result"] = nil
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func newEVM(n *fakeNode) *network.EVMAdapter {
	return network.NewEVMAdapter(network.EVMConfig{
		Name:     "sepolia",
		Endpoint: n.server.URL,
		ChainID:  11155111,
		From:     "0xaaaa000000000000000000000000000000000001",
		To:       "0xbbbb000000000000000000000000000000000002",
		Timeout:  2 * time.Second,
	})
}

func newSolana(n *fakeNode) *network.SolanaAdapter {
	return network.NewSolanaAdapter(network.SolanaConfig{
		Name:     "devnet",
		Endpoint: n.server.URL,
		Payer:    "PayerPubkey11111111111111111111111111111111",
		Timeout:  2 * time.Second,
	})
}

func TestEVMEstimateFee(t *testing.T) {
	node := newFakeNode(t)
	node.results["eth_gasPrice"] = "0x3b9aca00" // 1 gwei

	est, err := newEVM(node).EstimateFee(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "sepolia", est.Network)
	assert.Equal(t, "wei", est.Currency)
	// 21000 base + 16 gas per byte of anchor-sized calldata, at 1 gwei.
	assert.Equal(t, uint64(1_000_000_000)*(21000+16*75), est.Amount)
	assert.False(t, est.EstimatedAt.IsZero())
}

func TestEVMEstimateFeeNodeError(t *testing.T) {
	node := newFakeNode(t)
	node.errs["eth_gasPrice"] = "node on fire"

	_, err := newEVM(node).EstimateFee(context.Background())

	var adapterErr *network.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, "sepolia", adapterErr.Network)
	assert.Equal(t, "estimate_fee", adapterErr.Op)
	assert.Contains(t, adapterErr.Error(), "node on fire")
}

func TestEVMBuildUnsignedTx(t *testing.T) {
	node := newFakeNode(t)
	node.results["eth_getTransactionCount"] = "0x5"
	node.results["eth_gasPrice"] = "0x2"

	payload := []byte("weft:v1:deadbeef")
	tx, err := newEVM(node).BuildUnsignedTx(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, "sepolia", tx.Network)
	assert.True(t, strings.HasPrefix(tx.PayloadHash, "0x"))
	assert.Equal(t, uint64(2)*(21000+16*uint64(len(payload))), tx.Fee.Amount)

	var skeleton map[string]string
	require.NoError(t, json.Unmarshal(tx.Payload, &skeleton))
	assert.Equal(t, "0x5", skeleton["nonce"])
	assert.Equal(t, "0x"+hex.EncodeToString(payload), skeleton["data"])
	assert.Equal(t, "0xaaaa000000000000000000000000000000000001", skeleton["from"])

	// The nonce query pins the pending count for the configured sender.
	assert.Contains(t, string(node.params["eth_getTransactionCount"]), "pending")
}

func TestEVMSubmit(t *testing.T) {
	node := newFakeNode(t)
	node.results["eth_sendRawTransaction"] = "0xabc123"
	a := newEVM(node)

	ref, err := a.Submit(context.Background(), []byte("0xf86c0a85"))
	require.NoError(t, err)
	assert.Equal(t, network.TxRef("0xabc123"), ref)

	var adapterErr *network.AdapterError
	_, err = a.Submit(context.Background(), []byte("f86c0a85"))
	require.ErrorAs(t, err, &adapterErr)
	assert.Contains(t, err.Error(), "0x-prefixed")

	_, err = a.Submit(context.Background(), []byte("0xzzzz"))
	require.ErrorAs(t, err, &adapterErr)
}

func TestEVMSubmitNodeRejection(t *testing.T) {
	node := newFakeNode(t)
	node.errs["eth_sendRawTransaction"] = "nonce too low"

	_, err := newEVM(node).Submit(context.Background(), []byte("0xf86c0a85"))

	var adapterErr *network.AdapterError
	require.ErrorAs(t, err, &adapterErr)
	assert.Equal(t, "submit", adapterErr.Op)
	assert.Contains(t, err.Error(), "nonce too low")
}

func TestEVMFetchConfirmation(t *testing.T) {
	node := newFakeNode(t)
	node.results["eth_getTransactionReceipt"] = map[string]string{
		"blockNumber": "0x10",
		"status":      "0x1",
	}
	node.results["eth_blockNumber"] = "0x14"
	node.results["eth_getTransactionByHash"] = map[string]string{
		"input": "0x" + hex.EncodeToString([]byte("weft:v1:root")),
	}

	conf, err := newEVM(node).FetchConfirmation(context.Background(), "0xabc123")
	require.NoError(t, err)

	assert.Equal(t, uint64(5), conf.Confirmations)
	assert.Equal(t, []byte("weft:v1:root"), conf.CommittedData)
	assert.False(t, conf.Failed)
}

func TestEVMFetchConfirmationPending(t *testing.T) {
	node := newFakeNode(t)
	// Null receipt: transaction is in the mempool at best.

	conf, err := newEVM(node).FetchConfirmation(context.Background(), "0xabc123")
	require.NoError(t, err)
	assert.Zero(t, conf.Confirmations)
	assert.False(t, conf.Failed)
}

func TestEVMFetchConfirmationReverted(t *testing.T) {
	node := newFakeNode(t)
	node.results["eth_getTransactionReceipt"] = map[string]string{
		"blockNumber": "0x10",
		"status":      "0x0",
	}
	node.results["eth_blockNumber"] = "0x11"
	node.results["eth_getTransactionByHash"] = map[string]string{"input": "0x"}

	conf, err := newEVM(node).FetchConfirmation(context.Background(), "0xabc123")
	require.NoError(t, err)
	assert.True(t, conf.Failed)
}

func TestSolanaEstimateFee(t *testing.T) {
	node := newFakeNode(t)
	node.results["getFeeForMessage"] = map[string]interface{}{"value": 7000}

	est, err := newSolana(node).EstimateFee(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(7000), est.Amount)
	assert.Equal(t, "lamports", est.Currency)
}

func TestSolanaEstimateFeeFallback(t *testing.T) {
	node := newFakeNode(t)
	node.results["getFeeForMessage"] = map[string]interface{}{"value": nil}

	est, err := newSolana(node).EstimateFee(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), est.Amount)
}

func TestSolanaBuildUnsignedTx(t *testing.T) {
	node := newFakeNode(t)
	node.results["getLatestBlockhash"] = map[string]interface{}{
		"value": map[string]string{"blockhash": "9sHcv6xwn9YkB8nxTUGKDwPwNnmqfp5hq"},
	}
	node.results["getFeeForMessage"] = map[string]interface{}{"value": 5000}

	payload := []byte("weft:v1:cafef00d")
	tx, err := newSolana(node).BuildUnsignedTx(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, "devnet", tx.Network)
	assert.NotEmpty(t, tx.PayloadHash)

	var skeleton struct {
		RecentBlockhash string `json:"recentBlockhash"`
		FeePayer        string `json:"feePayer"`
		Instructions    []struct {
			Program string `json:"program"`
			Data    string `json:"data"`
		} `json:"instructions"`
	}
	require.NoError(t, json.Unmarshal(tx.Payload, &skeleton))
	assert.Equal(t, "9sHcv6xwn9YkB8nxTUGKDwPwNnmqfp5hq", skeleton.RecentBlockhash)
	require.Len(t, skeleton.Instructions, 1)
	assert.Equal(t, base64.StdEncoding.EncodeToString(payload), skeleton.Instructions[0].Data)
}

func TestSolanaSubmit(t *testing.T) {
	node := newFakeNode(t)
	node.results["sendTransaction"] = "5VERv8NMvzbJMEkV8xnrLkEaWRtSz"
	a := newSolana(node)

	signed := base64.StdEncoding.EncodeToString([]byte("signed-bytes"))
	ref, err := a.Submit(context.Background(), []byte(signed))
	require.NoError(t, err)
	assert.Equal(t, network.TxRef("5VERv8NMvzbJMEkV8xnrLkEaWRtSz"), ref)

	var adapterErr *network.AdapterError
	_, err = a.Submit(context.Background(), []byte(""))
	require.ErrorAs(t, err, &adapterErr)

	_, err = a.Submit(context.Background(), []byte("not@base64!"))
	require.ErrorAs(t, err, &adapterErr)
}

func TestSolanaFetchConfirmation(t *testing.T) {
	node := newFakeNode(t)
	node.results["getSignatureStatuses"] = map[string]interface{}{
		"value": []interface{}{
			map[string]interface{}{"confirmations": 4, "confirmationStatus": "confirmed"},
		},
	}

	conf, err := newSolana(node).FetchConfirmation(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), conf.Confirmations)
	assert.False(t, conf.Failed)
}

func TestSolanaFetchConfirmationFinalized(t *testing.T) {
	node := newFakeNode(t)
	node.results["getSignatureStatuses"] = map[string]interface{}{
		"value": []interface{}{
			map[string]interface{}{"confirmations": nil, "confirmationStatus": "finalized"},
		},
	}

	conf, err := newSolana(node).FetchConfirmation(context.Background(), "sig")
	require.NoError(t, err)
	assert.Equal(t, uint64(math.MaxUint32), conf.Confirmations)
}

func TestSolanaFetchConfirmationClusterError(t *testing.T) {
	node := newFakeNode(t)
	node.results["getSignatureStatuses"] = map[string]interface{}{
		"value": []interface{}{
			map[string]interface{}{
				"confirmations": 2,
				"err":           map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}},
			},
		},
	}

	conf, err := newSolana(node).FetchConfirmation(context.Background(), "sig")
	require.NoError(t, err)
	assert.True(t, conf.Failed)
}

func TestSolanaFetchConfirmationUnknownSignature(t *testing.T) {
	node := newFakeNode(t)
	node.results["getSignatureStatuses"] = map[string]interface{}{"value": []interface{}{nil}}

	conf, err := newSolana(node).FetchConfirmation(context.Background(), "sig")
	require.NoError(t, err)
	assert.Zero(t, conf.Confirmations)
	assert.False(t, conf.Failed)
}

func TestRegistry(t *testing.T) {
	node := newFakeNode(t)
	reg := network.NewRegistry()
	reg.Register(newEVM(node), 6)
	reg.Register(newSolana(node), 32)

	assert.Equal(t, []string{"devnet", "sepolia"}, reg.Names())

	a, err := reg.Adapter("sepolia")
	require.NoError(t, err)
	assert.Equal(t, "sepolia", a.Name())

	depth, err := reg.Finality("devnet")
	require.NoError(t, err)
	assert.Equal(t, uint64(32), depth)

	_, err = reg.Adapter("mainnet")
	assert.True(t, errors.Is(err, network.ErrUnknownNetwork))
	_, err = reg.Finality("mainnet")
	assert.True(t, errors.Is(err, network.ErrUnknownNetwork))
}
