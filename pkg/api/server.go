package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/weftlabs/weft/pkg/anchor"
	"github.com/weftlabs/weft/pkg/drift"
	"github.com/weftlabs/weft/pkg/observability"
	"github.com/weftlabs/weft/pkg/ratelimit"
	"github.com/weftlabs/weft/pkg/thread"
)

// Server exposes the ledger, drift detector, and anchoring over HTTP.
type Server struct {
	Ledger   *thread.Ledger
	Detector *drift.Detector
	Batcher  *anchor.Batcher
	Verifier *anchor.Verifier
	Obs      *observability.Provider
	Logger   *slog.Logger

	Limiter     ratelimit.Store
	LimitPolicy ratelimit.Policy
}

// Handler returns the full middleware-wrapped routing tree.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/threads", s.handleCreateThread)
	mux.HandleFunc("GET /v1/threads", s.handleListThreads)
	mux.HandleFunc("GET /v1/threads/{id}", s.handleGetThread)
	mux.HandleFunc("POST /v1/threads/{id}/hops", s.handleAddHop)
	mux.HandleFunc("POST /v1/threads/{id}/close", s.handleCloseThread)
	mux.HandleFunc("GET /v1/threads/{id}/verify", s.handleVerifyThread)
	mux.HandleFunc("GET /v1/threads/{id}/anchors", s.handleAnchorHistory)
	mux.HandleFunc("GET /v1/threads/{id}/anchors/status", s.handleAnchorStatus)
	mux.HandleFunc("GET /v1/threads/{id}/anchors/verify", s.handleVerifyAnchor)

	mux.HandleFunc("POST /v1/drift/compare", s.handleCompareIntent)
	mux.HandleFunc("POST /v1/drift/injection", s.handleCheckInjection)
	mux.HandleFunc("POST /v1/drift/content", s.handleAnalyzeContent)

	mux.HandleFunc("GET /v1/anchors/estimate", s.handleEstimateCost)
	mux.HandleFunc("POST /v1/anchors/prepare", s.handlePrepareAnchor)
	mux.HandleFunc("POST /v1/anchors/resume", s.handleResumeBatch)
	mux.HandleFunc("POST /v1/anchors/submit", s.handleSubmitAnchor)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var handler http.Handler = mux
	if s.Limiter != nil {
		handler = RateLimit(s.Limiter, s.LimitPolicy, handler)
	}
	handler = Logging(logger, handler)
	handler = RequestID(handler)
	return handler
}

// decodeValid reads the body, validates it against the named schema, and
// unmarshals into out. Returns false after writing the error response.
func decodeValid(w http.ResponseWriter, r *http.Request, schemaName string, out interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		WriteBadRequest(w, "Unable to read request body")
		return false
	}

	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		WriteBadRequest(w, "Invalid JSON body")
		return false
	}
	if err := validateRequest(schemaName, doc); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
