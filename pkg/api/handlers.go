package api

import (
	"net/http"
	"strconv"

	"github.com/weftlabs/weft/pkg/drift"
	"github.com/weftlabs/weft/pkg/thread"
)

// CreateThreadRequest is the POST /v1/threads payload.
type CreateThreadRequest struct {
	OriginType     string            `json:"origin_type"`
	OriginIdentity string            `json:"origin_identity"`
	Intent         string            `json:"intent"`
	Constraints    []string          `json:"constraints"`
	Metadata       map[string]string `json:"metadata"`
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	var req CreateThreadRequest
	if !decodeValid(w, r, "create_thread", &req) {
		return
	}

	created, err := s.Ledger.CreateThread(r.Context(), thread.CreateThreadRequest{
		OriginType:     thread.OriginType(req.OriginType),
		OriginIdentity: req.OriginIdentity,
		Intent:         req.Intent,
		Constraints:    req.Constraints,
		Metadata:       req.Metadata,
	})
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	filter := thread.Filter{
		Status:         thread.Status(r.URL.Query().Get("status")),
		OriginIdentity: r.URL.Query().Get("origin_identity"),
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			WriteBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	threads, err := s.Ledger.ListThreads(r.Context(), filter)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"threads": threads})
}

func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	t, err := s.Ledger.GetThread(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// AddHopRequest is the POST /v1/threads/{id}/hops payload.
type AddHopRequest struct {
	AgentID        string        `json:"agent_id"`
	AgentType      string        `json:"agent_type"`
	ReceivedIntent string        `json:"received_intent"`
	Actions        []interface{} `json:"actions"`
}

func (s *Server) handleAddHop(w http.ResponseWriter, r *http.Request) {
	var req AddHopRequest
	if !decodeValid(w, r, "add_hop", &req) {
		return
	}

	hop, err := s.Ledger.AddHop(r.Context(), r.PathValue("id"), req.AgentID, req.AgentType, req.ReceivedIntent, req.Actions)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if s.Obs != nil {
		s.Obs.RecordHopAppended(r.Context(), req.AgentType)
	}
	writeJSON(w, http.StatusCreated, hop)
}

// CloseThreadRequest is the POST /v1/threads/{id}/close payload.
type CloseThreadRequest struct {
	Outcome string `json:"outcome"`
}

func (s *Server) handleCloseThread(w http.ResponseWriter, r *http.Request) {
	var req CloseThreadRequest
	if !decodeValid(w, r, "close_thread", &req) {
		return
	}

	closed, err := s.Ledger.CloseThread(r.Context(), r.PathValue("id"), thread.Outcome(req.Outcome))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if s.Obs != nil {
		s.Obs.RecordThreadClosed(r.Context(), req.Outcome)
	}
	writeJSON(w, http.StatusOK, closed)
}

func (s *Server) handleVerifyThread(w http.ResponseWriter, r *http.Request) {
	result, err := s.Ledger.VerifyThread(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CompareIntentRequest is the POST /v1/drift/compare payload.
type CompareIntentRequest struct {
	OriginalIntent string   `json:"original_intent"`
	CurrentIntent  string   `json:"current_intent"`
	Constraints    []string `json:"constraints"`
}

func (s *Server) handleCompareIntent(w http.ResponseWriter, r *http.Request) {
	var req CompareIntentRequest
	if !decodeValid(w, r, "compare_intent", &req) {
		return
	}

	report, err := s.Detector.Compare(req.OriginalIntent, req.CurrentIntent, req.Constraints)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if s.Obs != nil {
		s.Obs.RecordDriftVerdict(r.Context(), string(report.Verdict))
	}
	writeJSON(w, http.StatusOK, report)
}

// ContentRequest is the payload for injection and content analysis.
type ContentRequest struct {
	Content string `json:"content"`
}

func (s *Server) handleCheckInjection(w http.ResponseWriter, r *http.Request) {
	var req ContentRequest
	if !decodeValid(w, r, "content", &req) {
		return
	}
	writeJSON(w, http.StatusOK, drift.CheckInjection(req.Content))
}

func (s *Server) handleAnalyzeContent(w http.ResponseWriter, r *http.Request) {
	var req ContentRequest
	if !decodeValid(w, r, "content", &req) {
		return
	}
	writeJSON(w, http.StatusOK, drift.AnalyzeContent(req.Content))
}

func (s *Server) handleEstimateCost(w http.ResponseWriter, r *http.Request) {
	networkName := r.URL.Query().Get("network")
	if networkName == "" {
		WriteBadRequest(w, "missing required query parameter: network")
		return
	}

	estimate, err := s.Batcher.EstimateCost(r.Context(), networkName)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, estimate)
}

// PrepareAnchorRequest is the POST /v1/anchors/prepare payload.
type PrepareAnchorRequest struct {
	Network  string `json:"network"`
	ThreadID string `json:"thread_id"`
}

func (s *Server) handlePrepareAnchor(w http.ResponseWriter, r *http.Request) {
	var req PrepareAnchorRequest
	if !decodeValid(w, r, "prepare_anchor", &req) {
		return
	}

	prepared, err := s.Batcher.PrepareAnchor(r.Context(), req.Network, req.ThreadID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, prepared)
}

// ResumeBatchRequest is the POST /v1/anchors/resume payload.
type ResumeBatchRequest struct {
	BatchID string `json:"batch_id"`
}

func (s *Server) handleResumeBatch(w http.ResponseWriter, r *http.Request) {
	var req ResumeBatchRequest
	if !decodeValid(w, r, "resume_batch", &req) {
		return
	}

	prepared, err := s.Batcher.ResumeBatch(r.Context(), req.BatchID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prepared)
}

// SubmitAnchorRequest is the POST /v1/anchors/submit payload.
type SubmitAnchorRequest struct {
	BatchID  string `json:"batch_id"`
	SignedTx string `json:"signed_tx"`
}

func (s *Server) handleSubmitAnchor(w http.ResponseWriter, r *http.Request) {
	var req SubmitAnchorRequest
	if !decodeValid(w, r, "submit_anchor", &req) {
		return
	}

	anchors, err := s.Batcher.SubmitAnchor(r.Context(), req.BatchID, []byte(req.SignedTx))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	if s.Obs != nil {
		for _, a := range anchors {
			s.Obs.RecordAnchorSubmitted(r.Context(), a.Network)
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"anchors": anchors})
}

func (s *Server) handleAnchorHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.Verifier.ListAnchorHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"anchors": history})
}

func (s *Server) handleAnchorStatus(w http.ResponseWriter, r *http.Request) {
	networkName := r.URL.Query().Get("network")
	if networkName == "" {
		WriteBadRequest(w, "missing required query parameter: network")
		return
	}

	a, err := s.Verifier.GetAnchorStatus(r.Context(), r.PathValue("id"), networkName)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleVerifyAnchor(w http.ResponseWriter, r *http.Request) {
	networkName := r.URL.Query().Get("network")
	if networkName == "" {
		WriteBadRequest(w, "missing required query parameter: network")
		return
	}

	result, err := s.Verifier.VerifyAnchor(r.Context(), r.PathValue("id"), networkName)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
