// Package api — HTTP surface for the thread ledger, drift detection, and
// anchoring. Error responses follow RFC 7807 (Problem Details).
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/weftlabs/weft/pkg/anchor"
	"github.com/weftlabs/weft/pkg/network"
	"github.com/weftlabs/weft/pkg/thread"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
// All API error responses use this format.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	problem := &ProblemDetail{
		Type:   fmt.Sprintf("https://weftlabs.dev/errors/%d", status),
		Title:  title,
		Status: status,
		Detail: detail,
	}

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteBadRequest writes a 400 error response.
func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteMethodNotAllowed writes a 405 error response.
func WriteMethodNotAllowed(w http.ResponseWriter) {
	WriteError(w, http.StatusMethodNotAllowed, "Method Not Allowed", "The HTTP method is not supported for this endpoint")
}

// WriteConflict writes a 409 error response.
func WriteConflict(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusConflict, "Conflict", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteBadGateway writes a 502 error response for upstream network faults.
func WriteBadGateway(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadGateway, "Bad Gateway", detail)
}

// WriteInternal writes a 500 error response.
// The err parameter is logged but never exposed to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

// WriteDomainError maps a domain error onto the right problem response.
// Validation faults are 400, missing resources 404, lifecycle conflicts
// 409, network adapter faults 502, everything else 500.
func WriteDomainError(w http.ResponseWriter, err error) {
	var verr *thread.ValidationError
	var adapterErr *network.AdapterError

	switch {
	case errors.As(err, &verr):
		WriteBadRequest(w, verr.Error())
	case errors.Is(err, thread.ErrNotFound):
		WriteNotFound(w, "thread not found")
	case errors.Is(err, anchor.ErrAnchorNotFound):
		WriteNotFound(w, "no anchor for thread on network")
	case errors.Is(err, anchor.ErrBatchNotFound):
		WriteNotFound(w, "batch not found")
	case errors.Is(err, thread.ErrThreadClosed):
		WriteConflict(w, "thread is closed; no further hops can be appended")
	case errors.Is(err, thread.ErrAlreadyClosed):
		WriteConflict(w, "thread is already closed")
	case errors.Is(err, thread.ErrThreadExists):
		WriteConflict(w, "thread id already exists")
	case errors.Is(err, anchor.ErrThreadOpen):
		WriteConflict(w, "thread is still open; only closed threads anchor")
	case errors.Is(err, anchor.ErrNoEligible):
		WriteConflict(w, "no threads eligible for anchoring")
	case errors.Is(err, network.ErrUnknownNetwork):
		WriteBadRequest(w, "unknown network")
	case errors.As(err, &adapterErr):
		WriteBadGateway(w, adapterErr.Error())
	default:
		WriteInternal(w, err)
	}
}
