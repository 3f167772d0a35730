package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/superego-ai/superego/internal/ctxkey"
	"github.com/superego-ai/superego/internal/domain/audit"
	"github.com/superego-ai/superego/internal/domain/decision"
	"github.com/superego-ai/superego/internal/domain/health"
	"github.com/superego-ai/superego/internal/domain/request"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// apiError is the JSON error envelope for all endpoint failures.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleEvaluate resolves one ToolRequest to a Decision.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, decision.CodeValidation, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusBadRequest, decision.CodeValidation, "request body too large (max 1MB)")
			return
		}
		writeError(w, http.StatusBadRequest, decision.CodeValidation, "failed to read request body")
		return
	}
	if len(body) == 0 {
		writeError(w, http.StatusBadRequest, decision.CodeValidation, "empty request body")
		return
	}

	var req request.ToolRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, decision.CodeValidation, "request body is not a valid tool request")
		return
	}

	dec, err := s.evaluator.Evaluate(r.Context(), &req, audit.TransportHTTP)
	if err != nil {
		status, code, msg := mapEvaluateError(err)
		writeError(w, status, code, msg)
		return
	}

	// Single canonical marshal: the bytes served here are identical to
	// the bytes the stdio and WebSocket transports produce.
	payload, err := json.Marshal(dec)
	if err != nil {
		ctxkey.LoggerFrom(r.Context(), s.logger).Error("decision marshal failed", "error", err)
		writeError(w, http.StatusInternalServerError, decision.CodeInternal, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// mapEvaluateError translates engine errors into HTTP status codes.
// Internal reasons are redacted; validation messages pass through.
func mapEvaluateError(err error) (int, decision.Code, string) {
	var decErr *decision.Error
	if !errors.As(err, &decErr) {
		return http.StatusInternalServerError, decision.CodeInternal, "internal error"
	}

	switch decErr.Code {
	case decision.CodeValidation:
		return http.StatusBadRequest, decision.CodeValidation, decErr.Message
	case decision.CodeAdvisorUnavailable:
		return http.StatusServiceUnavailable, decision.CodeAdvisorUnavailable, decErr.Message
	default:
		return http.StatusInternalServerError, decision.CodeInternal, "internal error"
	}
}

// handleHealth serves the component health report. An unhealthy report
// (no servable rule snapshot) responds 503 so load balancers stop routing
// to this instance; degraded still answers 200 because fail-mode keeps
// decisions flowing.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, decision.CodeValidation, "method not allowed")
		return
	}

	report := s.health.Health(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if report.Status == health.StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	_ = json.NewEncoder(w).Encode(report)
}

// infoResponse is the JSON body of GET /info.
type infoResponse struct {
	Name          string  `json:"name"`
	Version       string  `json:"version"`
	Transport     string  `json:"transport"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, decision.CodeValidation, "method not allowed")
		return
	}

	info := infoResponse{
		Name:          "superego",
		Version:       s.version,
		Transport:     audit.TransportHTTP,
		UptimeSeconds: time.Since(s.started).Seconds(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(info)
}

// writeError writes the JSON error envelope with the given status.
func writeError(w http.ResponseWriter, status int, code decision.Code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apiError{
		Error: apiErrorBody{Code: string(code), Message: message},
	})
}
