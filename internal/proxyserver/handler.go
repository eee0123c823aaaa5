// Package proxyserver implements the HTTP surface: request validation,
// credential selection, upstream forwarding to GitHub Copilot, response
// rewriting, and the operator-facing admin endpoints.
package proxyserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"copilot-gateway/internal/admin"
	"copilot-gateway/internal/backup"
	"copilot-gateway/internal/config"
	"copilot-gateway/internal/oauth"
	"copilot-gateway/internal/pool"
	"copilot-gateway/internal/recovery"
	"copilot-gateway/internal/stats"
)

// Server holds every collaborator the HTTP handlers need.
type Server struct {
	cfg       *config.Config
	pool      *pool.Pool
	stats     *stats.Stats
	oauthCtl  *oauth.Controller
	scanner   *recovery.Scanner
	backupEng *backup.Engine
	backupSt  *backup.State
	guard     *admin.Guard

	client *http.Client
}

// New wires a Server from its collaborators.
func New(cfg *config.Config, p *pool.Pool, st *stats.Stats, oc *oauth.Controller, sc *recovery.Scanner) *Server {
	backupState := backup.NewState()
	return &Server{
		cfg:       cfg,
		pool:      p,
		stats:     st,
		oauthCtl:  oc,
		scanner:   sc,
		backupEng: backup.NewEngine(p, backupState),
		backupSt:  backupState,
		guard:     admin.New(cfg.AdminAPIKey),
		client:    &http.Client{Timeout: cfg.RequestTimeout},
	}
}

// Handler builds the complete mux: client-facing chat/models/health routes,
// CORS handling, and the admin surface guarded by admin.Guard. A panicking
// handler is answered with a 500 error envelope.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /models", s.handleModels)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("POST /chat/completions", s.handleChatCompletions)

	mux.HandleFunc("GET /admin/stats", s.guard.Middleware(s.handleAdminStats))
	mux.HandleFunc("POST /admin/accounts", s.guard.Middleware(s.handleAdminAddAccount))
	mux.HandleFunc("POST /admin/recovery-scan", s.guard.Middleware(s.handleAdminRecoveryScan))
	mux.HandleFunc("POST /admin/backup/export", s.guard.Middleware(s.handleAdminBackupExport))
	mux.HandleFunc("POST /admin/backup/import", s.guard.Middleware(s.handleAdminBackupImport))

	cors := withCORS(mux)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		cors.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats := s.pool.Statistics()
	health := s.stats.GetHealthStatus()

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":%q,"running":%t,"credentials_available":%d,"credentials_total":%d,"timestamp":%q}`,
		health, s.stats.IsRunning(), stats.Available, stats.Total, time.Now().UTC().Format(time.RFC3339))
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	token, ok := s.pool.GetCurrent()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "No authentication tokens available")
		return
	}

	req, err := http.NewRequest(http.MethodGet, s.cfg.APIBase+"/models", nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to build upstream request")
		return
	}
	setUpstreamHeaders(req, token)

	resp, err := s.client.Do(req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upstream request failed")
		return
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read upstream response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	w.Write(body)
}

type chatRequest map[string]any

// validateChatRequest checks the two fields this proxy requires: a model
// name, and a non-empty messages array. No further schema validation is
// performed.
func validateChatRequest(data chatRequest) (bool, string) {
	if data == nil {
		return false, "Request body must be valid JSON"
	}
	if _, ok := data["model"]; !ok {
		return false, "Missing required field: model"
	}
	msgs, ok := data["messages"]
	if !ok {
		return false, "Missing required field: messages"
	}
	arr, ok := msgs.([]any)
	if !ok || len(arr) == 0 {
		return false, "Field 'messages' must be a non-empty array"
	}
	return true, ""
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Request body must be valid JSON")
		return
	}

	var data chatRequest
	if len(body) > 0 {
		if jsonErr := json.Unmarshal(body, &data); jsonErr != nil {
			writeError(w, http.StatusBadRequest, "Request body must be valid JSON")
			return
		}
	}

	if ok, msg := validateChatRequest(data); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	if streamVal, ok := data["stream"]; ok {
		if stream, ok := streamVal.(bool); ok && stream {
			writeStreamingDisabledResponse(w)
			return
		}
	}

	token, ok := s.pool.GetCurrent()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "No authentication tokens available")
		return
	}

	requestedModel, _ := data["model"].(string)
	if _, ok := data["stream"]; ok {
		data["stream"] = false
	}

	upstreamBody, err := json.Marshal(map[string]any(data))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode request")
		return
	}

	respBody, status, err := s.forwardToCopilot(upstreamBody, token)
	if err != nil {
		s.stats.IncrementRequestCounter()
		s.stats.IncrementErrorCounter()
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.stats.UpdateLastRequestTime()

	var parsed map[string]any
	if jsonErr := json.Unmarshal(respBody, &parsed); jsonErr != nil {
		s.stats.IncrementRequestCounter()
		s.stats.IncrementErrorCounter()
		writeError(w, http.StatusInternalServerError, "malformed upstream response")
		return
	}

	rewriteModelName(parsed, requestedModel)
	recordEstimatedCost(s.stats, parsed)

	s.stats.IncrementRequestCounter()

	out, err := json.Marshal(parsed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(out)
}

// forwardToCopilot POSTs the (already stream-forced-false) request body to
// the upstream chat-completions endpoint under the given credential.
func (s *Server) forwardToCopilot(body []byte, token string) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodPost, s.cfg.APIBase+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setUpstreamHeaders(req, token)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read upstream response: %w", err)
	}

	return respBody, resp.StatusCode, nil
}

// rewriteModelName restores the client's originally requested model string
// in the response when the requested model belongs to one of the families
// known to get renamed by Copilot (exact substrings preserved from the
// source contract).
func rewriteModelName(response map[string]any, requestedModel string) {
	lower := strings.ToLower(requestedModel)
	if strings.Contains(lower, "claude-3.5-sonnet") || strings.Contains(lower, "gpt-4o") {
		response["model"] = requestedModel
	}
}

func recordEstimatedCost(st *stats.Stats, response map[string]any) {
	usage, ok := response["usage"].(map[string]any)
	if !ok {
		return
	}
	model, _ := response["model"].(string)
	input := intFromAny(usage["prompt_tokens"])
	output := intFromAny(usage["completion_tokens"])
	if input == 0 && output == 0 {
		return
	}
	cost := stats.EstimateCost(model, input, output)
	st.RecordCost(cost)
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func setUpstreamHeaders(req *http.Request, token string) {
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range config.UpstreamHeaders {
		req.Header.Set(k, v)
	}
}

func writeStreamingDisabledResponse(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":`+
		`"Please disable streaming in your client; this proxy only supports non-streaming responses."}}]}`)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc, err := json.Marshal(map[string]any{
		"error": map[string]string{"message": message, "type": "internal_error"},
	})
	if err != nil {
		fmt.Fprintf(w, `{"error":{"message":%q,"type":"internal_error"}}`, message)
		return
	}
	w.Write(enc)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
