package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/lei/streams-build/internal/models"
	"github.com/lei/streams-build/internal/notify"
	"github.com/lei/streams-build/internal/provider"
	"github.com/lei/streams-build/internal/service"
)

// Handlers contains HTTP handler functions
type Handlers struct {
	service *service.Service
	events  *notify.Hub
}

// NewHandlers creates a new handlers instance. events may be nil, in
// which case the event stream only sends the connected event.
func NewHandlers(svc *service.Service, events *notify.Hub) *Handlers {
	return &Handlers{service: svc, events: events}
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// decodeBody decodes the JSON request body into v, answering 400 on failure
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if logger := GetLogger(r.Context()); logger != nil {
			logger.Warn("invalid request body", "error", err)
		}
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// Health handles health check requests
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.service.HealthCheck(r.Context())
	status := http.StatusOK
	if health["status"] == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, health)
}

// GetState handles GET /v1/state
func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"state": h.service.State(r.Context()),
	})
}

// Login handles POST /v1/login
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	logger := GetLogger(r.Context())

	var req service.LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if logger != nil {
		logger.Debug("logging in", "username", req.Username, "remember", req.RememberPassword)
	}

	res, err := h.service.Login(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"login": res,
	})
}

// SelectInstance handles POST /v1/instances/select
func (h *Handlers) SelectInstance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Instance string `json:"instance"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Instance == "" {
		respondError(w, r, http.StatusBadRequest, "instance is required")
		return
	}

	selected, err := h.service.SelectInstance(r.Context(), req.Instance)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"instance": selected,
	})
}

// Logout handles POST /v1/logout
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// CheckHost handles POST /v1/host/check
func (h *Handlers) CheckHost(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"reachable": h.service.CheckHost(r.Context()),
	})
}

// OpenConsole handles POST /v1/console
func (h *Handlers) OpenConsole(w http.ResponseWriter, r *http.Request) {
	url, queued, err := h.service.OpenConsole(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if queued {
		respondJSON(w, http.StatusAccepted, map[string]interface{}{"queued": true})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"url": url})
}

// CreateBuild handles POST /v1/builds
func (h *Handlers) CreateBuild(w http.ResponseWriter, r *http.Request) {
	logger := GetLogger(r.Context())

	var req service.NewBuildRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if logger != nil {
		logger.Debug("decoded build request",
			"app_root", req.AppRoot,
			"fqn", req.FQN,
			"makefile_path", req.MakefilePath,
			"post_build", req.PostBuild)
	}

	accepted, err := h.service.NewBuild(r.Context(), req)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if accepted.Queued {
		status = http.StatusAccepted
	}
	if logger != nil {
		logger.Info("build requested", "build_id", accepted.ID, "queued", accepted.Queued)
	}

	respondJSON(w, status, map[string]interface{}{
		"build": accepted,
	})
}

// ListBuilds handles GET /v1/builds
func (h *Handlers) ListBuilds(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	builds := FilterBuilds(h.service.Builds(r.Context()),
		q.Get("search"), q.Get("status"), parseBoolParam(q.Get("in_progress")))

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"builds": builds,
	})
}

// GetBuild handles GET /v1/builds/{build_id}
func (h *Handlers) GetBuild(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "build_id")

	build, err := h.service.Build(r.Context(), buildID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"build": build,
	})
}

// DownloadArtifacts handles POST /v1/builds/{build_id}/download
func (h *Handlers) DownloadArtifacts(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "build_id")

	files, err := h.service.DownloadArtifacts(r.Context(), buildID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"files": files,
	})
}

// SubmitBuild handles POST /v1/builds/{build_id}/submit
func (h *Handlers) SubmitBuild(w http.ResponseWriter, r *http.Request) {
	buildID := chi.URLParam(r, "build_id")

	res, err := h.service.SubmitBuild(r.Context(), buildID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	status := http.StatusOK
	if !res.Submitted {
		status = http.StatusAccepted
	}
	respondJSON(w, status, map[string]interface{}{
		"submission": res,
	})
}

// SubmitBundles handles POST /v1/submissions/bundles
func (h *Handlers) SubmitBundles(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Bundles []models.Bundle `json:"bundles"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	accepted, err := h.service.SubmitBundles(r.Context(), req.Bundles)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"submission": accepted,
	})
}

// ListSubmissions handles GET /v1/submissions
func (h *Handlers) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subs := FilterSubmissions(h.service.Submissions(r.Context()),
		q.Get("build_id"), q.Get("status"), parseBoolParam(q.Get("incomplete")))

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"submissions": subs,
	})
}

// GetSubmission handles GET /v1/submissions/{submission_id}
func (h *Handlers) GetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := h.service.Submission(r.Context(), chi.URLParam(r, "submission_id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"submission": sub,
	})
}

// ListParameters handles GET /v1/parameters
func (h *Handlers) ListParameters(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"parameters": h.service.Parameters(r.Context()),
	})
}

// ResolveParameters handles POST /v1/parameters/{workflow_id}
func (h *Handlers) ResolveParameters(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Values []models.SubmitParameter `json:"values"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.service.ResolveParameters(r.Context(), chi.URLParam(r, "workflow_id"), req.Values); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelParameters handles DELETE /v1/parameters/{workflow_id}
func (h *Handlers) CancelParameters(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CancelParameters(r.Context(), chi.URLParam(r, "workflow_id")); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RefreshToolkits handles POST /v1/toolkits/refresh
func (h *Handlers) RefreshToolkits(w http.ResponseWriter, r *http.Request) {
	cached, err := h.service.RefreshToolkits(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"cached": cached,
	})
}

// ListJournal handles GET /v1/journal
func (h *Handlers) ListJournal(w http.ResponseWriter, r *http.Request) {
	// Parse optional limit parameter
	limit := 50 // default
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsedLimit, err := strconv.Atoi(limitStr); err == nil && parsedLimit > 0 {
			limit = parsedLimit
			if limit > 500 {
				limit = 500 // max limit
			}
		}
	}

	entries, err := h.service.Journal(r.Context(), limit, r.URL.Query().Get("kind"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
	})
}

// StreamEvents handles GET /v1/events
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	logger := GetLogger(r.Context())

	flusher, ok := w.(http.Flusher)
	if !ok {
		if logger != nil {
			logger.Error("streaming not supported by response writer")
		}
		respondError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Send initial connection success event
	requestID := GetRequestID(r.Context())
	fmt.Fprintf(w, "event: connected\ndata: {\"request_id\":\"%s\"}\n\n", requestID)
	flusher.Flush()

	if h.events == nil {
		return
	}
	events, unsubscribe := h.events.Subscribe()
	defer unsubscribe()

	if logger != nil {
		logger.Info("event stream opened")
	}
	if err := writeEvents(r.Context(), w, flusher, events); err != nil && logger != nil {
		logger.Warn("event stream ended", "error", err)
	}
}

func writeEvents(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, events <-chan notify.Event) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			data, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("encode event: %w", err)
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Level, data); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

// respondError writes a JSON error response with logging
func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	logger := GetLogger(r.Context())
	requestID := GetRequestID(r.Context())

	// Log the error with full context
	if logger != nil {
		logger.Error("returning error response",
			"status", status,
			"message", message,
			"request_id", requestID)
	}

	w.Header().Set("X-Request-ID", requestID)
	respondJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message":    message,
			"code":       status,
			"request_id": requestID,
		},
	})
}

// handleServiceError maps service errors to HTTP responses with detailed logging
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := GetLogger(r.Context())
	requestID := GetRequestID(r.Context())

	// Log original error with full details
	if logger != nil {
		logger.Error("service error occurred",
			"error", err.Error(),
			"error_type", fmt.Sprintf("%T", err),
			"request_id", requestID)
	}

	switch {
	case errors.Is(err, service.ErrBuildNotFound):
		respondError(w, r, http.StatusNotFound, "build not found")
	case errors.Is(err, service.ErrSubmissionNotFound):
		respondError(w, r, http.StatusNotFound, "submission not found")
	case errors.Is(err, service.ErrParamsNotFound):
		respondError(w, r, http.StatusNotFound, "parameter request not found")
	case errors.Is(err, service.ErrInstanceNotFound):
		respondError(w, r, http.StatusNotFound, "instance not found")
	case errors.Is(err, service.ErrJournalDisabled):
		respondError(w, r, http.StatusNotFound, "journal disabled")
	case errors.Is(err, service.ErrInvalidRequest):
		respondError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrNotAuthenticated):
		respondError(w, r, http.StatusConflict, "no authenticated instance")
	case errors.Is(err, service.ErrLoginRejected):
		respondError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, r, http.StatusGatewayTimeout, "timed out waiting for the platform")
	case errors.Is(err, provider.ErrNotFound):
		respondError(w, r, http.StatusNotFound, "not found in provider")
	case errors.Is(err, provider.ErrUnauthorized):
		respondError(w, r, http.StatusUnauthorized, "provider authentication failed")
	case errors.Is(err, provider.ErrProviderUnavailable):
		respondError(w, r, http.StatusBadGateway, "provider temporarily unavailable")
	default:
		// Check if it's a ProviderError
		var providerErr *provider.ProviderError
		var platformErr *provider.PlatformError
		switch {
		case errors.As(err, &providerErr):
			if logger != nil {
				logger.Error("provider error details",
					"provider_code", providerErr.Code,
					"provider_message", providerErr.Message,
					"underlying_error", providerErr.Err)
			}

			if providerErr.Code >= 400 && providerErr.Code < 500 {
				respondError(w, r, providerErr.Code, providerErr.Message)
			} else {
				respondError(w, r, http.StatusBadGateway, "provider error")
			}
		case errors.As(err, &platformErr):
			respondError(w, r, http.StatusBadGateway, platformErr.Error())
		default:
			respondError(w, r, http.StatusInternalServerError, "internal server error")
		}
	}
}
