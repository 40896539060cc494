package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"megadata-go/internal/megadata"
	"megadata-go/internal/metadata"
	"megadata-go/internal/metrics"
	"megadata-go/internal/scheduler"
)

// Validator authorizes token mutations.
type Validator interface {
	Identities(ctx context.Context, wallet string) ([]string, error)
	Validate(ctx context.Context, modules []string, tokenID string, metadata map[string]any, callers []string) (megadata.ValidationResult, error)
}

// Fetcher reads token metadata from chain.
type Fetcher interface {
	FetchMetadata(ctx context.Context, network, contract, tokenID string) (map[string]any, error)
}

// Jobs starts scheduled jobs on demand.
type Jobs interface {
	Trigger(ctx context.Context, name string) (bool, error)
}

type Handler struct {
	validator Validator
	fetcher   Fetcher
	jobs      Jobs
	log       megadata.Logger
}

// NewRouter wires the HTTP surface. Authentication happens upstream; the
// wallet in a request is trusted.
func NewRouter(validator Validator, fetcher Fetcher, jobs Jobs, m *metrics.Metrics, log megadata.Logger) http.Handler {
	if log == nil {
		log = megadata.NewNopLogger()
	}
	h := &Handler{validator: validator, fetcher: fetcher, jobs: jobs, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", m.Handler())

	r.Route("/v1", func(api chi.Router) {
		api.Post("/permissions/validate", h.handleValidate)
		api.Post("/metadata/refresh", h.handleRefresh)
		api.Post("/jobs/{name}", h.handleTriggerJob)
	})
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type validateRequest struct {
	Modules  []string       `json:"modules"`
	TokenID  string         `json:"token_id"`
	Metadata map[string]any `json:"metadata"`
	Wallet   string         `json:"wallet"`
}

func (h *Handler) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if strings.TrimSpace(req.Wallet) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "wallet is required"})
		return
	}

	callers, err := h.validator.Identities(r.Context(), req.Wallet)
	if err != nil {
		h.log.Error("resolving linked accounts failed", "wallet", req.Wallet, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}

	result, err := h.validator.Validate(r.Context(), req.Modules, req.TokenID, req.Metadata, callers)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type refreshRequest struct {
	Source   string         `json:"source"`
	Contract string         `json:"contract"`
	TokenID  string         `json:"token_id"`
	Original map[string]any `json:"original"`
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid payload"})
		return
	}
	if req.Source == "" || req.Contract == "" || req.TokenID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "source, contract and token_id are required"})
		return
	}

	fetched, err := h.fetcher.FetchMetadata(r.Context(), req.Source, req.Contract, req.TokenID)
	if err != nil {
		writeJSON(w, statusForFetchError(err), map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"metadata": metadata.MergeMetadata(req.Original, fetched)})
}

func statusForFetchError(err error) int {
	switch {
	case errors.Is(err, megadata.ErrUnsupportedContract), errors.Is(err, megadata.ErrUnknownNetwork):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (h *Handler) handleTriggerJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	started, err := h.jobs.Trigger(r.Context(), name)
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownJob) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	if !started {
		writeJSON(w, http.StatusConflict, map[string]any{"error": "job already running", "job": name})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": name, "status": "started"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
