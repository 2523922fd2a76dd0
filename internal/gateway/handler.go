// Package gateway serves the OpenAI-compatible surface: model listing, chat
// completion proxying and the traffic inspection endpoints.
package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/multiai/gateway/internal/config"
	"github.com/multiai/gateway/internal/httputil"
	"github.com/multiai/gateway/internal/httpx"
	"github.com/multiai/gateway/internal/inspector"
	"github.com/multiai/gateway/internal/registry"
	"github.com/multiai/gateway/internal/telemetry"
)

// Version identifies this build in /health and HAR exports.
const Version = "1.0.0"

// ConfigSource yields the current configuration. The hot-reloading Loader
// satisfies it; tests hand in a fixed snapshot.
type ConfigSource interface {
	Config() *config.Config
}

// Handler carries the gateway's request-path collaborators.
type Handler struct {
	cfg       ConfigSource
	registry  *registry.Registry
	inspector *inspector.Inspector
	metrics   *telemetry.Metrics
	logger    *slog.Logger
	client    *http.Client
}

// New wires a Handler. The upstream client uses the long timeout since chat
// completions routinely run for a minute.
func New(cfg ConfigSource, reg *registry.Registry, insp *inspector.Inspector, metrics *telemetry.Metrics, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:       cfg,
		registry:  reg,
		inspector: insp,
		metrics:   metrics,
		logger:    logger,
		client:    httpx.NewClientWithTimeout(httpx.LongTimeout),
	}
}

// Routes mounts the public surface on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/models", h.ListModels)
		r.Get("/models/grouped", h.ListModelsGrouped)
		r.Post("/chat/completions", h.ChatCompletions)
		r.Get("/inspect", h.GetInspect)
		r.Delete("/inspect", h.ClearInspect)
	})
}

// Health reports liveness. The app field doubles as the peer-detection
// marker other instances probe for on startup.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"app":     "multiai",
		"status":  "ok",
		"version": Version,
	})
}

type modelEntry struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	OwnedBy  string `json:"owned_by"`
	Source   string `json:"source"`
	Endpoint string `json:"endpoint"`
}

func toEntry(m registry.FreeModel) modelEntry {
	return modelEntry{
		ID:       m.ID,
		Object:   "model",
		OwnedBy:  m.Provider,
		Source:   m.Source.String(),
		Endpoint: m.Endpoint,
	}
}

// ListModels returns the free snapshot in OpenAI list shape.
// ?force=true bypasses the snapshot TTL.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	snap, err := h.registry.Snapshot(r.Context(), force)
	if err != nil {
		httputil.WriteError(w, httputil.Internal(err))
		return
	}
	data := make([]modelEntry, 0, len(snap.Models))
	for _, m := range snap.Models {
		data = append(data, toEntry(m))
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   data,
	})
}

// ListModelsGrouped buckets the snapshot by display name, one group per
// model with its providers in source-priority order.
func (h *Handler) ListModelsGrouped(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	snap, err := h.registry.Snapshot(r.Context(), force)
	if err != nil {
		httputil.WriteError(w, httputil.Internal(err))
		return
	}
	grouped := make(map[string][]modelEntry)
	for name, models := range snap.Grouped() {
		entries := make([]modelEntry, 0, len(models))
		for _, m := range models {
			entries = append(entries, toEntry(m))
		}
		grouped[name] = entries
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"object": "grouped",
		"models": grouped,
	})
}

// GetInspect dumps captured transactions. ?format=har exports a HAR archive.
func (h *Handler) GetInspect(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("format") == "har" {
		httputil.WriteJSON(w, http.StatusOK, h.inspector.ExportHAR(Version))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"transactions": h.inspector.All(),
	})
}

// ClearInspect drops the capture buffer.
func (h *Handler) ClearInspect(w http.ResponseWriter, r *http.Request) {
	count := h.inspector.Clear()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"cleared": true,
		"count":   count,
	})
}
