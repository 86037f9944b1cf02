// Package api exposes HTTP handlers for the presence service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"example.com/presence/internal/auth"
	"example.com/presence/internal/domain"
	"example.com/presence/internal/presence"
)

// TransitionRecorder records presence transitions.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, in presence.TransitionInput) (*domain.ActivityRecord, error)
}

// Dashboard is the slice of dashboard.Reconciler the API drives.
type Dashboard interface {
	Reconcile(ctx context.Context, groupID string) error
	Preview(ctx context.Context, groupID string) (domain.Summary, error)
	Trigger(groupID string)
}

// Dependencies bundles what the Handler needs.
type Dependencies struct {
	Recorder  TransitionRecorder
	Records   domain.PresenceStore
	Configs   domain.ConfigStore
	Dashboard Dashboard
	// Platform is optional. When set, channel changes are checked against it.
	Platform domain.PlatformClient
	// ReconcileOnTransition starts a background dashboard pass after each recorded transition.
	ReconcileOnTransition bool
	Logger                zerolog.Logger
}

// Handler coordinates HTTP requests with the presence components.
type Handler struct {
	deps Dependencies
}

// NewHandler builds a Handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{deps: deps}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/presence", h.listPresence)
	mux.HandleFunc("/v1/presence/transitions", h.recordTransition)
	mux.HandleFunc("/v1/dashboard/preview", h.previewDashboard)
	mux.HandleFunc("/v1/dashboard/reconcile", h.reconcileDashboard)
	mux.HandleFunc("/v1/dashboard/channel", h.dashboardChannel)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) recordTransition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopePresenceWrite)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	record, err := h.deps.Recorder.RecordTransition(r.Context(), presence.TransitionInput{
		GroupID:     claims.GroupID,
		SubjectID:   req.SubjectID,
		DisplayName: req.DisplayName,
		GoingOnline: *req.Online,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	if h.deps.ReconcileOnTransition && h.deps.Dashboard != nil {
		h.deps.Dashboard.Trigger(claims.GroupID)
	}
	writeJSON(w, http.StatusOK, toRecordView(*record))
}

func (h *Handler) listPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopePresenceRead)
	if !ok {
		return
	}

	limit := defaultPageSize
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxPageSize)
		}
	}

	after, err := decodeCursor(claims.GroupID, r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, err := h.deps.Records.ListByGroup(r.Context(), claims.GroupID)
	if err != nil {
		h.writeDomainError(w, errors.Join(domain.ErrStoreUnavailable, err))
		return
	}
	records, next := page(records, after, limit)

	items := make([]RecordView, 0, len(records))
	for _, record := range records {
		items = append(items, toRecordView(record))
	}
	writeJSON(w, http.StatusOK, ListPresenceResponse{
		Items:      items,
		NextCursor: encodeCursor(claims.GroupID, next),
	})
}

func (h *Handler) previewDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopePresenceRead)
	if !ok {
		return
	}

	summary, err := h.deps.Dashboard.Preview(r.Context(), claims.GroupID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryView(summary))
}

func (h *Handler) reconcileDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	claims, ok := requireScope(w, r, auth.ScopePresenceWrite)
	if !ok {
		return
	}

	if err := h.deps.Dashboard.Reconcile(r.Context(), claims.GroupID); err != nil {
		h.writeDomainError(w, err)
		return
	}

	cfg, err := h.deps.Configs.GetOrCreate(r.Context(), claims.GroupID)
	if err != nil {
		h.writeDomainError(w, errors.Join(domain.ErrStoreUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, toConfigView(cfg))
}

func (h *Handler) dashboardChannel(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getDashboardChannel(w, r)
	case http.MethodPut:
		h.setDashboardChannel(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) getDashboardChannel(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopePresenceRead)
	if !ok {
		return
	}
	cfg, err := h.deps.Configs.GetOrCreate(r.Context(), claims.GroupID)
	if err != nil {
		h.writeDomainError(w, errors.Join(domain.ErrStoreUnavailable, err))
		return
	}
	writeJSON(w, http.StatusOK, toConfigView(cfg))
}

func (h *Handler) setDashboardChannel(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopePresenceWrite)
	if !ok {
		return
	}

	var req SetChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	channelID := strings.TrimSpace(req.ChannelID)
	if channelID == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "channel_id is required")
		return
	}

	if h.deps.Platform != nil {
		channel, err := h.deps.Platform.FetchChannel(r.Context(), channelID)
		if err != nil {
			h.writeDomainError(w, err)
			return
		}
		if channel == nil {
			h.writeDomainError(w, domain.ErrChannelNotFound)
			return
		}
	}

	// Only the channel column changes; a pointer saved by a concurrent pass survives and
	// the next pass keeps editing the existing artifact.
	cfg, err := h.deps.Configs.SetDashboardChannel(r.Context(), claims.GroupID, channelID)
	if err != nil {
		h.writeDomainError(w, errors.Join(domain.ErrStoreUnavailable, err))
		return
	}
	h.deps.Logger.Info().Str("group_id", cfg.GroupID).Str("channel_id", channelID).Msg("dashboard channel configured")
	writeJSON(w, http.StatusOK, toConfigView(cfg))
}

func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, err := auth.Authorize(r.Context(), scope)
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	case err != nil:
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return nil, false
	}
	return claims, true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, presence.ErrInvalidTransition):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrDashboardNotConfigured):
		writeError(w, http.StatusConflict, "dashboard_not_configured", "no dashboard channel is configured for this group")
	case errors.Is(err, domain.ErrChannelNotFound):
		writeError(w, http.StatusUnprocessableEntity, "channel_not_found", "the configured dashboard channel does not exist")
	case errors.Is(err, domain.ErrRecordCorrupt):
		h.deps.Logger.Error().Err(err).Msg("stored record failed validation")
		writeError(w, http.StatusInternalServerError, "record_corrupt", err.Error())
	case errors.Is(err, domain.ErrVersionConflict):
		writeError(w, http.StatusConflict, "version_conflict", "record changed concurrently, retry the request")
	case errors.Is(err, domain.ErrPlatformUnavailable):
		h.deps.Logger.Warn().Err(err).Msg("platform unavailable")
		writeError(w, http.StatusBadGateway, "platform_unavailable", err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		h.deps.Logger.Error().Err(err).Msg("store unavailable")
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "storage is unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err.Error())
	default:
		h.deps.Logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
