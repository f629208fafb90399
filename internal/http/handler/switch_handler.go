package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/draftpulse/contest-payments/internal/http/middleware"
	"github.com/draftpulse/contest-payments/internal/http/response"
	"github.com/draftpulse/contest-payments/internal/repository"
	"github.com/draftpulse/contest-payments/internal/service"
)

var switchKeyRe = regexp.MustCompile(`^[a-z0-9][a-z0-9._\-]{0,127}$`)

// SwitchHandler exposes the operator kill switches under the admin surface.
type SwitchHandler struct {
	switches *service.SwitchService
	logger   *slog.Logger
}

func NewSwitchHandler(switches *service.SwitchService, logger *slog.Logger) *SwitchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SwitchHandler{switches: switches, logger: logger}
}

func (h *SwitchHandler) List(w http.ResponseWriter, r *http.Request) {
	page := repository.PageRequest{
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "page_size"),
	}
	result, err := h.switches.List(r.Context(), page)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to list switches", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"items":       result.Items,
		"page":        result.Page,
		"page_size":   result.PageSize,
		"total":       result.Total,
		"total_pages": result.TotalPages,
	})
}

func (h *SwitchHandler) Put(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(strings.ToLower(chi.URLParam(r, "key")))
	if !switchKeyRe.MatchString(key) {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid switch key", nil)
		return
	}
	var body struct {
		Enabled     bool   `json:"enabled"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	sw, err := h.switches.Set(r.Context(), key, body.Enabled, body.Description)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to update switch", nil)
		return
	}
	h.logger.InfoContext(r.Context(), "switch changed by operator",
		"key", key, "enabled", body.Enabled, "actor", middleware.UserIDFromContext(r.Context()))
	response.JSON(w, r, http.StatusOK, sw)
}

func (h *SwitchHandler) Delete(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(strings.ToLower(chi.URLParam(r, "key")))
	if !switchKeyRe.MatchString(key) {
		response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "invalid switch key", nil)
		return
	}
	if err := h.switches.Delete(r.Context(), key); err != nil {
		if errors.Is(err, repository.ErrSwitchNotFound) {
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "switch not found", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "failed to delete switch", nil)
		return
	}
	h.logger.InfoContext(r.Context(), "switch removed by operator",
		"key", key, "actor", middleware.UserIDFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func queryInt(r *http.Request, name string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return v
}
