package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/username/cryptofolio/src/logger"
	"github.com/username/cryptofolio/src/models"
	"github.com/username/cryptofolio/src/services"
	"github.com/username/cryptofolio/src/store"
	"github.com/username/cryptofolio/src/utils"
)

type SessionHandler struct {
	analysisService *services.AnalysisService
}

func NewSessionHandler(service *services.AnalysisService) *SessionHandler {
	return &SessionHandler{analysisService: service}
}

func (h *SessionHandler) loadSession(w http.ResponseWriter, r *http.Request) (*models.SessionData, services.DashboardFilter, bool) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		utils.SendJSONError(w, "Session id is required", http.StatusBadRequest)
		return nil, services.DashboardFilter{}, false
	}

	query := r.URL.Query()
	filter, err := services.ParseDashboardFilter(
		query.Get("groupBy"), query.Get("from"), query.Get("to"),
		query.Get("asset"), query.Get("type"))
	if err != nil {
		utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
		return nil, services.DashboardFilter{}, false
	}

	session, err := h.analysisService.GetSession(sessionID)
	if err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			utils.SendJSONError(w, "Session not found", http.StatusNotFound)
			return nil, services.DashboardFilter{}, false
		}
		logger.L.Error("Failed to load session", "sessionId", sessionID, "error", err)
		utils.SendJSONError(w, "An internal error occurred.", http.StatusInternalServerError)
		return nil, services.DashboardFilter{}, false
	}
	return session, filter, true
}

// HandleDashboard returns the full dashboard read model for one session.
// Sessions are immutable, so the response carries an ETag and honors
// If-None-Match for the UI's polling reads.
func (h *SessionHandler) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	session, filter, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	dashboard := services.BuildDashboard(session, filter)

	etag, err := utils.GenerateETag(dashboard)
	if err == nil {
		if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", etag)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(dashboard)
}

// HandleExport streams the filtered operations as a CSV download.
func (h *SessionHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	session, filter, ok := h.loadSession(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"operations-%s.csv\"", session.ID))
	if err := services.WriteOperationsCSV(w, session, filter); err != nil {
		logger.L.Error("Failed to write CSV export", "sessionId", session.ID, "error", err)
	}
}

// HandleDelete removes a session and everything it owns. Idempotent:
// deleting an unknown id responds 200 with deleted=false.
func (h *SessionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if sessionID == "" {
		utils.SendJSONError(w, "Session id is required", http.StatusBadRequest)
		return
	}

	deleted, err := h.analysisService.DeleteSession(sessionID)
	if err != nil {
		logger.L.Error("Failed to delete session", "sessionId", sessionID, "error", err)
		utils.SendJSONError(w, "An internal error occurred.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"deleted": deleted})
}
