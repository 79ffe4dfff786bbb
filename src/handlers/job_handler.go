package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/username/cryptofolio/src/jobs"
	"github.com/username/cryptofolio/src/logger"
	"github.com/username/cryptofolio/src/services"
	"github.com/username/cryptofolio/src/utils"
)

type JobHandler struct {
	analysisService *services.AnalysisService
}

func NewJobHandler(service *services.AnalysisService) *JobHandler {
	return &JobHandler{analysisService: service}
}

// HandleGetJob returns the job's step list, rolling message log and, once
// finished, the session id or error. Safe to poll at any frequency.
func (h *JobHandler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		utils.SendJSONError(w, "Job id is required", http.StatusBadRequest)
		return
	}

	job, err := h.analysisService.GetJob(jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			utils.SendJSONError(w, "Job not found or expired", http.StatusNotFound)
			return
		}
		logger.L.Error("Failed to load job", "jobId", jobID, "error", err)
		utils.SendJSONError(w, "An internal error occurred.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}
