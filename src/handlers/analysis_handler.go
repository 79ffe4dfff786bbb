package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/username/cryptofolio/src/config"
	"github.com/username/cryptofolio/src/importers"
	"github.com/username/cryptofolio/src/logger"
	"github.com/username/cryptofolio/src/security/validation"
	"github.com/username/cryptofolio/src/services"
	"github.com/username/cryptofolio/src/utils"
)

type AnalysisHandler struct {
	analysisService *services.AnalysisService
}

func NewAnalysisHandler(service *services.AnalysisService) *AnalysisHandler {
	return &AnalysisHandler{analysisService: service}
}

// HandleStartAnalysis accepts a multipart form with an optional CSV file and
// optional wallet addresses, validates the upload and launches the pipeline.
// Responds 202 with the job id; progress is polled separately.
func (h *AnalysisHandler) HandleStartAnalysis(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(config.Cfg.MaxUploadSizeBytes); err != nil {
		logger.L.Warn("Failed to parse multipart form or request too large", "error", err, "limit", config.Cfg.MaxUploadSizeBytes)
		utils.SendJSONError(w, fmt.Sprintf("Failed to parse form or request too large (max %d MB)", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
		return
	}

	req := services.AnalysisRequest{
		Source: r.FormValue("source"),
		Wallets: importers.Request{
			BTCAddresses: splitList(r.FormValue("btcAddresses")),
			EVMAddresses: splitList(r.FormValue("evmAddresses")),
			Chains:       splitList(r.FormValue("chains")),
		},
	}

	file, fileHeader, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()
		if fileHeader.Size > config.Cfg.MaxUploadSizeBytes {
			logger.L.Warn("Uploaded file too large", "fileSize", fileHeader.Size, "limit", config.Cfg.MaxUploadSizeBytes)
			utils.SendJSONError(w, fmt.Sprintf("File too large, max %d MB", config.Cfg.MaxUploadSizeBytes/(1024*1024)), http.StatusBadRequest)
			return
		}
		if err := validation.ValidateClientContentType(fileHeader.Header.Get("Content-Type")); err != nil {
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, err := validation.ValidateFileContentByMagicBytes(file); err != nil {
			logger.L.Warn("File content validation failed", "filename", fileHeader.Filename, "error", err)
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		content, err := io.ReadAll(io.LimitReader(file, config.Cfg.MaxUploadSizeBytes))
		if err != nil {
			logger.L.Error("Failed to read uploaded file", "filename", fileHeader.Filename, "error", err)
			utils.SendJSONError(w, "Failed to read uploaded file", http.StatusInternalServerError)
			return
		}
		req.CSV = content
	case errors.Is(err, http.ErrMissingFile):
		// wallet-only analysis
	default:
		logger.L.Warn("Failed to retrieve file from request", "error", err)
		utils.SendJSONError(w, "Failed to retrieve file from request. Ensure 'file' field is used.", http.StatusBadRequest)
		return
	}

	job, err := h.analysisService.StartAnalysis(req)
	if err != nil {
		if errors.Is(err, services.ErrMalformedInput) {
			utils.SendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		logger.L.Error("Failed to start analysis", "error", err)
		utils.SendJSONError(w, "An internal error occurred while starting the analysis.", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"jobId": job.ID})
}

// splitList accepts comma- or newline-separated values.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == '\n' || r == '\r'
	})
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if trimmed := strings.TrimSpace(field); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
