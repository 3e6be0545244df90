package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"detectionserver/internal/config"
	"detectionserver/internal/dto"
	"detectionserver/internal/logger"
	"detectionserver/internal/repository"
)

// ListDetectionsHandler returns the most recent detections, newest first.
// The optional limit query parameter defaults to cfg.DefaultQueryLimit and is
// capped at cfg.MaxQueryLimit.
func ListDetectionsHandler(cfg *config.Config, logger *logger.Logger, repo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Registered on the "/detections/" subtree; only the collection itself is served.
		if r.URL.Path != "/detections" && r.URL.Path != "/detections/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		limit, ok := parseLimit(r.URL.Query().Get("limit"), cfg.DefaultQueryLimit, cfg.MaxQueryLimit)
		if !ok {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}

		detections, err := repo.List(limit)
		if err != nil {
			logger.Error("Error querying detections: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, logger, dto.NewDetectionRecords(detections))
	}
}

// ListObjectNamesHandler returns the distinct object names recorded so far.
func ListObjectNamesHandler(logger *logger.Logger, repo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		names, err := repo.GetAllObjectNames()
		if err != nil {
			logger.Error("Error querying object names: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if names == nil {
			names = []string{}
		}

		writeJSON(w, logger, names)
	}
}

// parseLimit returns def for an empty value and false for anything that is
// not a non-negative integer.
func parseLimit(value string, def, maxLimit int) (int, bool) {
	if value == "" {
		return def, true
	}
	limit, err := strconv.Atoi(value)
	if err != nil || limit < 0 {
		return 0, false
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	return limit, true
}

func writeJSON(w http.ResponseWriter, logger *logger.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding response: %v", err)
	}
}
