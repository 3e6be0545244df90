package handler

import (
	"net/http"

	"detectionserver/internal/logger"
	"detectionserver/internal/pipeline"
	ws "detectionserver/internal/service/websocket"
)

// StatusResponse reports the pipeline and listener state.
type StatusResponse struct {
	Pipeline  pipeline.Status `json:"pipeline"`
	Listeners ws.Stats        `json:"listeners"`
}

// StatusHandler reports the pipeline state, queue depth and broadcast counters.
func StatusHandler(controller *pipeline.Controller, hub *ws.Hub, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		writeJSON(w, logger, StatusResponse{
			Pipeline:  controller.Status(),
			Listeners: hub.Stats(),
		})
	}
}
