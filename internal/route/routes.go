package route

import (
	"net/http"

	"detectionserver/internal/config"
	"detectionserver/internal/handler"
	"detectionserver/internal/logger"
	"detectionserver/internal/middleware"
	"detectionserver/internal/pipeline"
	"detectionserver/internal/repository"
	ws "detectionserver/internal/service/websocket"
)

// SetupRoutes registers the WebSocket, query, status and log endpoints and
// wraps the mux with the authentication middleware.
func SetupRoutes(cfg *config.Config, logger *logger.Logger, hub *ws.Hub,
	controller *pipeline.Controller, detectionRepo repository.DetectionRepository) http.Handler {
	mux := http.NewServeMux()

	// Live detections
	mux.HandleFunc("/ws", handler.DetectionsWebsocketHandler(hub, logger))

	// History
	list := handler.ListDetectionsHandler(cfg, logger, detectionRepo)
	mux.HandleFunc("/detections", list)
	mux.HandleFunc("/detections/", list)
	mux.HandleFunc("/detections/objects", handler.ListObjectNamesHandler(logger, detectionRepo))

	mux.HandleFunc("/api/status", handler.StatusHandler(controller, hub, logger))

	// Log endpoints
	mux.HandleFunc("/logs/info", handler.ShowLogsHandler(logger, "info.log"))
	mux.HandleFunc("/logs/warning", handler.ShowLogsHandler(logger, "warning.log"))
	mux.HandleFunc("/logs/error", handler.ShowLogsHandler(logger, "error.log"))

	mux.HandleFunc("/logs/info/clear", handler.ClearLogsHandler(logger, "info.log"))
	mux.HandleFunc("/logs/warning/clear", handler.ClearLogsHandler(logger, "warning.log"))
	mux.HandleFunc("/logs/error/clear", handler.ClearLogsHandler(logger, "error.log"))

	return middleware.AuthMiddleware(cfg.APIToken, mux)
}
