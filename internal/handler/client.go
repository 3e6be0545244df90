package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"detectionserver/internal/logger"
	ws "detectionserver/internal/service/websocket"
)

const (
	// pongWait is how long a listener may stay silent before it is dropped.
	pongWait = 60 * time.Second
	// pingPeriod must be shorter than pongWait.
	pingPeriod = 30 * time.Second
	// maxMessageSize bounds client text messages.
	maxMessageSize = 4096
)

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// DetectionsWebsocketHandler registers the connection as a detection listener.
// Every client text message is answered with "ack: <text>".
func DetectionsWebsocketHandler(hub *ws.Hub, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}

		client := hub.Connect(connection)
		defer hub.Disconnect(client)

		connection.SetReadLimit(maxMessageSize)
		connection.SetReadDeadline(time.Now().Add(pongWait))
		connection.SetPongHandler(func(string) error {
			return connection.SetReadDeadline(time.Now().Add(pongWait))
		})

		stop := make(chan struct{})
		defer close(stop)
		go keepAlive(connection, stop)

		for {
			messageType, msg, err := connection.ReadMessage()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Listener %s disconnected normally", client.ID)
				} else {
					logger.Warning("Listener %s disconnected: %v", client.ID, err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			if err := client.SendText("ack: " + string(msg)); err != nil {
				logger.Warning("Listener %s ack failed: %v", client.ID, err)
				return
			}
		}
	}
}

// keepAlive pings the peer until stop is closed. WriteControl may run
// concurrently with the data writes.
func keepAlive(connection *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := connection.WriteControl(websocket.PingMessage, nil, time.Now().Add(ws.WriteWait)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}
