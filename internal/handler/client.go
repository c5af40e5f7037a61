package handler

import (
	"net/http"

	"github.com/gorilla/websocket"

	"polo/internal/logger"
	"polo/internal/service"
)

// viewerReadLimit caps frames from viewers; they only send control frames.
const viewerReadLimit = 512

// Upgrader upgrades HTTP connections to WebSocket; CheckOrigin allows all origins.
var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ProgressWebsocketHandler subscribes a viewer to classification progress.
// With ?run=<id or name> only that run's messages are delivered.
func ProgressWebsocketHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := ""
		if ref := r.URL.Query().Get("run"); ref != "" {
			run, err := manager.Run(ref)
			if err != nil {
				writeError(w, logger, err)
				return
			}
			filter = run.Name
		}

		connection, err := Upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(viewerReadLimit)

		hub := manager.GetWebsocketService()
		hub.Subscribe(connection, filter)
		defer hub.Unregister(connection)

		if filter != "" {
			logger.Info("Viewer connected to %s", filter)
		} else {
			logger.Info("Viewer connected")
		}

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Info("Viewer disconnected normally")
				} else {
					logger.Warning("Viewer disconnected: %v", err)
				}
				return
			}
		}
	}
}
