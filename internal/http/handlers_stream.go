package httpx

import (
	"net/http"
	"time"

	"github.com/ceer-lab/ceer/internal/ws"
)

func (r *Router) handleNotificationsWS(w http.ResponseWriter, req *http.Request) {
	u := actor(req)
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "user_id", u.ID, "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(u.ID, client)
	defer r.hub.Unregister(u.ID, client)
	r.logger.Debug("notification websocket opened", "user_id", u.ID)
	client.Serve(req.Context())
}

func (r *Router) handleNotificationsSSE(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	u := actor(req)
	headers := w.Header()
	headers.Set("Content-Type", "text/event-stream")
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Connection", "keep-alive")
	headers.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := ws.NewSSEClient(w, flusher, r.logger)
	r.hub.Register(u.ID, client)
	defer func() {
		r.hub.Unregister(u.ID, client)
		client.Close()
	}()

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-req.Context().Done():
			return
		case <-client.Done():
			return
		case <-ticker.C:
			if err := client.Heartbeat(); err != nil {
				return
			}
		}
	}
}
