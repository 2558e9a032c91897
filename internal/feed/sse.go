package feed

import (
	"net/http"
	"strings"
	"time"

	"github.com/mcoot/secretgame/internal/model"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time between keepalive pings
	pingPeriod = 30 * time.Second

	// Buffer size for outgoing messages
	sendBufferSize = 256
)

// ServeSSE streams the feed to one client as server-sent events
func ServeSSE(w http.ResponseWriter, r *http.Request, hub *Hub, playerID model.PlayerID) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	client := NewClient(playerID, "sse")
	if !hub.Register(client) {
		http.Error(w, "Feed closed", http.StatusServiceUnavailable)
		return
	}
	defer hub.Unregister(client)

	send := func(b []byte) error {
		// The server's WriteTimeout would otherwise end the stream
		_ = rc.SetWriteDeadline(time.Now().Add(writeWait))
		if _, err := w.Write(b); err != nil {
			return err
		}
		return rc.Flush()
	}

	if err := send([]byte("event: connected\ndata: {\"status\":\"connected\"}\n\n")); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-client.send:
			if !ok {
				// Hub closed the channel
				return
			}
			if err := send(formatSSEMessage(event)); err != nil {
				return
			}

		case <-ticker.C:
			if err := send([]byte(": keepalive\n\n")); err != nil {
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

// formatSSEMessage formats an event, prefixing each data line with "data: "
func formatSSEMessage(event Event) []byte {
	var b strings.Builder
	b.WriteString("event: " + event.Name + "\n")
	data := strings.ReplaceAll(string(event.Data), "\r", "")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("\n")
	return []byte(b.String())
}
