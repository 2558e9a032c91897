package feed

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mcoot/secretgame/internal/model"
)

// Time allowed to read the next pong from the peer
const pongWait = pingPeriod + writeWait

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Envelope is the WebSocket frame carrying one event
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServeWS streams the feed to one client over a WebSocket. The feed is
// one-way; inbound frames are read only to notice the peer going away.
func ServeWS(w http.ResponseWriter, r *http.Request, hub *Hub, playerID model.PlayerID) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer ws.Close()

	client := NewClient(playerID, "websocket")
	if !hub.Register(client) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"),
			time.Now().Add(writeWait))
		return
	}
	defer hub.Unregister(client)

	gone := make(chan struct{})
	go readPump(ws, gone)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-client.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := ws.WriteJSON(Envelope{Type: event.Name, Payload: event.Data}); err != nil {
				return
			}

		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-gone:
			return

		case <-r.Context().Done():
			return
		}
	}
}

func readPump(ws *websocket.Conn, gone chan<- struct{}) {
	defer close(gone)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
