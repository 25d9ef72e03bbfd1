package broker

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second // time allowed to read the next pong
	pingPeriod = 30 * time.Second // must be < pongWait
	writeWait  = 10 * time.Second // time allowed to write a message

	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// datasets are addressed by identifier only; the shell serves a single
	// origin in local mode
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket upgrades an HTTP request to a viewer session bound to one
// dataset. The session receives every message broadcast to the dataset after
// this call, in broker order, until the peer disconnects.
func (b *Broker) HandleWebSocket(w http.ResponseWriter, r *http.Request, datasetID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	send := make(chan string, sendBuffer)
	id := b.Connect(datasetID, send)
	b.logger.Printf("WebSocket session connected: %s (dataset=%s)", id, datasetID)

	go writePump(conn, send)

	defer func() {
		b.Disconnect(id, datasetID)
		conn.Close()
		b.logger.Printf("WebSocket session disconnected: %s", id)
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		// inbound traffic only keeps the dataset warm
		b.registry.Touch(datasetID)
	}
}

// writePump serializes outbound delivery for one session and keeps the
// connection alive with pings. It exits when the broker closes the send
// channel or a write fails.
func writePump(conn *websocket.Conn, send chan string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-send:
			if !ok {
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
