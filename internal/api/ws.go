package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Live route tracking over WebSocket. The server sends a "snapshot" with
// the stored route, then one "event" per broker event. Clients may send
// {"type":"ping"} and get {"type":"pong"}.

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

const (
	wsPongWait   = 60 * time.Second
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 20 * time.Second
)

type wsMessage struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// RouteWSHandler handles GET /v1/routes/{id}/ws
func (s *Server) RouteWSHandler(w http.ResponseWriter, r *http.Request, routeID string) {
	rt, err := s.Store.GetRoute(r.Context(), routeID)
	if err != nil {
		writeStoreError(w, r, "Get route failed", err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ch := s.Broker.Subscribe(routeID)
	defer s.Broker.Unsubscribe(routeID, ch)

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })

	// All writes happen on this goroutine; the reader only forwards.
	incoming := make(chan wsMessage, 4)
	go func() {
		defer close(incoming)
		for {
			var msg wsMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
			select {
			case incoming <- msg:
			default:
			}
		}
	}()

	write := func(v any) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(v)
	}
	if err := write(wsMessage{Type: "snapshot", Data: rt}); err != nil {
		return
	}

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			if msg.Type == "ping" {
				if err := write(wsMessage{Type: "pong"}); err != nil {
					return
				}
			}
		case evt, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
				return
			}
			if err := write(wsMessage{Type: "event", Event: evt.Type, Data: evt.Data}); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
