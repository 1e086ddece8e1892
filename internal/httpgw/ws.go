package httpgw

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEvents implements GET /ws: upgrades to a websocket and streams every
// bus.Event broadcast (agent lifecycle, cron ticks, health, device pairing)
// to the connected client as a JSON frame, until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("httpgw.ws_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	events := make(chan bus.Event, 64)
	s.msgBus.Subscribe(id, func(ev bus.Event) {
		select {
		case events <- ev:
		default:
			// slow subscriber: drop rather than block the publisher
		}
	})
	defer s.msgBus.Unsubscribe(id)

	// drain client reads so pong control frames and close frames are
	// processed; the stream is server->client only.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(wsFrame(ev)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type eventFrame struct {
	Name    string      `json:"name"`
	Payload interface{} `json:"payload,omitempty"`
	TS      int64       `json:"ts"`
}

func wsFrame(ev bus.Event) eventFrame {
	return eventFrame{Name: ev.Name, Payload: ev.Payload, TS: time.Now().UnixMilli()}
}
