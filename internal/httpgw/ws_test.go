package httpgw

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/oxicrab-gw/internal/bus"
)

func TestHandleEventsStreamsBroadcasts(t *testing.T) {
	s, b := newTestServer()

	srv := httptest.NewServer(s.BuildMux())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// give the handler a moment to register its subscription before broadcasting.
	time.Sleep(20 * time.Millisecond)
	b.Broadcast(bus.Event{Name: "agent", Payload: map[string]string{"type": "run.started"}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame eventFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame.Name != "agent" {
		t.Fatalf("expected agent event, got %q", frame.Name)
	}
}
