package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/your-org/racephoto/pkg/dto"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() < n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubFiltersByEvent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	go hub.Run()

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	race5k := dial(t, srv, "?event_id=race5k")
	other := dial(t, srv, "?event_id=marathon")
	waitClients(t, hub, 2)

	hub.BroadcastEvent(&dto.WSEvent{
		Type:        "photo_indexed",
		OrganizerID: "org1",
		EventID:     "race5k",
		Data:        dto.PhotoSummary{ImageKey: "org1/race5k/raw/a.jpg", Bib: "482"},
	})

	race5k.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := race5k.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got dto.WSEvent
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Data.Bib != "482" {
		t.Fatalf("bib = %q, want 482", got.Data.Bib)
	}

	other.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	if _, _, err := other.ReadMessage(); err == nil {
		t.Fatal("client of another event received the message")
	}
}
