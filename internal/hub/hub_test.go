package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestPublishReachesClient(t *testing.T) {
	h := NewHub()
	done := make(chan struct{})
	defer close(done)
	go h.Run(done)

	srv := httptest.NewServer(http.HandlerFunc(h.Serve))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Регистрация проходит через канал Run; даём ей завершиться до публикации.
	time.Sleep(20 * time.Millisecond)
	h.Publish("ticket.updated", map[string]string{"id": "123456"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Event != "ticket.updated" {
		t.Fatalf("event: %q", env.Event)
	}
}

func TestPublishWithoutClientsDoesNotBlock(t *testing.T) {
	h := NewHub()
	// Run не запущен: буфер должен поглотить и затем молча ронять события.
	for i := 0; i < sendBufferSize*2; i++ {
		h.Publish("ticket.updated", nil)
	}
}
