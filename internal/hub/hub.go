// Package hub рассылает события desk подключённым dashboard-клиентам по
// websocket. Замена прямых обновлений состояния UI из оригинальной системы:
// каждый эффект reconciler'а публикуется сюда.
package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Дашборды ходят с других origin; аутентификация вне зоны ответственности.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Envelope — одно событие ленты: {"event": "...", "payload": {...}}.
type Envelope struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub владеет множеством подключений. Всё изменение множества — только внутри
// Run, через каналы register/unregister (single-writer).
type Hub struct {
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, sendBufferSize),
	}
}

// Run обслуживает hub до отмены ctx-подобного done-канала вызывающей стороны.
func (h *Hub) Run(done <-chan struct{}) {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Медленный клиент: отключаем, не тормозим остальных.
					delete(h.clients, c)
					close(c.send)
				}
			}
		case <-done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}

// Publish сериализует событие и рассылает его всем клиентам. Никогда не
// блокирует вызывающего.
func (h *Hub) Publish(event string, payload any) {
	body, err := json.Marshal(Envelope{Event: event, Payload: payload})
	if err != nil {
		log.Printf("hub: marshal %s: %v", event, err)
		return
	}
	select {
	case h.broadcast <- body:
	default:
		log.Printf("hub: broadcast buffer full, dropping %s", event)
	}
}

// Serve апгрейдит HTTP-запрос до websocket и регистрирует клиента.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: upgrade: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBufferSize)}
	h.register <- c
	go c.writePump()
	go c.readPump(h)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readPump существует только чтобы заметить закрытие соединения; входящие
// данные от клиентов игнорируются (лента односторонняя).
func (c *client) readPump(h *Hub) {
	defer func() { h.unregister <- c }()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
