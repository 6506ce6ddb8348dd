package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"parlay-pool/internal/model"
)

// GlobalRoom receives events that belong to no round, such as reserve
// funding.
const GlobalRoom = "global"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Msg is a message sent to clients.
type Msg struct {
	Type string `json:"type"`
	Room string `json:"room"`
	Seq  int64  `json:"seq"`
	Data any    `json:"data"`
}

// Hub fans committed events out to websocket clients, one room per round.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*conn]bool
	allConn map[*conn]bool
	log     *zap.Logger
}

type conn struct {
	ws    *websocket.Conn
	send  chan []byte
	hub   *Hub
	rooms map[string]bool
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*conn]bool),
		allConn: make(map[*conn]bool),
		log:     log.Named("ws"),
	}
}

// Publish implements engine.Publisher. It never blocks: slow clients miss
// messages instead of stalling the engine.
func (h *Hub) Publish(_ context.Context, ev model.Event) {
	room := GlobalRoom
	if ev.RoundID != nil {
		room = model.RoomKey(*ev.RoundID)
	}
	b, err := json.Marshal(Msg{Type: ev.Type, Room: room, Seq: ev.Seq, Data: ev.Payload})
	if err != nil {
		h.log.Error("marshal event", zap.Int64("seq", ev.Seq), zap.Error(err))
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		select {
		case c.send <- b:
		default:
			// slow client, drop
		}
	}
}

// Subscribers reports how many connections are in a room.
func (h *Hub) Subscribers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// HandleWS is the HTTP handler for WebSocket connections. Clients send
// {"action":"subscribe","room":"round:7"} to join a room.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade error", zap.Error(err))
		return
	}
	c := &conn{
		ws:    wsConn,
		send:  make(chan []byte, 64),
		hub:   h,
		rooms: make(map[string]bool),
	}
	h.mu.Lock()
	h.allConn[c] = true
	h.mu.Unlock()

	go c.writePump()
	go c.readPump()
}

func (c *conn) readPump() {
	defer func() {
		c.hub.removeConn(c)
		c.ws.Close()
	}()
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			break
		}
		var sub struct {
			Action string `json:"action"`
			Room   string `json:"room"`
		}
		if err := json.Unmarshal(msg, &sub); err != nil || sub.Room == "" {
			continue
		}
		switch sub.Action {
		case "subscribe":
			c.hub.subscribe(c, sub.Room)
		case "unsubscribe":
			c.hub.unsubscribe(c, sub.Room)
		}
	}
}

func (c *conn) writePump() {
	defer c.ws.Close()
	for msg := range c.send {
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			break
		}
	}
}

func (h *Hub) subscribe(c *conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*conn]bool)
		h.rooms[room] = members
	}
	members[c] = true
	c.rooms[room] = true
}

func (h *Hub) unsubscribe(c *conn, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leave(c, room)
}

func (h *Hub) leave(c *conn, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

func (h *Hub) removeConn(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.allConn, c)
	for room := range c.rooms {
		h.leave(c, room)
	}
	close(c.send)
}
