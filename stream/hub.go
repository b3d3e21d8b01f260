package stream

import (
	"net/http"
	"sync"
	"time"

	iface "PassengerCounter/interface"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = time.Second
	clientSend = 16
)

// Event is pushed to websocket clients as JSON.
type Event struct {
	Type    string `json:"type"`
	Event   string `json:"event,omitempty"`
	Entered int    `json:"entered"`
	Exited  int    `json:"exited"`
	Total   int    `json:"total,omitempty"`
	Open    *bool  `json:"open,omitempty"`
	Error   string `json:"error,omitempty"`
	Time    int64  `json:"time"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan Event
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub fans counter events out to websocket clients. Slow clients lose
// events rather than stall the counter.
type Hub struct {
	iface.NopRecorder

	mu       sync.RWMutex
	clients  map[string]*client
	upgrader websocket.Upgrader
	log      *zap.Logger
	now      func() time.Time
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		clients: map[string]*client{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log: log,
		now: time.Now,
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(ev Event) {
	if ev.Time == 0 {
		ev.Time = h.now().Unix()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.log.Debug("websocket client lagging, event dropped", zap.String("client", c.id))
		}
	}
}

func (h *Hub) Crossing(event string, entered, exited int) {
	h.Broadcast(Event{Type: "crossing", Event: event, Entered: entered, Exited: exited})
}

func (h *Hub) Committed(total, entered, exited int, err error) {
	ev := Event{Type: "committed", Entered: entered, Exited: exited, Total: total}
	if err != nil {
		ev.Error = err.Error()
	}
	h.Broadcast(ev)
}

func (h *Hub) DoorChanged(open bool) {
	h.Broadcast(Event{Type: "door", Open: &open})
}

// ServeHTTP upgrades the connection and streams events until the client
// goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied
		return
	}
	c := &client{id: uuid.New().String(), conn: conn, send: make(chan Event, clientSend)}
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.log.Info("websocket client connected", zap.String("client", c.id))

	go h.writeLoop(c)
	// reads only detect the disconnect
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
	h.log.Info("websocket client disconnected", zap.String("client", c.id))
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for ev := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(ev); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := h.clients
	h.clients = map[string]*client{}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}
