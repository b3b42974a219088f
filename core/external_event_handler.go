package core

import (
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

// WireEvent is the JSON envelope pushed to observers.
//
//	{"id": "<event id>", "session_id": "...", "payload": { /* event fields */ }}
type WireEvent struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id,omitempty"`
	Payload   interface{} `json:"payload"`
}

// ExternalEventHandler fans IExternalOutputEvent packets out to every
// observer connected over WebSocket. It is shared by all sessions of the
// process and mounted as an http.Handler (see main.go, /events).
type ExternalEventHandler struct {
	logger   *Logger
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*observer]struct{}
}

type observer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func NewExternalEventHandler(logger *Logger) *ExternalEventHandler {
	if logger == nil {
		logger = GetLogger()
	}
	return &ExternalEventHandler{
		logger:  logger.With(map[string]interface{}{"component": "external_events"}),
		clients: make(map[*observer]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Broadcast serialises an IExternalOutputEvent and writes it to every
// observer. Packets carrying other events are ignored.
func (e *ExternalEventHandler) Broadcast(sessionID string, packet *EventPacket) {
	ev, ok := packet.Event.(IExternalOutputEvent)
	if !ok {
		return
	}
	data, err := sonic.Marshal(WireEvent{ID: ev.GetId(), SessionID: sessionID, Payload: ev})
	if err != nil {
		e.logger.Errorf("marshal output event %q: %v", ev.GetId(), err)
		return
	}

	e.clientsMu.RLock()
	observers := make([]*observer, 0, len(e.clients))
	for o := range e.clients {
		observers = append(observers, o)
	}
	e.clientsMu.RUnlock()

	for _, o := range observers {
		o.mu.Lock()
		err := o.conn.WriteMessage(websocket.TextMessage, data)
		o.mu.Unlock()
		if err != nil {
			e.logger.Warnf("write to observer %s: %v", o.conn.RemoteAddr(), err)
			e.remove(o)
		}
	}
}

// Observers returns the number of connected observers.
func (e *ExternalEventHandler) Observers() int {
	e.clientsMu.RLock()
	defer e.clientsMu.RUnlock()
	return len(e.clients)
}

func (e *ExternalEventHandler) remove(o *observer) {
	e.clientsMu.Lock()
	if _, ok := e.clients[o]; ok {
		delete(e.clients, o)
		o.conn.Close()
	}
	e.clientsMu.Unlock()
}

// ServeHTTP upgrades the request and keeps the observer registered until it
// disconnects. Observers are receive-only; inbound messages are discarded.
func (e *ExternalEventHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		e.logger.Errorf("upgrade: %v", err)
		return
	}
	o := &observer{conn: conn}

	e.clientsMu.Lock()
	e.clients[o] = struct{}{}
	e.clientsMu.Unlock()
	defer e.remove(o)

	e.logger.Infof("observer connected (%s)", conn.RemoteAddr())

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
