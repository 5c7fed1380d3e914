package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"panostitch/internal/pipeline"
	"panostitch/internal/report"

	"github.com/gorilla/websocket"
)

const writeWait = 5 * time.Second

// message is the envelope sent to websocket clients.
type message struct {
	Type   string                 `json:"type"` // "event" or "result"
	Event  *pipeline.EventMessage `json:"event,omitempty"`
	Result *resultMessage         `json:"result,omitempty"`
}

type resultMessage struct {
	RunID  string         `json:"run_id"`
	Error  string         `json:"error,omitempty"`
	Report *report.Report `json:"report,omitempty"`
}

func newResultMessage(res pipeline.Result) resultMessage {
	msg := resultMessage{RunID: res.Job.ID, Report: res.Report}
	if res.Error != nil {
		msg.Error = res.Error.Error()
	}
	return msg
}

// hub fans broadcast messages out to every connected websocket client. All
// client bookkeeping happens on the run goroutine.
type hub struct {
	upgrader   websocket.Upgrader
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	log        *slog.Logger
}

func newHub(log *slog.Logger) *hub {
	return &hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 64),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		log:        log,
	}
}

func (h *hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("websocket client connected", "clients", len(h.clients))

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.Close()
				h.log.Debug("websocket client disconnected", "clients", len(h.clients))
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				_ = client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
					delete(h.clients, client)
					client.Close()
				}
			}
		}
	}
}

// send queues msg for every client, dropping it when the hub is behind.
func (h *hub) send(msg message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Warn("failed to encode stream message", "error", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("stream backlog full, dropping message", "type", msg.Type)
	}
}

// feed forwards pipeline events and results to the hub until ctx ends or
// the pipeline stops.
func (s *Server) feed(ctx context.Context) {
	events, unsubEvents := s.queue.SubscribeEvents()
	defer unsubEvents()
	results, unsubResults := s.queue.Subscribe()
	defer unsubResults()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.hub.send(message{Type: "event", Event: &ev})
		case res, ok := <-results:
			if !ok {
				return
			}
			rm := newResultMessage(res)
			s.hub.send(message{Type: "result", Result: &rm})
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	select {
	case s.hub.register <- conn:
	case <-s.hub.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go func() {
		defer func() {
			select {
			case s.hub.unregister <- conn:
			case <-s.hub.done:
			}
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}
