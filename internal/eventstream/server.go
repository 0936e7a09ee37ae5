// Package eventstream mirrors bus traffic to websocket clients and lets them
// resolve cases and jobs.
package eventstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codemodctl/internal/bus"
	"codemodctl/internal/logger"
)

const (
	sendBuffer   = 64
	writeTimeout = 10 * time.Second
)

// Envelope is the wire form of every frame in both directions.
type Envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ErrorPayload is sent back to a client whose command failed.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Server is an http.Handler upgrading every request to a websocket.
type Server struct {
	bus      *bus.Bus
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	untap   func()
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// New creates a server broadcasting every message published on b.
func New(b *bus.Bus, log *logger.Logger) *Server {
	s := &Server{
		bus: b,
		log: log.With("component", "eventstream"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	s.untap = b.Tap(s.broadcast)
	return s
}

// Close stops broadcasting and disconnects every client.
func (s *Server) Close() {
	s.untap()
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.close()
		delete(s.clients, c)
	}
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	go s.writeLoop(c)
	s.readLoop(c)

	s.mu.Lock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		c.close()
	}
	s.mu.Unlock()
}

// broadcast never blocks the publisher: a client whose buffer is full is
// disconnected.
func (s *Server) broadcast(m bus.Message) error {
	frame, err := encode(m.Kind().String(), m)
	if err != nil {
		s.log.Warn("cannot encode message", "kind", m.Kind(), "error", err)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- frame:
		default:
			s.log.Warn("dropping slow client")
			c.close()
			delete(s.clients, c)
		}
	}
	return nil
}

func (s *Server) writeLoop(c *client) {
	defer c.conn.Close()
	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			s.log.Debug("websocket write failed", "error", err)
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) readLoop(c *client) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if err := s.dispatch(data); err != nil {
			frame, encErr := encode("error", ErrorPayload{Message: err.Error()})
			if encErr != nil {
				continue
			}
			s.mu.Lock()
			if _, ok := s.clients[c]; ok {
				select {
				case c.send <- frame:
				default:
				}
			}
			s.mu.Unlock()
		}
	}
}

// dispatch publishes the message a client asked for.
func (s *Server) dispatch(data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decoding frame: %w", err)
	}

	var m bus.Message
	var err error
	switch env.Kind {
	case bus.KindAcceptCase.String():
		m, err = decodePayload[bus.AcceptCase](env.Payload)
	case bus.KindRejectCase.String():
		m, err = decodePayload[bus.RejectCase](env.Payload)
	case bus.KindAcceptJobs.String():
		m, err = decodePayload[bus.AcceptJobs](env.Payload)
	case bus.KindRejectJobs.String():
		m, err = decodePayload[bus.RejectJobs](env.Payload)
	default:
		return fmt.Errorf("unsupported command %q", env.Kind)
	}
	if err != nil {
		return fmt.Errorf("decoding %s: %w", env.Kind, err)
	}
	return s.bus.Publish(m)
}

func decodePayload[M bus.Message](raw json.RawMessage) (bus.Message, error) {
	var m M
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing payload")
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func encode(kind string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: kind, Payload: raw})
}
