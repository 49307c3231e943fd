// Package bridge exposes the interface's topics over WebSocket: clients send
// twist, joy and current-velocity messages and receive decoded bus velocity.
package bridge

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"ymc-dbw-core/utils"
	"ymc-dbw-core/ymc"
)

// Message types on the wire.
const (
	TypeTwist           = "twist_cmd"
	TypeJoy             = "joy"
	TypeCurrentVelocity = "current_velocity"
	TypeVelocity        = "ymc_current_twist"
)

// Message is the JSON envelope for both directions. Only the fields for
// Type are meaningful.
type Message struct {
	Type string `json:"type"`

	Linear  float64   `json:"linear,omitempty"`  // m/s
	Angular float64   `json:"angular,omitempty"` // rad/s
	Axes    []float64 `json:"axes,omitempty"`
	Buttons []int     `json:"buttons,omitempty"`

	Velocity *ymc.VelocityReading `json:"velocity,omitempty"`
}

// Handler receives inbound commands. *ymc.Interface implements it.
type Handler interface {
	HandleTwist(ymc.TwistCommand)
	HandleJoy(ymc.Joy)
	HandleCurrentVelocity(mps float64)
}

const (
	sendBuffer   = 32
	writeTimeout = time.Second
)

type client struct {
	conn *websocket.Conn
	send chan Message
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Server upgrades HTTP requests to WebSocket connections.
type Server struct {
	log      *utils.Logger
	upgrader websocket.Upgrader
	handler  atomic.Pointer[Handler]

	mu      sync.Mutex
	clients map[*client]struct{}
	dropped atomic.Uint64
}

func NewServer(log *utils.Logger) *Server {
	return &Server{
		log:      log,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[*client]struct{}),
	}
}

// Attach sets the command handler. Messages that arrive before Attach are
// dropped.
func (s *Server) Attach(h Handler) {
	s.handler.Store(&h)
}

// Dropped counts outbound messages discarded because a client was slow.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	c := &client{conn: conn, send: make(chan Message, sendBuffer)}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	s.log.Info("websocket client %s connected (%d total)", conn.RemoteAddr(), n)

	go s.writeLoop(c)
	s.readLoop(c)

	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
	c.close()
	s.log.Info("websocket client %s disconnected", conn.RemoteAddr())
}

func (s *Server) readLoop(c *client) {
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read: %v", err)
			}
			return
		}
		if err := s.dispatch(msg); err != nil {
			s.log.Warn("websocket message from %s: %v", c.conn.RemoteAddr(), err)
		}
	}
}

func (s *Server) dispatch(msg Message) error {
	hp := s.handler.Load()
	if hp == nil {
		return fmt.Errorf("no handler attached; %q dropped", msg.Type)
	}
	h := *hp
	switch msg.Type {
	case TypeTwist:
		h.HandleTwist(ymc.TwistCommand{LinearMPS: msg.Linear, AngularRPS: msg.Angular})
	case TypeJoy:
		h.HandleJoy(ymc.Joy{Axes: msg.Axes, Buttons: msg.Buttons})
	case TypeCurrentVelocity:
		h.HandleCurrentVelocity(msg.Linear)
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}

func (s *Server) writeLoop(c *client) {
	defer c.conn.Close()
	for msg := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(msg); err != nil {
			s.log.Debug("websocket write: %v", err)
			return
		}
	}
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeTimeout))
}

// PublishVelocity broadcasts a reading. Slow clients lose messages rather
// than stall the bus reader.
func (s *Server) PublishVelocity(r ymc.VelocityReading) {
	msg := Message{Type: TypeVelocity, Velocity: &r}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			s.dropped.Add(1)
		}
	}
}

// Close disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		c.close()
		delete(s.clients, c)
	}
}
