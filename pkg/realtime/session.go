// Package realtime owns the websocket leg: one Session per connection,
// registered in the local registry for the connection's lifetime.
package realtime

import (
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/chat-backbone/pkg/registry"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// Outbound buffer per connection.
	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Session is one authenticated websocket connection.
type Session struct {
	userID   string
	conn     *websocket.Conn
	registry *registry.Registry

	send chan []byte
	once sync.Once
	done chan struct{}
}

// Serve upgrades the request and runs the session until the peer goes
// away. Authentication happened before this call; userID is trusted.
func Serve(reg *registry.Registry, userID string, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("realtime: upgrade failed for %s: %v", userID, err)
		return
	}

	s := &Session{
		userID:   userID,
		conn:     conn,
		registry: reg,
		send:     make(chan []byte, sendBuffer),
		done:     make(chan struct{}),
	}
	reg.Register(userID, s)

	go s.writePump()
	s.readPump()
}

// Send enqueues a payload without blocking. A full buffer drops the
// payload and reports it; it never closes the connection or touches the
// registry, because delivery failures must stay out of the write path.
func (s *Session) Send(payload []byte) error {
	select {
	case <-s.done:
		return errors.New("session closed")
	case s.send <- payload:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// readPump is the session's sole reaper: when the read side fails the
// session unregisters itself and shuts down. Inbound traffic is ignored
// except the literal "ping" liveness probe.
func (s *Session) readPump() {
	defer s.close()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("realtime: read error for %s: %v", s.userID, err)
			}
			return
		}
		if string(payload) == "ping" {
			_ = s.Send([]byte("pong"))
		}
		// Anything else inbound is reserved and ignored.
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) close() {
	s.once.Do(func() {
		s.registry.Unregister(s.userID, s)
		close(s.done)
		s.conn.Close()
	})
}
