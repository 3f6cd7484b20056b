package notifications

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pongTimeout  = 60 * time.Second
)

// Hub streams notices to browser clients over WebSocket
type Hub struct {
	service  *Service
	upgrader websocket.Upgrader
}

// NewHub creates a hub publishing the notices of service
func NewHub(service *Service) *Hub {
	return &Hub{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // CORS is enforced by the router
			},
		},
	}
}

// ServeHTTP upgrades the request and streams notices until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	sub := &wsSubscriber{id: uuid.New().String(), conn: conn}
	h.service.Subscribe(sub)
	log.WithField("subscriber", sub.id).Debug("websocket client connected")

	defer func() {
		h.service.Unsubscribe(sub.id)
		conn.Close()
		log.WithField("subscriber", sub.id).Debug("websocket client disconnected")
	}()

	// Backlog first, oldest to newest
	recent := h.service.Recent(0)
	for i := len(recent) - 1; i >= 0; i-- {
		if err := sub.Send(recent[i]); err != nil {
			return
		}
	}

	// Clients only send control frames; reading keeps pongs and close flowing.
	conn.SetReadDeadline(time.Now().Add(pongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

type wsSubscriber struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSubscriber) ID() string { return s.id }

func (s *wsSubscriber) Send(n Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteJSON(WebSocketMessage{Type: "notice", Payload: n})
}
