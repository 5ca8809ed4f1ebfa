package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 20
)

type ServerConfig struct {
	PingInterval time.Duration
	PongWait     time.Duration
	EventRate    float64
	EventBurst   int
}

type Server struct {
	hub        *Hub
	dispatcher *Dispatcher
	cfg        ServerConfig
	upgrader   *websocket.Upgrader
}

func NewServer(hub *Hub, dispatcher *Dispatcher, cfg ServerConfig) *Server {
	return &Server{
		hub:        hub,
		dispatcher: dispatcher,
		cfg:        cfg,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

// HandleConnections upgrades the request and serves the connection until it
// closes. Clients identify themselves with a join event.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("error upgrading to websocket")
		return
	}

	connID := uuid.NewString()
	logger := log.With().Str("conn_id", connID).Str("remote", r.RemoteAddr).Logger()
	logger.Debug().Msg("websocket connected")

	s.keepAlive(conn)
	stop := make(chan struct{})
	go s.ping(conn, stop)
	defer close(stop)

	var limiter *rate.Limiter
	if s.cfg.EventRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.EventRate), s.cfg.EventBurst)
	}

	c := NewConnection(s.hub, s.dispatcher, conn, connID, limiter)
	if err := c.Handle(r.Context()); err != nil && !isClosure(err) {
		logger.Warn().Err(err).Msg("websocket connection error")
	}
}

// keepAlive expects a pong or a frame within PongWait.
func (s *Server) keepAlive(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	if s.cfg.PongWait <= 0 {
		return
	}
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})
}

func (s *Server) ping(conn *websocket.Conn, stop <-chan struct{}) {
	if s.cfg.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func isClosure(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
