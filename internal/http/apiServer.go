package http

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"

	"sangam/internal/api"
	"sangam/internal/ws"

	"github.com/rs/zerolog/log"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

// NewAPIServer serves the chat API and the websocket endpoint. Request
// contexts derive from ctx so open sockets end when ctx is cancelled.
func NewAPIServer(ctx context.Context, handlers *api.API, sockets *ws.Server, addr string) *APIServer {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/chat/history", handlers.HistoryHandler)
	mux.HandleFunc("GET /api/chat/list/{userId}", handlers.ChatListHandler)
	mux.HandleFunc("GET /api/chat/online-users", handlers.OnlineUsersHandler)
	mux.HandleFunc("POST /api/chat/room", handlers.RoomHandler)
	mux.HandleFunc("POST /api/chat/mark-read", handlers.MarkReadHandler)
	mux.HandleFunc("GET /api/chat/search", handlers.SearchHandler)
	mux.HandleFunc("DELETE /api/chat/message/{messageId}", handlers.DeleteMessageHandler)
	mux.HandleFunc("GET /api/chat/push-key", handlers.PushKeyHandler)
	mux.HandleFunc("POST /api/chat/push-subscription", handlers.PushSubscriptionHandler)
	mux.HandleFunc("DELETE /api/chat/push-subscription", handlers.PushSubscriptionHandler)

	// WebSocket endpoint
	mux.HandleFunc("/ws", sockets.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:        addr,
			Handler:     mux,
			BaseContext: func(net.Listener) context.Context { return ctx },
		},
	}
}

func (s *APIServer) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("API server started")
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
