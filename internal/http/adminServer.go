package http

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"sangam/internal/api"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type AdminServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAdminServer(users api.UserWriter, stats api.ConnectionStats, addr string) *AdminServer {
	adminHandler := api.NewAdminHandler(users, stats)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users", adminHandler.AddUserHandler)
	mux.HandleFunc("GET /admin/connections", adminHandler.ConnectionsHandler)
	mux.HandleFunc("GET /health", adminHandler.HealthHandler)
	mux.Handle("GET /metrics", promhttp.Handler())

	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *AdminServer) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("admin API started")
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
