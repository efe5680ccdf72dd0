// Package server is the egress side: a WebSocket endpoint that ships
// the JSON message stream to any number of subscribers.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spooky-finn/go-orderbook-aggregator/bus"
	"github.com/spooky-finn/go-orderbook-aggregator/domain"
	"github.com/spooky-finn/go-orderbook-aggregator/telemetry"
	"github.com/spooky-finn/go-orderbook-aggregator/usecase"
)

type Config struct {
	ListenAddr        string
	EgressThrottle    time.Duration
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
}

type Server struct {
	cfg       Config
	bus       *bus.Bus[domain.Message]
	bootstrap *usecase.Bootstrap
	tel       *telemetry.Collector
	log       *zap.Logger
	upgrader  websocket.Upgrader
}

func New(cfg Config, b *bus.Bus[domain.Message], bootstrap *usecase.Bootstrap, tel *telemetry.Collector, log *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		bus:       b,
		bootstrap: bootstrap,
		tel:       tel,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Subscribers are unauthenticated by design.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Run serves until ctx is cancelled. A bind failure is returned to the
// caller, which treats it as fatal.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)

	srv := &http.Server{Addr: s.cfg.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("listening", zap.String("addr", s.cfg.ListenAddr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(wr http.ResponseWriter, req *http.Request) {
	conn, err := s.upgrader.Upgrade(wr, req, nil)
	if err != nil {
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	s.tel.SubscriberConnected()
	defer s.tel.SubscriberDisconnected()

	log := s.log.With(zap.String("client", req.RemoteAddr))
	log.Info("subscriber connected")

	sess := &session{
		conn:      conn,
		server:    s,
		log:       log,
		pending:   make(map[domain.Key]*domain.BookUpdate),
	}
	sess.run(req.Context())
	log.Info("subscriber disconnected")
}
