package server

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/spooky-finn/go-orderbook-aggregator/domain"
)

// A subscriber that lags repeatedly is cut off rather than resynced
// forever.
const maxLagStreak = 5

// session is one egress subscriber. Depth updates are coalesced per
// key inside the throttle window; trades and metrics flow through
// immediately. All writes happen on the run goroutine.
type session struct {
	conn   *websocket.Conn
	server *Server
	log    *zap.Logger

	// pending holds the latest book update per key since the last
	// throttle tick; newer updates overwrite older ones.
	pending map[domain.Key]*domain.BookUpdate

	lagStreak int
}

func (s *session) run(ctx context.Context) {
	defer s.conn.Close()

	sub := s.server.bus.Subscribe()
	defer sub.Close()

	if err := s.sendBootstrap(); err != nil {
		s.log.Debug("bootstrap failed", zap.Error(err))
		return
	}

	readerDone := make(chan struct{})
	go s.readLoop(readerDone)

	throttle := time.NewTicker(s.server.cfg.EgressThrottle)
	defer throttle.Stop()
	heartbeat := time.NewTicker(s.server.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-readerDone:
			return

		case msg := <-sub.C:
			if n := sub.TakeLag(); n > 0 {
				if !s.recoverFromLag(n) {
					return
				}
				continue
			}
			if update, ok := msg.Data.(*domain.BookUpdate); ok && msg.Type == domain.MessageTypeBookUpdate {
				s.pending[update.BookKey()] = update
				continue
			}
			if err := s.write(msg); err != nil {
				s.log.Debug("write failed", zap.Error(err))
				return
			}

		case <-throttle.C:
			if err := s.flushPending(); err != nil {
				s.log.Debug("flush failed", zap.Error(err))
				return
			}

		case <-heartbeat.C:
			deadline := time.Now().Add(s.server.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.log.Debug("heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}

// readLoop consumes inbound frames so control messages (ping, pong,
// close) are processed. Clients send no application data.
func (s *session) readLoop(done chan<- struct{}) {
	defer close(done)
	idle := s.server.cfg.HeartbeatInterval * 3
	s.conn.SetReadDeadline(time.Now().Add(idle))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(idle))
		return nil
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(idle))
	}
}

func (s *session) sendBootstrap() error {
	for _, msg := range s.server.bootstrap.Messages() {
		if err := s.write(msg); err != nil {
			return err
		}
	}
	return nil
}

// recoverFromLag discards stale pending state and replays the
// bootstrap so the client converges on current state. Reports whether
// the session should continue.
func (s *session) recoverFromLag(n uint64) bool {
	s.server.tel.RecordLagEvent()
	s.lagStreak++
	s.log.Warn("subscriber lagged",
		zap.Uint64("missed", n),
		zap.Int("streak", s.lagStreak))
	if s.lagStreak > maxLagStreak {
		s.log.Warn("subscriber too slow, closing")
		return false
	}
	for key := range s.pending {
		delete(s.pending, key)
	}
	return s.sendBootstrap() == nil
}

func (s *session) flushPending() error {
	if len(s.pending) == 0 {
		return nil
	}
	for key, update := range s.pending {
		if err := s.write(domain.NewBookUpdateMessage(update)); err != nil {
			return err
		}
		delete(s.pending, key)
	}
	return nil
}

func (s *session) write(msg domain.Message) error {
	s.conn.SetWriteDeadline(time.Now().Add(s.server.cfg.WriteTimeout))
	return s.conn.WriteJSON(msg)
}
