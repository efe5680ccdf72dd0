// Package ingress owns one self-healing session per venue: dial,
// subscribe, drain, and on any failure mark the venue's books
// not-ready and reconnect after a fixed backoff. Venue workers are
// fully independent of one another.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/spooky-finn/go-orderbook-aggregator/bus"
	"github.com/spooky-finn/go-orderbook-aggregator/domain"
	"github.com/spooky-finn/go-orderbook-aggregator/provider"
	"github.com/spooky-finn/go-orderbook-aggregator/telemetry"
)

// Per-symbol cap on deltas buffered while the snapshot is in flight.
// Overflow drops the oldest entry and counts it.
const deltaBufferCap = 4096

const frameQueueSize = 1024

// Config carries the knobs an ingress session needs.
type Config struct {
	SnapshotDepth    int
	DisplayDepth     int
	ReconnectBackoff time.Duration
	ReadIdleTimeout  time.Duration
}

// Orchestrator starts and supervises one worker per venue adapter.
type Orchestrator struct {
	adapters []provider.Adapter
	symbols  []string
	store    *domain.BookStore
	bus      *bus.Bus[domain.Message]
	tel      *telemetry.Collector
	cfg      Config
	log      *zap.Logger
}

func NewOrchestrator(
	adapters []provider.Adapter,
	symbols []string,
	store *domain.BookStore,
	b *bus.Bus[domain.Message],
	tel *telemetry.Collector,
	cfg Config,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		adapters: adapters,
		symbols:  symbols,
		store:    store,
		bus:      b,
		tel:      tel,
		cfg:      cfg,
		log:      log,
	}
}

// Start launches every venue worker. The WaitGroup is done once all
// workers have observed ctx cancellation.
func (o *Orchestrator) Start(ctx context.Context, wg *sync.WaitGroup) {
	for _, adapter := range o.adapters {
		w := &worker{
			adapter: adapter,
			symbols: o.symbols,
			store:   o.store,
			bus:     o.bus,
			tel:     o.tel,
			cfg:     o.cfg,
			log:     o.log.Named(adapter.Name()),
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.run(ctx)
		}()
	}
}

type worker struct {
	adapter provider.Adapter
	symbols []string
	store   *domain.BookStore
	bus     *bus.Bus[domain.Message]
	tel     *telemetry.Collector
	cfg     Config
	log     *zap.Logger
}

// symbolSync tracks Policy A reconciliation state for one symbol
// within one session. It is rebuilt from scratch on every (re)connect.
type symbolSync struct {
	buffer       deque.Deque[*domain.MarketEvent]
	firstDelta   chan struct{}
	signaled     bool
	synced       bool
	firstApplied bool
}

func (w *worker) run(ctx context.Context) {
	boff := &backoff.Backoff{
		Min:    w.cfg.ReconnectBackoff,
		Max:    w.cfg.ReconnectBackoff,
		Factor: 1,
	}
	for {
		err := w.session(ctx)
		if ctx.Err() != nil {
			return
		}
		w.log.Warn("session ended, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", w.cfg.ReconnectBackoff))
		w.tel.RecordReconnect()
		if n := w.store.MarkVenueNotReady(w.adapter.Name()); n > 0 {
			w.log.Info("books marked not ready", zap.Int("count", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(boff.Duration()):
		}
	}
}

type snapshotResult struct {
	symbol string
	event  *domain.MarketEvent
	err    error
}

// session runs one connect–subscribe–drain pass and returns the error
// that ended it.
func (w *worker) session(ctx context.Context) error {
	url, err := w.adapter.SubscriptionURL(ctx, w.symbols)
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	w.log.Info("connected", zap.String("url", url))

	frames, err := w.adapter.InitialFrames(w.symbols)
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var syncs map[string]*symbolSync
	snapCh := make(chan snapshotResult, len(w.symbols))
	if w.adapter.Policy() == provider.PolicySnapshotReplay {
		syncs = make(map[string]*symbolSync, len(w.symbols))
		for _, s := range w.symbols {
			st := &symbolSync{firstDelta: make(chan struct{})}
			syncs[s] = st
			go w.fetchSnapshotWhenStreaming(sessCtx, s, st, snapCh)
		}
	}

	frameCh := make(chan []byte, frameQueueSize)
	readErr := make(chan error, 1)
	go w.readLoop(sessCtx, conn, frameCh, readErr)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case res := <-snapCh:
			if res.err != nil {
				return fmt.Errorf("snapshot %s: %w", res.symbol, res.err)
			}
			if err := w.reconcile(syncs[res.symbol], res.event); err != nil {
				return err
			}
		case frame := <-frameCh:
			if err := w.handleFrame(syncs, frame); err != nil {
				return err
			}
		}
	}
}

// readLoop feeds inbound frames to the session loop. The idle deadline
// turns a silent venue into a reconnect.
func (w *worker) readLoop(ctx context.Context, conn *websocket.Conn, frameCh chan<- []byte, readErr chan<- error) {
	for {
		conn.SetReadDeadline(time.Now().Add(w.cfg.ReadIdleTimeout))
		_, frame, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		select {
		case frameCh <- frame:
		case <-ctx.Done():
			return
		}
	}
}

// fetchSnapshotWhenStreaming waits until the stream has produced at
// least one delta for the symbol, then fetches the REST snapshot. The
// ordering guarantees the snapshot id falls inside or after the
// buffered delta range.
func (w *worker) fetchSnapshotWhenStreaming(ctx context.Context, symbol string, st *symbolSync, out chan<- snapshotResult) {
	select {
	case <-ctx.Done():
		return
	case <-st.firstDelta:
	}
	ev, err := w.adapter.FetchSnapshot(ctx, symbol, w.cfg.SnapshotDepth)
	if ctx.Err() != nil {
		return
	}
	if err == nil && ev == nil {
		err = errors.New("venue returned no snapshot")
	}
	select {
	case out <- snapshotResult{symbol: symbol, event: ev, err: err}:
	case <-ctx.Done():
	}
}

func (w *worker) handleFrame(syncs map[string]*symbolSync, frame []byte) error {
	ev, err := w.adapter.Parse(frame)
	if err != nil {
		// Malformed frames are dropped; the session survives.
		w.tel.RecordParseError()
		w.log.Debug("dropped malformed frame", zap.Error(err))
		return nil
	}
	if ev == nil {
		w.tel.RecordMessage("", len(frame))
		return nil
	}
	ev.IngressTS = time.Now()
	w.tel.RecordMessage(ev.Key.Symbol, len(frame))

	switch ev.Kind {
	case domain.EventTrade:
		w.tel.RecordTrade(ev.Key.Symbol)
		w.bus.Publish(domain.NewTradeMessage(ev))
		w.tel.RecordLatency(ev.Key.Symbol, ev.IngressTS)
		return nil

	case domain.EventSnapshot:
		res := w.store.ApplySnapshot(ev.Key, ev.Bids, ev.Asks, ev.LastUpdateID)
		if err := w.afterMutation(ev, res); err != nil {
			return err
		}
		return nil

	case domain.EventDelta:
		st := syncs[ev.Key.Symbol]
		if st != nil && !st.synced {
			w.bufferDelta(st, ev)
			return nil
		}
		if err := w.applyDelta(st, ev); err != nil {
			return err
		}
		return nil
	}
	return nil
}

func (w *worker) bufferDelta(st *symbolSync, ev *domain.MarketEvent) {
	if st.buffer.Len() >= deltaBufferCap {
		st.buffer.PopFront()
		w.tel.RecordDroppedDelta()
	}
	st.buffer.PushBack(ev)
	if !st.signaled {
		st.signaled = true
		close(st.firstDelta)
	}
}

// reconcile applies a REST snapshot against the deltas buffered while
// it was in flight: discard everything the snapshot already covers,
// verify the first survivor overlaps the snapshot id, then replay.
func (w *worker) reconcile(st *symbolSync, snap *domain.MarketEvent) error {
	u := snap.LastUpdateID
	for st.buffer.Len() > 0 && st.buffer.Front().LastUpdateID <= u {
		st.buffer.PopFront()
	}
	if st.buffer.Len() > 0 {
		first := st.buffer.Front()
		if first.FirstUpdateID > u+1 {
			w.tel.RecordSequenceGap()
			return fmt.Errorf("%w: snapshot %d predates buffered deltas starting at %d",
				domain.ErrSequenceGap, u, first.FirstUpdateID)
		}
	}

	res := w.store.ApplySnapshot(snap.Key, snap.Bids, snap.Asks, u)
	snap.IngressTS = time.Now()
	if err := w.afterMutation(snap, res); err != nil {
		return err
	}

	st.synced = true
	for st.buffer.Len() > 0 {
		ev := st.buffer.PopFront()
		ev.IngressTS = time.Now()
		if err := w.applyDelta(st, ev); err != nil {
			return err
		}
	}
	w.log.Info("book synchronized",
		zap.String("symbol", snap.Key.Symbol),
		zap.Uint64("update_id", u))
	return nil
}

// applyDelta pushes one live or replayed delta into the store. For
// Policy A the first delta after a snapshot may overlap it, so the
// chain check starts with the second.
func (w *worker) applyDelta(st *symbolSync, ev *domain.MarketEvent) error {
	prevID := ev.PrevUpdateID
	if st != nil {
		last, ready := w.store.LastUpdateID(ev.Key)
		if !ready {
			return nil
		}
		if ev.LastUpdateID != 0 && ev.LastUpdateID <= last {
			// Entirely covered by the snapshot.
			return nil
		}
		if !st.firstApplied {
			if ev.FirstUpdateID != 0 && ev.FirstUpdateID > last+1 {
				w.tel.RecordSequenceGap()
				return fmt.Errorf("%w: first delta [%d,%d] after snapshot %d",
					domain.ErrSequenceGap, ev.FirstUpdateID, ev.LastUpdateID, last)
			}
			prevID = 0
			st.firstApplied = true
		}
	}

	res, err := w.store.ApplyDelta(ev.Key, ev.Bids, ev.Asks, prevID, ev.LastUpdateID)
	switch {
	case errors.Is(err, domain.ErrSequenceGap):
		w.tel.RecordSequenceGap()
		return fmt.Errorf("%s: %w", ev.Key, err)
	case errors.Is(err, domain.ErrNotReady):
		// Self-sequencing venues deliver deltas before their snapshot
		// frame; nothing to apply yet.
		return nil
	case err != nil:
		return err
	}
	return w.afterMutation(ev, res)
}

// afterMutation publishes the display snapshot for the mutated book
// and settles the telemetry for the event.
func (w *worker) afterMutation(ev *domain.MarketEvent, res domain.ApplyResult) error {
	if res.Crossed {
		w.tel.RecordCrossedBook()
	}
	if res.NeedResync {
		return fmt.Errorf("%s: book crossed persistently, resyncing", ev.Key)
	}

	update, bps, err := w.store.DisplaySnapshot(ev.Key, w.cfg.DisplayDepth)
	if err != nil {
		return nil
	}
	w.bus.Publish(domain.NewBookUpdateMessage(update))
	w.tel.RecordUpdate()
	w.tel.RecordSymbolSpread(ev.Key.Symbol, bps)
	w.tel.RecordLatency(ev.Key.Symbol, ev.IngressTS)
	return nil
}
