// Package telemetry collects throughput, latency, and resource usage.
// Every hot-path record is a handful of atomic operations; percentile
// estimation, rate differencing, and process stats run on a ~1 s
// cadence off the critical path.
package telemetry

import (
	"context"
	"math"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/atomic"
)

// Snapshot is the published telemetry view; it is also the payload of
// the egress "metrics" message.
type Snapshot struct {
	MessagesPerSecond uint64 `json:"messages_per_second"`
	UpdatesPerSecond  uint64 `json:"updates_per_second"`
	TradesPerSecond   uint64 `json:"trades_per_second"`
	BytesPerSecond    uint64 `json:"bytes_per_second"`

	LatencyAvgUs float64 `json:"latency_avg_us"`
	LatencyMinUs uint64  `json:"latency_min_us"`
	LatencyMaxUs uint64  `json:"latency_max_us"`
	LatencyP50Us uint64  `json:"latency_p50_us"`
	LatencyP95Us uint64  `json:"latency_p95_us"`
	LatencyP99Us uint64  `json:"latency_p99_us"`

	TotalMessages uint64 `json:"total_messages"`
	TotalUpdates  uint64 `json:"total_updates"`
	TotalTrades   uint64 `json:"total_trades"`
	BytesReceived uint64 `json:"bytes_received"`

	UptimeSeconds   uint64  `json:"uptime_seconds"`
	MemoryUsedMB    float64 `json:"memory_used_mb"`
	MemoryRSSMB     float64 `json:"memory_rss_mb"`
	CPUUsagePercent float64 `json:"cpu_usage_percent"`

	ActiveSymbols        uint32 `json:"active_symbols"`
	ActiveConnections    uint32 `json:"active_connections"`
	WebsocketReconnects  uint64 `json:"websocket_reconnects"`
	ParseErrors          uint64 `json:"parse_errors"`
	SequenceGaps         uint64 `json:"sequence_gaps"`
	CrossedBooks         uint64 `json:"crossed_books"`
	DroppedBufferedDeltas uint64 `json:"dropped_buffered_deltas"`
	LagEvents            uint64 `json:"lag_events"`

	Symbols map[string]SymbolSnapshot `json:"symbols"`
}

// SymbolSnapshot is the per-symbol slice of the telemetry snapshot.
type SymbolSnapshot struct {
	MessagesPerSecond uint64  `json:"messages_per_second"`
	TradesPerSecond   uint64  `json:"trades_per_second"`
	LatencyAvgUs      float64 `json:"latency_avg_us"`
	SpreadBps         float64 `json:"spread_bps"`
}

type symbolStats struct {
	messages     atomic.Uint64
	trades       atomic.Uint64
	latencySumUs atomic.Uint64
	latencyCount atomic.Uint64
	spreadBps    atomic.Float64

	lastMessages uint64
	lastTrades   uint64
}

// Collector is the process-wide telemetry sink. Construct once, hand
// the same pointer to every subsystem.
type Collector struct {
	messages   atomic.Uint64
	updates    atomic.Uint64
	trades     atomic.Uint64
	bytes      atomic.Uint64
	reconnects atomic.Uint64

	parseErrors   atomic.Uint64
	sequenceGaps  atomic.Uint64
	crossedBooks  atomic.Uint64
	droppedDeltas atomic.Uint64
	lagEvents     atomic.Uint64

	activeConnections atomic.Int64

	ring         *latencyRing
	latencySumUs atomic.Uint64
	latencyCount atomic.Uint64

	// perSymbol is filled at construction and read-only afterwards, so
	// the hot path needs no lock to reach a symbol's stats.
	perSymbol map[string]*symbolStats

	start time.Time
	proc  *process.Process

	// Sampler-only state; guarded by sampleMu because Run and tests
	// may both drive a sample pass.
	sampleMu     sync.Mutex
	scratch      []uint64
	lastSample   time.Time
	lastMessages uint64
	lastUpdates  uint64
	lastTrades   uint64
	lastBytes    uint64

	snapshot atomic.Value // *Snapshot
}

func NewCollector(symbols []string, ringSize int) *Collector {
	per := make(map[string]*symbolStats, len(symbols))
	for _, s := range symbols {
		per[s] = &symbolStats{}
	}
	proc, _ := process.NewProcess(int32(os.Getpid()))
	c := &Collector{
		ring:       newLatencyRing(ringSize),
		perSymbol:  per,
		start:      time.Now(),
		proc:       proc,
		scratch:    make([]uint64, ringSize),
		lastSample: time.Now(),
	}
	c.snapshot.Store(&Snapshot{Symbols: map[string]SymbolSnapshot{}})
	return c
}

// RecordMessage counts one inbound venue frame of n bytes.
func (c *Collector) RecordMessage(symbol string, n int) {
	c.messages.Inc()
	c.bytes.Add(uint64(n))
	if st, ok := c.perSymbol[symbol]; ok {
		st.messages.Inc()
	}
}

func (c *Collector) RecordUpdate() { c.updates.Inc() }

func (c *Collector) RecordTrade(symbol string) {
	c.trades.Inc()
	if st, ok := c.perSymbol[symbol]; ok {
		st.trades.Inc()
	}
}

// RecordLatency stamps the end-to-end processing latency for a frame
// whose ingress timestamp is since.
func (c *Collector) RecordLatency(symbol string, since time.Time) {
	us := uint64(time.Since(since).Microseconds())
	c.latencySumUs.Add(us)
	c.latencyCount.Inc()
	c.ring.record(us)
	if st, ok := c.perSymbol[symbol]; ok {
		st.latencySumUs.Add(us)
		st.latencyCount.Inc()
	}
}

func (c *Collector) RecordReconnect()    { c.reconnects.Inc() }
func (c *Collector) RecordParseError()   { c.parseErrors.Inc() }
func (c *Collector) RecordSequenceGap()  { c.sequenceGaps.Inc() }
func (c *Collector) RecordCrossedBook()  { c.crossedBooks.Inc() }
func (c *Collector) RecordDroppedDelta() { c.droppedDeltas.Inc() }
func (c *Collector) RecordLagEvent()     { c.lagEvents.Inc() }

func (c *Collector) SubscriberConnected()    { c.activeConnections.Inc() }
func (c *Collector) SubscriberDisconnected() { c.activeConnections.Dec() }

// RecordSymbolSpread stores the latest best-of-book spread in basis
// points for the symbol's telemetry slice.
func (c *Collector) RecordSymbolSpread(symbol string, bps float64) {
	if st, ok := c.perSymbol[symbol]; ok {
		st.spreadBps.Store(bps)
	}
}

func (c *Collector) Reconnects() uint64 { return c.reconnects.Load() }

// Snapshot returns the most recently published snapshot.
func (c *Collector) Snapshot() *Snapshot {
	return c.snapshot.Load().(*Snapshot)
}

// Sample computes a fresh snapshot: per-second rates from counter
// deltas, percentiles from a racy copy of the latency ring, process
// memory and CPU. It publishes and returns the result.
func (c *Collector) Sample() *Snapshot {
	c.sampleMu.Lock()
	defer c.sampleMu.Unlock()

	now := time.Now()
	elapsed := now.Sub(c.lastSample).Seconds()
	c.lastSample = now

	messages := c.messages.Load()
	updates := c.updates.Load()
	trades := c.trades.Load()
	bytes := c.bytes.Load()

	rate := func(cur, prev uint64) uint64 {
		if elapsed <= 0 || cur < prev {
			return 0
		}
		return uint64(float64(cur-prev) / elapsed)
	}

	snap := &Snapshot{
		MessagesPerSecond: rate(messages, c.lastMessages),
		UpdatesPerSecond:  rate(updates, c.lastUpdates),
		TradesPerSecond:   rate(trades, c.lastTrades),
		BytesPerSecond:    rate(bytes, c.lastBytes),

		TotalMessages: messages,
		TotalUpdates:  updates,
		TotalTrades:   trades,
		BytesReceived: bytes,

		UptimeSeconds: uint64(now.Sub(c.start).Seconds()),

		ActiveSymbols:         uint32(len(c.perSymbol)),
		ActiveConnections:     uint32(c.activeConnections.Load()),
		WebsocketReconnects:   c.reconnects.Load(),
		ParseErrors:           c.parseErrors.Load(),
		SequenceGaps:          c.sequenceGaps.Load(),
		CrossedBooks:          c.crossedBooks.Load(),
		DroppedBufferedDeltas: c.droppedDeltas.Load(),
		LagEvents:             c.lagEvents.Load(),

		Symbols: make(map[string]SymbolSnapshot, len(c.perSymbol)),
	}
	c.lastMessages, c.lastUpdates, c.lastTrades, c.lastBytes = messages, updates, trades, bytes

	if sum, count := c.latencySumUs.Swap(0), c.latencyCount.Swap(0); count > 0 {
		snap.LatencyAvgUs = float64(sum) / float64(count)
	}
	samples := c.ring.snapshotInto(c.scratch)
	snap.LatencyP50Us, snap.LatencyP95Us, snap.LatencyP99Us, snap.LatencyMinUs, snap.LatencyMaxUs = percentiles(samples)

	for symbol, st := range c.perSymbol {
		msgs := st.messages.Load()
		trds := st.trades.Load()
		var avg float64
		if sum, count := st.latencySumUs.Swap(0), st.latencyCount.Swap(0); count > 0 {
			avg = float64(sum) / float64(count)
		}
		snap.Symbols[symbol] = SymbolSnapshot{
			MessagesPerSecond: rate(msgs, st.lastMessages),
			TradesPerSecond:   rate(trds, st.lastTrades),
			LatencyAvgUs:      avg,
			SpreadBps:         st.spreadBps.Load(),
		}
		st.lastMessages, st.lastTrades = msgs, trds
	}

	if c.proc != nil {
		if mem, err := c.proc.MemoryInfo(); err == nil && mem != nil {
			snap.MemoryRSSMB = float64(mem.RSS) / 1024 / 1024
			snap.MemoryUsedMB = float64(mem.VMS) / 1024 / 1024
		}
		if cpu, err := c.proc.Percent(0); err == nil && !math.IsNaN(cpu) {
			snap.CPUUsagePercent = cpu
		}
	}

	c.snapshot.Store(snap)
	return snap
}

// Run samples on the given cadence until ctx is done, handing each
// snapshot to publish.
func (c *Collector) Run(ctx context.Context, interval time.Duration, publish func(*Snapshot)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := c.Sample()
			if publish != nil {
				publish(snap)
			}
		}
	}
}
