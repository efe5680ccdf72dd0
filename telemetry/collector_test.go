package telemetry

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAccumulate(t *testing.T) {
	c := NewCollector([]string{"BTCUSDT"}, 64)

	c.RecordMessage("BTCUSDT", 100)
	c.RecordMessage("BTCUSDT", 50)
	c.RecordMessage("", 10) // noise frame with no symbol
	c.RecordUpdate()
	c.RecordTrade("BTCUSDT")
	c.RecordReconnect()
	c.RecordParseError()
	c.RecordSequenceGap()
	c.RecordCrossedBook()
	c.RecordDroppedDelta()
	c.RecordLagEvent()
	c.SubscriberConnected()

	snap := c.Sample()
	assert.EqualValues(t, 3, snap.TotalMessages)
	assert.EqualValues(t, 160, snap.BytesReceived)
	assert.EqualValues(t, 1, snap.TotalUpdates)
	assert.EqualValues(t, 1, snap.TotalTrades)
	assert.EqualValues(t, 1, snap.WebsocketReconnects)
	assert.EqualValues(t, 1, snap.ParseErrors)
	assert.EqualValues(t, 1, snap.SequenceGaps)
	assert.EqualValues(t, 1, snap.CrossedBooks)
	assert.EqualValues(t, 1, snap.DroppedBufferedDeltas)
	assert.EqualValues(t, 1, snap.LagEvents)
	assert.EqualValues(t, 1, snap.ActiveConnections)
	assert.EqualValues(t, 1, snap.ActiveSymbols)
}

// Totals never decrease across samples; only the rate fields differ.
func TestTotalsAreMonotonic(t *testing.T) {
	c := NewCollector([]string{"BTCUSDT"}, 64)

	var prev uint64
	for i := 0; i < 5; i++ {
		c.RecordMessage("BTCUSDT", 10)
		snap := c.Sample()
		assert.GreaterOrEqual(t, snap.TotalMessages, prev)
		prev = snap.TotalMessages
	}
	assert.EqualValues(t, 5, prev)
}

func TestLatencyPercentiles(t *testing.T) {
	c := NewCollector([]string{"BTCUSDT"}, 4096)

	// 1..1000 microseconds, shuffled deterministically.
	for i := 1; i <= 1000; i++ {
		us := uint64((i*617)%1000 + 1)
		c.ring.record(us)
		c.latencySumUs.Add(us)
		c.latencyCount.Inc()
	}

	snap := c.Sample()
	assert.EqualValues(t, 1, snap.LatencyMinUs)
	assert.EqualValues(t, 1000, snap.LatencyMaxUs)
	assert.InDelta(t, 500, snap.LatencyP50Us, 2)
	assert.InDelta(t, 950, snap.LatencyP95Us, 2)
	assert.InDelta(t, 990, snap.LatencyP99Us, 2)
	assert.InDelta(t, 500.5, snap.LatencyAvgUs, 1)
}

func TestRingOverwritesOldSamples(t *testing.T) {
	r := newLatencyRing(8)
	for i := 1; i <= 20; i++ {
		r.record(uint64(i))
	}
	dst := make([]uint64, 8)
	samples := r.snapshotInto(dst)
	require.Len(t, samples, 8)
	for _, s := range samples {
		assert.Greater(t, s, uint64(12), "early samples were overwritten in place")
	}
}

func TestQuickselectMatchesSort(t *testing.T) {
	data := []uint64{9, 3, 7, 1, 8, 2, 6, 5, 4, 0}
	sorted := append([]uint64{}, data...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	for k := range data {
		scratch := append([]uint64{}, data...)
		assert.Equal(t, sorted[k], quickselect(scratch, k), "k=%d", k)
	}
}

func TestPerSymbolSlice(t *testing.T) {
	c := NewCollector([]string{"BTCUSDT", "ETHUSDT"}, 64)
	c.RecordTrade("BTCUSDT")
	c.RecordSymbolSpread("BTCUSDT", 12.5)
	c.RecordTrade("UNKNOWN") // not tracked, only the global total moves

	snap := c.Sample()
	require.Contains(t, snap.Symbols, "BTCUSDT")
	require.Contains(t, snap.Symbols, "ETHUSDT")
	assert.Equal(t, 12.5, snap.Symbols["BTCUSDT"].SpreadBps)
	assert.EqualValues(t, 2, snap.TotalTrades)
}
