package coinbase

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-orderbook-aggregator/domain"
)

func TestSubscribeFrames(t *testing.T) {
	a := &Adapter{symbols: []string{"BTCUSDT"}}
	frames, err := a.InitialFrames([]string{"BTCUSDT"})
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"type":"subscribe","product_ids":["BTC-USD"],"channel":"level2"}`, frames[0])
	assert.JSONEq(t, `{"type":"subscribe","product_ids":["BTC-USD"],"channel":"market_trades"}`, frames[1])
}

func TestParseLevel2(t *testing.T) {
	frame := `{"channel":"l2_data","sequence_num":42,"events":[{"type":"snapshot","product_id":"BTC-USD","updates":[{"side":"bid","price_level":"42250.10","new_quantity":"1.5"},{"side":"offer","price_level":"42251","new_quantity":"2"}]}]}`
	ev, err := (&Adapter{}).Parse([]byte(frame))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, domain.EventSnapshot, ev.Kind)
	assert.Equal(t, "BTCUSDT", ev.Key.Symbol, "product id maps back to the canonical symbol")
	assert.EqualValues(t, 42, ev.LastUpdateID)
	require.Len(t, ev.Bids, 1)
	require.Len(t, ev.Asks, 1)

	update := `{"channel":"l2_data","sequence_num":43,"events":[{"type":"update","product_id":"BTC-USD","updates":[{"side":"bid","price_level":"42250.10","new_quantity":"0"}]}]}`
	ev, err = (&Adapter{}).Parse([]byte(update))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, domain.EventDelta, ev.Kind)
	assert.Zero(t, ev.Bids[0].Quantity)
}

func TestParseTrade(t *testing.T) {
	frame := `{"channel":"market_trades","sequence_num":44,"events":[{"type":"update","trades":[{"product_id":"BTC-USD","price":"42250.5","size":"0.1","side":"SELL","time":"2024-01-15T10:30:00.5Z"}]}]}`
	ev, err := (&Adapter{}).Parse([]byte(frame))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, domain.EventTrade, ev.Kind)
	assert.Equal(t, domain.SideSell, ev.Side)
	assert.EqualValues(t, 1705314600500, ev.EventTime)
}

func TestParseIgnoresNoise(t *testing.T) {
	a := &Adapter{}
	for _, frame := range []string{
		`{"channel":"subscriptions","events":[]}`,
		`{"channel":"heartbeats","events":[]}`,
	} {
		ev, err := a.Parse([]byte(frame))
		require.NoError(t, err)
		assert.Nil(t, ev)
	}

	snap, err := a.FetchSnapshot(context.Background(), "BTCUSDT", 25)
	require.NoError(t, err)
	assert.Nil(t, snap)
}
