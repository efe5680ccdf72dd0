package kraken

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-orderbook-aggregator/domain"
)

func TestSubscribeFrames(t *testing.T) {
	a := &Adapter{symbols: []string{"BTCUSDT"}}
	frames, err := a.InitialFrames([]string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.JSONEq(t,
		`{"method":"subscribe","params":{"channel":"book","symbol":["BTC/USD","ETH/USD"],"depth":25,"snapshot":true}}`,
		frames[0])
	assert.JSONEq(t,
		`{"method":"subscribe","params":{"channel":"trade","symbol":["BTC/USD","ETH/USD"]}}`,
		frames[1])
}

func TestParseBook(t *testing.T) {
	// Kraken emits numbers, not strings; parsing must stay exact.
	snapshot := `{"channel":"book","type":"snapshot","data":[{"symbol":"BTC/USD","bids":[{"price":42250.1,"qty":1.5}],"asks":[{"price":42251.3,"qty":2}],"checksum":123}]}`
	ev, err := (&Adapter{}).Parse([]byte(snapshot))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, domain.EventSnapshot, ev.Kind)
	assert.Equal(t, "BTCUSDT", ev.Key.Symbol)
	assert.Equal(t, "42250.1", ev.Bids[0].Price.String())
	assert.Zero(t, ev.LastUpdateID, "kraken provides no update ids")

	update := `{"channel":"book","type":"update","data":[{"symbol":"BTC/USD","bids":[{"price":42250.1,"qty":0}],"asks":[]}]}`
	ev, err = (&Adapter{}).Parse([]byte(update))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, domain.EventDelta, ev.Kind)
	assert.Zero(t, ev.Bids[0].Quantity)

	empty := `{"channel":"book","type":"update","data":[{"symbol":"BTC/USD","bids":[],"asks":[]}]}`
	ev, err = (&Adapter{}).Parse([]byte(empty))
	require.NoError(t, err)
	assert.Nil(t, ev, "empty updates carry no information")
}

func TestParseTrade(t *testing.T) {
	frame := `{"channel":"trade","type":"update","data":[{"symbol":"BTC/USD","price":42250.5,"qty":0.25,"side":"buy","timestamp":"2024-01-15T10:30:00.000000Z"}]}`
	ev, err := (&Adapter{}).Parse([]byte(frame))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, domain.EventTrade, ev.Kind)
	assert.Equal(t, domain.SideBuy, ev.Side)
	assert.Equal(t, "0.25", ev.Quantity.String())
	assert.EqualValues(t, 1705314600000, ev.EventTime)
}

func TestParseIgnoresNoise(t *testing.T) {
	a := &Adapter{}
	for _, frame := range []string{
		`{"channel":"heartbeat"}`,
		`{"channel":"status","type":"update","data":[]}`,
		`{"method":"subscribe","success":true,"result":{"channel":"book"}}`,
	} {
		ev, err := a.Parse([]byte(frame))
		require.NoError(t, err)
		assert.Nil(t, ev, frame)
	}

	snap, err := a.FetchSnapshot(context.Background(), "BTCUSDT", 25)
	require.NoError(t, err)
	assert.Nil(t, snap)
}
