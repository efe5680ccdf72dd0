package bybit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-orderbook-aggregator/domain"
	"github.com/spooky-finn/go-orderbook-aggregator/provider"
)

func TestSubscribeFrames(t *testing.T) {
	a := &Adapter{symbols: []string{"BTCUSDT"}}
	url, err := a.SubscriptionURL(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "wss://stream.bybit.com/v5/public/linear", url)

	frames, err := a.InitialFrames([]string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.JSONEq(t,
		`{"op":"subscribe","args":["orderbook.50.BTCUSDT","publicTrade.BTCUSDT","orderbook.50.ETHUSDT","publicTrade.ETHUSDT"]}`,
		frames[0])
	assert.Equal(t, provider.PolicySelfSequencing, a.Policy())
}

func TestParseSnapshotAndDelta(t *testing.T) {
	a := &Adapter{}

	snapshot := `{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1700000000000,"data":{"s":"BTCUSDT","b":[["42250","1.5"]],"a":[["42251","2"]],"u":7}}`
	ev, err := a.Parse([]byte(snapshot))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, domain.EventSnapshot, ev.Kind)
	assert.EqualValues(t, 7, ev.LastUpdateID)
	assert.Equal(t, "42250", ev.Bids[0].Price.String())

	delta := `{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1700000000100,"data":{"s":"BTCUSDT","b":[["42250","0"]],"a":[],"u":8}}`
	ev, err = a.Parse([]byte(delta))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, domain.EventDelta, ev.Kind)
	assert.Zero(t, ev.Bids[0].Quantity)
}

func TestParseTrade(t *testing.T) {
	frame := `{"topic":"publicTrade.BTCUSDT","type":"snapshot","ts":1700000000000,"data":[{"T":1700000000123,"s":"BTCUSDT","S":"Buy","v":"0.5","p":"42250.5"}]}`
	ev, err := (&Adapter{}).Parse([]byte(frame))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, domain.EventTrade, ev.Kind)
	assert.Equal(t, domain.SideBuy, ev.Side)
	assert.EqualValues(t, 1700000000123, ev.EventTime)
}

func TestParseIgnoresAcks(t *testing.T) {
	ev, err := (&Adapter{}).Parse([]byte(`{"success":true,"op":"subscribe","conn_id":"x"}`))
	require.NoError(t, err)
	assert.Nil(t, ev)

	snap, err := (&Adapter{}).FetchSnapshot(context.Background(), "BTCUSDT", 50)
	require.NoError(t, err)
	assert.Nil(t, snap, "the feed self-initializes")
}
