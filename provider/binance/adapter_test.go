package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-orderbook-aggregator/domain"
	"github.com/spooky-finn/go-orderbook-aggregator/provider"
)

func newTestAdapter() *Adapter {
	return &Adapter{
		symbols:     []string{"BTCUSDT"},
		httpClient:  &http.Client{Timeout: time.Second},
		snapshotURL: snapshotEndpoint,
	}
}

func TestSubscriptionURL(t *testing.T) {
	a := newTestAdapter()
	url, err := a.SubscriptionURL(context.Background(), []string{"BTCUSDT", "ETHUSDT"})
	require.NoError(t, err)
	assert.Equal(t,
		"wss://fstream.binance.com/stream?streams=btcusdt@depth@100ms/btcusdt@aggTrade/ethusdt@depth@100ms/ethusdt@aggTrade",
		url)

	frames, err := a.InitialFrames([]string{"BTCUSDT"})
	require.NoError(t, err)
	assert.Empty(t, frames, "binance subscribes via the URL")
	assert.Equal(t, provider.PolicySnapshotReplay, a.Policy())
}

func TestParseDepthUpdate(t *testing.T) {
	frame := `{"stream":"btcusdt@depth@100ms","data":{"e":"depthUpdate","E":1700000000123,"s":"BTCUSDT","U":100,"u":102,"pu":99,"b":[["42250.10","1.5"],["42249","0"]],"a":[["42251.30","2"]]}}`

	ev, err := newTestAdapter().Parse([]byte(frame))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, domain.EventDelta, ev.Kind)
	assert.Equal(t, domain.Key{Venue: "Binance", Symbol: "BTCUSDT"}, ev.Key)
	assert.EqualValues(t, 100, ev.FirstUpdateID)
	assert.EqualValues(t, 102, ev.LastUpdateID)
	assert.EqualValues(t, 99, ev.PrevUpdateID)
	require.Len(t, ev.Bids, 2)
	assert.Equal(t, "42250.1", ev.Bids[0].Price.String())
	assert.Zero(t, ev.Bids[1].Quantity)
	assert.EqualValues(t, 1700000000123, ev.EventTime)
}

func TestParseAggTrade(t *testing.T) {
	frame := `{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","E":1700000000500,"s":"BTCUSDT","p":"42250.5","q":"0.25","T":1700000000499,"m":true}}`

	ev, err := newTestAdapter().Parse([]byte(frame))
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, domain.EventTrade, ev.Kind)
	assert.Equal(t, domain.SideSell, ev.Side, "buyer-maker means the aggressor sold")
	assert.Equal(t, "42250.5", ev.Price.String())
	assert.Equal(t, "0.25", ev.Quantity.String())
	assert.EqualValues(t, 1700000000500, ev.EventTime)
}

func TestParseIgnoresControlFrames(t *testing.T) {
	ev, err := newTestAdapter().Parse([]byte(`{"result":null,"id":312}`))
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestParseMalformedDepth(t *testing.T) {
	frame := `{"stream":"btcusdt@depth@100ms","data":{"b":[["not-a-price","1"]],"a":[]}}`
	_, err := newTestAdapter().Parse([]byte(frame))
	assert.ErrorIs(t, err, domain.ErrParse)
}

func TestFetchSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		w.Write([]byte(`{"lastUpdateId":101,"bids":[["100","1"],["99","2"]],"asks":[["101","1"]]}`))
	}))
	defer srv.Close()

	a := newTestAdapter()
	a.snapshotURL = srv.URL

	ev, err := a.FetchSnapshot(context.Background(), "BTCUSDT", 100)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, domain.EventSnapshot, ev.Kind)
	assert.EqualValues(t, 101, ev.LastUpdateID)
	assert.Len(t, ev.Bids, 2)
	assert.Len(t, ev.Asks, 1)
}

// Round trip: a parsed venue frame applied to an empty book reproduces
// the venue's intended top of book.
func TestParseApplyRoundTrip(t *testing.T) {
	snapshotFrame := `{"lastUpdateId":10,"bids":[["42250.10","1.5"],["42249.90","2"]],"asks":[["42250.90","1"]]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(snapshotFrame))
	}))
	defer srv.Close()

	a := newTestAdapter()
	a.snapshotURL = srv.URL
	snap, err := a.FetchSnapshot(context.Background(), "BTCUSDT", 100)
	require.NoError(t, err)

	store := domain.NewBookStore(100, 10, 5)
	store.ApplySnapshot(snap.Key, snap.Bids, snap.Asks, snap.LastUpdateID)

	u, _, err := store.DisplaySnapshot(snap.Key, 5)
	require.NoError(t, err)
	assert.Equal(t, "42250.1", u.Bids[0].Price.String())
	assert.Equal(t, "42250.9", u.Asks[0].Price.String())
	assert.Equal(t, "0.8", u.Spread.String())
}
