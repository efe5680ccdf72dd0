package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spooky-finn/go-orderbook-aggregator/domain"
	"github.com/spooky-finn/go-orderbook-aggregator/telemetry"
)

func TestBootstrapMessages(t *testing.T) {
	store := domain.NewBookStore(100, 10, 5)
	tel := telemetry.NewCollector([]string{"BTCUSDT", "ETHUSDT"}, 64)

	ready := domain.Key{Venue: "Binance", Symbol: "BTCUSDT"}
	bids, err := domain.ParsePriceLevels([][]string{{"100", "1"}})
	require.NoError(t, err)
	asks, err := domain.ParsePriceLevels([][]string{{"101", "1"}})
	require.NoError(t, err)
	store.ApplySnapshot(ready, bids, asks, 1)

	// A book that exists but has lost its snapshot is skipped.
	stale := domain.Key{Venue: "Kraken", Symbol: "BTCUSDT"}
	store.ApplySnapshot(stale, bids, asks, 1)
	store.MarkNotReady(stale)

	msgs := NewBootstrap(store, tel, []string{"BTCUSDT", "ETHUSDT"}, 5).Messages()
	require.Len(t, msgs, 3)

	assert.Equal(t, domain.MessageTypeSymbolList, msgs[0].Type)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, msgs[0].Data)

	assert.Equal(t, domain.MessageTypeBookUpdate, msgs[1].Type)
	update := msgs[1].Data.(*domain.BookUpdate)
	assert.Equal(t, "Binance", update.Exchange)

	assert.Equal(t, domain.MessageTypeMetrics, msgs[2].Type)
}
