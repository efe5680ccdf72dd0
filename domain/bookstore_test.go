package domain

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentWritersDistinctKeys(t *testing.T) {
	store := newTestStore()

	const writers = 8
	const deltasPerWriter = 500

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		key := Key{Venue: fmt.Sprintf("venue-%d", i), Symbol: "BTCUSDT"}
		store.ApplySnapshot(key,
			mustLevels(t, [][]string{{"100", "1"}}),
			mustLevels(t, [][]string{{"101", "1"}}),
			1)
		wg.Add(1)
		go func(key Key, base uint64) {
			defer wg.Done()
			for j := 0; j < deltasPerWriter; j++ {
				qty := FixedPoint(uint64(j+1) * 100000000)
				_, err := store.ApplyDelta(key,
					[]PriceLevel{{Price: 10000000000, Quantity: qty}},
					nil, 0, base+uint64(j))
				if err != nil {
					t.Error(err)
					return
				}
			}
		}(key, 2)
	}
	wg.Wait()

	// Each book equals the serial reduction of its own event stream:
	// the final quantity wins and no other writer interfered.
	for i := 0; i < writers; i++ {
		key := Key{Venue: fmt.Sprintf("venue-%d", i), Symbol: "BTCUSDT"}
		u, _, err := store.DisplaySnapshot(key, 5)
		require.NoError(t, err)
		assert.Equal(t, "500", u.Bids[0].Quantity.String())
		id, ready := store.LastUpdateID(key)
		assert.True(t, ready)
		assert.EqualValues(t, 2+deltasPerWriter-1, id)
	}
}

func TestMarkVenueNotReady(t *testing.T) {
	store := newTestStore()
	a := Key{Venue: "Binance", Symbol: "BTCUSDT"}
	b := Key{Venue: "Binance", Symbol: "ETHUSDT"}
	other := Key{Venue: "Kraken", Symbol: "BTCUSDT"}
	for _, key := range []Key{a, b, other} {
		store.ApplySnapshot(key,
			mustLevels(t, [][]string{{"100", "1"}}),
			mustLevels(t, [][]string{{"101", "1"}}),
			1)
	}

	n := store.MarkVenueNotReady("Binance")
	assert.Equal(t, 2, n)

	_, _, err := store.DisplaySnapshot(a, 5)
	assert.ErrorIs(t, err, ErrNotReady)
	_, _, err = store.DisplaySnapshot(other, 5)
	assert.NoError(t, err, "other venues are unaffected")

	// Books survive the outage and re-initialize from the next snapshot.
	store.ApplySnapshot(a,
		mustLevels(t, [][]string{{"100", "2"}}),
		mustLevels(t, [][]string{{"101", "2"}}),
		9)
	u, _, err := store.DisplaySnapshot(a, 5)
	require.NoError(t, err)
	assert.Equal(t, "2", u.Bids[0].Quantity.String())
}

func TestKeysDeterministicOrder(t *testing.T) {
	store := newTestStore()
	for _, key := range []Key{
		{Venue: "Kraken", Symbol: "ETHUSDT"},
		{Venue: "Binance", Symbol: "ETHUSDT"},
		{Venue: "Binance", Symbol: "BTCUSDT"},
	} {
		store.ApplySnapshot(key, nil, nil, 1)
	}
	assert.Equal(t, []Key{
		{Venue: "Binance", Symbol: "BTCUSDT"},
		{Venue: "Binance", Symbol: "ETHUSDT"},
		{Venue: "Kraken", Symbol: "ETHUSDT"},
	}, store.Keys())
}
