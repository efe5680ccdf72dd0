package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// How many consecutive crossed applications a book tolerates before the
// session is asked to resync.
const crossedResyncLimit = 8

// Book holds the resting bids and asks of one (venue, symbol).
// Sides are contiguous slices: bids descending, asks ascending, best at
// index 0. At display depths the linear layout beats a tree.
//
// A Book is not safe for concurrent use on its own; the owning shard's
// mutex serializes access.
type Book struct {
	venue  string
	symbol string

	bids []PriceLevel
	asks []PriceLevel

	lastUpdateID  uint64
	ready         bool
	crossedStreak int

	maxDepth int
	trimAt   int
}

func newBook(key Key, maxDepth, growthFactor int) *Book {
	return &Book{
		venue:    key.Venue,
		symbol:   key.Symbol,
		bids:     make([]PriceLevel, 0, maxDepth),
		asks:     make([]PriceLevel, 0, maxDepth),
		maxDepth: maxDepth,
		trimAt:   maxDepth * growthFactor,
	}
}

func (b *Book) Ready() bool          { return b.ready }
func (b *Book) LastUpdateID() uint64 { return b.lastUpdateID }

// applySnapshot atomically replaces the book contents and marks it
// ready. Unsorted input is repaired rather than rejected; a crossed
// snapshot is accepted and reported through the return value.
func (b *Book) applySnapshot(bids, asks []PriceLevel, updateID uint64) (crossed bool) {
	b.bids = b.bids[:0]
	b.asks = b.asks[:0]
	for _, l := range bids {
		if l.Quantity > 0 {
			b.bids = append(b.bids, l)
		}
	}
	for _, l := range asks {
		if l.Quantity > 0 {
			b.asks = append(b.asks, l)
		}
	}
	sort.Slice(b.bids, func(i, j int) bool { return b.bids[i].Price > b.bids[j].Price })
	sort.Slice(b.asks, func(i, j int) bool { return b.asks[i].Price < b.asks[j].Price })
	b.trim()

	b.lastUpdateID = updateID
	b.ready = true
	return b.noteCrossed()
}

// applyDelta upserts changed levels and removes zero-quantity ones.
// When prevID is non-zero it must match the book's cursor; a mismatch
// is a sequence gap and the delta is not applied.
func (b *Book) applyDelta(bids, asks []PriceLevel, prevID, lastID uint64) (crossed bool, err error) {
	if prevID != 0 && b.lastUpdateID != 0 && prevID != b.lastUpdateID {
		return false, ErrSequenceGap
	}

	for _, l := range bids {
		b.upsertBid(l)
	}
	for _, l := range asks {
		b.upsertAsk(l)
	}
	b.trim()

	if lastID != 0 {
		b.lastUpdateID = lastID
	}
	return b.noteCrossed(), nil
}

func (b *Book) upsertBid(l PriceLevel) {
	idx := sort.Search(len(b.bids), func(i int) bool { return b.bids[i].Price <= l.Price })
	found := idx < len(b.bids) && b.bids[idx].Price == l.Price
	b.bids = upsertAt(b.bids, idx, found, l)
}

func (b *Book) upsertAsk(l PriceLevel) {
	idx := sort.Search(len(b.asks), func(i int) bool { return b.asks[i].Price >= l.Price })
	found := idx < len(b.asks) && b.asks[idx].Price == l.Price
	b.asks = upsertAt(b.asks, idx, found, l)
}

func upsertAt(side []PriceLevel, idx int, found bool, l PriceLevel) []PriceLevel {
	switch {
	case found && l.Quantity == 0:
		return append(side[:idx], side[idx+1:]...)
	case found:
		side[idx].Quantity = l.Quantity
		return side
	case l.Quantity == 0:
		// Removal of an absent price is a no-op.
		return side
	default:
		side = append(side, PriceLevel{})
		copy(side[idx+1:], side[idx:])
		side[idx] = l
		return side
	}
}

// trim bounds each side to maxDepth, but only once it has grown past
// trimAt, so the cost of the suffix truncation is amortized over many
// inserts instead of paid per insert.
func (b *Book) trim() {
	if len(b.bids) > b.trimAt {
		b.bids = b.bids[:b.maxDepth]
	}
	if len(b.asks) > b.trimAt {
		b.asks = b.asks[:b.maxDepth]
	}
}

// noteCrossed records whether best bid >= best ask. Venues emit crossed
// frames transiently, so single occurrences are only counted.
func (b *Book) noteCrossed() bool {
	if len(b.bids) > 0 && len(b.asks) > 0 && b.bids[0].Price >= b.asks[0].Price {
		b.crossedStreak++
		return true
	}
	b.crossedStreak = 0
	return false
}

func (b *Book) needsResync() bool {
	return b.crossedStreak > crossedResyncLimit
}

func (b *Book) markNotReady() {
	b.ready = false
	b.crossedStreak = 0
}

// displaySnapshot copies the top n levels per side and the sums needed
// for the egress payload. Only cheap copies and integer adds happen
// here; decimal formatting is done by the caller after the shard lock
// is released.
func (b *Book) displaySnapshot(n int) (*BookUpdate, error) {
	if !b.ready {
		return nil, ErrNotReady
	}

	bids := make([]PriceLevel, minInt(n, len(b.bids)))
	copy(bids, b.bids)
	asks := make([]PriceLevel, minInt(n, len(b.asks)))
	copy(asks, b.asks)

	var bidDepth, askDepth FixedPoint
	for _, l := range bids {
		bidDepth += l.Quantity
	}
	for _, l := range asks {
		askDepth += l.Quantity
	}

	u := &BookUpdate{
		Exchange: b.venue,
		Symbol:   b.symbol,
		Bids:     bids,
		Asks:     asks,
		BidDepth: bidDepth,
		AskDepth: askDepth,
	}
	if len(bids) > 0 && len(asks) > 0 && asks[0].Price >= bids[0].Price {
		u.Spread = asks[0].Price - bids[0].Price
	}
	return u, nil
}

// finishSpreadPercent computes spread / mid × 100 outside the shard
// lock and returns the spread in basis points for the telemetry slice.
func (u *BookUpdate) finishSpreadPercent() float64 {
	if len(u.Bids) == 0 || len(u.Asks) == 0 {
		u.SpreadPercent = "0"
		return 0
	}
	bid := u.Bids[0].Price.Decimal()
	ask := u.Asks[0].Price.Decimal()
	mid := bid.Add(ask).Div(decimal.New(2, 0))
	if !mid.IsPositive() {
		u.SpreadPercent = "0"
		return 0
	}
	ratio := u.Spread.Decimal().Div(mid)
	u.SpreadPercent = ratio.Mul(decimal.New(100, 0)).Round(6).String()
	bps, _ := ratio.Mul(decimal.New(10000, 0)).Float64()
	return bps
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
