package domain

import (
	"hash/fnv"
	"sort"
	"sync"
)

// Shard count leaves a generous margin over the number of concurrent
// venue writers, so cross-venue contention is effectively zero.
const bookStoreShards = 32

// ApplyResult reports the side effects of a mutation the caller has to
// act on: counter increments and crossing-triggered resyncs.
type ApplyResult struct {
	// Crossed is set when the mutation left best bid >= best ask.
	Crossed bool
	// NeedResync is set when the book has stayed crossed long enough
	// that the venue session should resynchronize it.
	NeedResync bool
}

// BookStore is the sharded map of all books, keyed by (venue, symbol).
// Shard mutexes are held only for slice surgery; string parsing happens
// before the lock and JSON formatting after it.
type BookStore struct {
	shards       [bookStoreShards]bookShard
	maxDepth     int
	growthFactor int
	displayDepth int
}

type bookShard struct {
	mu    sync.Mutex
	books map[Key]*Book
}

func NewBookStore(maxDepth, growthFactor, displayDepth int) *BookStore {
	s := &BookStore{
		maxDepth:     maxDepth,
		growthFactor: growthFactor,
		displayDepth: displayDepth,
	}
	for i := range s.shards {
		s.shards[i].books = make(map[Key]*Book)
	}
	return s
}

func (s *BookStore) shard(key Key) *bookShard {
	h := fnv.New32a()
	h.Write([]byte(key.Venue))
	h.Write([]byte{':'})
	h.Write([]byte(key.Symbol))
	return &s.shards[h.Sum32()%bookStoreShards]
}

func (sh *bookShard) getOrCreate(key Key, maxDepth, growthFactor int) *Book {
	b, ok := sh.books[key]
	if !ok {
		b = newBook(key, maxDepth, growthFactor)
		sh.books[key] = b
	}
	return b
}

// ApplySnapshot replaces the book for key and marks it ready.
func (s *BookStore) ApplySnapshot(key Key, bids, asks []PriceLevel, updateID uint64) ApplyResult {
	sh := s.shard(key)
	sh.mu.Lock()
	b := sh.getOrCreate(key, s.maxDepth, s.growthFactor)
	crossed := b.applySnapshot(bids, asks, updateID)
	resync := b.needsResync()
	sh.mu.Unlock()
	return ApplyResult{Crossed: crossed, NeedResync: resync}
}

// ApplyDelta applies an incremental update. ErrNotReady is returned for
// books that have not seen a snapshot, ErrSequenceGap when prevID does
// not continue the book's cursor; in both cases the book is unchanged.
func (s *BookStore) ApplyDelta(key Key, bids, asks []PriceLevel, prevID, lastID uint64) (ApplyResult, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	b, ok := sh.books[key]
	if !ok || !b.ready {
		sh.mu.Unlock()
		return ApplyResult{}, ErrNotReady
	}
	crossed, err := b.applyDelta(bids, asks, prevID, lastID)
	resync := b.needsResync()
	sh.mu.Unlock()
	if err != nil {
		return ApplyResult{}, err
	}
	return ApplyResult{Crossed: crossed, NeedResync: resync}, nil
}

// DisplaySnapshot returns the top n levels per side plus spread and
// depth sums, with spread_percent formatted after the lock is released.
// An n that is not positive or exceeds the store's display depth is
// replaced by the display depth.
// The spread in basis points is returned alongside for telemetry.
func (s *BookStore) DisplaySnapshot(key Key, n int) (*BookUpdate, float64, error) {
	if n <= 0 || n > s.displayDepth {
		n = s.displayDepth
	}
	sh := s.shard(key)
	sh.mu.Lock()
	b, ok := sh.books[key]
	if !ok {
		sh.mu.Unlock()
		return nil, 0, ErrBookNotFound
	}
	u, err := b.displaySnapshot(n)
	sh.mu.Unlock()
	if err != nil {
		return nil, 0, err
	}
	bps := u.finishSpreadPercent()
	return u, bps, nil
}

// LastUpdateID exposes the sequencing cursor, mainly for reconciliation
// and tests.
func (s *BookStore) LastUpdateID(key Key) (uint64, bool) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	b, ok := sh.books[key]
	if !ok {
		return 0, false
	}
	return b.lastUpdateID, b.ready
}

// MarkVenueNotReady flips every book of a venue to not-ready; used when
// the venue's session drops. Books are retained for the process
// lifetime and re-initialize on the next snapshot.
func (s *BookStore) MarkVenueNotReady(venue string) int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, b := range sh.books {
			if key.Venue == venue && b.ready {
				b.markNotReady()
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// MarkNotReady flips a single book to not-ready ahead of a per-book
// resync.
func (s *BookStore) MarkNotReady(key Key) {
	sh := s.shard(key)
	sh.mu.Lock()
	if b, ok := sh.books[key]; ok {
		b.markNotReady()
	}
	sh.mu.Unlock()
}

// Keys lists every book key in deterministic order, ready or not.
func (s *BookStore) Keys() []Key {
	var keys []Key
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key := range sh.books {
			keys = append(keys, key)
		}
		sh.mu.Unlock()
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Venue != keys[j].Venue {
			return keys[i].Venue < keys[j].Venue
		}
		return keys[i].Symbol < keys[j].Symbol
	})
	return keys
}
