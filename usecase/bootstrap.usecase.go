// Package usecase assembles the message sequences the transport layer
// ships but does not compose itself.
package usecase

import (
	"github.com/spooky-finn/go-orderbook-aggregator/domain"
	"github.com/spooky-finn/go-orderbook-aggregator/telemetry"
)

// Bootstrap builds the catch-up sequence for a subscriber: the symbol
// list, one book_update per ready book, and the current telemetry
// snapshot. It runs on connect and again after every lag recovery.
type Bootstrap struct {
	store        *domain.BookStore
	tel          *telemetry.Collector
	symbols      []string
	displayDepth int
}

func NewBootstrap(store *domain.BookStore, tel *telemetry.Collector, symbols []string, displayDepth int) *Bootstrap {
	return &Bootstrap{
		store:        store,
		tel:          tel,
		symbols:      symbols,
		displayDepth: displayDepth,
	}
}

// Messages returns the bootstrap sequence. Books that have not seen
// their snapshot yet are skipped; the subscriber will pick them up from
// the live stream once they are ready.
func (b *Bootstrap) Messages() []domain.Message {
	msgs := make([]domain.Message, 0, len(b.symbols)+2)
	msgs = append(msgs, domain.NewSymbolListMessage(b.symbols))

	for _, key := range b.store.Keys() {
		update, _, err := b.store.DisplaySnapshot(key, b.displayDepth)
		if err != nil {
			continue
		}
		msgs = append(msgs, domain.NewBookUpdateMessage(update))
	}

	msgs = append(msgs, domain.NewMetricsMessage(b.tel.Snapshot()))
	return msgs
}
