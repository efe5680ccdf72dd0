// Package provider defines the venue adapter contract: everything the
// ingress orchestrator needs to speak a venue's dialect without knowing
// it. Adapters are value types; all session state lives in ingress.
package provider

import (
	"context"
	"fmt"

	"github.com/spooky-finn/go-orderbook-aggregator/domain"
)

// Policy tells the orchestrator how a venue's depth feed reaches a
// consistent book.
type Policy int

const (
	// PolicySnapshotReplay: deltas carry id ranges, the session buffers
	// them while a REST snapshot is fetched, then replays the tail.
	PolicySnapshotReplay Policy = iota
	// PolicySelfSequencing: the feed opens with an explicit snapshot
	// frame and follows with deltas; a lost frame means reconnect.
	PolicySelfSequencing
)

// Adapter normalizes one venue. Parse returns (nil, nil) for frames
// that are heartbeats, acks, or other non-market noise, and wraps
// domain.ErrParse only when a frame claims to be market data but is
// malformed.
type Adapter interface {
	Name() string
	Policy() Policy

	// SubscriptionURL builds the WebSocket endpoint. Venues that
	// negotiate subscriptions post-connect return their base URL.
	SubscriptionURL(ctx context.Context, symbols []string) (string, error)

	// InitialFrames are sent verbatim after the socket opens; empty
	// for venues that subscribe via the URL.
	InitialFrames(symbols []string) ([]string, error)

	Parse(frame []byte) (*domain.MarketEvent, error)

	// FetchSnapshot obtains the initial book over REST. Venues whose
	// feed self-initializes return (nil, nil).
	FetchSnapshot(ctx context.Context, symbol string, depth int) (*domain.MarketEvent, error)
}

// Factory builds an adapter for a symbol list.
type Factory func(symbols []string) (Adapter, error)

var registry = map[string]Factory{}

// Register makes a venue constructible by name. Called from adapter
// package init functions.
func Register(name string, f Factory) {
	registry[name] = f
}

// Resolve instantiates the named venues for the given symbols.
func Resolve(venues, symbols []string) ([]Adapter, error) {
	adapters := make([]Adapter, 0, len(venues))
	for _, name := range venues {
		f, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown venue %q", name)
		}
		a, err := f(symbols)
		if err != nil {
			return nil, fmt.Errorf("venue %s: %w", name, err)
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}
