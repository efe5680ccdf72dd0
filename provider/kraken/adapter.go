// Kraken WebSocket v2 adapter: book + trade channels, post-connect
// subscribe, snapshot-then-updates with no sequence ids. Kraken emits
// prices and quantities as raw JSON numbers, so the decoder keeps them
// as json.Number to preserve exact decimal parsing.
package kraken

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spooky-finn/go-orderbook-aggregator/domain"
	"github.com/spooky-finn/go-orderbook-aggregator/provider"
)

const streamEndpoint = "wss://ws.kraken.com/v2"

const bookDepth = 25

func init() {
	provider.Register("kraken", func(symbols []string) (provider.Adapter, error) {
		return &Adapter{symbols: symbols}, nil
	})
}

type Adapter struct {
	symbols []string
}

func (a *Adapter) Name() string            { return "Kraken" }
func (a *Adapter) Policy() provider.Policy { return provider.PolicySelfSequencing }

func (a *Adapter) SubscriptionURL(context.Context, []string) (string, error) {
	return streamEndpoint, nil
}

func pairName(symbol string) string {
	return strings.TrimSuffix(symbol, "USDT") + "/USD"
}

func canonicalSymbol(pair string) string {
	return strings.Replace(pair, "/USD", "USDT", 1)
}

func (a *Adapter) InitialFrames(symbols []string) ([]string, error) {
	pairs := make([]string, 0, len(symbols))
	for _, s := range symbols {
		pairs = append(pairs, pairName(s))
	}

	book, err := json.Marshal(map[string]any{
		"method": "subscribe",
		"params": map[string]any{
			"channel":  "book",
			"symbol":   pairs,
			"depth":    bookDepth,
			"snapshot": true,
		},
	})
	if err != nil {
		return nil, err
	}
	trade, err := json.Marshal(map[string]any{
		"method": "subscribe",
		"params": map[string]any{
			"channel": "trade",
			"symbol":  pairs,
		},
	})
	if err != nil {
		return nil, err
	}
	return []string{string(book), string(trade)}, nil
}

type envelope struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type"`
	Method  string          `json:"method"`
	Data    json.RawMessage `json:"data"`
}

type bookData struct {
	Symbol string      `json:"symbol"`
	Bids   []bookLevel `json:"bids"`
	Asks   []bookLevel `json:"asks"`
}

type bookLevel struct {
	Price json.Number `json:"price"`
	Qty   json.Number `json:"qty"`
}

type tradeEntry struct {
	Symbol    string      `json:"symbol"`
	Price     json.Number `json:"price"`
	Qty       json.Number `json:"qty"`
	Side      string      `json:"side"`
	Timestamp string      `json:"timestamp"`
}

func (a *Adapter) Parse(frame []byte) (*domain.MarketEvent, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: kraken frame: %s", domain.ErrParse, err)
	}
	if env.Method != "" {
		// subscribe acks.
		return nil, nil
	}

	switch env.Channel {
	case "book":
		return a.parseBook(&env)
	case "trade":
		return a.parseTrade(&env)
	default:
		// heartbeat, status.
		return nil, nil
	}
}

func parseLevels(levels []bookLevel) ([]domain.PriceLevel, error) {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, l := range levels {
		price, err := domain.ParseFixedPoint(l.Price.String())
		if err != nil {
			return nil, err
		}
		qty, err := domain.ParseFixedPoint(l.Qty.String())
		if err != nil {
			return nil, err
		}
		out = append(out, domain.PriceLevel{Price: price, Quantity: qty})
	}
	return out, nil
}

func (a *Adapter) parseBook(env *envelope) (*domain.MarketEvent, error) {
	var entries []bookData
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		return nil, fmt.Errorf("%w: kraken book: %s", domain.ErrParse, err)
	}
	for _, d := range entries {
		bids, err := parseLevels(d.Bids)
		if err != nil {
			return nil, err
		}
		asks, err := parseLevels(d.Asks)
		if err != nil {
			return nil, err
		}
		kind := domain.EventDelta
		if env.Type == "snapshot" {
			kind = domain.EventSnapshot
		}
		if kind == domain.EventDelta && len(bids) == 0 && len(asks) == 0 {
			continue
		}
		return &domain.MarketEvent{
			Kind: kind,
			Key:  domain.Key{Venue: a.Name(), Symbol: canonicalSymbol(d.Symbol)},
			Bids: bids,
			Asks: asks,
		}, nil
	}
	return nil, nil
}

func (a *Adapter) parseTrade(env *envelope) (*domain.MarketEvent, error) {
	var entries []tradeEntry
	if err := json.Unmarshal(env.Data, &entries); err != nil {
		return nil, fmt.Errorf("%w: kraken trade: %s", domain.ErrParse, err)
	}
	for _, t := range entries {
		price, err := domain.ParseFixedPoint(t.Price.String())
		if err != nil {
			return nil, err
		}
		qty, err := domain.ParseFixedPoint(t.Qty.String())
		if err != nil {
			return nil, err
		}
		var side domain.TradeSide
		switch t.Side {
		case "buy":
			side = domain.SideBuy
		case "sell":
			side = domain.SideSell
		default:
			continue
		}
		var eventTime int64
		if ts, err := time.Parse(time.RFC3339Nano, t.Timestamp); err == nil {
			eventTime = ts.UnixMilli()
		}
		return &domain.MarketEvent{
			Kind:      domain.EventTrade,
			Key:       domain.Key{Venue: a.Name(), Symbol: canonicalSymbol(t.Symbol)},
			Price:     price,
			Quantity:  qty,
			Side:      side,
			EventTime: eventTime,
		}, nil
	}
	return nil, nil
}

func (a *Adapter) FetchSnapshot(context.Context, string, int) (*domain.MarketEvent, error) {
	// The WebSocket feed sends its own snapshot after subscribing.
	return nil, nil
}
