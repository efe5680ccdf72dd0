// Coinbase Advanced Trade adapter: level2 + market_trades channels,
// post-connect subscribe, first level2 event per product is a full
// snapshot. Canonical BTCUSDT maps to the BTC-USD product id.
package coinbase

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spooky-finn/go-orderbook-aggregator/domain"
	"github.com/spooky-finn/go-orderbook-aggregator/provider"
)

const streamEndpoint = "wss://advanced-trade-ws.coinbase.com"

func init() {
	provider.Register("coinbase", func(symbols []string) (provider.Adapter, error) {
		return &Adapter{symbols: symbols}, nil
	})
}

type Adapter struct {
	symbols []string
}

func (a *Adapter) Name() string            { return "Coinbase" }
func (a *Adapter) Policy() provider.Policy { return provider.PolicySelfSequencing }

func (a *Adapter) SubscriptionURL(context.Context, []string) (string, error) {
	return streamEndpoint, nil
}

func productID(symbol string) string {
	return strings.TrimSuffix(symbol, "USDT") + "-USD"
}

func canonicalSymbol(product string) string {
	return strings.Replace(product, "-USD", "USDT", 1)
}

func (a *Adapter) InitialFrames(symbols []string) ([]string, error) {
	products := make([]string, 0, len(symbols))
	for _, s := range symbols {
		products = append(products, productID(s))
	}
	frames := make([]string, 0, 2)
	for _, channel := range []string{"level2", "market_trades"} {
		frame, err := json.Marshal(map[string]any{
			"type":        "subscribe",
			"product_ids": products,
			"channel":     channel,
		})
		if err != nil {
			return nil, err
		}
		frames = append(frames, string(frame))
	}
	return frames, nil
}

type envelope struct {
	Channel     string          `json:"channel"`
	SequenceNum uint64          `json:"sequence_num"`
	Events      json.RawMessage `json:"events"`
}

type level2Event struct {
	Type      string `json:"type"`
	ProductID string `json:"product_id"`
	Updates   []struct {
		Side        string `json:"side"`
		PriceLevel  string `json:"price_level"`
		NewQuantity string `json:"new_quantity"`
	} `json:"updates"`
}

type tradeEvent struct {
	Type   string `json:"type"`
	Trades []struct {
		ProductID string `json:"product_id"`
		Price     string `json:"price"`
		Size      string `json:"size"`
		Side      string `json:"side"`
		Time      string `json:"time"`
	} `json:"trades"`
}

func (a *Adapter) Parse(frame []byte) (*domain.MarketEvent, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: coinbase frame: %s", domain.ErrParse, err)
	}

	switch env.Channel {
	case "l2_data":
		return a.parseLevel2(&env)
	case "market_trades":
		return a.parseTrades(&env)
	default:
		// subscriptions, heartbeats, status.
		return nil, nil
	}
}

func (a *Adapter) parseLevel2(env *envelope) (*domain.MarketEvent, error) {
	var events []level2Event
	if err := json.Unmarshal(env.Events, &events); err != nil {
		return nil, fmt.Errorf("%w: coinbase l2: %s", domain.ErrParse, err)
	}
	for _, ev := range events {
		var bids, asks []domain.PriceLevel
		for _, u := range ev.Updates {
			price, err := domain.ParseFixedPoint(u.PriceLevel)
			if err != nil {
				return nil, err
			}
			qty, err := domain.ParseFixedPoint(u.NewQuantity)
			if err != nil {
				return nil, err
			}
			level := domain.PriceLevel{Price: price, Quantity: qty}
			switch u.Side {
			case "bid":
				bids = append(bids, level)
			case "offer":
				asks = append(asks, level)
			}
		}
		kind := domain.EventDelta
		if ev.Type == "snapshot" {
			kind = domain.EventSnapshot
		}
		return &domain.MarketEvent{
			Kind:         kind,
			Key:          domain.Key{Venue: a.Name(), Symbol: canonicalSymbol(ev.ProductID)},
			Bids:         bids,
			Asks:         asks,
			LastUpdateID: env.SequenceNum,
		}, nil
	}
	return nil, nil
}

func (a *Adapter) parseTrades(env *envelope) (*domain.MarketEvent, error) {
	var events []tradeEvent
	if err := json.Unmarshal(env.Events, &events); err != nil {
		return nil, fmt.Errorf("%w: coinbase trades: %s", domain.ErrParse, err)
	}
	for _, ev := range events {
		for _, t := range ev.Trades {
			price, err := domain.ParseFixedPoint(t.Price)
			if err != nil {
				return nil, err
			}
			qty, err := domain.ParseFixedPoint(t.Size)
			if err != nil {
				return nil, err
			}
			var side domain.TradeSide
			switch t.Side {
			case "BUY":
				side = domain.SideBuy
			case "SELL":
				side = domain.SideSell
			default:
				continue
			}
			var eventTime int64
			if ts, err := time.Parse(time.RFC3339Nano, t.Time); err == nil {
				eventTime = ts.UnixMilli()
			}
			return &domain.MarketEvent{
				Kind:      domain.EventTrade,
				Key:       domain.Key{Venue: a.Name(), Symbol: canonicalSymbol(t.ProductID)},
				Price:     price,
				Quantity:  qty,
				Side:      side,
				EventTime: eventTime,
			}, nil
		}
	}
	return nil, nil
}

func (a *Adapter) FetchSnapshot(context.Context, string, int) (*domain.MarketEvent, error) {
	// The WebSocket feed sends its own snapshot after subscribing.
	return nil, nil
}
