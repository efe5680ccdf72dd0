// Bybit v5 linear adapter: base URL connect, post-connect subscribe to
// orderbook.50 + publicTrade. The feed opens with an explicit snapshot
// frame, so no REST fetch is needed.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spooky-finn/go-orderbook-aggregator/domain"
	"github.com/spooky-finn/go-orderbook-aggregator/provider"
)

const streamEndpoint = "wss://stream.bybit.com/v5/public/linear"

func init() {
	provider.Register("bybit", func(symbols []string) (provider.Adapter, error) {
		return &Adapter{symbols: symbols}, nil
	})
}

type Adapter struct {
	symbols []string
}

func (a *Adapter) Name() string            { return "Bybit" }
func (a *Adapter) Policy() provider.Policy { return provider.PolicySelfSequencing }

func (a *Adapter) SubscriptionURL(context.Context, []string) (string, error) {
	return streamEndpoint, nil
}

func (a *Adapter) InitialFrames(symbols []string) ([]string, error) {
	args := make([]string, 0, len(symbols)*2)
	for _, s := range symbols {
		args = append(args, "orderbook.50."+s, "publicTrade."+s)
	}
	frame, err := json.Marshal(map[string]any{"op": "subscribe", "args": args})
	if err != nil {
		return nil, err
	}
	return []string{string(frame)}, nil
}

type envelope struct {
	Topic string          `json:"topic"`
	Type  string          `json:"type"`
	TS    int64           `json:"ts"`
	Data  json.RawMessage `json:"data"`
}

type orderbookData struct {
	Symbol   string     `json:"s"`
	Bids     [][]string `json:"b"`
	Asks     [][]string `json:"a"`
	UpdateID uint64     `json:"u"`
}

type tradeData struct {
	TradeTime int64  `json:"T"`
	Symbol    string `json:"s"`
	Side      string `json:"S"`
	Size      string `json:"v"`
	Price     string `json:"p"`
}

func (a *Adapter) Parse(frame []byte) (*domain.MarketEvent, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: bybit frame: %s", domain.ErrParse, err)
	}
	if env.Topic == "" {
		// op acks and pongs carry no topic.
		return nil, nil
	}

	switch {
	case strings.HasPrefix(env.Topic, "orderbook."):
		var d orderbookData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("%w: bybit orderbook: %s", domain.ErrParse, err)
		}
		bids, err := domain.ParsePriceLevels(d.Bids)
		if err != nil {
			return nil, err
		}
		asks, err := domain.ParsePriceLevels(d.Asks)
		if err != nil {
			return nil, err
		}
		kind := domain.EventDelta
		if env.Type == "snapshot" {
			kind = domain.EventSnapshot
		}
		return &domain.MarketEvent{
			Kind:         kind,
			Key:          domain.Key{Venue: a.Name(), Symbol: d.Symbol},
			Bids:         bids,
			Asks:         asks,
			LastUpdateID: d.UpdateID,
			EventTime:    env.TS,
		}, nil

	case strings.HasPrefix(env.Topic, "publicTrade."):
		var trades []tradeData
		if err := json.Unmarshal(env.Data, &trades); err != nil {
			return nil, fmt.Errorf("%w: bybit trade: %s", domain.ErrParse, err)
		}
		// Bybit batches trades; the batch is reduced to its first
		// entry, matching the one-event-per-frame contract.
		for _, t := range trades {
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
			case "Buy":
				side = domain.SideBuy
			case "Sell":
				side = domain.SideSell
			default:
				continue
			}
			return &domain.MarketEvent{
				Kind:      domain.EventTrade,
				Key:       domain.Key{Venue: a.Name(), Symbol: t.Symbol},
				Price:     price,
				Quantity:  qty,
				Side:      side,
				EventTime: t.TradeTime,
			}, nil
		}
		return nil, nil
	}

	return nil, nil
}

func (a *Adapter) FetchSnapshot(context.Context, string, int) (*domain.MarketEvent, error) {
	// The WebSocket feed sends its own snapshot after subscribing.
	return nil, nil
}
