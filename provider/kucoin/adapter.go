// KuCoin spot adapter. The WebSocket endpoint is negotiated through the
// bullet-public token API and the initial book comes from the REST
// level2 snapshot, both via the official SDK. Level2 deltas carry
// sequence ranges, so the session buffers and replays them against the
// snapshot the same way the Binance feed is handled.
package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Kucoin/kucoin-go-sdk"

	"github.com/spooky-finn/go-orderbook-aggregator/domain"
	"github.com/spooky-finn/go-orderbook-aggregator/provider"
)

func init() {
	provider.Register("kucoin", func(symbols []string) (provider.Adapter, error) {
		return &Adapter{
			symbols: symbols,
			api:     kucoin.NewApiService(),
		}, nil
	})
}

type Adapter struct {
	symbols []string
	api     *kucoin.ApiService
}

func (a *Adapter) Name() string            { return "KuCoin" }
func (a *Adapter) Policy() provider.Policy { return provider.PolicySnapshotReplay }

func marketSymbol(symbol string) string {
	return strings.TrimSuffix(symbol, "USDT") + "-USDT"
}

func canonicalSymbol(market string) string {
	return strings.ReplaceAll(market, "-", "")
}

// SubscriptionURL asks the bullet-public endpoint for a token and an
// instance server; the returned URL is only valid for a short while,
// so it is requested fresh on every (re)connect.
func (a *Adapter) SubscriptionURL(_ context.Context, _ []string) (string, error) {
	resp, err := a.api.WebSocketPublicToken()
	if err != nil {
		return "", fmt.Errorf("kucoin bullet-public: %w", err)
	}
	token := &kucoin.WebSocketTokenModel{}
	if err := resp.ReadData(token); err != nil {
		return "", fmt.Errorf("kucoin bullet-public: %w", err)
	}
	if len(token.Servers) == 0 {
		return "", fmt.Errorf("kucoin bullet-public: no instance servers")
	}
	connectID := strconv.FormatInt(time.Now().UnixNano(), 10)
	return fmt.Sprintf("%s?token=%s&connectId=%s", token.Servers[0].Endpoint, token.Token, connectID), nil
}

func (a *Adapter) InitialFrames(symbols []string) ([]string, error) {
	markets := make([]string, 0, len(symbols))
	for _, s := range symbols {
		markets = append(markets, marketSymbol(s))
	}
	joined := strings.Join(markets, ",")

	frames := make([]string, 0, 2)
	for i, topic := range []string{"/market/level2:" + joined, "/market/match:" + joined} {
		frame, err := json.Marshal(map[string]any{
			"id":             strconv.FormatInt(time.Now().UnixNano()+int64(i), 10),
			"type":           "subscribe",
			"topic":          topic,
			"privateChannel": false,
			"response":       true,
		})
		if err != nil {
			return nil, err
		}
		frames = append(frames, string(frame))
	}
	return frames, nil
}

type envelope struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic"`
	Subject string          `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

type level2Data struct {
	Symbol        string `json:"symbol"`
	SequenceStart uint64 `json:"sequenceStart"`
	SequenceEnd   uint64 `json:"sequenceEnd"`
	Time          int64  `json:"time"`
	Changes       struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	} `json:"changes"`
}

type matchData struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
	Size   string `json:"size"`
	Side   string `json:"side"`
	Time   string `json:"time"`
}

func (a *Adapter) Parse(frame []byte) (*domain.MarketEvent, error) {
	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: kucoin frame: %s", domain.ErrParse, err)
	}
	if env.Type != "message" {
		// welcome, ack, pong.
		return nil, nil
	}

	switch {
	case strings.HasPrefix(env.Topic, "/market/level2:"):
		var d level2Data
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return nil, fmt.Errorf("%w: kucoin level2: %s", domain.ErrParse, err)
		}
		bids, err := domain.ParsePriceLevels(d.Changes.Bids)
		if err != nil {
			return nil, err
		}
		asks, err := domain.ParsePriceLevels(d.Changes.Asks)
		if err != nil {
			return nil, err
		}
		ev := &domain.MarketEvent{
			Kind:          domain.EventDelta,
			Key:           domain.Key{Venue: a.Name(), Symbol: canonicalSymbol(d.Symbol)},
			Bids:          bids,
			Asks:          asks,
			FirstUpdateID: d.SequenceStart,
			LastUpdateID:  d.SequenceEnd,
			EventTime:     d.Time,
		}
		// Level2 sequences are strictly contiguous, which lets the
		// book enforce the chain the same way it does for venues that
		// send an explicit previous id.
		if d.SequenceStart > 0 {
			ev.PrevUpdateID = d.SequenceStart - 1
		}
		return ev, nil

	case strings.HasPrefix(env.Topic, "/market/match:"):
		var t matchData
		if err := json.Unmarshal(env.Data, &t); err != nil {
			return nil, fmt.Errorf("%w: kucoin match: %s", domain.ErrParse, err)
		}
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
		case "buy":
			side = domain.SideBuy
		case "sell":
			side = domain.SideSell
		default:
			return nil, nil
		}
		// Match times are nanoseconds since the epoch as a string.
		var eventTime int64
		if ns, err := strconv.ParseInt(t.Time, 10, 64); err == nil {
			eventTime = ns / int64(time.Millisecond)
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

type snapshotBody struct {
	Sequence string     `json:"sequence"`
	Time     int64      `json:"time"`
	Bids     [][]string `json:"bids"`
	Asks     [][]string `json:"asks"`
}

func (a *Adapter) FetchSnapshot(_ context.Context, symbol string, _ int) (*domain.MarketEvent, error) {
	resp, err := a.api.AggregatedFullOrderBookV3(marketSymbol(symbol))
	if err != nil {
		return nil, fmt.Errorf("kucoin snapshot %s: %w", symbol, err)
	}
	var body snapshotBody
	if err := json.Unmarshal(resp.RawData, &body); err != nil {
		return nil, fmt.Errorf("%w: kucoin snapshot: %s", domain.ErrParse, err)
	}
	seq, err := strconv.ParseUint(body.Sequence, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: kucoin snapshot sequence %q", domain.ErrParse, body.Sequence)
	}
	bids, err := domain.ParsePriceLevels(body.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := domain.ParsePriceLevels(body.Asks)
	if err != nil {
		return nil, err
	}
	return &domain.MarketEvent{
		Kind:         domain.EventSnapshot,
		Key:          domain.Key{Venue: a.Name(), Symbol: symbol},
		Bids:         bids,
		Asks:         asks,
		LastUpdateID: seq,
	}, nil
}
