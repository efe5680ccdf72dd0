// Binance USDⓈ-M futures adapter: combined depth diff + aggTrade
// streams subscribed via the URL, REST depth snapshot for
// initialization.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spooky-finn/go-orderbook-aggregator/domain"
	"github.com/spooky-finn/go-orderbook-aggregator/provider"
)

const (
	streamEndpoint   = "wss://fstream.binance.com/stream"
	snapshotEndpoint = "https://fapi.binance.com/fapi/v1/depth"
)

func init() {
	provider.Register("binance", func(symbols []string) (provider.Adapter, error) {
		return &Adapter{
			symbols:     symbols,
			httpClient:  &http.Client{Timeout: 10 * time.Second},
			snapshotURL: snapshotEndpoint,
		}, nil
	})
}

type Adapter struct {
	symbols     []string
	httpClient  *http.Client
	snapshotURL string
}

func (a *Adapter) Name() string            { return "Binance" }
func (a *Adapter) Policy() provider.Policy { return provider.PolicySnapshotReplay }

func (a *Adapter) SubscriptionURL(_ context.Context, symbols []string) (string, error) {
	streams := make([]string, 0, len(symbols)*2)
	for _, s := range symbols {
		lower := strings.ToLower(s)
		streams = append(streams, lower+"@depth@100ms", lower+"@aggTrade")
	}
	return streamEndpoint + "?streams=" + strings.Join(streams, "/"), nil
}

func (a *Adapter) InitialFrames([]string) ([]string, error) {
	return nil, nil
}

type combinedFrame struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type depthUpdate struct {
	EventType     string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateID uint64     `json:"U"`
	FinalUpdateID uint64     `json:"u"`
	PrevUpdateID  uint64     `json:"pu"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

type aggTrade struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

func (a *Adapter) Parse(frame []byte) (*domain.MarketEvent, error) {
	var outer combinedFrame
	if err := json.Unmarshal(frame, &outer); err != nil {
		return nil, fmt.Errorf("%w: binance frame: %s", domain.ErrParse, err)
	}
	if outer.Stream == "" {
		// Subscription acks and other control frames have no stream.
		return nil, nil
	}

	switch {
	case strings.Contains(outer.Stream, "@depth"):
		var d depthUpdate
		if err := json.Unmarshal(outer.Data, &d); err != nil {
			return nil, fmt.Errorf("%w: binance depth: %s", domain.ErrParse, err)
		}
		bids, err := domain.ParsePriceLevels(d.Bids)
		if err != nil {
			return nil, err
		}
		asks, err := domain.ParsePriceLevels(d.Asks)
		if err != nil {
			return nil, err
		}
		return &domain.MarketEvent{
			Kind:          domain.EventDelta,
			Key:           domain.Key{Venue: a.Name(), Symbol: d.Symbol},
			Bids:          bids,
			Asks:          asks,
			FirstUpdateID: d.FirstUpdateID,
			LastUpdateID:  d.FinalUpdateID,
			PrevUpdateID:  d.PrevUpdateID,
			EventTime:     d.EventTime,
		}, nil

	case strings.Contains(outer.Stream, "@aggTrade"):
		var t aggTrade
		if err := json.Unmarshal(outer.Data, &t); err != nil {
			return nil, fmt.Errorf("%w: binance trade: %s", domain.ErrParse, err)
		}
		price, err := domain.ParseFixedPoint(t.Price)
		if err != nil {
			return nil, err
		}
		qty, err := domain.ParseFixedPoint(t.Quantity)
		if err != nil {
			return nil, err
		}
		// is_buyer_maker means the aggressor sold.
		side := domain.SideBuy
		if t.IsBuyerMaker {
			side = domain.SideSell
		}
		return &domain.MarketEvent{
			Kind:      domain.EventTrade,
			Key:       domain.Key{Venue: a.Name(), Symbol: t.Symbol},
			Price:     price,
			Quantity:  qty,
			Side:      side,
			EventTime: t.EventTime,
		}, nil
	}

	return nil, nil
}

type depthSnapshotResponse struct {
	LastUpdateID uint64     `json:"lastUpdateId"`
	Bids         [][]string `json:"bids"`
	Asks         [][]string `json:"asks"`
}

func (a *Adapter) FetchSnapshot(ctx context.Context, symbol string, depth int) (*domain.MarketEvent, error) {
	url := fmt.Sprintf("%s?symbol=%s&limit=%d", a.snapshotURL, strings.ToUpper(symbol), depth)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance snapshot %s: %w", symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("binance snapshot %s: unexpected status %s", symbol, resp.Status)
	}

	var body depthSnapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: binance snapshot: %s", domain.ErrParse, err)
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
		LastUpdateID: body.LastUpdateID,
	}, nil
}
