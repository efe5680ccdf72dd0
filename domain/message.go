package domain

// Message is the tagged union written to egress subscribers. Data is
// one of BookUpdate, TradeMessage, a telemetry snapshot, or []string.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	MessageTypeSymbolList = "symbol_list"
	MessageTypeBookUpdate = "book_update"
	MessageTypeTrade      = "trade"
	MessageTypeMetrics    = "metrics"
)

// BookUpdate is the display-depth view of one book, produced by the
// store's read snapshot and shipped verbatim to subscribers.
type BookUpdate struct {
	Exchange      string       `json:"exchange"`
	Symbol        string       `json:"symbol"`
	Bids          []PriceLevel `json:"bids"`
	Asks          []PriceLevel `json:"asks"`
	Spread        FixedPoint   `json:"spread"`
	SpreadPercent string       `json:"spread_percent"`
	BidDepth      FixedPoint   `json:"bid_depth"`
	AskDepth      FixedPoint   `json:"ask_depth"`
}

// BookKey reassembles the book key the update was produced from.
func (u *BookUpdate) BookKey() Key {
	return Key{Venue: u.Exchange, Symbol: u.Symbol}
}

// TradeMessage is one normalized trade on the egress stream.
type TradeMessage struct {
	Exchange  string     `json:"exchange"`
	Symbol    string     `json:"symbol"`
	Price     FixedPoint `json:"price"`
	Quantity  FixedPoint `json:"quantity"`
	Side      TradeSide  `json:"side"`
	Timestamp int64      `json:"timestamp"`
}

func NewSymbolListMessage(symbols []string) Message {
	return Message{Type: MessageTypeSymbolList, Data: symbols}
}

func NewBookUpdateMessage(update *BookUpdate) Message {
	return Message{Type: MessageTypeBookUpdate, Data: update}
}

func NewTradeMessage(ev *MarketEvent) Message {
	return Message{Type: MessageTypeTrade, Data: &TradeMessage{
		Exchange:  ev.Key.Venue,
		Symbol:    ev.Key.Symbol,
		Price:     ev.Price,
		Quantity:  ev.Quantity,
		Side:      ev.Side,
		Timestamp: ev.EventTime,
	}}
}

func NewMetricsMessage(snapshot any) Message {
	return Message{Type: MessageTypeMetrics, Data: snapshot}
}
