package market

import "context"

// Source tells which tier produced a quote.
type Source string

const (
	SourceLive    Source = "LIVE"
	SourceOffline Source = "OFFLINE"
)

const (
	DefaultCurrency       = "USD"
	DefaultInstrumentType = "EQUITY"
	DefaultMarketState    = "REGULAR"
)

// Quote is the canonical record handed to the rendering layer. Nil numeric
// fields are absent upstream; nothing is filled in beyond Change and
// ChangePercent, which need both Price and PreviousClose.
type Quote struct {
	Symbol         string   `json:"symbol"`
	DisplayName    string   `json:"display_name"`
	Price          *float64 `json:"price"`
	Change         *float64 `json:"change"`
	ChangePercent  *float64 `json:"change_percent"`
	DayHigh        *float64 `json:"day_high"`
	DayLow         *float64 `json:"day_low"`
	Volume         *float64 `json:"volume"`
	MarketCap      *float64 `json:"market_cap"`
	Currency       string   `json:"currency"`
	Exchange       string   `json:"exchange,omitempty"`
	InstrumentType string   `json:"instrument_type"`
	MarketState    string   `json:"market_state"`
	Week52High     *float64 `json:"week52_high"`
	Week52Low      *float64 `json:"week52_low"`
	PreviousClose  *float64 `json:"previous_close"`
	Source         Source   `json:"source"`
}

// SymbolFailure records why a requested symbol is missing from a batch.
type SymbolFailure struct {
	Symbol string `json:"symbol"`
	Reason string `json:"reason"`
}

// BatchResult is the outcome of one query.
type BatchResult struct {
	Quotes      []Quote         `json:"quotes"`
	Failures    []SymbolFailure `json:"failures,omitempty"`
	UsedOffline bool            `json:"used_offline"`
}

// LiveCount returns how many quotes came from an upstream endpoint.
func (b *BatchResult) LiveCount() int {
	n := 0
	for _, q := range b.Quotes {
		if q.Source == SourceLive {
			n++
		}
	}
	return n
}

// QuoteResolver is what the service and the API need from the resolver.
type QuoteResolver interface {
	ResolveQuotes(ctx context.Context, symbols []string) (*BatchResult, error)
}

func float64Ptr(v float64) *float64 {
	return &v
}
