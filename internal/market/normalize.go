package market

import (
	"encoding/json"
	"fmt"
	"strings"
)

// envelope holds both known upstream shapes; at most one is expected to be set.
type envelope struct {
	Chart         *chartBody         `json:"chart"`
	QuoteResponse *quoteResponseBody `json:"quoteResponse"`
}

type chartBody struct {
	Result []chartResult `json:"result"`
}

type chartResult struct {
	Meta       *chartMeta `json:"meta"`
	Indicators struct {
		Quote []chartIndicator `json:"quote"`
	} `json:"indicators"`
}

type chartMeta struct {
	Currency             string   `json:"currency"`
	Symbol               string   `json:"symbol"`
	ExchangeName         string   `json:"exchangeName"`
	Exchange             string   `json:"exchange"`
	InstrumentType       string   `json:"instrumentType"`
	MarketState          string   `json:"marketState"`
	LongName             string   `json:"longName"`
	ShortName            string   `json:"shortName"`
	RegularMarketPrice   *float64 `json:"regularMarketPrice"`
	PreviousClose        *float64 `json:"previousClose"`
	ChartPreviousClose   *float64 `json:"chartPreviousClose"`
	RegularMarketDayHigh *float64 `json:"regularMarketDayHigh"`
	RegularMarketDayLow  *float64 `json:"regularMarketDayLow"`
	RegularMarketVolume  *float64 `json:"regularMarketVolume"`
	MarketCap            *float64 `json:"marketCap"`
	FiftyTwoWeekHigh     *float64 `json:"fiftyTwoWeekHigh"`
	FiftyTwoWeekLow      *float64 `json:"fiftyTwoWeekLow"`
}

type chartIndicator struct {
	Close  []*float64 `json:"close"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Volume []*float64 `json:"volume"`
}

type quoteResponseBody struct {
	Result []quoteItem `json:"result"`
}

type quoteItem struct {
	Symbol                     string   `json:"symbol"`
	LongName                   string   `json:"longName"`
	ShortName                  string   `json:"shortName"`
	RegularMarketPrice         *float64 `json:"regularMarketPrice"`
	RegularMarketPreviousClose *float64 `json:"regularMarketPreviousClose"`
	PreviousClose              *float64 `json:"previousClose"`
	RegularMarketDayHigh       *float64 `json:"regularMarketDayHigh"`
	RegularMarketDayLow        *float64 `json:"regularMarketDayLow"`
	RegularMarketVolume        *float64 `json:"regularMarketVolume"`
	MarketCap                  *float64 `json:"marketCap"`
	Currency                   string   `json:"currency"`
	Exchange                   string   `json:"exchange"`
	FullExchangeName           string   `json:"fullExchangeName"`
	QuoteType                  string   `json:"quoteType"`
	MarketState                string   `json:"marketState"`
	FiftyTwoWeekHigh           *float64 `json:"fiftyTwoWeekHigh"`
	FiftyTwoWeekLow            *float64 `json:"fiftyTwoWeekLow"`
}

// Normalize maps one upstream payload onto a Quote for symbol. The chart shape
// is tried first, then quoteResponse. Anything else, or a payload without a
// positive current price, is ErrMalformedResponse. Source is left empty; the
// resolver tags it.
func Normalize(body []byte, symbol string) (Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Quote{}, fmt.Errorf("%w: decode: %v", ErrMalformedResponse, err)
	}
	err := fmt.Errorf("%w: no chart or quoteResponse result", ErrMalformedResponse)
	if env.Chart != nil && len(env.Chart.Result) > 0 && env.Chart.Result[0].Meta != nil {
		var q Quote
		if q, err = fromChart(env.Chart.Result[0], symbol); err == nil {
			return q, nil
		}
	}
	if env.QuoteResponse != nil && len(env.QuoteResponse.Result) > 0 {
		it, ok := pickQuoteItem(env.QuoteResponse.Result, symbol)
		if !ok {
			return Quote{}, fmt.Errorf("%w: quoteResponse has no entry for %s", ErrMalformedResponse, symbol)
		}
		return fromQuoteItem(it, symbol)
	}
	return Quote{}, err
}

func fromChart(r chartResult, symbol string) (Quote, error) {
	meta := r.Meta
	var ind chartIndicator
	if len(r.Indicators.Quote) > 0 {
		ind = r.Indicators.Quote[0]
	}

	price := positive(meta.RegularMarketPrice)
	if price == nil {
		price = positive(lastNonNull(ind.Close))
	}
	if price == nil {
		return Quote{}, fmt.Errorf("%w: chart payload has no current price", ErrMalformedResponse)
	}

	q := Quote{
		Symbol:         symbol,
		DisplayName:    firstNonEmpty(meta.LongName, meta.ShortName, symbol),
		Price:          price,
		DayHigh:        firstPresent(lastNonNull(ind.High), meta.RegularMarketDayHigh),
		DayLow:         firstPresent(lastNonNull(ind.Low), meta.RegularMarketDayLow),
		Volume:         firstPresent(lastNonNull(ind.Volume), meta.RegularMarketVolume),
		MarketCap:      meta.MarketCap,
		Currency:       firstNonEmpty(meta.Currency, DefaultCurrency),
		Exchange:       firstNonEmpty(meta.ExchangeName, meta.Exchange),
		InstrumentType: firstNonEmpty(meta.InstrumentType, DefaultInstrumentType),
		MarketState:    firstNonEmpty(meta.MarketState, DefaultMarketState),
		Week52High:     meta.FiftyTwoWeekHigh,
		Week52Low:      meta.FiftyTwoWeekLow,
		PreviousClose:  firstPresent(meta.PreviousClose, meta.ChartPreviousClose),
	}
	applyDerived(&q)
	return q, nil
}

func fromQuoteItem(it quoteItem, symbol string) (Quote, error) {
	price := positive(it.RegularMarketPrice)
	if price == nil {
		return Quote{}, fmt.Errorf("%w: quote payload has no current price", ErrMalformedResponse)
	}
	q := Quote{
		Symbol:         symbol,
		DisplayName:    firstNonEmpty(it.LongName, it.ShortName, symbol),
		Price:          price,
		DayHigh:        it.RegularMarketDayHigh,
		DayLow:         it.RegularMarketDayLow,
		Volume:         it.RegularMarketVolume,
		MarketCap:      it.MarketCap,
		Currency:       firstNonEmpty(it.Currency, DefaultCurrency),
		Exchange:       firstNonEmpty(it.Exchange, it.FullExchangeName),
		InstrumentType: firstNonEmpty(it.QuoteType, DefaultInstrumentType),
		MarketState:    firstNonEmpty(it.MarketState, DefaultMarketState),
		Week52High:     it.FiftyTwoWeekHigh,
		Week52Low:      it.FiftyTwoWeekLow,
		PreviousClose:  firstPresent(it.RegularMarketPreviousClose, it.PreviousClose),
	}
	applyDerived(&q)
	return q, nil
}

// pickQuoteItem finds the entry for symbol. A lone entry without a symbol is
// taken as the answer; any other mismatch is no match.
func pickQuoteItem(items []quoteItem, symbol string) (quoteItem, bool) {
	for _, it := range items {
		if strings.EqualFold(strings.TrimSpace(it.Symbol), symbol) {
			return it, true
		}
	}
	if len(items) == 1 && strings.TrimSpace(items[0].Symbol) == "" {
		return items[0], true
	}
	return quoteItem{}, false
}

// applyDerived fills Change and ChangePercent, or clears both.
func applyDerived(q *Quote) {
	q.Change, q.ChangePercent = nil, nil
	if q.Price == nil || q.PreviousClose == nil || *q.PreviousClose == 0 {
		return
	}
	change := *q.Price - *q.PreviousClose
	q.Change = float64Ptr(change)
	q.ChangePercent = float64Ptr(change / *q.PreviousClose * 100)
}

func lastNonNull(vals []*float64) *float64 {
	for i := len(vals) - 1; i >= 0; i-- {
		if vals[i] != nil {
			return float64Ptr(*vals[i])
		}
	}
	return nil
}

func positive(v *float64) *float64 {
	if v == nil || *v <= 0 {
		return nil
	}
	return float64Ptr(*v)
}

func firstPresent(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
