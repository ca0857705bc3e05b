package market

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

//go:embed offline.json
var bundledOffline []byte

// OfflineDataset is the fixed last-resort tier, keyed by uppercase symbol.
type OfflineDataset struct {
	quotes  map[string]Quote
	symbols []string
}

// DefaultOfflineDataset returns the bundled demo dataset.
func DefaultOfflineDataset() *OfflineDataset {
	d, err := LoadOfflineDataset(bundledOffline)
	if err != nil {
		panic(fmt.Sprintf("bundled offline dataset: %v", err))
	}
	return d
}

// LoadOfflineDatasetFile reads a dataset in the quoteResponse shape from path.
func LoadOfflineDatasetFile(path string) (*OfflineDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read offline dataset: %w", err)
	}
	return LoadOfflineDataset(data)
}

// LoadOfflineDataset parses a quoteResponse payload. Every entry goes through
// the normalizer, so offline quotes obey the same derived-field rules as live ones.
func LoadOfflineDataset(data []byte) (*OfflineDataset, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse offline dataset: %w", err)
	}
	if env.QuoteResponse == nil {
		return nil, fmt.Errorf("parse offline dataset: missing quoteResponse")
	}
	d := &OfflineDataset{quotes: make(map[string]Quote, len(env.QuoteResponse.Result))}
	for i, it := range env.QuoteResponse.Result {
		sym := strings.ToUpper(strings.TrimSpace(it.Symbol))
		if sym == "" {
			return nil, fmt.Errorf("offline entry %d: empty symbol", i)
		}
		q, err := fromQuoteItem(it, sym)
		if err != nil {
			return nil, fmt.Errorf("offline entry %s: %w", sym, err)
		}
		q.Source = SourceOffline
		if _, dup := d.quotes[sym]; !dup {
			d.symbols = append(d.symbols, sym)
		}
		d.quotes[sym] = q
	}
	return d, nil
}

// Lookup is a case-insensitive exact match. The returned quote is a copy.
func (d *OfflineDataset) Lookup(symbol string) (Quote, bool) {
	if d == nil {
		return Quote{}, false
	}
	q, ok := d.quotes[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Quote{}, false
	}
	return cloneQuote(q), true
}

// Symbols lists the covered symbols in dataset order.
func (d *OfflineDataset) Symbols() []string {
	if d == nil {
		return nil
	}
	return append([]string(nil), d.symbols...)
}

func cloneQuote(q Quote) Quote {
	out := q
	for _, p := range []**float64{
		&out.Price, &out.Change, &out.ChangePercent, &out.DayHigh, &out.DayLow,
		&out.Volume, &out.MarketCap, &out.Week52High, &out.Week52Low, &out.PreviousClose,
	} {
		if *p != nil {
			*p = float64Ptr(**p)
		}
	}
	return out
}
