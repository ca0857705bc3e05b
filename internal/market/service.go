package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"quote-dashboard/internal/logger"
)

const (
	SnapshotSourceLive    = "live"
	SnapshotSourceOffline = "offline"
	SnapshotSourceCache   = "cache"
)

// Snapshot is a batch plus how it was obtained.
type Snapshot struct {
	Batch    *BatchResult
	Stale    bool
	Source   string
	SourceTS int64
	Warnings []string
}

// maxCachedSymbols bounds the per-symbol cache. The stalest entry goes first.
const maxCachedSymbols = 512

type cachedQuote struct {
	quote     Quote
	fetchedAt time.Time
}

// Service sits between the API and the resolver. All fetches share one
// min-interval gate; inside it, requests are answered from the per-symbol
// cache. The same cache backs a resolver failure.
type Service struct {
	resolver    QuoteResolver
	minInterval time.Duration
	maxEntries  int
	log         *logger.Entry
	now         func() time.Time

	mu                  sync.Mutex
	lastFetch           time.Time
	cache               map[string]cachedQuote
	consecutiveFailures int
}

func NewService(resolver QuoteResolver, minInterval time.Duration) *Service {
	if minInterval < 0 {
		minInterval = 0
	}
	return &Service{
		resolver:    resolver,
		minInterval: minInterval,
		maxEntries:  maxCachedSymbols,
		log:         logger.GetLogger().WithComponent("quote_service"),
		now:         time.Now,
		cache:       make(map[string]cachedQuote),
	}
}

func (s *Service) GetQuotes(ctx context.Context, symbols []string) (*Snapshot, error) {
	if s.resolver == nil {
		return nil, fmt.Errorf("quote resolver not configured")
	}
	syms := NormalizeSymbols(symbols)
	if len(syms) == 0 {
		return nil, fmt.Errorf("%w: no symbols requested", ErrInvalidInput)
	}

	s.mu.Lock()
	if s.minInterval > 0 && s.now().Sub(s.lastFetch) < s.minInterval {
		hit, missing := s.fromCacheLocked(syms)
		s.mu.Unlock()
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: retry in %s (not cached: %s)", ErrThrottled, s.minInterval, strings.Join(missing, ","))
		}
		return hit.snapshot("requested too quickly, returning cached data"), nil
	}
	s.lastFetch = s.now()
	s.mu.Unlock()

	batch, err := s.resolver.ResolveQuotes(ctx, syms)
	if err == nil {
		now := s.now()
		s.mu.Lock()
		for _, q := range batch.Quotes {
			s.storeLocked(q, now)
		}
		s.consecutiveFailures = 0
		s.mu.Unlock()

		source := SnapshotSourceLive
		if batch.UsedOffline {
			source = SnapshotSourceOffline
		}
		return &Snapshot{Batch: batch, Source: source, SourceTS: now.Unix()}, nil
	}

	s.mu.Lock()
	s.consecutiveFailures++
	failures := s.consecutiveFailures
	hit, _ := s.fromCacheLocked(syms)
	s.mu.Unlock()

	var noData *NoDataError
	if len(hit.quotes) > 0 && errors.As(err, &noData) {
		s.log.WithFields(logger.Fields{
			"symbols":              strings.Join(syms, ","),
			"cached":               len(hit.quotes),
			"consecutive_failures": failures,
		}).WithError(err).Warn("quote fetch failed, serving cached quotes")
		hit.failures = failuresFor(noData.Failures, hit.quotes, syms)
		return hit.snapshot(fmt.Sprintf("quote fetch failed, returning cached data: %v", err)), nil
	}
	return nil, err
}

// ConsecutiveFailures counts failed resolutions since the last success.
func (s *Service) ConsecutiveFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consecutiveFailures
}

func (s *Service) storeLocked(q Quote, at time.Time) {
	key := strings.ToUpper(q.Symbol)
	if _, ok := s.cache[key]; !ok && s.maxEntries > 0 && len(s.cache) >= s.maxEntries {
		var oldestKey string
		var oldest time.Time
		for k, c := range s.cache {
			if oldestKey == "" || c.fetchedAt.Before(oldest) {
				oldestKey, oldest = k, c.fetchedAt
			}
		}
		delete(s.cache, oldestKey)
	}
	s.cache[key] = cachedQuote{quote: cloneQuote(q), fetchedAt: at}
}

type cacheHit struct {
	quotes   []Quote
	failures []SymbolFailure
	oldest   time.Time
}

// fromCacheLocked returns cached quotes in request order and the symbols
// that had none.
func (s *Service) fromCacheLocked(syms []string) (cacheHit, []string) {
	var hit cacheHit
	var missing []string
	for _, sym := range syms {
		c, ok := s.cache[sym]
		if !ok {
			missing = append(missing, sym)
			continue
		}
		hit.quotes = append(hit.quotes, cloneQuote(c.quote))
		if hit.oldest.IsZero() || c.fetchedAt.Before(hit.oldest) {
			hit.oldest = c.fetchedAt
		}
	}
	return hit, missing
}

func (h cacheHit) snapshot(warning string) *Snapshot {
	batch := &BatchResult{Quotes: h.quotes, Failures: h.failures}
	batch.UsedOffline = len(h.quotes) > 0 && batch.LiveCount() == 0
	return &Snapshot{
		Batch:    batch,
		Stale:    true,
		Source:   SnapshotSourceCache,
		SourceTS: h.oldest.Unix(),
		Warnings: []string{warning},
	}
}

// failuresFor keeps the resolver's reasons for symbols the cache could not
// cover.
func failuresFor(all []SymbolFailure, cached []Quote, syms []string) []SymbolFailure {
	have := make(map[string]bool, len(cached))
	for _, q := range cached {
		have[q.Symbol] = true
	}
	reasons := make(map[string]string, len(all))
	for _, f := range all {
		reasons[f.Symbol] = f.Reason
	}
	var out []SymbolFailure
	for _, sym := range syms {
		if have[sym] {
			continue
		}
		reason, ok := reasons[sym]
		if !ok {
			reason = noDataReason
		}
		out = append(out, SymbolFailure{Symbol: sym, Reason: reason})
	}
	return out
}
