package market

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"quote-dashboard/internal/logger"
)

const (
	defaultAttemptTimeout = 8 * time.Second
	maxPayloadBytes       = 4 << 20
	noDataReason          = "no data available"
)

// ResolverConfig is everything the resolver needs; there is no package state.
type ResolverConfig struct {
	Endpoints []string
	Proxies   []string
	// Offline is the last tier. Nil disables it.
	Offline        *OfflineDataset
	AttemptTimeout time.Duration
	// Concurrency > 1 resolves that many symbols at once. Attempts for one
	// symbol stay sequential either way.
	Concurrency int
	UserAgent   string
}

// Resolver turns requested symbols into a BatchResult using live endpoints,
// bypass proxies and the offline dataset, in that order, per symbol.
type Resolver struct {
	cfg     ResolverConfig
	client  HTTPClient
	limiter *rate.Limiter
	log     *logger.Entry
}

type ResolverOption func(*Resolver)

// WithHTTPClient sets the client used for every attempt.
func WithHTTPClient(c HTTPClient) ResolverOption {
	return func(r *Resolver) {
		r.client = c
	}
}

// WithLimiter gates every outbound attempt on l.
func WithLimiter(l *rate.Limiter) ResolverOption {
	return func(r *Resolver) {
		r.limiter = l
	}
}

func WithLogger(l *logger.Log) ResolverOption {
	return func(r *Resolver) {
		r.log = l.WithComponent("resolver")
	}
}

func NewResolver(cfg ResolverConfig, opts ...ResolverOption) *Resolver {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	r := &Resolver{
		cfg:    cfg,
		client: NewHTTPClient(0),
		log:    logger.GetLogger().WithComponent("resolver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// outcome is the per-symbol result: exactly one of quote or failure is set.
type outcome struct {
	quote   *Quote
	failure *SymbolFailure
}

// ResolveQuotes resolves symbols into a batch. It fails with ErrInvalidInput
// when no symbol is left after cleanup, with a *NoDataError when nothing
// resolved, and with the context error when ctx ends first.
func (r *Resolver) ResolveQuotes(ctx context.Context, symbols []string) (*BatchResult, error) {
	syms := NormalizeSymbols(symbols)
	if len(syms) == 0 {
		return nil, fmt.Errorf("%w: no symbols requested", ErrInvalidInput)
	}

	outcomes := make([]outcome, len(syms))
	if r.cfg.Concurrency <= 1 || len(syms) == 1 {
		for i, sym := range syms {
			o, err := r.resolveOne(ctx, sym)
			if err != nil {
				return nil, err
			}
			outcomes[i] = o
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for i, sym := range syms {
			g.Go(func() error {
				o, err := r.resolveOne(gctx, sym)
				if err != nil {
					return err
				}
				outcomes[i] = o
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	res := &BatchResult{Quotes: make([]Quote, 0, len(syms))}
	for _, o := range outcomes {
		if o.quote != nil {
			res.Quotes = append(res.Quotes, *o.quote)
			continue
		}
		res.Failures = append(res.Failures, *o.failure)
	}
	if len(res.Quotes) == 0 {
		return nil, &NoDataError{Failures: res.Failures}
	}
	res.UsedOffline = res.LiveCount() == 0
	if res.UsedOffline {
		r.log.WithFields(logger.Fields{
			"resolved": len(res.Quotes),
			"failed":   len(res.Failures),
		}).Warn("no live endpoint responded, batch served from offline data")
	}
	return res, nil
}

func (r *Resolver) resolveOne(ctx context.Context, sym string) (outcome, error) {
	var lastErr error
	for _, a := range PlanAttempts(r.cfg.Endpoints, r.cfg.Proxies, sym) {
		if err := ctx.Err(); err != nil {
			return outcome{}, err
		}
		q, err := r.try(ctx, a, sym)
		if err == nil {
			q.Source = SourceLive
			return outcome{quote: &q}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return outcome{}, ctxErr
		}
		lastErr = err
		r.log.WithFields(logger.Fields{
			"symbol":  sym,
			"attempt": a.String(),
		}).WithError(err).Debug("attempt failed")
	}

	if q, ok := r.cfg.Offline.Lookup(sym); ok {
		r.log.WithFields(logger.Fields{"symbol": sym}).Info("using offline data")
		return outcome{quote: &q}, nil
	}

	reason := noDataReason
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return outcome{failure: &SymbolFailure{Symbol: sym, Reason: reason}}, nil
}

func (r *Resolver) try(ctx context.Context, a Attempt, sym string) (Quote, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return Quote{}, fmt.Errorf("%w: rate limit: %v", ErrNetworkFailure, err)
		}
	}

	actx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodGet, a.URL, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: build request: %v", ErrNetworkFailure, err)
	}
	req.Header.Set("Accept", "application/json")
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Quote{}, fmt.Errorf("%w: HTTP %d", ErrNetworkFailure, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return Quote{}, fmt.Errorf("%w: read body: %v", ErrNetworkFailure, err)
	}
	return Normalize(body, sym)
}

// NormalizeSymbols trims and uppercases symbols, drops blanks and keeps the
// first occurrence of each.
func NormalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// ParseSymbolList splits a comma-separated search string.
func ParseSymbolList(raw string) []string {
	return NormalizeSymbols(strings.Split(raw, ","))
}
