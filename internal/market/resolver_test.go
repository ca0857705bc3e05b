package market_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/time/rate"

	"quote-dashboard/internal/logger"
	"quote-dashboard/internal/market"
)

var (
	testEndpoints = []string{"https://e1.test/chart/{symbol}", "https://e2.test/quote?symbols={symbol}"}
	testProxies   = []string{"https://p1.test/?url=", "https://p2.test/raw?u={url}"}
)

func chartJSON(price, prev float64) string {
	return fmt.Sprintf(`{"chart":{"result":[{"meta":{"regularMarketPrice":%g,"previousClose":%g,"currency":"USD"}}]}}`, price, prev)
}

func respond(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}
}

// urlMatcher matches a *http.Request by its full URL.
type urlMatcher string

func (m urlMatcher) Matches(x any) bool {
	req, ok := x.(*http.Request)
	return ok && req.URL.String() == string(m)
}

func (m urlMatcher) String() string { return "request to " + string(m) }

// clientFunc adapts a function to market.HTTPClient for table-style fakes.
type clientFunc func(*http.Request) (*http.Response, error)

func (f clientFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

// bySymbol serves a live quote for symbols in prices and fails everything else.
func bySymbol(prices map[string]float64) clientFunc {
	return func(req *http.Request) (*http.Response, error) {
		u := req.URL.String()
		for sym, price := range prices {
			if strings.Contains(u, "%2F"+sym) || strings.HasSuffix(req.URL.Path, "/"+sym) || req.URL.Query().Get("symbols") == sym {
				return respond(http.StatusOK, chartJSON(price, price-1)), nil
			}
		}
		return respond(http.StatusInternalServerError, "upstream down"), nil
	}
}

func failingClient() clientFunc {
	return func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	}
}

func newResolver(cfg market.ResolverConfig, client market.HTTPClient, opts ...market.ResolverOption) *market.Resolver {
	if cfg.Endpoints == nil {
		cfg.Endpoints = testEndpoints
	}
	opts = append([]market.ResolverOption{
		market.WithHTTPClient(client),
		market.WithLogger(logger.Discard()),
	}, opts...)
	return market.NewResolver(cfg, opts...)
}

func TestResolveQuotes_DirectSuccessSkipsProxies(t *testing.T) {
	t.Parallel()

	// Arrange: only the first direct attempt may be made.
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	attempts := market.PlanAttempts(testEndpoints, testProxies, "AAPL")
	httpClient.EXPECT().
		Do(urlMatcher(attempts[0].URL)).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			assert.Equal(t, "application/json", req.Header.Get("Accept"))
			assert.Equal(t, "quote-dashboard-test", req.Header.Get("User-Agent"))
			return respond(http.StatusOK, chartJSON(190, 200)), nil
		}).
		Times(1)

	r := newResolver(market.ResolverConfig{Proxies: testProxies, UserAgent: "quote-dashboard-test"}, httpClient)

	// Act
	res, err := r.ResolveQuotes(t.Context(), []string{"aapl"})

	// Assert
	require.NoError(t, err)
	require.Len(t, res.Quotes, 1)
	q := res.Quotes[0]
	assert.Equal(t, "AAPL", q.Symbol)
	assert.Equal(t, market.SourceLive, q.Source)
	assert.InDelta(t, -10.0, *q.Change, 1e-9)
	assert.InDelta(t, -5.0, *q.ChangePercent, 1e-9)
	assert.False(t, res.UsedOffline)
	assert.Empty(t, res.Failures)
}

func TestResolveQuotes_AttemptOrder(t *testing.T) {
	t.Parallel()

	// Arrange: E1 direct fails, E1 via P1 fails, E1 via P2 succeeds. E2 must never be tried.
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	attempts := market.PlanAttempts(testEndpoints, testProxies, "MSFT")
	require.Equal(t, "E1-P2", attempts[2].String())

	gomock.InOrder(
		httpClient.EXPECT().Do(urlMatcher(attempts[0].URL)).Return(respond(http.StatusServiceUnavailable, ""), nil),
		httpClient.EXPECT().Do(urlMatcher(attempts[1].URL)).Return(nil, errors.New("proxy refused")),
		httpClient.EXPECT().Do(urlMatcher(attempts[2].URL)).Return(respond(http.StatusOK, chartJSON(400, 380)), nil),
	)

	r := newResolver(market.ResolverConfig{Proxies: testProxies, Offline: market.DefaultOfflineDataset()}, httpClient)

	// Act
	res, err := r.ResolveQuotes(t.Context(), []string{"MSFT"})

	// Assert: the proxied live quote wins over the offline record for MSFT.
	require.NoError(t, err)
	require.Len(t, res.Quotes, 1)
	assert.Equal(t, market.SourceLive, res.Quotes[0].Source)
	assert.Equal(t, 400.0, *res.Quotes[0].Price)
	assert.False(t, res.UsedOffline)
}

func TestResolveQuotes_MalformedPayloadMovesToNextAttempt(t *testing.T) {
	t.Parallel()

	// Arrange
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	attempts := market.PlanAttempts(testEndpoints, nil, "NVDA")
	gomock.InOrder(
		httpClient.EXPECT().Do(urlMatcher(attempts[0].URL)).Return(respond(http.StatusOK, `{"chart":{"result":[]}}`), nil),
		httpClient.EXPECT().Do(urlMatcher(attempts[1].URL)).Return(respond(http.StatusOK,
			`{"quoteResponse":{"result":[{"symbol":"NVDA","regularMarketPrice":880,"regularMarketPreviousClose":800}]}}`), nil),
	)

	r := newResolver(market.ResolverConfig{}, httpClient)

	// Act
	res, err := r.ResolveQuotes(t.Context(), []string{"NVDA"})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, 880.0, *res.Quotes[0].Price)
	assert.Equal(t, market.SourceLive, res.Quotes[0].Source)
}

func TestResolveQuotes_AllLiveFailUsesOffline(t *testing.T) {
	t.Parallel()

	// Arrange: 2 endpoints x (1 direct + 2 proxies) per symbol, all refused.
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().Do(gomock.Any()).Return(nil, errors.New("dial tcp: no route to host")).Times(12)

	r := newResolver(market.ResolverConfig{Proxies: testProxies, Offline: market.DefaultOfflineDataset()}, httpClient)

	// Act
	res, err := r.ResolveQuotes(t.Context(), []string{"AAPL", "tsla"})

	// Assert
	require.NoError(t, err)
	require.Len(t, res.Quotes, 2)
	assert.Equal(t, []string{"AAPL", "TSLA"}, []string{res.Quotes[0].Symbol, res.Quotes[1].Symbol})
	for _, q := range res.Quotes {
		assert.Equal(t, market.SourceOffline, q.Source)
	}
	assert.Equal(t, 189.25, *res.Quotes[0].Price)
	assert.True(t, res.UsedOffline)
	assert.Zero(t, res.LiveCount())
}

func TestResolveQuotes_MixedTiersIsNotOffline(t *testing.T) {
	t.Parallel()

	r := newResolver(
		market.ResolverConfig{Proxies: testProxies, Offline: market.DefaultOfflineDataset()},
		bySymbol(map[string]float64{"AAPL": 191}),
	)

	res, err := r.ResolveQuotes(t.Context(), []string{"AAPL", "MSFT"})

	require.NoError(t, err)
	require.Len(t, res.Quotes, 2)
	assert.Equal(t, market.SourceLive, res.Quotes[0].Source)
	assert.Equal(t, market.SourceOffline, res.Quotes[1].Source)
	assert.Equal(t, "MSFT", res.Quotes[1].Symbol)
	assert.False(t, res.UsedOffline)
	assert.Equal(t, 1, res.LiveCount())
}

func TestResolveQuotes_PartialFailureIsReported(t *testing.T) {
	t.Parallel()

	r := newResolver(
		market.ResolverConfig{Offline: market.DefaultOfflineDataset()},
		bySymbol(map[string]float64{"AAPL": 191}),
	)

	res, err := r.ResolveQuotes(t.Context(), []string{"ZZZZ", "AAPL"})

	require.NoError(t, err)
	require.Len(t, res.Quotes, 1)
	assert.Equal(t, "AAPL", res.Quotes[0].Symbol)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "ZZZZ", res.Failures[0].Symbol)
	assert.Contains(t, res.Failures[0].Reason, "HTTP 500")
	assert.False(t, res.UsedOffline)
}

func TestResolveQuotes_NoDataAvailable(t *testing.T) {
	t.Parallel()

	r := newResolver(market.ResolverConfig{Proxies: testProxies, Offline: market.DefaultOfflineDataset()}, failingClient())

	res, err := r.ResolveQuotes(t.Context(), []string{"ZZZZ", "QQQQ"})

	require.Nil(t, res)
	require.ErrorIs(t, err, market.ErrNoDataAvailable)
	assert.True(t, market.IsNoData(err))

	var nd *market.NoDataError
	require.ErrorAs(t, err, &nd)
	require.Len(t, nd.Failures, 2)
	assert.Equal(t, "ZZZZ", nd.Failures[0].Symbol)
	assert.Contains(t, nd.Failures[0].Reason, "connection refused")
	assert.True(t, strings.HasPrefix(err.Error(), "unable to fetch data for any symbols: ZZZZ: "))
}

func TestResolveQuotes_OfflineDisabled(t *testing.T) {
	t.Parallel()

	r := newResolver(market.ResolverConfig{}, failingClient())

	_, err := r.ResolveQuotes(t.Context(), []string{"AAPL"})

	require.ErrorIs(t, err, market.ErrNoDataAvailable)
}

func TestResolveQuotes_NoEndpointsGoesStraightToOffline(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)

	r := newResolver(market.ResolverConfig{Endpoints: []string{}, Offline: market.DefaultOfflineDataset()}, httpClient)

	res, err := r.ResolveQuotes(t.Context(), []string{"NFLX"})

	require.NoError(t, err)
	assert.Equal(t, market.SourceOffline, res.Quotes[0].Source)
	assert.True(t, res.UsedOffline)
}

func TestResolveQuotes_InvalidInput(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	r := newResolver(market.ResolverConfig{}, httpClient)

	for _, in := range [][]string{nil, {}, {"", "  "}} {
		res, err := r.ResolveQuotes(t.Context(), in)
		require.Nil(t, res)
		require.ErrorIs(t, err, market.ErrInvalidInput)
	}
}

func TestResolveQuotes_NormalizesAndDedupes(t *testing.T) {
	t.Parallel()

	r := newResolver(market.ResolverConfig{}, bySymbol(map[string]float64{"AAPL": 10, "MSFT": 20}))

	res, err := r.ResolveQuotes(t.Context(), []string{" msft", "aapl", "MSFT ", ""})

	require.NoError(t, err)
	require.Len(t, res.Quotes, 2)
	assert.Equal(t, "MSFT", res.Quotes[0].Symbol)
	assert.Equal(t, "AAPL", res.Quotes[1].Symbol)
}

func TestResolveQuotes_ConcurrentKeepsRequestOrder(t *testing.T) {
	t.Parallel()

	syms := []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "META", "NVDA", "NFLX", "ZZZZ"}
	prices := map[string]float64{}
	for i, s := range syms[:len(syms)-1] {
		prices[s] = float64(100 + i)
	}

	r := newResolver(market.ResolverConfig{Proxies: testProxies, Concurrency: 4}, bySymbol(prices))

	res, err := r.ResolveQuotes(t.Context(), syms)

	require.NoError(t, err)
	require.Len(t, res.Quotes, len(syms)-1)
	for i, q := range res.Quotes {
		assert.Equal(t, syms[i], q.Symbol)
		assert.Equal(t, float64(100+i), *q.Price)
	}
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "ZZZZ", res.Failures[0].Symbol)
}

func TestResolveQuotes_CanceledContext(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	r := newResolver(market.ResolverConfig{Offline: market.DefaultOfflineDataset()}, httpClient)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	res, err := r.ResolveQuotes(ctx, []string{"AAPL"})

	require.Nil(t, res)
	require.ErrorIs(t, err, context.Canceled)
}

func TestResolveQuotes_RateLimitRejectionCountsAsFailure(t *testing.T) {
	t.Parallel()

	// Arrange: a zero-burst limiter refuses every wait, so no request goes out.
	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	r := newResolver(
		market.ResolverConfig{Offline: market.DefaultOfflineDataset()},
		httpClient,
		market.WithLimiter(rate.NewLimiter(rate.Limit(1), 0)),
	)

	// Act
	res, err := r.ResolveQuotes(t.Context(), []string{"AAPL"})

	// Assert
	require.NoError(t, err)
	assert.True(t, res.UsedOffline)
}

func TestResolveQuotes_AgainstHTTPServer(t *testing.T) {
	t.Parallel()

	// Arrange: the slow endpoint outlives the attempt timeout, the second answers.
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	gotPath := make(chan string, 1)
	fast := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath <- r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chartJSON(250, 250))
	}))
	defer fast.Close()

	r := market.NewResolver(market.ResolverConfig{
		Endpoints:      []string{slow.URL + "/chart/{symbol}", fast.URL + "/chart/{symbol}?interval=1d"},
		AttemptTimeout: 100 * time.Millisecond,
	}, market.WithLogger(logger.Discard()))

	// Act
	res, err := r.ResolveQuotes(t.Context(), []string{"GOOGL"})

	// Assert: previous close equal to price gives a zero change, not an absent one.
	require.NoError(t, err)
	assert.Equal(t, "/chart/GOOGL", <-gotPath)
	require.NotNil(t, res.Quotes[0].Change)
	assert.Zero(t, *res.Quotes[0].Change)
	assert.Zero(t, *res.Quotes[0].ChangePercent)
}

func TestResolveQuotes_Idempotent(t *testing.T) {
	t.Parallel()

	cases := map[string]market.HTTPClient{
		"live":    bySymbol(map[string]float64{"AAPL": 190}),
		"offline": failingClient(),
	}
	for name, client := range cases {
		t.Run(name, func(t *testing.T) {
			r := newResolver(market.ResolverConfig{Proxies: testProxies, Offline: market.DefaultOfflineDataset()}, client)

			first, err := r.ResolveQuotes(t.Context(), []string{"AAPL"})
			require.NoError(t, err)
			second, err := r.ResolveQuotes(t.Context(), []string{"AAPL"})
			require.NoError(t, err)

			require.Len(t, first.Quotes, 1)
			assert.Equal(t, first.Quotes[0], second.Quotes[0])
			assert.Equal(t, first, second)
		})
	}
}

func TestResolveQuotes_CaseInsensitiveSameRecord(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		client market.HTTPClient
		source market.Source
	}{
		"live":    {bySymbol(map[string]float64{"AAPL": 190}), market.SourceLive},
		"offline": {failingClient(), market.SourceOffline},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			r := newResolver(market.ResolverConfig{Proxies: testProxies, Offline: market.DefaultOfflineDataset()}, tc.client)

			lower, err := r.ResolveQuotes(t.Context(), []string{"aapl"})
			require.NoError(t, err)
			upper, err := r.ResolveQuotes(t.Context(), []string{"AAPL"})
			require.NoError(t, err)

			require.Len(t, lower.Quotes, 1)
			assert.Equal(t, tc.source, lower.Quotes[0].Source)
			assert.Equal(t, "AAPL", lower.Quotes[0].Symbol)
			assert.Equal(t, upper.Quotes[0], lower.Quotes[0])
		})
	}
}
