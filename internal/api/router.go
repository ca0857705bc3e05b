package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"

	"quote-dashboard/internal/briefagent"
	"quote-dashboard/internal/logger"
	"quote-dashboard/internal/market"
	"quote-dashboard/internal/store"
)

type QuoteService interface {
	GetQuotes(ctx context.Context, symbols []string) (*market.Snapshot, error)
}

type PreferenceStore interface {
	LoadPreferences() (store.Preferences, error)
	SaveTheme(theme string) error
	SaveDemoBannerDismissed(dismissed bool) error
}

type BriefAgent interface {
	Summarize(ctx context.Context, batch *market.BatchResult) (briefagent.Brief, error)
	Ping(ctx context.Context) (map[string]any, error)
}

type failureCounter interface {
	ConsecutiveFailures() int
}

// Deps are the services behind the routes. Nil services answer 503.
type Deps struct {
	Quotes         QuoteService
	Preferences    PreferenceStore
	Brief          BriefAgent
	DefaultSymbols []string
	// InitialSymbols are served when a request names no symbols.
	InitialSymbols []string
	Log            *logger.Log
}

type PreferencesRequest struct {
	Theme               *string `json:"theme"`
	DemoBannerDismissed *bool   `json:"demo_banner_dismissed"`
}

type BriefRequest struct {
	Symbols []string `json:"symbols"`
}

func RegisterRoutes(h *server.Hertz, d Deps) {
	if d.Log == nil {
		d.Log = logger.GetLogger()
	}
	if len(d.InitialSymbols) == 0 {
		d.InitialSymbols = d.DefaultSymbols
	}
	log := d.Log.WithComponent("api")

	h.Use(RequestID(), AccessLog(d.Log), CORS())

	h.GET("/healthz", func(_ context.Context, c *app.RequestContext) {
		resp := map[string]any{"ok": true}
		if fc, ok := d.Quotes.(failureCounter); ok {
			resp["quote_failures"] = fc.ConsecutiveFailures()
		}
		c.JSON(http.StatusOK, resp)
	})

	h.GET("/api/v1/symbols/defaults", func(_ context.Context, c *app.RequestContext) {
		c.JSON(http.StatusOK, map[string]any{
			"ok":       true,
			"defaults": d.DefaultSymbols,
			"initial":  d.InitialSymbols,
		})
	})

	h.GET("/api/v1/quotes", func(ctx context.Context, c *app.RequestContext) {
		if d.Quotes == nil {
			unavailable(c, "market service not configured")
			return
		}
		symbols, ok := parseSymbols(string(c.Query("symbols")), d.InitialSymbols)
		if !ok {
			c.JSON(http.StatusBadRequest, map[string]any{
				"ok":    false,
				"error": "symbols is empty",
			})
			return
		}
		snap, err := d.Quotes.GetQuotes(ctx, symbols)
		if err != nil {
			writeQuoteError(c, err)
			return
		}

		dismissed := false
		if d.Preferences != nil {
			prefs, err := d.Preferences.LoadPreferences()
			if err != nil {
				log.WithError(err).Warn("load preferences failed")
			} else {
				dismissed = prefs.DemoBannerDismissed
			}
		}

		c.JSON(http.StatusOK, map[string]any{
			"ok":               true,
			"stale":            snap.Stale,
			"source":           snap.Source,
			"source_ts":        snap.SourceTS,
			"warnings":         nonNil(snap.Warnings),
			"used_offline":     snap.Batch.UsedOffline,
			"show_demo_banner": snap.Batch.UsedOffline && !dismissed,
			"quotes":           snap.Batch.Quotes,
			"failures":         nonNilFailures(snap.Batch.Failures),
		})
	})

	h.GET("/api/v1/preferences", func(_ context.Context, c *app.RequestContext) {
		if d.Preferences == nil {
			unavailable(c, "store not configured")
			return
		}
		prefs, err := d.Preferences.LoadPreferences()
		if err != nil {
			c.JSON(http.StatusInternalServerError, map[string]any{
				"ok":    false,
				"error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":          true,
			"preferences": prefs,
		})
	})

	h.PUT("/api/v1/preferences", func(_ context.Context, c *app.RequestContext) {
		if d.Preferences == nil {
			unavailable(c, "store not configured")
			return
		}
		var req PreferencesRequest
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, map[string]any{
				"ok":    false,
				"error": "invalid json body",
			})
			return
		}
		if req.Theme != nil {
			if err := d.Preferences.SaveTheme(strings.ToLower(strings.TrimSpace(*req.Theme))); err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, store.ErrInvalidPreference) {
					status = http.StatusBadRequest
				}
				c.JSON(status, map[string]any{
					"ok":    false,
					"error": err.Error(),
				})
				return
			}
		}
		if req.DemoBannerDismissed != nil {
			if err := d.Preferences.SaveDemoBannerDismissed(*req.DemoBannerDismissed); err != nil {
				c.JSON(http.StatusInternalServerError, map[string]any{
					"ok":    false,
					"error": err.Error(),
				})
				return
			}
		}
		prefs, err := d.Preferences.LoadPreferences()
		if err != nil {
			c.JSON(http.StatusInternalServerError, map[string]any{
				"ok":    false,
				"error": err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":          true,
			"preferences": prefs,
		})
	})

	h.POST("/api/v1/brief", func(ctx context.Context, c *app.RequestContext) {
		if d.Quotes == nil || d.Brief == nil {
			unavailable(c, "market service or brief agent not configured")
			return
		}
		var req BriefRequest
		if len(c.Request.Body()) > 0 {
			if err := c.BindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, map[string]any{
					"ok":    false,
					"error": "invalid json body",
				})
				return
			}
		}
		symbols := market.NormalizeSymbols(req.Symbols)
		if len(symbols) == 0 {
			symbols = d.InitialSymbols
		}
		snap, err := d.Quotes.GetQuotes(ctx, symbols)
		if err != nil {
			writeQuoteError(c, err)
			return
		}
		brief, err := d.Brief.Summarize(ctx, snap.Batch)
		if err != nil {
			log.WithError(err).Warn("brief generation failed, using fallback")
		}
		c.JSON(http.StatusOK, map[string]any{
			"ok":     true,
			"stale":  snap.Stale,
			"source": snap.Source,
			"brief":  brief,
		})
	})

	h.GET("/api/v1/brief/status", func(ctx context.Context, c *app.RequestContext) {
		if d.Brief == nil {
			unavailable(c, "brief agent not configured")
			return
		}
		resp, err := d.Brief.Ping(ctx)
		if resp == nil {
			resp = map[string]any{"ok": err == nil}
		}
		if err != nil {
			resp["error"] = err.Error()
		}
		c.JSON(http.StatusOK, resp)
	})
}

// writeQuoteError maps resolver failures onto status codes.
func writeQuoteError(c *app.RequestContext, err error) {
	body := map[string]any{
		"ok":    false,
		"error": err.Error(),
	}
	var noData *market.NoDataError
	switch {
	case errors.Is(err, market.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, body)
	case errors.As(err, &noData):
		body["failures"] = nonNilFailures(noData.Failures)
		c.JSON(http.StatusBadGateway, body)
	case market.IsNoData(err):
		c.JSON(http.StatusBadGateway, body)
	case errors.Is(err, market.ErrThrottled):
		c.JSON(http.StatusTooManyRequests, body)
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, body)
	default:
		c.JSON(http.StatusInternalServerError, body)
	}
}

func unavailable(c *app.RequestContext, msg string) {
	c.JSON(http.StatusServiceUnavailable, map[string]any{
		"ok":    false,
		"error": msg,
	})
}

// parseSymbols reads the comma-separated search input. An empty query means
// defaults; a query with nothing usable in it is rejected.
func parseSymbols(raw string, defaults []string) ([]string, bool) {
	if strings.TrimSpace(raw) == "" {
		return defaults, len(defaults) > 0
	}
	out := market.ParseSymbolList(raw)
	return out, len(out) > 0
}

func nonNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

func nonNilFailures(in []market.SymbolFailure) []market.SymbolFailure {
	if in == nil {
		return []market.SymbolFailure{}
	}
	return in
}
