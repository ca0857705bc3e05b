package market

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	symbolPlaceholder = "{symbol}"
	urlPlaceholder    = "{url}"
)

// Attempt is one live-tier request: an endpoint, either direct or through a
// bypass proxy.
type Attempt struct {
	Endpoint int    // index into the endpoint list
	Proxy    int    // index into the proxy list, -1 for a direct request
	Target   string // upstream URL for the symbol
	URL      string // URL actually requested
}

func (a Attempt) Direct() bool { return a.Proxy < 0 }

func (a Attempt) String() string {
	if a.Direct() {
		return fmt.Sprintf("E%d-direct", a.Endpoint+1)
	}
	return fmt.Sprintf("E%d-P%d", a.Endpoint+1, a.Proxy+1)
}

// PlanAttempts lists every live attempt for symbol in priority order: each
// endpoint direct, then through each proxy, before moving to the next endpoint.
func PlanAttempts(endpoints, proxies []string, symbol string) []Attempt {
	out := make([]Attempt, 0, len(endpoints)*(1+len(proxies)))
	for ei, ep := range endpoints {
		target := EndpointURL(ep, symbol)
		out = append(out, Attempt{Endpoint: ei, Proxy: -1, Target: target, URL: target})
		for pi, px := range proxies {
			out = append(out, Attempt{Endpoint: ei, Proxy: pi, Target: target, URL: ProxyURL(px, target)})
		}
	}
	return out
}

// EndpointURL expands an endpoint template for symbol. A {symbol} before the
// query string is path-escaped, one inside it is query-escaped. Templates with
// no placeholder get the path-escaped symbol appended.
func EndpointURL(tmpl, symbol string) string {
	idx := strings.Index(tmpl, symbolPlaceholder)
	if idx < 0 {
		return tmpl + url.PathEscape(symbol)
	}
	q := strings.Index(tmpl, "?")
	if q >= 0 && q < idx {
		return strings.ReplaceAll(tmpl, symbolPlaceholder, url.QueryEscape(symbol))
	}
	return strings.ReplaceAll(tmpl, symbolPlaceholder, url.PathEscape(symbol))
}

// ProxyURL wraps target for a bypass proxy, either at {url} or appended.
func ProxyURL(proxy, target string) string {
	enc := url.QueryEscape(target)
	if strings.Contains(proxy, urlPlaceholder) {
		return strings.ReplaceAll(proxy, urlPlaceholder, enc)
	}
	return proxy + enc
}
