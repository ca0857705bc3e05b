package market

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidInput means the request held no usable symbol.
	ErrInvalidInput = errors.New("invalid input")
	// ErrMalformedResponse means an upstream payload lacked the current price.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrNetworkFailure covers transport errors and non-2xx statuses.
	ErrNetworkFailure = errors.New("network failure")
	// ErrNoDataAvailable means every tier failed for every symbol.
	ErrNoDataAvailable = errors.New("no data available")
	// ErrThrottled means a fetch came inside the min interval and the cache
	// could not answer it.
	ErrThrottled = errors.New("requested too quickly")
)

// NoDataError is returned when a batch resolves nothing. It matches
// ErrNoDataAvailable with errors.Is.
type NoDataError struct {
	Failures []SymbolFailure
}

func (e *NoDataError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = fmt.Sprintf("%s: %s", f.Symbol, f.Reason)
	}
	return fmt.Sprintf("unable to fetch data for any symbols: %s", strings.Join(msgs, "; "))
}

func (e *NoDataError) Is(target error) bool {
	return target == ErrNoDataAvailable
}

func IsNoData(err error) bool {
	return errors.Is(err, ErrNoDataAvailable)
}
