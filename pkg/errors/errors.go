// Package apperrors defines standardized error values shared across the
// exchange clients and the strategy engines.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrOrderRejected        = errors.New("order rejected")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrNetwork              = errors.New("network error")
	ErrInvalidSymbol        = errors.New("invalid symbol")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrOrderNotFound        = errors.New("order not found")
	ErrTimeDrift            = errors.New("timestamp out of bounds")
	ErrNoCredentials        = errors.New("credentials not available")
	ErrNotFound             = errors.New("not found")
	ErrUserDisabled         = errors.New("user trading disabled")
	ErrMarketData           = errors.New("market data unavailable")
)

// VenueError carries the raw venue result code and message, plus an
// optional back-off hint from rate-limit responses.
type VenueError struct {
	Venue   string
	Code    string
	Msg     string
	Backoff time.Duration
	Kind    error // one of the sentinel values above, or nil
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("%s error %s: %s", e.Venue, e.Code, e.Msg)
}

func (e *VenueError) Unwrap() error { return e.Kind }

// IsTimeDrift reports whether err is a clock-drift auth failure that
// warrants a resync-and-retry.
func IsTimeDrift(err error) bool { return errors.Is(err, ErrTimeDrift) }

// IsRateLimited reports whether err is a rate-limit rejection. These are
// never retried automatically; the back-off hint is surfaced to callers.
func IsRateLimited(err error) bool { return errors.Is(err, ErrRateLimitExceeded) }
