package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"gcbbot/internal/core"
	apperrors "gcbbot/pkg/errors"
	"gcbbot/pkg/httpx"
)

// Venue A signs the concatenation
//
//	<timestamp><METHOD><path[?query]><body>
//
// with HMAC-SHA256 over the API secret and sends the hex digest in plain
// headers. The timestamp window is enforced server-side against
// recvWindow; AUTH_104 and AUTH_105 mean the signature timestamp fell
// outside it.

var venueAPaths = paths{
	Time:       "/api/v1/time",
	Depth:      "/api/v1/market/depth",
	Ticker:     "/api/v1/market/ticker",
	Symbols:    "/api/v1/market/symbols",
	Balances:   "/api/v1/account/balances",
	OpenOrders: "/api/v1/trade/open-orders",
	Order:      "/api/v1/trade/order",
	BatchOrder: "/api/v1/trade/batch-order",
	OpenOrder:  "/api/v1/trade/open-order",
}

// NewVenueA creates the client for the first venue.
func NewVenueA(baseURL string, timeout time.Duration, rps float64, log core.Logger, instruments httpx.Instruments) core.Venue {
	client := httpx.NewClient(baseURL, timeout, instruments)
	limiter := rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	return newAdapter("venue-a", client, limiter, log, venueAPaths, signVenueA, classifyVenueA)
}

func signVenueA(creds core.Credentials, ts int64, method, requestPath string, query url.Values, body []byte, req *http.Request) error {
	target := requestPath
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	mac := hmac.New(sha256.New, []byte(creds.APISecret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte(method))
	mac.Write([]byte(target))
	mac.Write(body)

	req.Header.Set("apikey", creds.APIKey)
	req.Header.Set("timestamp", strconv.FormatInt(ts, 10))
	req.Header.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	req.Header.Set("recvWindow", strconv.Itoa(recvWindowMillis))
	return nil
}

func classifyVenueA(code string) error {
	switch code {
	case "AUTH_104", "AUTH_105":
		return apperrors.ErrTimeDrift
	case "AUTH_101", "AUTH_102", "AUTH_103":
		return apperrors.ErrAuthenticationFailed
	case "TRADE_1001":
		return apperrors.ErrInsufficientFunds
	case "TRADE_1004":
		return apperrors.ErrOrderNotFound
	case "TRADE_1010":
		return apperrors.ErrOrderRejected
	case "MKT_404":
		return apperrors.ErrInvalidSymbol
	case "RATE_429":
		return apperrors.ErrRateLimitExceeded
	}
	return nil
}
