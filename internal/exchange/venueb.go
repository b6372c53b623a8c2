package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"gcbbot/internal/core"
	apperrors "gcbbot/pkg/errors"
	"gcbbot/pkg/httpx"
)

// Venue B builds its canonical string from the validate-* headers sorted
// by name, then appends method, path, the sorted query string and the
// body, '#'-separated:
//
//	k1=v1&k2=v2#METHOD#path[#query][#body]
//
// The hex HMAC-SHA256 digest travels in validate-signature.

var venueBPaths = paths{
	Time:       "/sapi/v2/time",
	Depth:      "/sapi/v2/depth",
	Ticker:     "/sapi/v2/ticker/price",
	Symbols:    "/sapi/v2/symbols",
	Balances:   "/sapi/v2/account",
	OpenOrders: "/sapi/v2/openOrders",
	Order:      "/sapi/v2/order",
	BatchOrder: "/sapi/v2/batchOrders",
	OpenOrder:  "/sapi/v2/openOrder",
}

// NewVenueB creates the client for the second venue.
func NewVenueB(baseURL string, timeout time.Duration, rps float64, log core.Logger, instruments httpx.Instruments) core.Venue {
	client := httpx.NewClient(baseURL, timeout, instruments)
	limiter := rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	return newAdapter("venue-b", client, limiter, log, venueBPaths, signVenueB, classifyVenueB)
}

func signVenueB(creds core.Credentials, ts int64, method, requestPath string, query url.Values, body []byte, req *http.Request) error {
	headers := map[string]string{
		"validate-algorithms": "HmacSHA256",
		"validate-appkey":     creds.APIKey,
		"validate-recvwindow": strconv.Itoa(recvWindowMillis),
		"validate-timestamp":  strconv.FormatInt(ts, 10),
	}

	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var canonical strings.Builder
	for i, name := range names {
		if i > 0 {
			canonical.WriteByte('&')
		}
		canonical.WriteString(name)
		canonical.WriteByte('=')
		canonical.WriteString(headers[name])
	}
	canonical.WriteByte('#')
	canonical.WriteString(method)
	canonical.WriteByte('#')
	canonical.WriteString(requestPath)
	if len(query) > 0 {
		// url.Values.Encode sorts keys, matching the server's canonical form.
		canonical.WriteByte('#')
		canonical.WriteString(query.Encode())
	}
	if len(body) > 0 {
		canonical.WriteByte('#')
		canonical.Write(body)
	}

	mac := hmac.New(sha256.New, []byte(creds.APISecret))
	mac.Write([]byte(canonical.String()))

	for name, value := range headers {
		req.Header.Set(name, value)
	}
	req.Header.Set("validate-signature", hex.EncodeToString(mac.Sum(nil)))
	return nil
}

func classifyVenueB(code string) error {
	switch code {
	case "-1021", "-1022":
		return apperrors.ErrTimeDrift
	case "-2014", "-2015":
		return apperrors.ErrAuthenticationFailed
	case "-2010":
		return apperrors.ErrInsufficientFunds
	case "-2011", "-2013":
		return apperrors.ErrOrderNotFound
	case "-1013":
		return apperrors.ErrOrderRejected
	case "-1121":
		return apperrors.ErrInvalidSymbol
	case "-1003":
		return apperrors.ErrRateLimitExceeded
	}
	return nil
}
