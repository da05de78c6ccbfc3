// Package crypto provides HMAC request authentication for venue REST APIs.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-signed requests against the
// Binance spot API.
type HMACAuth struct {
	Key    string // API key, sent in the X-MBX-APIKEY header
	Secret string // API secret used as the HMAC key
}

// SignQuery appends a millisecond timestamp and signature parameter to a
// URL-encoded query string. The signature is HMAC-SHA256(secret, query)
// encoded as lowercase hex, computed over the query including the timestamp.
func (h *HMACAuth) SignQuery(query string) string {
	return h.SignQueryAt(query, time.Now().UnixMilli())
}

// SignQueryAt is like SignQuery but lets the caller supply the millisecond
// timestamp (useful for deterministic testing).
func (h *HMACAuth) SignQueryAt(query string, unixMilli int64) string {
	ts := "timestamp=" + strconv.FormatInt(unixMilli, 10)
	if query != "" {
		query = query + "&" + ts
	} else {
		query = ts
	}
	return query + "&signature=" + hmacSHA256Hex([]byte(h.Secret), query)
}

// Header returns the API-key header for an authenticated request.
func (h *HMACAuth) Header() (string, string) {
	return "X-MBX-APIKEY", h.Key
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// result as a lowercase hex string.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
