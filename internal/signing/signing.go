// Package signing derives request signatures and idempotency keys.
//
// A signature is the lowercase hex HMAC-SHA-256 of payload||timestamp keyed
// with the shared secret. Callers serialize a payload once and pass the same
// bytes to Sign and IdempotencyKey so both are computed over identical input.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/Kocoro-lab/leadflow/internal/config"
)

// ErrEmptySecret is returned when signing is attempted without a key.
var ErrEmptySecret = fmt.Errorf("%w: shared secret is empty", config.ErrConfig)

// Sign returns hex(HMAC-SHA-256(secret, payload || timestamp)).
func Sign(payload []byte, secret, timestamp string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	mac.Write([]byte(timestamp))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the signature and compares it in constant time. Both sides
// are hashed to a fixed length first so a length mismatch takes the same path.
func Verify(payload []byte, secret, timestamp, signature string) (bool, error) {
	expected, err := Sign(payload, secret, timestamp)
	if err != nil {
		return false, err
	}
	return Equal(expected, signature), nil
}

// Equal compares two signatures without leaking their length or common prefix.
func Equal(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return hmac.Equal(ha[:], hb[:])
}

// IdempotencyKey is the hex SHA-256 of payload exactly as serialized.
func IdempotencyKey(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Timestamp formats t as decimal milliseconds since the Unix epoch.
func Timestamp(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// ParseTimestamp is the inverse of Timestamp.
func ParseTimestamp(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return time.UnixMilli(ms), nil
}

// Envelope is one payload serialized once, with the values derived from it.
type Envelope struct {
	Body           []byte
	Timestamp      string
	Signature      string
	IdempotencyKey string
}

// SealBytes signs already-serialized bytes at time now.
func SealBytes(body []byte, secret string, now time.Time) (Envelope, error) {
	ts := Timestamp(now)
	sig, err := Sign(body, secret, ts)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Body:           body,
		Timestamp:      ts,
		Signature:      sig,
		IdempotencyKey: IdempotencyKey(body),
	}, nil
}

// SignBody signs a payload without a timestamp, as the webhook relay does.
func SignBody(body []byte, secret string) (string, error) {
	return Sign(body, secret, "")
}
