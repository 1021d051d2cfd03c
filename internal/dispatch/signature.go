package dispatch

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flowforge/flowforge/internal/domain"
)

// SignatureHeader carries the webhook signature on both directions
const SignatureHeader = "X-Flowforge-Signature"

// Replay protection window and forward clock-skew tolerance
const (
	maxSignatureAge = 5 * time.Minute
	maxClockSkew    = 60 * time.Second
)

// Sign computes the webhook signature for body at the given time. The
// header value is "<unix-timestamp>:<hex hmac-sha256 of "ts:body">".
func Sign(body []byte, secret string, now time.Time) string {
	ts := strconv.FormatInt(now.Unix(), 10)
	return ts + ":" + digest(ts, body, secret)
}

// Verify checks a signature header against body. Every failure mode
// returns the same domain.ErrUnauthorized so a forger learns nothing
// about why a request was rejected.
func Verify(body []byte, header, secret string, now time.Time) error {
	ts, sig, ok := strings.Cut(header, ":")
	if !ok || ts == "" || sig == "" {
		return domain.ErrUnauthorized
	}

	epoch, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return domain.ErrUnauthorized
	}
	signedAt := time.Unix(epoch, 0)

	if now.Sub(signedAt) > maxSignatureAge {
		return domain.ErrUnauthorized
	}
	if signedAt.Sub(now) > maxClockSkew {
		return domain.ErrUnauthorized
	}

	expected := digest(ts, body, secret)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return domain.ErrUnauthorized
	}
	return nil
}

func digest(ts string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%s", ts, body)
	return hex.EncodeToString(mac.Sum(nil))
}
