// Package sign implements the signed-webhook authentication scheme used by
// Feishu/Lark-style chat bots.
//
// The scheme is unusual: the signing key is "{timestamp}\n{secret}" and the
// HMAC-SHA256 message is empty. Both the timestamp and the base64 digest
// must be transmitted in the request payload; skew tolerance is enforced by
// the remote service, not here.
package sign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strconv"
)

var ErrEmptySecret = errors.New("sign: secret is empty")

// Signature pairs a computed signature with the timestamp it was derived
// from. Callers must embed both in the outgoing payload unchanged.
type Signature struct {
	Timestamp int64
	Sign      string
}

// Compute derives the webhook signature for the given secret and unix
// timestamp (seconds). Deterministic for fixed inputs.
func Compute(secret string, timestamp int64) (Signature, error) {
	if secret == "" {
		return Signature{}, ErrEmptySecret
	}
	key := strconv.FormatInt(timestamp, 10) + "\n" + secret
	mac := hmac.New(sha256.New, []byte(key))
	// The message is intentionally empty; the timestamp lives in the key.
	sum := mac.Sum(nil)
	return Signature{
		Timestamp: timestamp,
		Sign:      base64.StdEncoding.EncodeToString(sum),
	}, nil
}
