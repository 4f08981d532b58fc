// Package auth implements the tunnel handshake's HMAC-SHA256 signature
// scheme: the client proves knowledge of the shared secret by signing
// its client id and timestamp, and the server verifies that signature
// within a bounded clock-skew window.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// MaxClockSkew is the largest acceptable difference between a client's
// claimed timestamp and the server's wall clock, in either direction.
const MaxClockSkew = 60 * time.Second

// Sign produces the hex-encoded HMAC-SHA256 signature over
// "<clientID>:<timestamp>" using secret as the key.
func Sign(clientID string, timestamp int64, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s:%d", clientID, timestamp)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks that signature is the correct HMAC-SHA256 signature for
// (clientID, timestamp) under secret, and that timestamp falls within
// MaxClockSkew of now. Comparisons are constant-time with respect to
// the signature bytes.
func Verify(clientID string, timestamp int64, signature string, secret string, now time.Time) error {
	skew := now.Unix() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(MaxClockSkew/time.Second) {
		return ErrClockSkew
	}

	want := Sign(clientID, timestamp, secret)
	wantBytes, err := hex.DecodeString(want)
	if err != nil {
		return err // unreachable: Sign always returns valid hex
	}
	gotBytes, err := hex.DecodeString(signature)
	if err != nil {
		return ErrBadSignature
	}
	if !hmac.Equal(wantBytes, gotBytes) {
		return ErrBadSignature
	}
	return nil
}
