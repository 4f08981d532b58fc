package auth

import "errors"

var (
	// ErrClockSkew is returned when a handshake timestamp falls outside
	// MaxClockSkew of the server's clock.
	ErrClockSkew = errors.New("auth: timestamp outside allowed clock skew")

	// ErrBadSignature is returned when the supplied signature does not
	// match the expected HMAC, or is not valid hex.
	ErrBadSignature = errors.New("auth: signature mismatch")
)
