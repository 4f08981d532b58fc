package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// NewCorrelationID generates a random 128-bit correlation id, unique
// within the lifetime of one tunnel connection.
func NewCorrelationID() CorrelationID {
	var id CorrelationID
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable on any real
		// platform; fall back to a timestamp-derived id so a dispatcher
		// caller never blocks forever on an id it can't mint.
		binary.BigEndian.PutUint64(id[:8], uint64(time.Now().UnixNano()))
		binary.BigEndian.PutUint64(id[8:], uint64(time.Now().UnixNano()))
	}
	return id
}
