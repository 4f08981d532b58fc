package session

import "errors"

// ErrAlreadyConnected is returned by Registry.Bind under
// PolicyRejectNew when a session is already bound.
var ErrAlreadyConnected = errors.New("session: already connected")
