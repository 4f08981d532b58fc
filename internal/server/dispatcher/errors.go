package dispatcher

import "fmt"

// Kind is the closed set of error kinds Forward reports (the subset of
// spec.md §7's kinds that arise in the dispatcher; Auth and Local are
// not among them), exposed as a typed field so callers can switch on
// it instead of string matching.
type Kind string

const (
	KindCodec        Kind = "codec"
	KindTransport    Kind = "transport"
	KindTimeout      Kind = "timeout"
	KindBusy         Kind = "busy"
	KindNoClient     Kind = "no_client"
	KindDisconnected Kind = "disconnected"
	KindOversize     Kind = "oversize"
	KindShutdown     Kind = "shutdown"
)

// Error is returned by Dispatcher.Forward. Ingress adapters switch on
// Kind to pick an HTTP status; Error's message never includes secret
// material, correlation ids, or internal addresses (spec.md §7).
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dispatcher: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("dispatcher: %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}
