package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Decode errors. Any of these is fatal to the tunnel connection that
// produced it (spec §4.1, §7).
var (
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")
	ErrUnknownTag         = errors.New("protocol: unknown message tag")
	ErrTruncated          = errors.New("protocol: truncated message")
	ErrBadUTF8            = errors.New("protocol: invalid utf-8")
	ErrOversize           = errors.New("protocol: message exceeds size cap")
)

// Encode serializes m into the deterministic, versioned, length-prefixed
// layout described in spec §4.1: 1 byte version, 1 byte tag, then a
// variant-specific payload with big-endian u32 lengths and UTF-8
// validated strings. The result is written as the sole payload of one
// WebSocket binary frame by the caller.
func Encode(m Message) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, Version, byte(m.Tag))

	var err error
	switch m.Tag {
	case TagAuth:
		buf, err = encodeAuth(buf, m.Auth)
	case TagAuthResponse:
		buf, err = encodeAuthResponse(buf, m.AuthResponse)
	case TagHTTPRequest:
		buf, err = encodeHTTPRequest(buf, m.HTTPRequest)
	case TagHTTPResponse:
		buf, err = encodeHTTPResponse(buf, m.HTTPResponse)
	case TagPing:
		buf = encodeNonce(buf, m.Ping.Nonce)
	case TagPong:
		buf = encodeNonce(buf, m.Pong.Nonce)
	case TagClose:
		buf, err = encodeClose(buf, m.Close)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, m.Tag)
	}
	if err != nil {
		return nil, err
	}
	if len(buf) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrOversize, len(buf))
	}
	return buf, nil
}

// Decode parses the payload of one WebSocket binary frame into a
// Message. It enforces the 8 MiB cap, the version byte, and UTF-8
// validity of every string field.
//
// Decode never retains data: every string and []byte field on the
// returned Message is copied out, so callers reading frames from a
// pooled scratch buffer (internal/wsframe) can release it immediately
// after Decode returns.
func Decode(data []byte) (Message, error) {
	if len(data) > MaxMessageSize {
		return Message{}, fmt.Errorf("%w: %d bytes", ErrOversize, len(data))
	}
	if len(data) < 2 {
		return Message{}, ErrTruncated
	}
	if data[0] != Version {
		return Message{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, data[0])
	}

	tag := Tag(data[1])
	rest := data[2:]

	switch tag {
	case TagAuth:
		v, err := decodeAuth(rest)
		if err != nil {
			return Message{}, err
		}
		return AuthMessage(v), nil
	case TagAuthResponse:
		v, err := decodeAuthResponse(rest)
		if err != nil {
			return Message{}, err
		}
		return AuthResponseMessage(v), nil
	case TagHTTPRequest:
		v, err := decodeHTTPRequest(rest)
		if err != nil {
			return Message{}, err
		}
		return HTTPRequestMessage(v), nil
	case TagHTTPResponse:
		v, err := decodeHTTPResponse(rest)
		if err != nil {
			return Message{}, err
		}
		return HTTPResponseMessage(v), nil
	case TagPing:
		nonce, err := decodeNonce(rest)
		if err != nil {
			return Message{}, err
		}
		return PingMessage(Ping{Nonce: nonce}), nil
	case TagPong:
		nonce, err := decodeNonce(rest)
		if err != nil {
			return Message{}, err
		}
		return PongMessage(Pong{Nonce: nonce}), nil
	case TagClose:
		v, err := decodeClose(rest)
		if err != nil {
			return Message{}, err
		}
		return CloseMessage(v), nil
	default:
		return Message{}, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
}

// --- primitive helpers -----------------------------------------------

func putU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func putString(buf []byte, s string) []byte {
	buf = putU32(buf, uint32(len(s)))
	return append(buf, s...)
}

func putBytes(buf []byte, b []byte) []byte {
	buf = putU32(buf, uint32(len(b)))
	return append(buf, b...)
}

func putHeaders(buf []byte, headers []Header) []byte {
	buf = putU32(buf, uint32(len(headers)))
	for _, h := range headers {
		buf = putString(buf, h.Name)
		buf = putString(buf, h.Value)
	}
	return buf
}

func takeU32(data []byte) (uint32, []byte, error) {
	if len(data) < 4 {
		return 0, nil, ErrTruncated
	}
	return binary.BigEndian.Uint32(data[:4]), data[4:], nil
}

func takeString(data []byte) (string, []byte, error) {
	n, rest, err := takeU32(data)
	if err != nil {
		return "", nil, err
	}
	if uint64(len(rest)) < uint64(n) {
		return "", nil, ErrTruncated
	}
	raw := rest[:n]
	if !utf8.Valid(raw) {
		return "", nil, ErrBadUTF8
	}
	// Copy out of the pooled/caller buffer so the string doesn't alias it.
	return string(raw), rest[n:], nil
}

func takeBytes(data []byte) ([]byte, []byte, error) {
	n, rest, err := takeU32(data)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < uint64(n) {
		return nil, nil, ErrTruncated
	}
	if n == 0 {
		return nil, rest, nil
	}
	out := make([]byte, n)
	copy(out, rest[:n])
	return out, rest[n:], nil
}

func takeHeaders(data []byte) ([]Header, []byte, error) {
	count, rest, err := takeU32(data)
	if err != nil {
		return nil, nil, err
	}
	if count == 0 {
		return nil, rest, nil
	}
	headers := make([]Header, 0, count)
	for i := uint32(0); i < count; i++ {
		name, r, err := takeString(rest)
		if err != nil {
			return nil, nil, err
		}
		value, r2, err := takeString(r)
		if err != nil {
			return nil, nil, err
		}
		headers = append(headers, Header{Name: name, Value: value})
		rest = r2
	}
	return headers, rest, nil
}

func encodeNonce(buf []byte, nonce uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], nonce)
	return append(buf, b[:]...)
}

func decodeNonce(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, ErrTruncated
	}
	return binary.BigEndian.Uint64(data), nil
}

// --- variant encoders/decoders ---------------------------------------

func encodeAuth(buf []byte, a *Auth) ([]byte, error) {
	buf = putString(buf, a.ClientID)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(a.Timestamp))
	buf = append(buf, ts[:]...)
	buf = putString(buf, a.Signature)
	return buf, nil
}

func decodeAuth(data []byte) (Auth, error) {
	clientID, rest, err := takeString(data)
	if err != nil {
		return Auth{}, err
	}
	if len(rest) < 8 {
		return Auth{}, ErrTruncated
	}
	ts := int64(binary.BigEndian.Uint64(rest[:8]))
	rest = rest[8:]
	sig, _, err := takeString(rest)
	if err != nil {
		return Auth{}, err
	}
	return Auth{ClientID: clientID, Timestamp: ts, Signature: sig}, nil
}

func encodeAuthResponse(buf []byte, a *AuthResponse) ([]byte, error) {
	var ok byte
	if a.OK {
		ok = 1
	}
	buf = append(buf, ok)
	buf = putString(buf, a.Reason)
	return buf, nil
}

func decodeAuthResponse(data []byte) (AuthResponse, error) {
	if len(data) < 1 {
		return AuthResponse{}, ErrTruncated
	}
	ok := data[0] != 0
	reason, _, err := takeString(data[1:])
	if err != nil {
		return AuthResponse{}, err
	}
	return AuthResponse{OK: ok, Reason: reason}, nil
}

func encodeHTTPRequest(buf []byte, r *HTTPRequest) ([]byte, error) {
	buf = append(buf, r.CorrelationID[:]...)
	buf = putString(buf, r.Method)
	buf = putString(buf, r.Path)
	buf = putString(buf, r.Query)
	buf = putHeaders(buf, r.Headers)
	buf = putBytes(buf, r.Body)
	buf = putString(buf, r.SourceIP)
	return buf, nil
}

func decodeHTTPRequest(data []byte) (HTTPRequest, error) {
	if len(data) < 16 {
		return HTTPRequest{}, ErrTruncated
	}
	var cid CorrelationID
	copy(cid[:], data[:16])
	rest := data[16:]

	method, rest, err := takeString(rest)
	if err != nil {
		return HTTPRequest{}, err
	}
	path, rest, err := takeString(rest)
	if err != nil {
		return HTTPRequest{}, err
	}
	query, rest, err := takeString(rest)
	if err != nil {
		return HTTPRequest{}, err
	}
	headers, rest, err := takeHeaders(rest)
	if err != nil {
		return HTTPRequest{}, err
	}
	body, rest, err := takeBytes(rest)
	if err != nil {
		return HTTPRequest{}, err
	}
	sourceIP, _, err := takeString(rest)
	if err != nil {
		return HTTPRequest{}, err
	}

	return HTTPRequest{
		CorrelationID: cid,
		Method:        method,
		Path:          path,
		Query:         query,
		Headers:       headers,
		Body:          body,
		SourceIP:      sourceIP,
	}, nil
}

func encodeHTTPResponse(buf []byte, r *HTTPResponse) ([]byte, error) {
	buf = append(buf, r.CorrelationID[:]...)
	var status [4]byte
	binary.BigEndian.PutUint32(status[:], uint32(r.Status))
	buf = append(buf, status[:]...)
	buf = putHeaders(buf, r.Headers)
	buf = putBytes(buf, r.Body)
	return buf, nil
}

func decodeHTTPResponse(data []byte) (HTTPResponse, error) {
	if len(data) < 20 {
		return HTTPResponse{}, ErrTruncated
	}
	var cid CorrelationID
	copy(cid[:], data[:16])
	status := int(binary.BigEndian.Uint32(data[16:20]))
	rest := data[20:]

	headers, rest, err := takeHeaders(rest)
	if err != nil {
		return HTTPResponse{}, err
	}
	body, _, err := takeBytes(rest)
	if err != nil {
		return HTTPResponse{}, err
	}

	return HTTPResponse{CorrelationID: cid, Status: status, Headers: headers, Body: body}, nil
}

func encodeClose(buf []byte, c *Close) ([]byte, error) {
	buf = putString(buf, c.Code)
	buf = putString(buf, c.Reason)
	return buf, nil
}

func decodeClose(data []byte) (Close, error) {
	code, rest, err := takeString(data)
	if err != nil {
		return Close{}, err
	}
	reason, _, err := takeString(rest)
	if err != nil {
		return Close{}, err
	}
	return Close{Code: code, Reason: reason}, nil
}
