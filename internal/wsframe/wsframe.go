// Package wsframe reads one WebSocket message into a buffer drawn
// from a caller-supplied pool.BufferPool instead of letting each read
// allocate its own,
// on the hot path shared by the server's conn package and the
// client's connector package.
package wsframe

import (
	"bytes"
	"io"

	"github.com/gorilla/websocket"

	"github.com/hass-tunnel/ha-tunnel/internal/pool"
)

// Read pulls one message off ws using a scratch buffer from bp. The
// returned data is only valid until release is called; callers must
// finish using it (e.g. protocol.Decode, which copies every field out)
// before calling release.
func Read(ws *websocket.Conn, bp *pool.BufferPool) (msgType int, data []byte, release func(), err error) {
	msgType, r, err := ws.NextReader()
	if err != nil {
		return 0, nil, nil, err
	}

	scratch := bp.Get(pool.SizeMedium)
	buf := bytes.NewBuffer((*scratch)[:0])
	if _, err := io.Copy(buf, r); err != nil {
		bp.Put(scratch)
		return 0, nil, nil, err
	}

	return msgType, buf.Bytes(), func() { bp.Put(scratch) }, nil
}
