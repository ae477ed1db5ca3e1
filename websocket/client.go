package websocket

import (
	"net"
	"sync"
	"sync/atomic"
)

// maxUnfragmentedChunk is the largest payload this package will place in a
// single frame when auto-chunking a large send (spec.md §4.4: "split into
// frames of 65531 payload bytes each").
const maxUnfragmentedChunk = 65531

// Client is the per-connection handle passed to application callbacks.
//
// spec.md §3/§9: a Client is a transient reference owned by the connection
// engine; callbacks should not retain it past the call that delivered it.
// Nothing in Go forcibly revokes a retained reference, so an application
// that needs to keep one around (for a broadcast helper, say) is
// responsible for the external synchronization
// spec.md §5 requires of any cross-connection feature, since the core
// engine provides none.
type Client struct {
	conn        net.Conn
	compression bool
	maxMsgSize  int64

	writeMu sync.Mutex

	closeRequested atomic.Bool
}

func newClient(conn net.Conn, compression bool, maxMsgSize int64) *Client {
	return &Client{conn: conn, compression: compression, maxMsgSize: maxMsgSize}
}

// Address returns the remote peer's network address.
func (c *Client) Address() net.Addr {
	return c.conn.RemoteAddr()
}

// TextAll sends data as a single unfragmented text frame (spec.md §4.4).
func (c *Client) TextAll(data []byte) (bool, error) {
	return c.sendSingle(opcodeText, data)
}

// BinaryAll sends data as a single unfragmented binary frame.
func (c *Client) BinaryAll(data []byte) (bool, error) {
	return c.sendSingle(opcodeBinary, data)
}

// Text sends data as one frame if it fits in maxUnfragmentedChunk, or as a
// sequence of chunked frames otherwise (spec.md §4.4).
func (c *Client) Text(data []byte) (bool, error) {
	return c.sendChunked(opcodeText, data)
}

// Binary sends data as one frame if it fits in maxUnfragmentedChunk, or as a
// sequence of chunked frames otherwise.
func (c *Client) Binary(data []byte) (bool, error) {
	return c.sendChunked(opcodeBinary, data)
}

// Ping sends an empty-payload ping control frame. Compression is never
// applied to control frames (spec.md §4.4).
func (c *Client) Ping() (bool, error) {
	return c.writeFrame(&frame{fin: true, opcode: opcodePing})
}

// Pong sends an empty-payload pong control frame.
func (c *Client) Pong() (bool, error) {
	return c.writeFrame(&frame{fin: true, opcode: opcodePong})
}

// Close sends a close frame with status 1000 and an empty reason.
//
// The connection does not tear down until the peer echoes a close frame
// (half-close semantics, spec.md §4.4); use CloseImmediately to skip that.
func (c *Client) Close() (bool, error) {
	return c.CloseWith(CloseNormalClosure, "")
}

// CloseWith sends a close frame carrying code and an optional UTF-8 reason.
func (c *Client) CloseWith(code CloseCode, reason string) (bool, error) {
	payload := make([]byte, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code)
	copy(payload[2:], reason)
	return c.writeFrame(&frame{fin: true, opcode: opcodeClose, payload: payload})
}

// CloseImmediately marks the connection for termination without sending a
// close frame. The engine's read loop closes the socket the next time it
// wakes (spec.md §4.4, §5: cooperative cancellation).
func (c *Client) CloseImmediately() {
	c.closeRequested.Store(true)
}

func (c *Client) closeWasRequested() bool {
	return c.closeRequested.Load()
}

func (c *Client) sendSingle(opcode byte, data []byte) (bool, error) {
	if c.maxMsgSize > 0 && int64(len(data)) > c.maxMsgSize {
		return false, ErrMessageTooLarge
	}
	plen := uint64(len(data))
	if plen > 0xffff && !is64bit {
		return false, ErrFrameRequire64bit
	}
	return c.writeFrame(&frame{fin: true, rsv1: c.compression, opcode: opcode, payload: data})
}

func (c *Client) sendChunked(opcode byte, data []byte) (bool, error) {
	if len(data) <= maxUnfragmentedChunk {
		return c.sendSingle(opcode, data)
	}

	for offset := 0; offset < len(data); offset += maxUnfragmentedChunk {
		end := offset + maxUnfragmentedChunk
		if end > len(data) {
			end = len(data)
		}
		chunk := data[offset:end]
		fin := end == len(data)

		frameOpcode := opcode
		if offset > 0 {
			frameOpcode = opcodeContinuation
		}

		ok, err := c.writeFrame(&frame{
			fin:     fin,
			rsv1:    c.compression,
			opcode:  frameOpcode,
			payload: chunk,
		})
		if !ok || err != nil {
			return ok, err
		}
	}
	return true, nil
}

// writeFrame encodes and writes f, serializing concurrent writers.
// Returns (false, nil) when the write failed because the peer had already
// disconnected, distinguishing that benign case from other I/O errors per
// spec.md §4.4.
func (c *Client) writeFrame(f *frame) (bool, error) {
	if c.closeWasRequested() {
		return false, ErrClosed
	}

	encoded, err := encodeFrame(f)
	if err != nil {
		return false, err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if _, err := c.conn.Write(encoded); err != nil {
		if isPeerGone(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
