package ws

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"
	"unicode/utf8"
)

// CloseCode is a RFC 6455 section 7.4.1 close status code.
type CloseCode uint16

const (
	CloseNormal           CloseCode = 1000
	CloseGoingAway        CloseCode = 1001
	CloseProtocolError    CloseCode = 1002
	CloseUnsupportedData  CloseCode = 1003
	CloseMessageTooBig    CloseCode = 1009
	CloseInvalidPayload   CloseCode = 1007
	CloseInternalError    CloseCode = 1011
)

// Conn is a handshake-established WebSocket connection: ReadMessage
// reassembles fragmented frames into whole messages (handling interleaved
// control frames per RFC 6455 section 5.4), WriteMessage fragments
// nothing (every WriteMessage call is a single complete frame), and Close
// runs the close handshake.
type Conn struct {
	net.Conn
	r        *bufio.Reader
	w        *bufio.Writer
	isServer bool
	deflate  bool
	maxSize  int64

	writeMu sync.Mutex
	closeMu sync.Mutex
	closed  bool
}

func newConn(conn net.Conn, buf *bufio.ReadWriter, isServer, deflate bool, maxSize int64) *Conn {
	return &Conn{Conn: conn, r: buf.Reader, w: buf.Writer, isServer: isServer, deflate: deflate, maxSize: maxSize}
}

// ReadMessage reassembles one complete message, transparently answering
// ping frames with pong and handling a peer-initiated close handshake.
// The returned opcode is OpText or OpBinary; control frames are consumed
// internally and never returned to the caller.
func (c *Conn) ReadMessage() (opcode byte, payload []byte, err error) {
	var (
		assembled   []byte
		msgOpcode   byte
		msgRSV1     bool
		fragmenting bool
	)

	for {
		f, masked, err := readFrame(c.r, c.maxSize)
		if err != nil {
			return 0, nil, err
		}
		if c.isServer && !masked {
			_ = c.Close(CloseProtocolError, "client frame must be masked")
			return 0, nil, fmt.Errorf("ws: client frame must be masked")
		}

		if isControlOpcode(f.opcode) {
			if stop, err := c.handleControlFrame(f); stop {
				return 0, nil, err
			}
			continue
		}

		switch {
		case f.opcode != OpContinuation && !fragmenting:
			msgOpcode = f.opcode
			msgRSV1 = f.rsv1
			assembled = append(assembled, f.payload...)
			fragmenting = !f.fin
		case f.opcode == OpContinuation && fragmenting:
			assembled = append(assembled, f.payload...)
			fragmenting = !f.fin
		default:
			return 0, nil, fmt.Errorf("ws: unexpected opcode 0x%x mid-fragmentation", f.opcode)
		}

		if c.maxSize > 0 && int64(len(assembled)) > c.maxSize {
			_ = c.Close(CloseMessageTooBig, "message too big")
			return 0, nil, fmt.Errorf("ws: reassembled message exceeds maximum size %d", c.maxSize)
		}

		if !fragmenting {
			if msgRSV1 && c.deflate {
				assembled, err = decompressMessage(assembled)
				if err != nil {
					return 0, nil, err
				}
			}
			if msgOpcode == OpText && !utf8.Valid(assembled) {
				_ = c.Close(CloseInvalidPayload, "invalid UTF-8 in text payload")
				return 0, nil, fmt.Errorf("ws: text message payload is not valid UTF-8")
			}
			return msgOpcode, assembled, nil
		}
	}
}

// handleControlFrame answers pings with pongs and, for a close frame,
// completes the close handshake and reports io.EOF-equivalent via stop.
func (c *Conn) handleControlFrame(f *frame) (stop bool, err error) {
	switch f.opcode {
	case OpPing:
		return false, c.writeControl(OpPong, f.payload)
	case OpPong:
		return false, nil
	case OpClose:
		code, reason := parseCloseFrame(f.payload)
		c.closeMu.Lock()
		alreadyClosed := c.closed
		c.closed = true
		c.closeMu.Unlock()
		if !alreadyClosed {
			_ = c.writeControl(OpClose, f.payload)
		}
		return true, &CloseError{Code: code, Reason: reason}
	default:
		return false, nil
	}
}

// CloseError is returned by ReadMessage once a close frame has been
// exchanged.
type CloseError struct {
	Code   CloseCode
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("ws: closed: code=%d reason=%q", e.Code, e.Reason)
}

func parseCloseFrame(payload []byte) (CloseCode, string) {
	if len(payload) < 2 {
		return CloseNormal, ""
	}
	return CloseCode(binary.BigEndian.Uint16(payload[:2])), string(payload[2:])
}

// WriteMessage sends data as a single complete frame of the given opcode
// (OpText or OpBinary). Concurrent WriteMessage calls are serialised.
func (c *Conn) WriteMessage(opcode byte, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	rsv1 := false
	if c.deflate && len(data) > 0 {
		compressed, err := compressMessage(data)
		if err != nil {
			return err
		}
		data = compressed
		rsv1 = true
	}

	if err := writeFrame(c.w, true, rsv1, opcode, data, !c.isServer); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *Conn) writeControl(opcode byte, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeFrame(c.w, true, false, opcode, payload, !c.isServer); err != nil {
		return err
	}
	return c.w.Flush()
}

// Close runs the RFC 6455 section 7.1.2 close handshake: send a close
// frame with code/reason, wait briefly for the peer's close frame, then
// close the underlying connection regardless of whether the peer replied
// in time.
func (c *Conn) Close(code CloseCode, reason string) error {
	c.closeMu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.closeMu.Unlock()

	if !alreadyClosed {
		payload := make([]byte, 2+len(reason))
		binary.BigEndian.PutUint16(payload, uint16(code))
		copy(payload[2:], reason)
		_ = c.writeControl(OpClose, payload)
	}

	_ = c.Conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _ = c.ReadMessage() // drain until the peer's close frame or timeout

	return c.Conn.Close()
}
