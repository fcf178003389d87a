// Package peek implements protocol sniffing on a freshly accepted
// connection: read up to N bytes, classify them, then hand a stream back
// to the caller that replays those bytes before falling through to the
// live connection, so the classifier never consumes what the chosen
// protocol handler needs to see.
package peek

import (
	"bufio"
	"context"
	"io"
	"net"
	"time"
)

// DefaultPeekSize is the number of bytes sniffed before a classifier must
// decide. It comfortably covers a SOCKS5 greeting (2 bytes), a TLS
// ClientHello record header (5 bytes) and an HTTP request line's method
// token (longest are "CONNECT" and "OPTIONS", 7 bytes each).
const DefaultPeekSize = 16

// Stream is a net.Conn whose initial bytes have already been read into a
// buffer; reads are served from the buffer first, then fall through to the
// underlying connection. Writes pass straight through.
type Stream struct {
	net.Conn
	r *bufio.Reader
}

// newStream wraps conn so n bytes are buffered and replayable.
func newStream(conn net.Conn, buffered *bufio.Reader) *Stream {
	return &Stream{Conn: conn, r: buffered}
}

func (s *Stream) Read(p []byte) (int, error) { return s.r.Read(p) }

// Classifier inspects the peeked bytes and reports which protocol they
// belong to, or ok=false if the bytes are inconclusive and router should
// try the next classifier.
type Classifier func(peeked []byte) (protocol string, ok bool)

// Router dispatches an accepted connection to a protocol-specific handler
// based on its first bytes, without consuming them.
type Router struct {
	classifiers []namedClassifier
	peekSize    int
	fallback    string
}

type namedClassifier struct {
	name   string
	detect Classifier
}

// NewRouter builds a Router that peeks peekSize bytes (DefaultPeekSize if
// <= 0) before classifying.
func NewRouter(peekSize int) *Router {
	if peekSize <= 0 {
		peekSize = DefaultPeekSize
	}
	return &Router{peekSize: peekSize}
}

// Register adds a classifier under a protocol name. Classifiers run in
// registration order; the first one to return ok=true wins.
func (r *Router) Register(protocol string, detect Classifier) {
	r.classifiers = append(r.classifiers, namedClassifier{name: protocol, detect: detect})
}

// Fallback sets the protocol name returned by Classify when no classifier
// matches, instead of an error. Leaving it unset makes an unmatched
// connection an error.
func (r *Router) Fallback(protocol string) { r.fallback = protocol }

// ErrNoMatch is returned by Classify when no classifier matched the peeked
// bytes and no Fallback was configured.
var ErrNoMatch = io.ErrNoProgress

// Classify peeks up to the Router's configured size from conn (respecting
// ctx's deadline, if any, by temporarily setting a read deadline) and
// returns the matched protocol name plus a Stream that replays the peeked
// bytes ahead of the live connection. conn must not be read from again
// directly; use the returned Stream instead.
func (r *Router) Classify(ctx context.Context, conn net.Conn) (string, *Stream, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}

	buffered := bufio.NewReaderSize(conn, r.peekSize)
	peeked, err := buffered.Peek(r.peekSize)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		if len(peeked) == 0 {
			return "", nil, err
		}
	}

	_ = conn.SetReadDeadline(time.Time{})

	stream := newStream(conn, buffered)

	for _, c := range r.classifiers {
		if protocol, ok := c.detect(peeked); ok {
			return protocol, stream, nil
		}
	}

	if r.fallback != "" {
		return r.fallback, stream, nil
	}
	return "", stream, ErrNoMatch
}
