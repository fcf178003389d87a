package ws

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeAccept(t *testing.T) {
	// Fixed example from RFC 6455 section 1.3.
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", computeAccept("dGhlIHNhbXBsZSBub25jZQ=="))
}

func TestFrameRoundTripUnmasked(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, true, false, OpText, []byte("hello"), false))

	f, masked, err := readFrame(&buf, 0)
	require.NoError(t, err)
	assert.False(t, masked)
	assert.Equal(t, "hello", string(f.payload))
	assert.Equal(t, byte(OpText), f.opcode)
	assert.True(t, f.fin)
}

func TestFrameRoundTripMasked(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, true, false, OpBinary, []byte("masked-payload"), true))

	f, masked, err := readFrame(&buf, 0)
	require.NoError(t, err)
	assert.True(t, masked)
	assert.Equal(t, "masked-payload", string(f.payload))
}

func TestFrameExtendedLength(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 70000)
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, true, false, OpBinary, payload, false))

	f, _, err := readFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, f.payload)
}

func TestDeflateRoundTrip(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog, repeatedly, many times over")
	compressed, err := compressMessage(payload)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(payload))

	decompressed, err := decompressMessage(compressed)
	require.NoError(t, err)
	assert.Equal(t, payload, decompressed)
}

func TestUpgradeRejectsNonUpgradeRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	_, err := Upgrade(rec, req, nil)
	assert.ErrorIs(t, err, ErrNotUpgradeRequest)
}

// hijackableRecorder adapts a net.Conn pair into an http.ResponseWriter
// that supports Hijack, the way a real net/http server's connection does.
type hijackableRecorder struct {
	http.ResponseWriter
	conn net.Conn
	buf  *bufio.ReadWriter
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return h.conn, h.buf, nil
}

func TestHandshakeAndEcho(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")

	rec := &hijackableRecorder{
		ResponseWriter: httptest.NewRecorder(),
		conn:           serverConn,
		buf:            bufio.NewReadWriter(bufio.NewReader(serverConn), bufio.NewWriter(serverConn)),
	}

	upgraded := make(chan *Conn, 1)
	go func() {
		conn, err := Upgrade(rec, req, nil)
		require.NoError(t, err)
		upgraded <- conn
	}()

	clientReader := bufio.NewReader(clientConn)
	statusLine, err := clientReader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, statusLine, "101")

	for {
		line, err := clientReader.ReadString('\n')
		require.NoError(t, err)
		if line == "\r\n" {
			break
		}
	}

	serverSide := <-upgraded

	go func() {
		op, payload, err := serverSide.ReadMessage()
		if err != nil {
			return
		}
		_ = serverSide.WriteMessage(op, payload)
	}()

	clientConn.SetDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, writeFrame(clientConn, true, false, OpText, []byte("ping"), true))

	f, _, err := readFrame(clientReader, 0)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(f.payload))
}

var _ io.Closer = (*Conn)(nil)
