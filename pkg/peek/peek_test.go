package peek

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	return
}

func TestClassifySOCKS5(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	go client.Write([]byte{0x05, 0x01, 0x00})

	r := NewRouter(8)
	r.Register("socks5", func(peeked []byte) (string, bool) {
		return "socks5", len(peeked) > 0 && peeked[0] == 0x05
	})
	r.Register("http", func(peeked []byte) (string, bool) {
		return "http", bytes.HasPrefix(peeked, []byte("GET"))
	})

	proto, stream, err := r.Classify(context.Background(), server)
	require.NoError(t, err)
	assert.Equal(t, "socks5", proto)

	buf := make([]byte, 3)
	_, err = io.ReadFull(stream, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x05, 0x01, 0x00}, buf)
}

func TestClassifyNoMatchFallsBack(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	go client.Write([]byte("XX"))

	r := NewRouter(4)
	r.Register("socks5", func(peeked []byte) (string, bool) {
		return "socks5", len(peeked) > 0 && peeked[0] == 0x05
	})
	r.Fallback("http")

	proto, _, err := r.Classify(context.Background(), server)
	require.NoError(t, err)
	assert.Equal(t, "http", proto)
}

func TestClassifyNoMatchNoFallback(t *testing.T) {
	client, server := pipePair(t)
	defer client.Close()
	defer server.Close()

	go client.Write([]byte("XX"))

	r := NewRouter(4)
	r.Register("socks5", func(peeked []byte) (string, bool) {
		return "socks5", len(peeked) > 0 && peeked[0] == 0x05
	})

	_, _, err := r.Classify(context.Background(), server)
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestClassifyRespectsContextDeadline(t *testing.T) {
	_, server := pipePair(t)
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	r := NewRouter(4)
	_, _, err := r.Classify(ctx, server)
	assert.Error(t, err)
}
