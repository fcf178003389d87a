package ws

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"
)

// deflateTail is the fixed 4-byte trailer RFC 7692 section 7.2.1 says a
// permessage-deflate sender must append (and a receiver must strip before
// inflating): an empty stored deflate block.
var deflateTail = []byte{0x00, 0x00, 0xFF, 0xFF}

// compressMessage deflates payload for a permessage-deflate message,
// stripping the trailing empty-block marker flate.Writer emits on Flush
// so the wire format matches RFC 7692.
func compressMessage(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		return nil, fmt.Errorf("ws: creating deflate writer: %w", err)
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, fmt.Errorf("ws: deflating payload: %w", err)
	}
	if err := fw.Flush(); err != nil {
		return nil, fmt.Errorf("ws: flushing deflate writer: %w", err)
	}
	out := buf.Bytes()
	return bytes.TrimSuffix(out, deflateTail), nil
}

// decompressMessage inflates a permessage-deflate message payload,
// re-appending the trailer compressMessage strips, followed by an empty
// final block so the inflater sees a complete stream and Read reaches EOF.
func decompressMessage(payload []byte) ([]byte, error) {
	data := append(append([]byte{}, payload...), deflateTail...)
	data = append(data, 0x01, 0x00, 0x00, 0xFF, 0xFF)
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("ws: inflating payload: %w", err)
	}
	return out, nil
}
