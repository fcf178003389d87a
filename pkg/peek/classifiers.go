package peek

import "bytes"

// socks5Methods lists the SOCKS5 authentication method codes a
// conforming client is allowed to offer in its greeting (RFC 1928
// section 3): 0x00 no-auth, 0x02 username/password. Anything else in the
// method list still looks like SOCKS5 syntactically but this proxy
// doesn't support it, so SOCKS5Classifier only recognises a greeting
// built entirely from these two.
var socks5Methods = map[byte]bool{
	0x00: true,
	0x02: true,
}

// SOCKS5Classifier recognises a SOCKS5 client greeting: byte 0 is the
// protocol version (0x05), byte 1 is the method count, and the
// following byte1 method bytes (clamped to however much of the greeting
// peek captured) must all be recognised method codes.
func SOCKS5Classifier(peeked []byte) (string, bool) {
	if len(peeked) < 2 || peeked[0] != 0x05 {
		return "", false
	}
	methodCount := int(peeked[1])
	available := len(peeked) - 2
	if available > methodCount {
		available = methodCount
	}
	for i := 0; i < available; i++ {
		if !socks5Methods[peeked[2+i]] {
			return "", false
		}
	}
	return "socks5", true
}

// httpMethods are the request-line method tokens HTTPClassifier
// recognises, covering the plain-forward and CONNECT paths this proxy
// serves.
var httpMethods = [][]byte{
	[]byte("GET"),
	[]byte("HEAD"),
	[]byte("POST"),
	[]byte("PUT"),
	[]byte("DELETE"),
	[]byte("CONNECT"),
	[]byte("OPTIONS"),
	[]byte("PATCH"),
	[]byte("TRACE"),
}

// HTTPClassifier recognises an HTTP request line: the peeked bytes must
// start with a known method token, immediately followed by either a
// space (the common case, "GET /path...") or another printable ASCII
// byte (the peek window ending mid-token for a method longer than it
// captured). It needs at least 3 bytes to have a chance of matching the
// shortest method token ("GET").
func HTTPClassifier(peeked []byte) (string, bool) {
	if len(peeked) < 3 {
		return "", false
	}
	for _, method := range httpMethods {
		if !bytes.HasPrefix(peeked, method) {
			continue
		}
		if len(peeked) == len(method) {
			return "http", true
		}
		next := peeked[len(method)]
		if next == ' ' || isPrintableASCII(next) {
			return "http", true
		}
	}
	return "", false
}

func isPrintableASCII(b byte) bool {
	return b >= 0x20 && b < 0x7F
}
