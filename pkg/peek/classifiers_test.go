package peek

import "testing"

func TestSOCKS5ClassifierRecognisesGreeting(t *testing.T) {
	cases := []struct {
		name   string
		peeked []byte
		want   bool
	}{
		{"no-auth only", []byte{0x05, 0x01, 0x00}, true},
		{"no-auth and userpass", []byte{0x05, 0x02, 0x00, 0x02}, true},
		{"unrecognised method", []byte{0x05, 0x01, 0x7F}, false},
		{"wrong version", []byte{0x04, 0x01, 0x00}, false},
		{"truncated to version+count", []byte{0x05, 0x01}, true},
		{"too short", []byte{0x05}, false},
		{"not socks5 at all", []byte("GET / HTTP/1.1"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := SOCKS5Classifier(tc.peeked)
			if ok != tc.want {
				t.Errorf("SOCKS5Classifier(%v) ok = %v, want %v", tc.peeked, ok, tc.want)
			}
		})
	}
}

func TestHTTPClassifierRecognisesRequestLine(t *testing.T) {
	cases := []struct {
		name   string
		peeked []byte
		want   bool
	}{
		{"GET with space", []byte("GET / HTTP/1.1\r\n"), true},
		{"CONNECT with space", []byte("CONNECT example.com:443 HTTP/1.1"), true},
		{"method exactly fills peek window", []byte("GET"), true},
		{"socks5 greeting", []byte{0x05, 0x01, 0x00}, false},
		{"unknown method", []byte("FOO / HTTP/1.1"), false},
		{"too short", []byte("GE"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := HTTPClassifier(tc.peeked)
			if ok != tc.want {
				t.Errorf("HTTPClassifier(%q) ok = %v, want %v", tc.peeked, ok, tc.want)
			}
		})
	}
}
