package proxyhttp

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thushan/rama/internal/controlplane"
)

// MITMConfig supplies the CA certificate/key a Proxy mints per-host leaf
// certificates under. Interception is opt-in: a Proxy built without MITM
// always tunnels opaquely.
type MITMConfig struct {
	CACert *x509.Certificate
	CAKey  *ecdsa.PrivateKey

	// LeafValidity is how long a synthesised leaf certificate is valid
	// for; defaults to 24h, matching the teacher's short-lived-credential
	// posture elsewhere in the stack.
	LeafValidity time.Duration
}

// mitmEngine mints and caches per-host leaf certificates signed by the
// configured CA. The cache is an xsync.Map so concurrent tunnels for the
// same SNI reuse one certificate without a hand-rolled mutex + map pair.
type mitmEngine struct {
	cfg   *MITMConfig
	cache *xsync.Map[string, *tls.Certificate]
}

func newMITMEngine(cfg *MITMConfig) (*mitmEngine, error) {
	if cfg.CACert == nil || cfg.CAKey == nil {
		return nil, fmt.Errorf("proxyhttp: MITM requires both CACert and CAKey")
	}
	validity := cfg.LeafValidity
	if validity <= 0 {
		validity = 24 * time.Hour
	}
	full := *cfg
	full.LeafValidity = validity
	return &mitmEngine{cfg: &full, cache: xsync.NewMap[string, *tls.Certificate]()}, nil
}

func (e *mitmEngine) certFor(host string) (*tls.Certificate, error) {
	if cert, ok := e.cache.Load(host); ok {
		if leaf := cert.Leaf; leaf == nil || time.Now().Before(leaf.NotAfter) {
			return cert, nil
		}
	}

	cert, err := e.mint(host)
	if err != nil {
		return nil, err
	}
	e.cache.Store(host, cert)
	return cert, nil
}

func (e *mitmEngine) mint(host string) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("proxyhttp: generating leaf key: %w", err)
	}

	// A random v4 UUID makes a perfectly good 128-bit certificate serial
	// number.
	serialID := uuid.New()
	serial := new(big.Int).SetBytes(serialID[:])

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now().Add(-time.Minute),
		NotAfter:     time.Now().Add(e.cfg.LeafValidity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := net.ParseIP(host); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{host}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, e.cfg.CACert, &key.PublicKey, e.cfg.CAKey)
	if err != nil {
		return nil, fmt.Errorf("proxyhttp: signing leaf certificate: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der, e.cfg.CACert.Raw},
		PrivateKey:  key,
		Leaf:        mustParse(der),
	}, nil
}

func mustParse(der []byte) *x509.Certificate {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		// der came straight out of CreateCertificate above; a parse
		// failure here means the x509 package itself is broken.
		panic(fmt.Sprintf("proxyhttp: parsing just-minted certificate: %v", err))
	}
	return cert
}

// interceptMITM performs a server-side TLS handshake with the client using
// a synthesised leaf certificate for hostport's hostname, a client-side
// TLS handshake with upstream, and then splices the decrypted bytes
// between the two TLS connections. The plaintext is relayed as an opaque
// byte stream: it is not parsed as HTTP and does not pass through the
// plain-forward path or its Layer stack.
func (p *Proxy) interceptMITM(ctx context.Context, clientConn net.Conn, clientBuf *bufio.ReadWriter, upstream net.Conn, hostport string, tunnel *controlplane.Tunnel) error {
	host := hostport
	if idx := strings.LastIndex(hostport, ":"); idx != -1 {
		host = hostport[:idx]
	}

	cert, err := p.mitm.certFor(host)
	if err != nil {
		clientConn.Close()
		upstream.Close()
		return fmt.Errorf("proxyhttp: minting MITM certificate for %s: %w", host, err)
	}

	clientTLS := tls.Server(clientConn, &tls.Config{Certificates: []tls.Certificate{*cert}})
	upstreamTLS := tls.Client(upstream, &tls.Config{ServerName: host})

	if err := clientTLS.HandshakeContext(ctx); err != nil {
		clientConn.Close()
		upstream.Close()
		return fmt.Errorf("proxyhttp: MITM handshake with client: %w", err)
	}
	if err := upstreamTLS.HandshakeContext(ctx); err != nil {
		clientTLS.Close()
		upstream.Close()
		return fmt.Errorf("proxyhttp: MITM handshake with upstream: %w", err)
	}

	return splice(ctx, clientTLS, bufio.NewReadWriter(bufio.NewReader(clientTLS), bufio.NewWriter(clientTLS)), upstreamTLS, tunnel)
}
