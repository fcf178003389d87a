package socks5

import (
	"encoding/binary"
	"net"
	"strconv"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/thushan/rama/internal/controlplane"
	"github.com/thushan/rama/pkg/rcontext"
)

// udpSession tracks one UDP-ASSOCIATE relay, keyed by the control TCP
// connection's remote address. It exists primarily for the control
// plane's /debug/tunnels introspection endpoint.
type udpSession struct {
	ClientAddr   string
	RelayAddr    string
	EstablishedAt time.Time
	BytesRelayed  int64
}

type udpSessionTable struct {
	sessions *xsync.Map[string, *udpSession]
}

func newUDPSessionTable() *udpSessionTable {
	return &udpSessionTable{sessions: xsync.NewMap[string, *udpSession]()}
}

// Snapshot returns a point-in-time copy of all active sessions, for the
// control plane's introspection endpoint.
func (t *udpSessionTable) Snapshot() []udpSession {
	var out []udpSession
	t.sessions.Range(func(_ string, v *udpSession) bool {
		out = append(out, *v)
		return true
	})
	return out
}

// udpMaxDatagram is the largest UDP payload over IPv4 (65535 minus the
// 8-byte UDP and 20-byte IP headers), used to size the relay's read buffer.
const udpMaxDatagram = 65507

// handleUDPAssociate implements the UDP-ASSOCIATE command: allocate a UDP
// relay socket, reply with its address, then pump datagrams between the
// client and whichever targets it addresses until the control TCP
// connection closes (read returning an error), per RFC 1928 section 7's
// "the UDP association terminates when the TCP connection... terminates".
func (s *Server) handleUDPAssociate(ctx *rcontext.Context, control net.Conn, _ Address) {
	relay, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		_ = writeReply(control, ReplyGeneralFailure, Address{})
		return
	}
	defer relay.Close()

	if err := writeReply(control, ReplySucceeded, addressFromNetAddr(relay.LocalAddr())); err != nil {
		return
	}

	session := &udpSession{
		RelayAddr:     relay.LocalAddr().String(),
		EstablishedAt: time.Now(),
	}
	key := control.RemoteAddr().String()
	s.udp.sessions.Store(key, session)
	defer s.udp.sessions.Delete(key)

	if s.Tunnels != nil {
		id := ctx.ConnectionID()
		s.Tunnels.Register(id, controlplane.KindSOCKS5UDP, session.RelayAddr)
		defer s.Tunnels.Unregister(id)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		// A control connection that sends anything, or that reaches
		// EOF/error, both signal "the association is over" for our
		// purposes; we only need to detect closure.
		buf := make([]byte, 1)
		_, _ = control.Read(buf)
	}()

	go s.pumpUDP(relay, session)

	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (s *Server) pumpUDP(relay *net.UDPConn, session *udpSession) {
	buf := make([]byte, udpMaxDatagram)
	var clientAddr *net.UDPAddr

	for {
		n, from, err := relay.ReadFromUDP(buf)
		if err != nil {
			return
		}
		session.BytesRelayed += int64(n)

		if clientAddr == nil {
			clientAddr = from
			session.ClientAddr = from.String()
		}

		if from.String() == clientAddr.String() {
			s.forwardFromClient(relay, buf[:n])
		} else {
			s.forwardToClient(relay, clientAddr, from, buf[:n])
		}
	}
}

// forwardFromClient strips the RFC 1928 section 7 UDP request header and
// forwards the payload to the addressed target.
func (s *Server) forwardFromClient(relay *net.UDPConn, datagram []byte) {
	if len(datagram) < 4 {
		return
	}
	frag := datagram[2]
	if frag != 0 {
		// Fragmentation is not supported; silently drop per the common
		// implementation posture (RFC 1928 leaves FRAG handling
		// implementation-defined beyond requiring support for FRAG=0).
		return
	}

	rest := datagram[3:]
	var target net.Addr
	var payloadStart int

	switch rest[0] {
	case AddrIPv4:
		if len(rest) < 1+4+2 {
			return
		}
		ip := net.IP(rest[1:5])
		port := binary.BigEndian.Uint16(rest[5:7])
		target = &net.UDPAddr{IP: ip, Port: int(port)}
		payloadStart = 7
	case AddrIPv6:
		if len(rest) < 1+16+2 {
			return
		}
		ip := net.IP(rest[1:17])
		port := binary.BigEndian.Uint16(rest[17:19])
		target = &net.UDPAddr{IP: ip, Port: int(port)}
		payloadStart = 19
	case AddrDomain:
		if len(rest) < 2 {
			return
		}
		nameLen := int(rest[1])
		if len(rest) < 2+nameLen+2 {
			return
		}
		host := string(rest[2 : 2+nameLen])
		port := binary.BigEndian.Uint16(rest[2+nameLen : 4+nameLen])
		resolved, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(port))))
		if err != nil {
			return
		}
		target = resolved
		payloadStart = 4 + nameLen
	default:
		return
	}

	_, _ = relay.WriteTo(rest[payloadStart:], target)
}

// forwardToClient wraps a reply datagram from target in the RFC 1928
// section 7 UDP header and sends it back to the client.
func (s *Server) forwardToClient(relay *net.UDPConn, clientAddr, target *net.UDPAddr, payload []byte) {
	header := []byte{0x00, 0x00, 0x00}
	if ip4 := target.IP.To4(); ip4 != nil {
		header = append(header, AddrIPv4)
		header = append(header, ip4...)
	} else {
		header = append(header, AddrIPv6)
		header = append(header, target.IP.To16()...)
	}
	portBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(portBuf, uint16(target.Port))
	header = append(header, portBuf...)

	_, _ = relay.WriteTo(append(header, payload...), clientAddr)
}
