package fathom

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// proxyV2Signature opens every PROXY protocol version 2 header.
var proxyV2Signature = [12]byte{
	0x0d, 0x0a, 0x0d, 0x0a,
	0x00, 0x0d, 0x0a, 0x51,
	0x55, 0x49, 0x54, 0x0a,
}

// listener is the net.Listener every endpoint bound by App.Serve accepts
// through. It enables TCP keep-alive on accepted connections and, when the
// app asks for it, strips a leading PROXY protocol (v1 or v2) header so
// the observed remote address is the original client's.
type listener struct {
	*net.TCPListener

	a           *App
	relayerNets []*net.IPNet
}

func newListener(a *App) *listener {
	return &listener{a: a, relayerNets: parseRelayerNets(a.PROXYRelayerIPWhitelist)}
}

// parseRelayerNets accepts both bare IPs and CIDR blocks. A bare
// unspecified address ("0.0.0.0", "::") admits every relayer of that
// family. Entries that parse as neither are dropped.
func parseRelayerNets(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		if ip := net.ParseIP(entry); ip != nil {
			bits := 8 * net.IPv6len
			if v4 := ip.To4(); v4 != nil {
				ip = v4
				bits = 8 * net.IPv4len
			}
			ones := bits
			if ip.IsUnspecified() {
				ones = 0
			}
			nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(ones, bits)})
			continue
		}

		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			nets = append(nets, ipNet)
		}
	}
	return nets
}

// listen binds the TCP network address.
func (l *listener) listen(address string) error {
	nl, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	l.TCPListener = nl.(*net.TCPListener)

	return nil
}

// Accept implements the net.Listener.
func (l *listener) Accept() (net.Conn, error) {
	tc, err := l.AcceptTCP()
	if err != nil {
		return nil, err
	}

	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)

	if !l.a.PROXYEnabled || !l.relayed(tc) {
		return tc, nil
	}

	return newProxyConn(tc, l.a.PROXYReadHeaderTimeout), nil
}

// relayed reports whether the peer is allowed to front requests with a
// PROXY header. An empty whitelist trusts every peer.
func (l *listener) relayed(c net.Conn) bool {
	if len(l.relayerNets) == 0 {
		return true
	}

	host, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return false
	}

	ip := net.ParseIP(host)
	for _, n := range l.relayerNets {
		if n.Contains(ip) {
			return true
		}
	}

	return false
}

// proxyConn wraps a net.Conn that may open with a PROXY protocol header.
// The header is consumed lazily, on the first read or address query, and
// the relayed addresses (when present) replace the transport's own.
type proxyConn struct {
	net.Conn

	br            *bufio.Reader
	once          sync.Once
	src, dst      net.Addr
	headerErr     error
	headerTimeout time.Duration
}

func newProxyConn(c net.Conn, headerTimeout time.Duration) *proxyConn {
	return &proxyConn{Conn: c, br: bufio.NewReader(c), headerTimeout: headerTimeout}
}

// Read implements the net.Conn.
func (pc *proxyConn) Read(b []byte) (int, error) {
	pc.once.Do(pc.consumeHeader)
	if pc.headerErr != nil {
		return 0, pc.headerErr
	}

	return pc.br.Read(b)
}

// RemoteAddr implements the net.Conn.
func (pc *proxyConn) RemoteAddr() net.Addr {
	pc.once.Do(pc.consumeHeader)
	if pc.src != nil {
		return pc.src
	}

	return pc.Conn.RemoteAddr()
}

// LocalAddr implements the net.Conn.
func (pc *proxyConn) LocalAddr() net.Addr {
	pc.once.Do(pc.consumeHeader)
	if pc.dst != nil {
		return pc.dst
	}

	return pc.Conn.LocalAddr()
}

// consumeHeader strips a PROXY header off the stream if one is present. A
// peer that sends nothing recognizable within the header timeout is served
// as plain TCP; a malformed header poisons the connection.
func (pc *proxyConn) consumeHeader() {
	if pc.headerTimeout != 0 {
		pc.SetReadDeadline(time.Now().Add(pc.headerTimeout))
		defer pc.SetReadDeadline(time.Time{})
	}

	src, dst, err := parsePROXYHeader(pc.br)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return
		}
		if err == io.EOF {
			pc.headerErr = err
			return
		}

		pc.headerErr = err
		pc.Close()
		return
	}

	pc.src, pc.dst = src, dst
}

// parsePROXYHeader sniffs br for a PROXY protocol header and, if one is
// present, consumes it and returns the relayed (source, destination)
// addresses. (nil, nil, nil) means the peer speaks plain TCP; nothing has
// been consumed.
func parsePROXYHeader(br *bufio.Reader) (src, dst net.Addr, err error) {
	b, err := br.Peek(len("PROXY "))
	if string(b) == "PROXY " {
		return parsePROXYv1(br)
	}
	if err != nil {
		// A preamble too short to open a header is plain TCP; serve
		// whatever was buffered.
		if len(b) > 0 && errors.Is(err, io.EOF) {
			return nil, nil, nil
		}
		return nil, nil, err
	}

	b, _ = br.Peek(len(proxyV2Signature))
	if string(b) == string(proxyV2Signature[:]) {
		return parsePROXYv2(br)
	}

	return nil, nil, nil
}

// parsePROXYv1 consumes one "PROXY <proto> <src> <dst> <sport> <dport>"
// line.
func parsePROXYv1(br *bufio.Reader) (net.Addr, net.Addr, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		return nil, nil, err
	}
	line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")

	fields := strings.Fields(line)
	if len(fields) != 6 {
		return nil, nil, fmt.Errorf("fathom: malformed PROXY header line: %q", line)
	}

	switch fields[1] {
	case "TCP4", "TCP6":
	default:
		return nil, nil, fmt.Errorf("fathom: unsupported PROXY transport protocol: %s", fields[1])
	}

	src, err := proxyTCPAddr(fields[2], fields[4])
	if err != nil {
		return nil, nil, err
	}

	dst, err := proxyTCPAddr(fields[3], fields[5])
	if err != nil {
		return nil, nil, err
	}

	return src, dst, nil
}

func proxyTCPAddr(ipStr, portStr string) (*net.TCPAddr, error) {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return nil, fmt.Errorf("fathom: invalid PROXY address: %s", ipStr)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return nil, fmt.Errorf("fathom: invalid PROXY port: %s", portStr)
	}

	return &net.TCPAddr{IP: ip, Port: port}, nil
}

// parsePROXYv2 consumes a binary version 2 header, including any TLVs the
// relayer appended after the address block.
func parsePROXYv2(br *bufio.Reader) (net.Addr, net.Addr, error) {
	var hdr struct {
		Sig     [12]byte
		VerCmd  byte
		FamProt byte
		Len     uint16
	}
	if err := binary.Read(br, binary.BigEndian, &hdr); err != nil {
		return nil, nil, fmt.Errorf("fathom: short PROXY v2 header: %v", err)
	}

	if hdr.VerCmd>>4 != 2 {
		return nil, nil, errors.New("fathom: unsupported PROXY protocol version")
	}
	if hdr.VerCmd&0x0f != 0x01 {
		return nil, nil, errors.New("fathom: unsupported PROXY command")
	}

	var addrLen int
	switch hdr.FamProt {
	case 0x11: // TCP over IPv4
		addrLen = net.IPv4len
	case 0x21: // TCP over IPv6
		addrLen = net.IPv6len
	default:
		return nil, nil, fmt.Errorf("fathom: unsupported PROXY v2 family/protocol: %#02x", hdr.FamProt)
	}

	if int(hdr.Len) < 2*addrLen+4 {
		return nil, nil, fmt.Errorf("fathom: invalid PROXY v2 address length: %d", hdr.Len)
	}

	payload := make([]byte, hdr.Len)
	if _, err := io.ReadFull(br, payload); err != nil {
		return nil, nil, fmt.Errorf("fathom: short PROXY v2 address block: %v", err)
	}

	srcIP := net.IP(payload[:addrLen])
	dstIP := net.IP(payload[addrLen : 2*addrLen])
	srcPort := binary.BigEndian.Uint16(payload[2*addrLen:])
	dstPort := binary.BigEndian.Uint16(payload[2*addrLen+2:])

	return &net.TCPAddr{IP: srcIP, Port: int(srcPort)},
		&net.TCPAddr{IP: dstIP, Port: int(dstPort)},
		nil
}
