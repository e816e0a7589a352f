// Package transport binds the single UDP endpoint each client or peer
// uses: one socket, SO_BROADCAST enabled, configurable per-call send and
// receive timeouts, and self-sourced echo detection so a client
// co-resident with a peer never replies to itself. Grounded on
// Lzww0608-safe-udp's conn.go/listener.go dial/listen shape, adapted from
// multiplexed KCP streams down to bare UDP broadcast datagrams.
package transport

import (
	"net"
	"time"

	"github.com/pkg/errors"
)

// ErrTimeout is returned by Recv when no datagram arrives within the
// configured timeout.
var ErrTimeout = errors.New("transport: timeout")

// ErrTooLarge is returned by Send when the payload exceeds what a single
// UDP datagram can carry.
var ErrTooLarge = errors.New("transport: payload exceeds datagram size")

const maxDatagramSize = 65507

// Config controls the endpoint's timeouts. Both default to 5s.
type Config struct {
	SendTimeout time.Duration
	RecvTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 5 * time.Second
	}
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = 5 * time.Second
	}
	return c
}

// Endpoint is a single bound UDP socket, usable to send to any address
// (in particular a broadcast address) and to receive from any source.
type Endpoint struct {
	conn       *net.UDPConn
	cfg        Config
	localAddrs map[string]struct{}
}

// Listen binds to bindAddr (typically "0.0.0.0:PORT" for a peer) with
// SO_BROADCAST enabled and returns a ready Endpoint.
func Listen(bindAddr string, cfg Config) (*Endpoint, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", bindAddr)
	if err != nil {
		return nil, errors.Wrap(err, "resolve bind address")
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, errors.Wrap(err, "listen udp")
	}
	if err := enableBroadcast(conn); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "enable broadcast")
	}
	return newEndpoint(conn, cfg), nil
}

// Dial binds an ephemeral client socket ("0.0.0.0:0") with SO_BROADCAST
// enabled, for issuing dispersal/collection requests.
func Dial(cfg Config) (*Endpoint, error) {
	return Listen("0.0.0.0:0", cfg)
}

func newEndpoint(conn *net.UDPConn, cfg Config) *Endpoint {
	e := &Endpoint{conn: conn, cfg: cfg.withDefaults(), localAddrs: map[string]struct{}{}}
	e.localAddrs[localLoopbackKey()] = struct{}{}
	for _, addr := range localInterfaceAddrs() {
		e.localAddrs[addr] = struct{}{}
	}
	return e
}

func localLoopbackKey() string { return "127.0.0.1" }

// LocalAddr reports the bound local address.
func (e *Endpoint) LocalAddr() net.Addr { return e.conn.LocalAddr() }

// Send transmits a datagram to addr, bounded by the configured send
// timeout. Addr may be a broadcast address.
func (e *Endpoint) Send(payload []byte, addr *net.UDPAddr) error {
	if len(payload) > maxDatagramSize {
		return ErrTooLarge
	}
	if err := e.conn.SetWriteDeadline(time.Now().Add(e.cfg.SendTimeout)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	_, err := e.conn.WriteToUDP(payload, addr)
	if isTimeout(err) {
		return ErrTimeout
	}
	return err
}

// Recv blocks up to the configured receive timeout for one datagram.
func (e *Endpoint) Recv() ([]byte, *net.UDPAddr, error) {
	buf := make([]byte, maxDatagramSize)
	if err := e.conn.SetReadDeadline(time.Now().Add(e.cfg.RecvTimeout)); err != nil {
		return nil, nil, errors.Wrap(err, "set read deadline")
	}
	n, srcAddr, err := e.conn.ReadFromUDP(buf)
	if isTimeout(err) {
		return nil, nil, ErrTimeout
	}
	if err != nil {
		return nil, nil, err
	}
	return buf[:n], srcAddr, nil
}

// RecvUntil blocks, repeatedly receiving, until deadline is reached,
// calling accept on each datagram. It returns the first datagram for
// which accept returns true, or ErrTimeout once the deadline passes.
// The deadline is computed once by the caller and passed in, so retries
// inside one logical wait never reset the clock.
func (e *Endpoint) RecvUntil(deadline time.Time, accept func([]byte, *net.UDPAddr) bool) ([]byte, *net.UDPAddr, error) {
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil, ErrTimeout
		}
		if err := e.conn.SetReadDeadline(deadline); err != nil {
			return nil, nil, errors.Wrap(err, "set read deadline")
		}
		buf := make([]byte, maxDatagramSize)
		n, srcAddr, err := e.conn.ReadFromUDP(buf)
		if isTimeout(err) {
			return nil, nil, ErrTimeout
		}
		if err != nil {
			return nil, nil, err
		}
		if accept(buf[:n], srcAddr) {
			return buf[:n], srcAddr, nil
		}
	}
}

// IsSelf reports whether addr names one of this endpoint's own local
// interface addresses, so dispersal can skip acknowledgements that
// echoed back from a co-resident peer.
func (e *Endpoint) IsSelf(addr *net.UDPAddr) bool {
	if addr == nil {
		return false
	}
	_, ok := e.localAddrs[addr.IP.String()]
	return ok
}

// Close releases the underlying socket.
func (e *Endpoint) Close() error { return e.conn.Close() }

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

func localInterfaceAddrs() []string {
	var out []string
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return out
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		out = append(out, ipNet.IP.String())
	}
	return out
}
