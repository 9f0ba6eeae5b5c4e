// Package netio is the address & socket layer of spec.md §4.1: a
// dual-stack, nonblocking UDP transport with a first-byte dispatch table.
// Reads are drained synchronously inside Tick, matching spec.md §5's
// single-threaded-cooperative requirement — the only goroutine this
// package starts is the blocking read syscall itself, which only ever
// feeds an internal channel; all dispatch and handler execution happens
// on the caller's goroutine.
package netio

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quietmesh/dhtcore/dhttype"
	"github.com/quietmesh/dhtcore/xlog"
)

// Conn is the minimal socket interface the dispatcher needs; satisfied by
// *net.UDPConn and by mocks in tests.
type Conn interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Handler processes one datagram whose first byte matched its registration.
// addr is the already-canonicalized source address.
type Handler func(addr dhttype.IpPort, payload []byte)

type inbound struct {
	addr dhttype.IpPort
	data []byte
}

// Socket owns a UDP connection (v4, v6, or a dual-stack ":: " bind) and a
// byte-keyed dispatch table.
type Socket struct {
	conn     Conn
	log      xlog.Logger
	handlers map[byte]Handler

	mu      sync.Mutex
	limiter map[subnetKey]*rate.Limiter

	recvCh chan inbound
	stopCh chan struct{}
	wg     sync.WaitGroup

	DroppedRateLimited uint64
	DroppedNoHandler   uint64
}

// subnetKey buckets an address into a /24 (v4) or /56 (v6) for the inbound
// rate limiter, the concrete mechanism backing spec.md §2's "amplification
// resistance" invariant.
type subnetKey [7]byte

func keyFor(addr dhttype.IpPort) subnetKey {
	var k subnetKey
	if addr.IsIPv4() {
		v4 := addr.V4
		if addr.IsV6 {
			copy(v4[:], addr.V6[12:16])
		}
		copy(k[:3], v4[:3])
	} else {
		copy(k[:7], addr.V6[:7])
	}
	return k
}

const (
	inboundRateLimit = 50 // packets/sec per subnet bucket
	inboundBurst     = 100
)

// NewSocket wraps an already-bound Conn.
func NewSocket(conn Conn, log xlog.Logger) *Socket {
	return &Socket{
		conn:     conn,
		log:      log,
		handlers: make(map[byte]Handler),
		limiter:  make(map[subnetKey]*rate.Limiter),
		recvCh:   make(chan inbound, 256),
		stopCh:   make(chan struct{}),
	}
}

// ListenUDP binds a new dual-stack-capable socket. network is "udp",
// "udp4" or "udp6".
func ListenUDP(network string, bind *net.UDPAddr, log xlog.Logger) (*Socket, error) {
	conn, err := net.ListenUDP(network, bind)
	if err != nil {
		return nil, err
	}
	return NewSocket(conn, log), nil
}

// RegisterHandler installs the handler invoked for datagrams whose first
// byte equals id.
func (s *Socket) RegisterHandler(id byte, h Handler) {
	s.handlers[id] = h
}

// Start begins the background read syscall loop. It must be called once
// before the first Tick.
func (s *Socket) Start() {
	s.wg.Add(1)
	go s.readLoop()
}

func (s *Socket) readLoop() {
	defer s.wg.Done()
	buf := make([]byte, 2048)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		s.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.stopCh:
				return
			default:
				continue
			}
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case s.recvCh <- inbound{addr: dhttype.FromUDPAddr(addr), data: cp}:
		case <-s.stopCh:
			return
		default:
			// Receive queue full: drop, matching spec.md §7's
			// "socket send failure is packet loss" philosophy applied
			// symmetrically to an overloaded receive path.
		}
	}
}

// Tick drains every datagram queued since the last call and dispatches
// each to its registered handler by first byte, per spec.md §4.1/§4.8.
func (s *Socket) Tick() {
	for {
		select {
		case in := <-s.recvCh:
			s.dispatch(in)
		default:
			return
		}
	}
}

func (s *Socket) dispatch(in inbound) {
	if len(in.data) == 0 {
		return
	}
	if !s.allow(in.addr) {
		s.DroppedRateLimited++
		return
	}
	h, ok := s.handlers[in.data[0]]
	if !ok {
		s.DroppedNoHandler++
		return
	}
	h(in.addr, in.data)
}

func (s *Socket) allow(addr dhttype.IpPort) bool {
	key := keyFor(addr)
	s.mu.Lock()
	lim, ok := s.limiter[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(inboundRateLimit), inboundBurst)
		s.limiter[key] = lim
	}
	s.mu.Unlock()
	return lim.Allow()
}

// Send writes a datagram to addr. A send failure is treated as ordinary
// packet loss (spec.md §7); retries happen on the next periodic tick via
// the caller's own protocol-level retry logic, not inside Send.
func (s *Socket) Send(addr dhttype.IpPort, data []byte) error {
	_, err := s.conn.WriteToUDP(data, addr.UDPAddr())
	if err != nil {
		s.log.Trace("udp send failed", "addr", addr, "err", err)
	}
	return err
}

// LocalAddr returns the socket's bound address, for tests and logging that
// need to hand another node this socket's reachable address directly.
func (s *Socket) LocalAddr() *net.UDPAddr {
	if u, ok := s.conn.(*net.UDPConn); ok {
		return u.LocalAddr().(*net.UDPAddr)
	}
	return nil
}

// Close shuts the socket down and stops the read loop.
func (s *Socket) Close() error {
	close(s.stopCh)
	err := s.conn.Close()
	s.wg.Wait()
	return err
}
