/*
Package messenger owns the UDP socket, the outstanding-transaction table and
per-query timeouts (§4.5). Incoming queries are dispatched to a Handler, each
in its own goroutine; incoming responses and errors are matched to the
transaction that sent them and delivered to the waiting caller.
*/
package messenger

import (
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kadnode/dhtnode/krpc"
)

// DefaultTimeout is how long Query waits for a reply before giving up when
// called with timeout <= 0. Overridable at startup from configuration.
var DefaultTimeout = 500 * time.Millisecond

// MaxConcurrency bounds the number of queries in flight at once.
const MaxConcurrency = 8

// maxPacketSize is the largest UDP datagram this package will attempt to read.
const maxPacketSize = 65536

// Handler processes an incoming query and returns the reply to send back, or
// nil to send nothing (e.g. the query was malformed beyond a repliable
// error).
type Handler interface {
	HandleQuery(from *net.UDPAddr, msg *krpc.Message) *krpc.Message
}

// Messenger sends and receives KRPC messages over a single UDP socket.
type Messenger struct {
	socket *net.UDPConn

	tidCounter uint32

	mu      sync.Mutex
	pending map[string]*pendingQuery

	sema chan struct{}

	handler Handler
	logger  *log.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

type pendingQuery struct {
	addr  *net.UDPAddr
	reply chan *krpc.Message
}

// New binds a UDP socket at addr (IPv4 or IPv6) and returns a Messenger ready
// to Serve. With a nil handler, incoming queries are dropped unanswered.
func New(addr *net.UDPAddr, handler Handler, logger *log.Logger) (*Messenger, error) {
	network := "udp4"
	if addr.IP != nil && addr.IP.To4() == nil {
		network = "udp6"
	}
	conn, err := listenUDPReuse(network, addr.String())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &Messenger{
		socket:  conn,
		pending: make(map[string]*pendingQuery),
		sema:    make(chan struct{}, MaxConcurrency),
		handler: handler,
		logger:  logger,
		closed:  make(chan struct{}),
	}, nil
}

// LocalAddr returns the bound socket address.
func (m *Messenger) LocalAddr() *net.UDPAddr {
	return m.socket.LocalAddr().(*net.UDPAddr)
}

// Close shuts down the socket, unblocking Serve and any in-flight Query.
func (m *Messenger) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.closed)
		err = m.socket.Close()
	})
	return err
}

func (m *Messenger) nextTid() []byte {
	n := atomic.AddUint32(&m.tidCounter, 1)
	return []byte{byte(n >> 8), byte(n)}
}

// Serve reads packets until the socket is closed. It does not return an
// error on the socket-closed case; callers should treat Close as the normal
// shutdown path.
func (m *Messenger) Serve() {
	for {
		buf := make([]byte, maxPacketSize)
		n, from, err := m.socket.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-m.closed:
				return
			default:
			}
			m.logger.Printf("messenger: read error: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}
		m.handlePacket(buf[:n], from)
	}
}

func (m *Messenger) handlePacket(raw []byte, from *net.UDPAddr) {
	msg, err := krpc.FromBytes(raw)
	if err != nil {
		m.logger.Printf("messenger: decode error from %s: %v", from, err)
		return
	}
	msg.ReceivedFrom = from

	if msg.IsQuery() {
		go m.serveQuery(from, msg)
		return
	}

	m.deliver(msg, from)
}

func (m *Messenger) serveQuery(from *net.UDPAddr, msg *krpc.Message) {
	if m.handler == nil {
		return
	}
	reply := m.handler.HandleQuery(from, msg)
	if reply == nil {
		return
	}
	reply.Tid = msg.Tid
	b, err := reply.ToBytes()
	if err != nil {
		m.logger.Printf("messenger: encode reply error: %v", err)
		return
	}
	if _, err := m.socket.WriteToUDP(b, from); err != nil {
		m.logger.Printf("messenger: send reply error: %v", err)
	}
}

// deliver matches an incoming response or error to its outstanding query,
// first by transaction id and, if that misses entirely, by source address
// (some peers misreport transaction ids). The address fallback only fires
// when exactly one outstanding query was sent to from; an ambiguous match
// is dropped rather than guessed.
func (m *Messenger) deliver(msg *krpc.Message, from *net.UDPAddr) {
	key := string(msg.Tid)
	m.mu.Lock()
	p, ok := m.pending[key]
	switch {
	case ok && addrEqual(p.addr, from):
		delete(m.pending, key)
	case ok:
		// tid matches but the source doesn't: leave the transaction
		// outstanding, the real reply may still arrive.
		ok = false
	default:
		var fallbackKey string
		matches := 0
		for k, candidate := range m.pending {
			if addrEqual(candidate.addr, from) {
				matches++
				fallbackKey = k
				p = candidate
			}
		}
		if matches == 1 {
			delete(m.pending, fallbackKey)
			ok = true
		}
	}
	m.mu.Unlock()

	if !ok {
		return // no matching outstanding query
	}
	select {
	case p.reply <- msg:
	default:
	}
}

func addrEqual(a, b *net.UDPAddr) bool {
	return a.IP.Equal(b.IP) && a.Port == b.Port
}

// ErrTimeout is returned by Query when no reply arrives within timeout. It is
// the synthetic Generic (201) "Timeout" KRPC error, krpc.TimeoutError().
var ErrTimeout error = krpc.TimeoutError()

// Query sends msg to addr and waits up to timeout for a matching reply,
// bounded by the global concurrency semaphore.
func (m *Messenger) Query(addr *net.UDPAddr, msg *krpc.Message, timeout time.Duration) (*krpc.Message, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	select {
	case m.sema <- struct{}{}:
	case <-m.closed:
		return nil, errors.New("messenger: closed")
	}
	defer func() { <-m.sema }()

	msg.Tid = m.nextTid()
	b, err := msg.ToBytes()
	if err != nil {
		return nil, err
	}

	p := &pendingQuery{addr: addr, reply: make(chan *krpc.Message, 1)}
	key := string(msg.Tid)
	m.mu.Lock()
	m.pending[key] = p
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.pending, key)
		m.mu.Unlock()
	}()

	if _, err := m.socket.WriteToUDP(b, addr); err != nil {
		return nil, err
	}

	select {
	case reply := <-p.reply:
		return reply, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-m.closed:
		return nil, errors.New("messenger: closed")
	}
}
