package netcode

import (
	"net"
	"net/netip"
)

// LinkReceiver is the inbound half of the transport contract the client
// consumes. Bytes returned by Pop are whole datagrams read from the
// wire. Pop must never block; an empty queue returns (nil, false), never
// an error. A decoded Payload packet is handed back to PushRaw so the
// host can read it out through the same Pop it uses for raw datagrams.
type LinkReceiver interface {
	Len() int
	Pop() ([]byte, bool)
	PushRaw([]byte)
}

// LinkSender is the outbound half of the transport contract. Push must
// never block; bytes are whole datagrams, ready to transmit.
type LinkSender interface {
	Push([]byte)
}

// ChanLink is an in-memory LinkReceiver/LinkSender pair, useful for tests
// and in-process loopback transports. It is not safe for concurrent use
// from multiple goroutines without external synchronization, matching
// the client's own single-threaded cooperative model.
type ChanLink struct {
	queue [][]byte
}

// NewChanLink returns an empty ChanLink.
func NewChanLink() *ChanLink {
	return &ChanLink{}
}

func (l *ChanLink) Len() int { return len(l.queue) }

func (l *ChanLink) Pop() ([]byte, bool) {
	if len(l.queue) == 0 {
		return nil, false
	}
	b := l.queue[0]
	l.queue = l.queue[1:]
	return b, true
}

func (l *ChanLink) Push(b []byte) { l.queue = append(l.queue, b) }

func (l *ChanLink) PushRaw(b []byte) { l.queue = append(l.queue, b) }

// UDPLink wraps a *net.UDPConn as a LinkReceiver/LinkSender pair. A
// background goroutine reads datagrams into a bounded channel so that
// Pop never blocks, matching nspkt.Listener's non-blocking read loop
// translated to the client side of the connection.
type UDPLink struct {
	conn *net.UDPConn
	addr netip.AddrPort

	recv chan []byte
	done chan struct{}
}

// NewUDPLink wraps conn, which may be connected to addr or unconnected
// (then sends go to addr via WriteToUDPAddrPort), and starts the
// background reader. The queueSize bounds how many unread datagrams may
// be buffered before newer ones are dropped.
func NewUDPLink(conn *net.UDPConn, addr netip.AddrPort, queueSize int) *UDPLink {
	l := &UDPLink{
		conn: conn,
		addr: addr,
		recv: make(chan []byte, queueSize),
		done: make(chan struct{}),
	}
	go l.readLoop()
	return l
}

func (l *UDPLink) readLoop() {
	buf := make([]byte, MaxPktBufSize)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			close(l.recv)
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case l.recv <- cp:
		case <-l.done:
			return
		default:
			// Queue full: drop the datagram rather than block, per the
			// transport contract's non-blocking requirement.
		}
	}
}

// Close stops the background reader and closes the underlying socket.
func (l *UDPLink) Close() error {
	close(l.done)
	return l.conn.Close()
}

func (l *UDPLink) Len() int {
	return len(l.recv)
}

func (l *UDPLink) Pop() ([]byte, bool) {
	select {
	case b, ok := <-l.recv:
		return b, ok
	default:
		return nil, false
	}
}

// Push sends b to the link's configured remote address.
func (l *UDPLink) Push(b []byte) {
	if l.conn.RemoteAddr() != nil {
		// A connected socket rejects WriteTo-style sends.
		l.conn.Write(b)
		return
	}
	l.conn.WriteToUDPAddrPort(b, l.addr)
}

// PushRaw hands a decoded payload back to the queue Pop reads from, the
// same non-blocking-drop behavior as a freshly read datagram.
func (l *UDPLink) PushRaw(b []byte) {
	select {
	case l.recv <- b:
	default:
	}
}
