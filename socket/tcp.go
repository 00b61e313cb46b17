package socket

import (
	"net"
	"os"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"

	"github.com/nitroio/nitro/pipe"
)

// tcpListener owns the accept loop for a bound tcp:// socket.
type tcpListener struct {
	ln  net.Listener
	sck *Socket
	log *charmlog.Logger

	mu     sync.Mutex
	closed bool
}

func (s *Socket) bindTCP(hostport string) error {
	ln, err := net.Listen("tcp", hostport)
	if err != nil {
		return err
	}
	l := &tcpListener{
		ln:  ln,
		sck: s,
		log: charmlog.NewWithOptions(os.Stderr, charmlog.Options{Prefix: "nitro/tcp-listen"}),
	}
	s.listener = l
	s.Go(l.acceptLoop)
	return nil
}

func (l *tcpListener) acceptLoop() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.mu.Lock()
			closed := l.closed
			l.mu.Unlock()
			if closed {
				return
			}
			// Per §7: errors on a listening descriptor log and continue,
			// they never trigger a reconnect (that's the connector's job).
			l.log.Warnf("accept failed: %s", err)
			continue
		}
		pipe.NewTCP(conn, l.sck.opts.Ident, l.sck.suite, l.sck.opts.HWMOut,
			l.sck.opts.resyncInterval(), l.sck.callbacks(), pipeLog)
	}
}

// Addr returns the listener's actual network address, useful after
// binding to "tcp://host:0" to discover the ephemeral port chosen by the
// kernel. It is nil for an inproc socket or one that hasn't bound yet.
func (l *tcpListener) Addr() net.Addr {
	return l.ln.Addr()
}

func (l *tcpListener) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.ln.Close()
}

// tcpDialer owns the reconnecting dialer loop for a connected tcp:// socket.
type tcpDialer struct {
	hostport string
	sck      *Socket
	log      *charmlog.Logger

	closeOnce sync.Once
	closedCh  chan struct{}
}

func (s *Socket) connectTCP(hostport string) {
	d := &tcpDialer{
		hostport: hostport,
		sck:      s,
		log:      charmlog.NewWithOptions(os.Stderr, charmlog.Options{Prefix: "nitro/tcp-dial"}),
		closedCh: make(chan struct{}),
	}
	s.dialer = d
	s.Go(d.dialLoop)
}

func (d *tcpDialer) isClosed() bool {
	select {
	case <-d.closedCh:
		return true
	default:
		return false
	}
}

func (d *tcpDialer) dialLoop() {
	for {
		if d.isClosed() {
			return
		}

		conn, err := net.Dial("tcp", d.hostport)
		if err != nil {
			d.log.Warnf("dial %s failed: %s", d.hostport, err)
			if !d.wait() {
				return
			}
			continue
		}

		p := pipe.NewTCP(conn, d.sck.opts.Ident, d.sck.suite, d.sck.opts.HWMOut,
			d.sck.opts.resyncInterval(), d.sck.callbacks(), pipeLog)
		p.Wait() // blocks until the pipe (handshake + read/write loops) ends
		d.log.Infof("pipe to %s closed, reconnecting", d.hostport)
		if !d.wait() {
			return
		}
	}
}

// wait blocks for the reconnect interval, returning false if the socket or
// dialer was closed in the meantime.
func (d *tcpDialer) wait() bool {
	t := time.NewTimer(d.sck.opts.reconnectInterval())
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-d.closedCh:
		return false
	case <-d.sck.HaltCh():
		return false
	}
}

func (d *tcpDialer) close() {
	d.closeOnce.Do(func() { close(d.closedCh) })
}
