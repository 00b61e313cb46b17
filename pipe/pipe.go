// Package pipe implements the per-connection state machine of spec §4.4:
// handshake -> subscription sync -> steady-state send/receive, with its
// own direct send queue and partial-frame buffering.
//
// There is no shared reactor thread here (that collaborator is out of
// scope per spec §1, owned by the embedding application in the original
// C library). Each registered pipe instead runs its own reader/writer
// goroutine pair under core/worker's halt-channel convention — the
// idiomatic Go analogue of a reactor readiness callback, grounded in
// stream.go's s.Go(s.reader) / s.Go(s.writer) pattern.
package pipe

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	logging "gopkg.in/op/go-logging.v1"

	"github.com/nitroio/nitro/core/frame"
	"github.com/nitroio/nitro/core/queue"
	"github.com/nitroio/nitro/core/wire"
	"github.com/nitroio/nitro/core/worker"
)

// State is one stage of a Pipe's lifecycle.
type State int

const (
	Connecting State = iota
	HelloSent
	Handshook
	Registered
	Closed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case HelloSent:
		return "hello-sent"
	case Handshook:
		return "handshook"
	case Registered:
		return "registered"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Callbacks connect a Pipe to its owning Socket without creating an
// import cycle (Socket aggregates Pipes; a Pipe cannot import Socket).
type Callbacks struct {
	// Register is invoked once, right after a successful handshake,
	// to install the pipe into the socket's identity hash (applying
	// collision-supersession per §4.4). A non-nil error aborts the pipe.
	Register func(p *Pipe) error
	// OnFrame delivers a decoded data frame to the socket's receive path.
	OnFrame func(p *Pipe, f *frame.Frame)
	// OnSubUpdate delivers a decoded subscription-update's new prefix set.
	OnSubUpdate func(p *Pipe, prefixes [][]byte)
	// CurrentSubKeys returns the socket's local subscription set.
	CurrentSubKeys func() [][]byte
	// SubKeysVersion returns the socket's sub_keys_state counter.
	SubKeysVersion func() uint64
	// OnClose is invoked once when the pipe is destroyed, so the owner
	// can unlink it from the pipes list, identity hash, and trie.
	OnClose func(p *Pipe)
}

// Pipe is one established connection, TCP or intra-process.
type Pipe struct {
	worker.Worker

	mu          sync.Mutex
	state       State
	Identity    [16]byte
	HasIdentity bool

	SendQ *queue.BoundedQueue

	conn net.Conn       // nil for an inproc link
	sess *wire.Session  // nil until Handshook, and always nil for inproc
	bw   *bufio.Writer  // nil for inproc
	br   *bufio.Reader  // nil for inproc

	// deliver, when set, replaces the wire-encode-to-conn write path with
	// a direct in-process hand-off (used by the inproc transport, which
	// has no framing or crypto per §4.5).
	deliver func(f *frame.Frame) error

	cb             Callbacks
	resyncInterval time.Duration

	// subs mirrors the remote peer's currently-registered prefixes, kept
	// so a later subscription-update can compute which prior entries to
	// remove from the owning socket's trie.
	subs         map[string][]byte
	subStateSent uint64

	log *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	BytesIn, BytesOut   uint64
	FramesIn, FramesOut uint64
}

func newPipe(cb Callbacks, hwmOut int, resync time.Duration, log *logging.Logger) *Pipe {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipe{
		cb:             cb,
		resyncInterval: resync,
		subs:           make(map[string][]byte),
		log:            log,
		ctx:            ctx,
		cancel:         cancel,
	}
	p.SendQ = queue.New(hwmOut, nil)
	return p
}

// NewTCP starts the handshake over conn in the background and, on
// success, registers the pipe and begins its steady-state read/write
// loops. It returns immediately in state Connecting.
func NewTCP(conn net.Conn, selfIdent [16]byte, suite wire.CipherSuite, hwmOut int, resync time.Duration, cb Callbacks, log *logging.Logger) *Pipe {
	p := newPipe(cb, hwmOut, resync, log)
	p.conn = conn
	p.bw = bufio.NewWriter(conn)
	p.br = bufio.NewReader(conn)
	p.setState(Connecting)

	p.Go(func() {
		p.setState(HelloSent)
		sess, peerIdent, err := wire.Handshake(conn, selfIdent, suite)
		if err != nil {
			if p.log != nil {
				p.log.Warningf("handshake failed: %s", err)
			}
			p.Close()
			return
		}
		p.mu.Lock()
		p.sess = sess
		p.Identity = peerIdent
		p.HasIdentity = true
		p.state = Handshook
		p.mu.Unlock()

		if p.cb.Register != nil {
			if err := p.cb.Register(p); err != nil {
				p.Close()
				return
			}
		}
		p.setState(Registered)

		p.Go(p.readerLoop)
		p.Go(p.writerLoop)
		if p.resyncInterval > 0 {
			p.Go(p.resyncLoop)
		}
	})
	return p
}

// NewInproc wraps a direct hand-off link between two sockets bound or
// connected under the same inproc name. peerIdent is the identity of the
// socket on the OTHER end of the link — the same role NewTCP fills from
// the handshake's result rather than from a caller argument. It starts
// Registered immediately — there is no handshake or framing for this
// transport (§4.5).
func NewInproc(peerIdent [16]byte, hwmOut int, resync time.Duration, deliver func(f *frame.Frame) error, cb Callbacks) *Pipe {
	p := newPipe(cb, hwmOut, resync, nil)
	p.deliver = deliver
	p.Identity = peerIdent
	p.HasIdentity = true
	p.state = Handshook

	if p.cb.Register != nil {
		if err := p.cb.Register(p); err != nil {
			p.Close()
			return p
		}
	}
	p.state = Registered

	p.Go(p.writerLoop)
	if p.resyncInterval > 0 {
		p.Go(p.resyncLoop)
	}
	return p
}

// SetDeliver installs (or replaces) the inproc direct-delivery function.
// Needed because linking two inproc pipes is mutually recursive — each
// side's deliver closure needs the other side's Pipe, which doesn't exist
// until both are constructed — so NewInproc may be called with deliver
// nil and SetDeliver used once both halves exist.
func (p *Pipe) SetDeliver(fn func(f *frame.Frame) error) {
	p.mu.Lock()
	p.deliver = fn
	p.mu.Unlock()
}

func (p *Pipe) getDeliver() func(f *frame.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.deliver
}

func (p *Pipe) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// State returns the pipe's current lifecycle state.
func (p *Pipe) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Subs returns the remote peer's currently-registered prefixes.
func (p *Pipe) Subs() map[string][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string][]byte, len(p.subs))
	for k, v := range p.subs {
		out[k] = v
	}
	return out
}

func (p *Pipe) readerLoop() {
	for {
		f, err := wire.Decode(p.br, p.sess)
		if err != nil {
			// Per §7: parse failure, short read/EOF, or replay rejection
			// destroys the pipe without surfacing to the application —
			// it simply disappears from dispatch.
			p.Close()
			return
		}
		if err := p.Deliver(f); err != nil {
			p.Close()
			return
		}
	}
}

// Deliver hands a received frame to this end of the pipe exactly as
// readerLoop would after decoding it off the wire: subscription-update
// frames are intercepted and applied, everything else reaches cb.OnFrame.
// The inproc transport calls this directly in place of wire.Decode, since
// it has no framing to decode (§4.5).
func (p *Pipe) Deliver(f *frame.Frame) error {
	p.FramesIn++
	p.BytesIn += uint64(len(f.Payload))

	if f.IsSub {
		prefixes, err := decodeSubPayload(f.Payload)
		if err != nil {
			return err
		}
		p.applySubUpdate(prefixes)
		return nil
	}
	if p.cb.OnFrame != nil {
		p.cb.OnFrame(p, f)
	}
	return nil
}

func (p *Pipe) writerLoop() {
	for {
		f, err := p.SendQ.Pull(p.ctx)
		if err != nil {
			return
		}
		if deliver := p.getDeliver(); deliver != nil {
			if err := deliver(f); err != nil {
				p.Close()
				return
			}
			p.FramesOut++
			p.BytesOut += uint64(len(f.Payload))
			continue
		}

		if err := wire.Encode(p.bw, f, p.sess); err != nil {
			p.Close()
			return
		}
		p.FramesOut++
		p.BytesOut += uint64(len(f.Payload))
		// Drain any further immediately-available frames before
		// flushing, so a burst of sends costs one syscall instead of one
		// per frame; this is the idiomatic replacement for the "partial
		// outbound frame resumed on next writable callback" dance a
		// reactor-driven writer needs and bufio.Writer a blocking one
		// doesn't.
		for {
			next, err := p.SendQ.TryPull()
			if err != nil {
				break
			}
			if werr := wire.Encode(p.bw, next, p.sess); werr != nil {
				p.Close()
				return
			}
			p.FramesOut++
			p.BytesOut += uint64(len(next.Payload))
		}
		if err := p.bw.Flush(); err != nil {
			p.Close()
			return
		}
	}
}

func (p *Pipe) resyncLoop() {
	t := time.NewTicker(p.resyncInterval)
	defer t.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-t.C:
			p.maybeResync()
		}
	}
}

func (p *Pipe) maybeResync() {
	if p.cb.SubKeysVersion == nil || p.cb.CurrentSubKeys == nil {
		return
	}
	v := p.cb.SubKeysVersion()
	p.mu.Lock()
	stale := v != p.subStateSent
	p.mu.Unlock()
	if !stale {
		return
	}
	keys := p.cb.CurrentSubKeys()
	payload, err := cbor.Marshal(keys)
	if err != nil {
		return
	}
	_ = p.SendQ.TryPush(frame.NewSub(payload))
	p.mu.Lock()
	p.subStateSent = v
	p.mu.Unlock()
}

func decodeSubPayload(payload []byte) ([][]byte, error) {
	var keys [][]byte
	if err := cbor.Unmarshal(payload, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (p *Pipe) applySubUpdate(prefixes [][]byte) {
	// Notify before overwriting p.subs: the owner's callback uses Subs() to
	// read the prior set it must remove from its trie, so the swap has to
	// happen after the callback, not before.
	if p.cb.OnSubUpdate != nil {
		p.cb.OnSubUpdate(p, prefixes)
	}
	p.mu.Lock()
	newSubs := make(map[string][]byte, len(prefixes))
	for _, pre := range prefixes {
		newSubs[string(pre)] = pre
	}
	p.subs = newSubs
	p.mu.Unlock()
}

// Close tears the pipe down: cancels its context (waking any blocked
// SendQ.Pull), closes the underlying connection and send queue, and
// notifies the owner exactly once. It is safe to call from within one of
// the pipe's own goroutines.
func (p *Pipe) Close() {
	p.closeOnce.Do(func() {
		p.setState(Closed)
		p.cancel()
		p.SignalHalt()
		if p.conn != nil {
			p.conn.Close()
		}
		p.sess.Destroy()
		p.SendQ.Close()
		if p.cb.OnClose != nil {
			p.cb.OnClose(p)
		}
	})
}

// Wait blocks until every goroutine owned by this pipe has returned. Call
// it only from outside the pipe's own goroutines (e.g. from Socket.Close
// while draining).
func (p *Pipe) Wait() {
	p.Worker.Halt()
}
