// Package socket implements the aggregate-of-pipes endpoint of spec §3/§4.5:
// bind/connect, the three dispatch policies (direct, fair, pub), receive,
// and subscription bookkeeping, over two transports (tcp, inproc).
package socket

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nitroio/nitro/core/frame"
	corelog "github.com/nitroio/nitro/core/log"
	"github.com/nitroio/nitro/core/queue"
	"github.com/nitroio/nitro/core/trie"
	"github.com/nitroio/nitro/core/worker"
	"github.com/nitroio/nitro/core/wire"
	"github.com/nitroio/nitro/pipe"
)

var logBackend = corelog.NewBackend("NOTICE")
var defaultLog = logBackend.GetLogger("nitro/socket")
var pipeLog = logBackend.GetLogger("nitro/pipe")

// Flags carries the per-call NONBLOCK/REUSE bits of spec §6.
type Flags struct {
	NonBlock bool
	Reuse    bool
}

// Socket is the aggregate of pipes for one endpoint: send/recv, dispatch
// policies, subscription bookkeeping, and transport lifecycle.
type Socket struct {
	worker.Worker

	name string
	opts Options
	addr string

	RecvQ *queue.BoundedQueue

	mu         sync.Mutex
	pipesList  []*pipe.Pipe
	cursor     int
	byIdentity map[[16]byte]*pipe.Pipe

	pubTrie    *trie.Trie // members are *pipe.Pipe: remote peers interested in a key
	localSubs  map[string][]byte
	subKeysVer uint64

	readable chan struct{}

	suite wire.CipherSuite

	listener *tcpListener
	dialer   *tcpDialer
	inprocID string

	closed bool
}

func newSocket(addr string, opts Options) (*Socket, error) {
	opts = opts.withHWMDefaults()
	var zero [16]byte
	if opts.Ident == zero {
		opts.Ident = randomIdent()
	}
	suite, err := wire.NewCipherSuite(opts.Cipher)
	if err != nil {
		return nil, err
	}
	s := &Socket{
		name:       addr,
		opts:       opts,
		addr:       addr,
		byIdentity: make(map[[16]byte]*pipe.Pipe),
		pubTrie:    trie.New(),
		localSubs:  make(map[string][]byte),
		readable:   make(chan struct{}, 1),
		suite:      suite,
	}
	s.RecvQ = queue.New(opts.HWMIn, s.onRecvQState)
	s.Go(s.metricsLoop)
	return s, nil
}

// Bind creates a listening (tcp) or registered (inproc) endpoint at addr.
func Bind(addr string, opts Options) (*Socket, error) {
	s, err := newSocket(addr, opts)
	if err != nil {
		return nil, err
	}
	scheme, rest, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "tcp":
		if err := s.bindTCP(rest); err != nil {
			return nil, err
		}
	case "inproc":
		s.bindInproc(rest)
	}
	return s, nil
}

// Connect dials (tcp) or links (inproc) to addr.
func Connect(addr string, opts Options) (*Socket, error) {
	s, err := newSocket(addr, opts)
	if err != nil {
		return nil, err
	}
	scheme, rest, err := parseAddr(addr)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case "tcp":
		s.connectTCP(rest)
	case "inproc":
		s.connectInproc(rest)
	}
	return s, nil
}

func (s *Socket) callbacks() pipe.Callbacks {
	return pipe.Callbacks{
		Register:       s.registerPipe,
		OnFrame:        s.onFrame,
		OnSubUpdate:    s.onSubUpdate,
		CurrentSubKeys: s.currentSubKeys,
		SubKeysVersion: s.subKeysVersion,
		OnClose:        s.onPipeClose,
	}
}

// registerPipe installs p into the identity hash and round-robin list,
// applying collision supersession (spec §4.4): a pipe that arrives with an
// identity already present replaces the old one, moving its queued
// outbound frames across before destroying it.
func (s *Socket) registerPipe(p *pipe.Pipe) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	old, collide := s.byIdentity[p.Identity]
	s.byIdentity[p.Identity] = p
	s.pipesList = append(s.pipesList, p)
	s.mu.Unlock()

	if collide && old != p {
		queue.Move(old.SendQ, p.SendQ, old.SendQ.Cap())
		old.Close()
	}
	return nil
}

func (s *Socket) onPipeClose(p *pipe.Pipe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.byIdentity[p.Identity]; ok && cur == p {
		delete(s.byIdentity, p.Identity)
	}
	for i, q := range s.pipesList {
		if q == p {
			s.pipesList = append(s.pipesList[:i], s.pipesList[i+1:]...)
			if s.cursor > i {
				s.cursor--
			}
			break
		}
	}
	for k := range p.Subs() {
		s.pubTrie.Delete([]byte(k), p) //nolint:errcheck
	}
}

func (s *Socket) onFrame(p *pipe.Pipe, f *frame.Frame) {
	f.WithIdentity(p.Identity)
	// Best-effort: spec's Non-goals rule out persistence, so a full
	// receive queue drops the frame rather than blocking the pipe's
	// reader (which would stall every other pipe's delivery behind it).
	if err := s.RecvQ.TryPush(f); err != nil {
		defaultLog.Debugf("%s: receive queue full, dropping frame from %x", s, p.Identity)
	}
}

func (s *Socket) onSubUpdate(p *pipe.Pipe, newPrefixes [][]byte) {
	prior := p.Subs()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range prior {
		s.pubTrie.Delete([]byte(k), p) //nolint:errcheck
	}
	for _, pre := range newPrefixes {
		s.pubTrie.Add(pre, p)
	}
}

func (s *Socket) currentSubKeys() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, 0, len(s.localSubs))
	for _, v := range s.localSubs {
		out = append(out, v)
	}
	return out
}

func (s *Socket) subKeysVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subKeysVer
}

func (s *Socket) onRecvQState(st queue.State) {
	switch st {
	case queue.StateEmpty:
		select {
		case <-s.readable:
		default:
		}
	default:
		select {
		case s.readable <- struct{}{}:
		default:
		}
	}
}

// Readable returns a channel carrying at most one pending signal, the
// idiomatic analogue of the eventfd-style integration descriptor of spec
// §6. A signal is sent when the receive queue's state changes to contents
// or full, and a pending one is cleared when the queue goes empty.
// Receiving from the channel consumes the signal; no new one is sent while
// the queue stays in the same state, so a queue can remain non-empty with
// no signal pending.
func (s *Socket) Readable() <-chan struct{} {
	return s.readable
}

// Each calls fn for every currently registered pipe, in round-robin order,
// stopping early if fn returns false. Recovered from
// original_source/src/socket.h's nitro_pipe_eachpipe (§1 of SPEC_FULL.md).
func (s *Socket) Each(fn func(p *pipe.Pipe) bool) {
	s.mu.Lock()
	snapshot := append([]*pipe.Pipe(nil), s.pipesList...)
	s.mu.Unlock()
	for _, p := range snapshot {
		if !fn(p) {
			return
		}
	}
}

// Sub registers key as a locally-interesting prefix, bumping the
// subscription version so every pipe's resync timer resends the set.
func (s *Socket) Sub(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.localSubs[string(key)] = append([]byte(nil), key...)
	s.subKeysVer++
}

// Unsub removes a local subscription. Subscriptions are not counted: after
// any number of Sub calls for key, one Unsub removes it. Unsubscribing a
// key not currently registered is a no-op.
func (s *Socket) Unsub(key []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.localSubs[string(key)]; !ok {
		return
	}
	delete(s.localSubs, string(key))
	s.subKeysVer++
}

// SendDirect looks up ident in the identity hash and pushes f onto that
// pipe's direct queue, failing with ErrNoRoute if absent.
func (s *Socket) SendDirect(f *frame.Frame, ident [16]byte, flags Flags) error {
	s.mu.Lock()
	p, ok := s.byIdentity[ident]
	s.mu.Unlock()
	if !ok {
		return ErrNoRoute
	}
	return s.enqueue(p, f, flags)
}

// SendFair pushes f onto the next pipe in round-robin order, advancing the
// cursor; if that pipe's queue is full it tries up to num_pipes times
// before giving up per flags.
func (s *Socket) SendFair(f *frame.Frame, flags Flags) error {
	s.mu.Lock()
	n := len(s.pipesList)
	if n == 0 {
		s.mu.Unlock()
		return ErrNoPipes
	}
	targets := make([]*pipe.Pipe, 0, n)
	for i := 0; i < n; i++ {
		idx := (s.cursor + i) % n
		targets = append(targets, s.pipesList[idx])
	}
	s.cursor = (s.cursor + 1) % n
	s.mu.Unlock()

	var lastErr error
	for i, p := range targets {
		payload := f
		if flags.Reuse || i > 0 {
			payload = f.Clone()
		}
		last := i == len(targets)-1
		attempt := Flags{NonBlock: true, Reuse: flags.Reuse}
		if last && !flags.NonBlock {
			// Exhausted every pipe once without success: fall back to the
			// caller's original blocking/non-blocking choice on this final
			// attempt, per §4.5's "up to num_pipes times before blocking
			// or failing."
			attempt.NonBlock = false
		}
		err := s.enqueue(p, payload, attempt)
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = queue.ErrQueueFull
	}
	return lastErr
}

// SendPub treats f's key as a prefix query against the publish trie and
// pushes a copy to every distinct matching pipe, using the fair policy's
// non-blocking backpressure discipline per §4.5.
func (s *Socket) SendPub(f *frame.Frame, flags Flags) error {
	seen := make(map[*pipe.Pipe]bool)
	var targets []*pipe.Pipe
	s.pubTrie.Search(f.Key, func(rep []byte, members []any) {
		for _, m := range members {
			p, ok := m.(*pipe.Pipe)
			if !ok || seen[p] {
				continue
			}
			seen[p] = true
			targets = append(targets, p)
		}
	})
	var lastErr error
	delivered := false
	for _, p := range targets {
		if err := s.enqueue(p, f.Clone(), Flags{NonBlock: true}); err != nil {
			lastErr = err
			continue
		}
		delivered = true
	}
	if !delivered && lastErr != nil {
		return lastErr
	}
	return nil
}

func (s *Socket) enqueue(p *pipe.Pipe, f *frame.Frame, flags Flags) error {
	if flags.Reuse {
		f = f.Clone()
	}
	if flags.NonBlock {
		return p.SendQ.TryPush(f)
	}
	return p.SendQ.Push(context.Background(), f)
}

// Recv blocks on the shared receive queue unless flags.NonBlock is set, in
// which case an empty queue returns queue.ErrWouldBlock immediately.
func (s *Socket) Recv(flags Flags) (*frame.Frame, error) {
	if flags.NonBlock {
		return s.RecvQ.TryPull()
	}
	return s.RecvQ.Pull(context.Background())
}

// Close destroys every pipe (draining up to close_linger_ms) and marks the
// socket closed.
func (s *Socket) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	snapshot := append([]*pipe.Pipe(nil), s.pipesList...)
	s.mu.Unlock()

	if s.listener != nil {
		s.listener.close()
	}
	if s.dialer != nil {
		s.dialer.close()
	}
	if s.inprocID != "" {
		unregisterInproc(s)
	}

	linger := s.opts.closeLinger()
	deadline := time.Now().Add(linger)
	for _, p := range snapshot {
		for linger > 0 && p.SendQ.Count() > 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		p.Close()
	}
	s.RecvQ.Close()
	s.SignalHalt()
	return nil
}

// Addr returns the bound TCP listener's actual network address (useful
// after binding to port 0 for an ephemeral port). It returns nil for an
// inproc socket, a connecting socket, or before Bind's listener is ready.
func (s *Socket) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Socket) String() string {
	return fmt.Sprintf("socket(%s)", s.addr)
}
