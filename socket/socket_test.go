package socket_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nitroio/nitro/core/frame"
	"github.com/nitroio/nitro/pipe"
	"github.com/nitroio/nitro/socket"
)

func freshOpts() socket.Options {
	o := socket.DefaultOptions()
	o.HWMIn = 16
	o.HWMOut = 16
	o.SubResendIntervalMS = 20
	return o
}

func newFrame(t *testing.T, key, payload string) *frame.Frame {
	t.Helper()
	f, err := frame.New([]byte(key), []byte(payload))
	require.NoError(t, err)
	return f
}

// TestInprocDirectSendAndRecv exercises scenario 1 of spec §8: bind
// inproc, connect a peer, send, and receive on the other end.
func TestInprocDirectSendAndRecv(t *testing.T) {
	a, err := socket.Bind("inproc://t1", freshOpts())
	require.NoError(t, err)
	defer a.Close()
	bOpts := freshOpts()
	bOpts.Ident = [16]byte{0xB}
	b, err := socket.Connect("inproc://t1", bOpts)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.SendDirect(newFrame(t, "", "hi"), bOpts.Ident, socket.Flags{}))

	got, err := b.Recv(socket.Flags{})
	require.NoError(t, err)
	require.Equal(t, "hi", string(got.Payload))
}

// TestInprocPubSubPrefixMatch exercises scenario 2 of spec §8.
func TestInprocPubSubPrefixMatch(t *testing.T) {
	pub, err := socket.Bind("inproc://t2", freshOpts())
	require.NoError(t, err)
	defer pub.Close()
	subFoo, err := socket.Connect("inproc://t2", freshOpts())
	require.NoError(t, err)
	defer subFoo.Close()
	subFoobar, err := socket.Connect("inproc://t2", freshOpts())
	require.NoError(t, err)
	defer subFoobar.Close()

	subFoo.Sub([]byte("foo"))
	subFoobar.Sub([]byte("foobar"))

	// The resync timer propagates local subscriptions to the publisher's
	// trie asynchronously; wait for both to land.
	require.Eventually(t, func() bool {
		n := 0
		pub.Each(func(p *pipe.Pipe) bool {
			if len(p.Subs()) > 0 {
				n++
			}
			return true
		})
		return n == 2
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, pub.SendPub(newFrame(t, "foobark", "wide"), socket.Flags{}))
	got1, err := subFoo.Recv(socket.Flags{})
	require.NoError(t, err)
	require.Equal(t, "wide", string(got1.Payload))
	got2, err := subFoobar.Recv(socket.Flags{})
	require.NoError(t, err)
	require.Equal(t, "wide", string(got2.Payload))

	require.NoError(t, pub.SendPub(newFrame(t, "foo", "narrow"), socket.Flags{}))
	got3, err := subFoo.Recv(socket.Flags{})
	require.NoError(t, err)
	require.Equal(t, "narrow", string(got3.Payload))

	_, err = subFoobar.Recv(socket.Flags{NonBlock: true})
	require.Error(t, err)
}

func TestSubUnsubIdempotence(t *testing.T) {
	s, err := socket.Bind("inproc://t3", freshOpts())
	require.NoError(t, err)
	defer s.Close()

	s.Sub([]byte("k"))
	s.Sub([]byte("k"))
	s.Unsub([]byte("k"))
	s.Unsub([]byte("k")) // second unsub is a no-op, not an error
}

func TestSendDirectNoRoute(t *testing.T) {
	s, err := socket.Bind("inproc://t4", freshOpts())
	require.NoError(t, err)
	defer s.Close()

	err = s.SendDirect(newFrame(t, "", "x"), [16]byte{9, 9}, socket.Flags{})
	require.ErrorIs(t, err, socket.ErrNoRoute)
}

func TestSendFairNoPipes(t *testing.T) {
	s, err := socket.Bind("inproc://t5", freshOpts())
	require.NoError(t, err)
	defer s.Close()

	err = s.SendFair(newFrame(t, "", "x"), socket.Flags{})
	require.ErrorIs(t, err, socket.ErrNoPipes)
}

func TestBadAddressScheme(t *testing.T) {
	_, err := socket.Bind("udp://nope", freshOpts())
	require.ErrorIs(t, err, socket.ErrBadAddress)
}

// TestFairDispatchDistributesEvenly exercises §8's fair-dispatch law: N
// sends across M>0 registered pipes distribute with per-pipe count
// differing by at most 1.
func TestFairDispatchDistributesEvenly(t *testing.T) {
	pub, err := socket.Bind("inproc://fair1", freshOpts())
	require.NoError(t, err)
	defer pub.Close()

	const numPeers = 3
	peers := make([]*socket.Socket, numPeers)
	for i := range peers {
		peers[i], err = socket.Connect("inproc://fair1", freshOpts())
		require.NoError(t, err)
		defer peers[i].Close()
	}

	require.Eventually(t, func() bool {
		n := 0
		pub.Each(func(p *pipe.Pipe) bool { n++; return true })
		return n == numPeers
	}, time.Second, time.Millisecond)

	const numSends = 30
	for i := 0; i < numSends; i++ {
		require.NoError(t, pub.SendFair(newFrame(t, "", "x"), socket.Flags{}))
	}

	counts := make([]int, numPeers)
	for i, p := range peers {
		for {
			_, err := p.Recv(socket.Flags{NonBlock: true})
			if err != nil {
				break
			}
			counts[i]++
		}
	}

	total := 0
	min, max := counts[0], counts[0]
	for _, c := range counts {
		total += c
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
	}
	require.Equal(t, numSends, total)
	require.LessOrEqual(t, max-min, 1)
}

// TestTCPBindConnectSendRecv exercises scenario 1 of spec §8 over the real
// tcp:// transport instead of inproc: handshake, send, and receive a frame
// end to end.
func TestTCPBindConnectSendRecv(t *testing.T) {
	srv, err := socket.Bind("tcp://127.0.0.1:0", freshOpts())
	require.NoError(t, err)
	defer srv.Close()

	addr := srv.Addr()
	require.NotNil(t, addr)

	cli, err := socket.Connect("tcp://"+addr.String(), freshOpts())
	require.NoError(t, err)
	defer cli.Close()

	require.Eventually(t, func() bool {
		return cli.SendFair(newFrame(t, "", "probe"), socket.Flags{NonBlock: true}) == nil
	}, 2*time.Second, 10*time.Millisecond)

	got, err := srv.Recv(socket.Flags{})
	require.NoError(t, err)
	require.Equal(t, "probe", string(got.Payload))

	require.NoError(t, srv.SendFair(newFrame(t, "", "reply"), socket.Flags{}))
	got2, err := cli.Recv(socket.Flags{})
	require.NoError(t, err)
	require.Equal(t, "reply", string(got2.Payload))
}
