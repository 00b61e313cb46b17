package socket

import (
	"sync"

	"github.com/nitroio/nitro/core/frame"
	"github.com/nitroio/nitro/pipe"
)

// inprocRegistry holds every socket currently bound or connected under a
// given inproc name, per spec §4.5's "sockets bound on the same name share
// a registry." registryMu is taken in exclusive mode by bind/connect, so
// reading the member list to link against and appending the new socket
// happen atomically, and by unregisterInproc. Frame dispatch goes through
// the linked pipes and never takes registryMu.
var (
	registryMu sync.RWMutex
	registry   = map[string][]*Socket{}
)

func (s *Socket) bindInproc(name string) {
	s.inprocID = name
	registryMu.Lock()
	defer registryMu.Unlock()
	peers := append([]*Socket(nil), registry[name]...)
	registry[name] = append(registry[name], s)
	for _, peer := range peers {
		linkInproc(s, peer)
	}
}

func (s *Socket) connectInproc(name string) {
	s.inprocID = name
	registryMu.Lock()
	defer registryMu.Unlock()
	peers := append([]*Socket(nil), registry[name]...)
	registry[name] = append(registry[name], s)
	for _, peer := range peers {
		linkInproc(s, peer)
	}
}

// linkInproc creates the two complementary *pipe.Pipe halves of a direct
// hand-off link between a and b: a frame pushed to a's half is delivered
// straight into b's receive path, and vice versa, with no framing or
// crypto, per §4.5. Each half is built with its owning socket's real
// callbacks up front — Register, OnSubUpdate, CurrentSubKeys, and
// SubKeysVersion are all known before either pipe exists, since they're
// just bound methods on a and b. Only the delivery function is mutually
// recursive (pA's needs pB to exist), so it's wired in after the fact via
// SetDeliver.
func linkInproc(a, b *Socket) {
	aCb := a.callbacks()
	bCb := b.callbacks()

	pA := pipe.NewInproc(b.opts.Ident, a.opts.HWMOut, a.opts.resyncInterval(), nil, aCb)
	pB := pipe.NewInproc(a.opts.Ident, b.opts.HWMOut, b.opts.resyncInterval(), nil, bCb)

	deliverToB := func(f *frame.Frame) error {
		return pB.Deliver(f)
	}
	deliverToA := func(f *frame.Frame) error {
		return pA.Deliver(f)
	}

	pA.SetDeliver(deliverToB)
	pB.SetDeliver(deliverToA)
}

func unregisterInproc(s *Socket) {
	registryMu.Lock()
	defer registryMu.Unlock()
	peers := registry[s.inprocID]
	for i, peer := range peers {
		if peer == s {
			registry[s.inprocID] = append(peers[:i], peers[i+1:]...)
			break
		}
	}
	if len(registry[s.inprocID]) == 0 {
		delete(registry, s.inprocID)
	}
}
