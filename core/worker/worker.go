// Package worker provides the halt-channel goroutine convention used
// throughout nitro's pipe and socket goroutines, grounded in the
// core/worker package referenced (but not vendored) by this family of
// repos — see stream.go's s.Go(s.reader)/s.Go(s.writer) and
// cborplugin/client.go's worker.Worker embedding.
//
// In the originating C library a single reactor thread delivers readiness
// callbacks to every pipe. Go has no equivalent shared reactor; each
// long-running goroutine here is instead given its own halt channel and
// WaitGroup slot, and the scheduler plays the role of the reactor.
package worker

import "sync"

// Worker is embedded by any type that runs one or more background
// goroutines which must be stopped together on Halt.
type Worker struct {
	haltOnce sync.Once
	haltCh   chan struct{}
	wg       sync.WaitGroup
	initOnce sync.Once
}

func (w *Worker) init() {
	w.initOnce.Do(func() {
		w.haltCh = make(chan struct{})
	})
}

// HaltCh returns the channel that is closed when Halt is called. Goroutines
// started via Go should select on it to know when to return.
func (w *Worker) HaltCh() <-chan struct{} {
	w.init()
	return w.haltCh
}

// Go starts fn in a new goroutine tracked by this Worker's WaitGroup.
func (w *Worker) Go(fn func()) {
	w.init()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// SignalHalt closes the halt channel (idempotently) without waiting for
// goroutines to return. Use this from within a goroutine that Go started
// — calling the blocking Halt from there would deadlock waiting on
// itself.
func (w *Worker) SignalHalt() {
	w.init()
	w.haltOnce.Do(func() {
		close(w.haltCh)
	})
}

// Halt signals and blocks until every goroutine started via Go has
// returned. Must be called from outside any goroutine started by this
// Worker.
func (w *Worker) Halt() {
	w.SignalHalt()
	w.wg.Wait()
}

// IsHalted reports whether Halt has been called, without blocking.
func (w *Worker) IsHalted() bool {
	w.init()
	select {
	case <-w.haltCh:
		return true
	default:
		return false
	}
}
