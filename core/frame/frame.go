// Package frame defines the message buffer exchanged between applications,
// queues, and pipes.
package frame

import (
	"errors"
	"sync/atomic"
)

// MaxKeyLen is the largest routing key nitro will encode (§4.3: a 1-byte
// length prefix).
const MaxKeyLen = 255

// MaxPayload bounds the payload of a single Frame. Larger frames are
// rejected rather than fragmented (spec Non-goals).
const MaxPayload = 1 << 20

// ErrFrameTooLarge is returned when a payload or key exceeds its bound.
var ErrFrameTooLarge = errors.New("nitro: frame too large")

// Frame is a self-delimited message: an optional routing key, an optional
// sender identity, and a payload. Frames are logically immutable after
// construction; ownership transfers on queue push unless the sender asked
// to retain it (REUSE), in which case Clone is used instead.
type Frame struct {
	Key      []byte
	Identity [16]byte
	HasIdent bool
	Payload  []byte

	// IsSub marks this as a subscription-update frame rather than a data
	// frame. Kept as a tagged field instead of a wire-level flag bit so
	// internal APIs never have to mask/test a raw byte (see DESIGN NOTES
	// in the spec: "model the flag bit as a tagged variant").
	IsSub bool

	refs *int32
}

// New constructs a data Frame, copying neither key nor payload.
func New(key, payload []byte) (*Frame, error) {
	if len(key) > MaxKeyLen {
		return nil, ErrFrameTooLarge
	}
	if len(payload) > MaxPayload {
		return nil, ErrFrameTooLarge
	}
	n := int32(1)
	return &Frame{Key: key, Payload: payload, refs: &n}, nil
}

// NewSub constructs a subscription-update Frame carrying the serialized
// prefix set as its payload.
func NewSub(payload []byte) *Frame {
	n := int32(1)
	return &Frame{Payload: payload, IsSub: true, refs: &n}
}

// WithIdentity returns f with its sender identity set, as done by a pipe
// on receipt (the identity is supplied by the remote peer's handshake,
// never by the local sender).
func (f *Frame) WithIdentity(id [16]byte) *Frame {
	f.Identity = id
	f.HasIdent = true
	return f
}

// Clone returns a cheap reference-counted copy sharing the same backing
// arrays. Used when a sender sets the REUSE flag (§6) and wants to retain
// ownership of the frame it just enqueued.
func (f *Frame) Clone() *Frame {
	if f.refs != nil {
		atomic.AddInt32(f.refs, 1)
	}
	clone := *f
	return &clone
}

// Release decrements the reference count. nitro's queues and pipes never
// need an explicit free (the GC reclaims the backing arrays once the last
// reference drops); Release exists so callers modeling ownership after the
// original C API can signal "done with this frame" explicitly, and so a
// future pooled-buffer allocator could reclaim storage without touching
// call sites.
func (f *Frame) Release() {
	if f.refs != nil {
		atomic.AddInt32(f.refs, -1)
	}
}
