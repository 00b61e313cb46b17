// Package wire implements the length-prefixed, authenticated,
// nonce-sequenced frame encoder/decoder of spec §4.3, plus the handshake
// (handshake.go) and pluggable AEAD (cipher.go) it depends on.
package wire

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/nitroio/nitro/core/frame"
)

const (
	flagHasIdentity = 1 << 0
	flagIsSub       = 1 << 1
)

// MaxWireFrame bounds the declared length field to prevent a corrupt or
// hostile peer from making Decode allocate an unbounded buffer.
const MaxWireFrame = frame.MaxPayload + frame.MaxKeyLen + 1 + 1 + 16 + 64 // +cipher overhead headroom

var errFrameTooLarge = frame.ErrFrameTooLarge

// Encode writes f to w as one wire frame. If sess is non-nil the
// flags||K||key||payload concatenation is sealed under the session's
// next outbound nonce before the length prefix is computed; if sess is
// nil the frame is written in the clear (used by tests and by any
// transport that does its own framing, such as inproc, which never calls
// through this codec at all).
func Encode(w io.Writer, f *frame.Frame, sess *Session) error {
	if len(f.Key) > frame.MaxKeyLen || len(f.Payload) > frame.MaxPayload {
		return errFrameTooLarge
	}

	flags := byte(0)
	if f.HasIdent {
		flags |= flagHasIdentity
	}
	if f.IsSub {
		flags |= flagIsSub
	}

	inner := make([]byte, 0, 1+16+1+len(f.Key)+len(f.Payload))
	inner = append(inner, flags)
	if f.HasIdent {
		inner = append(inner, f.Identity[:]...)
	}
	inner = append(inner, byte(len(f.Key)))
	inner = append(inner, f.Key...)
	inner = append(inner, f.Payload...)

	wire := inner
	if sess != nil {
		wire = sess.Seal(inner)
	}
	if len(wire) > MaxWireFrame {
		return errFrameTooLarge
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(wire)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(wire)
	return err
}

var errDecodeMalformed = errors.New("nitro: malformed frame")

// Decode reads one wire frame from r. sess mirrors Encode's convention.
func Decode(r io.Reader, sess *Session) (*frame.Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrShortRead
		}
		return nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 || int(n) > MaxWireFrame {
		return nil, errFrameTooLarge
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrShortRead
		}
		return nil, err
	}

	inner := raw
	if sess != nil {
		plain, err := sess.Open(raw)
		if err != nil {
			return nil, err
		}
		inner = plain
	}
	return decodeInner(inner)
}

func decodeInner(inner []byte) (*frame.Frame, error) {
	if len(inner) < 1 {
		return nil, errDecodeMalformed
	}
	flags := inner[0]
	rest := inner[1:]

	f := &frame.Frame{IsSub: flags&flagIsSub != 0}

	if flags&flagHasIdentity != 0 {
		if len(rest) < 16 {
			return nil, errDecodeMalformed
		}
		copy(f.Identity[:], rest[:16])
		f.HasIdent = true
		rest = rest[16:]
	}

	if len(rest) < 1 {
		return nil, errDecodeMalformed
	}
	k := int(rest[0])
	rest = rest[1:]
	if len(rest) < k {
		return nil, errDecodeMalformed
	}
	f.Key = append([]byte(nil), rest[:k]...)
	f.Payload = append([]byte(nil), rest[k:]...)
	return f, nil
}
