package wire

import "errors"

var (
	// ErrHandshakeFailed covers a malformed hello, a mismatched protocol
	// version, or a zero identity.
	ErrHandshakeFailed = errors.New("nitro: handshake failed")
	// ErrReplayRejected is returned when a decoded frame's nonce counter
	// is not strictly greater than the highest previously accepted
	// counter from that peer.
	ErrReplayRejected = errors.New("nitro: replay rejected")
	// ErrShortRead is returned when the stream ends mid-frame.
	ErrShortRead = errors.New("nitro: short read")
	// ErrUnknownCipher is returned by NewCipherSuite for an unrecognized
	// suite name.
	ErrUnknownCipher = errors.New("nitro: unknown cipher suite")
)
