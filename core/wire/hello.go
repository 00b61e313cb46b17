package wire

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/fxamacker/cbor/v2"
)

// ProtocolVersion is the version advertised in every Hello. A mismatch
// fails the handshake per §4.3.
const ProtocolVersion uint64 = 1

// Hello is the unencrypted first message exchanged on a new TCP
// connection: self identity, ephemeral X25519 public key, protocol
// version. CBOR-encoded rather than a raw C-struct layout, per the
// ambient-stack decision in SPEC_FULL.md; a 2-byte length prefix frames it
// on the wire since CBOR's encoded size, while deterministic for this
// fixed field set, is not itself self-delimiting on a stream.
type Hello struct {
	Identity  [16]byte
	PublicKey [32]byte
	Version   uint64
}

func writeHello(w io.Writer, h *Hello) error {
	b, err := cbor.Marshal(h)
	if err != nil {
		return err
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

func readHello(r io.Reader) (*Hello, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, ErrHandshakeFailed
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, ErrHandshakeFailed
	}
	h := new(Hello)
	if err := cbor.Unmarshal(buf, h); err != nil {
		return nil, ErrHandshakeFailed
	}
	var zero [16]byte
	if h.Identity == zero {
		return nil, ErrHandshakeFailed
	}
	if h.Version != ProtocolVersion {
		return nil, ErrHandshakeFailed
	}
	return h, nil
}

// exchangeHellos writes our hello and concurrently reads the peer's, so
// neither side has to be designated dialer/listener for handshake purposes
// (the Pipe state machine still tracks Connecting->HelloSent separately
// from the TCP accept/connect roles).
func exchangeHellos(conn net.Conn, mine *Hello) (*Hello, error) {
	type result struct {
		hello *Hello
		err   error
	}
	done := make(chan result, 1)
	go func() {
		h, err := readHello(conn)
		done <- result{h, err}
	}()
	if err := writeHello(conn, mine); err != nil {
		return nil, ErrHandshakeFailed
	}
	res := <-done
	if res.err != nil {
		return nil, res.err
	}
	return res.hello, nil
}
