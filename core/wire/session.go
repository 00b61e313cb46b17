package wire

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/hkdf"
)

// Session holds the per-pipe cryptographic state derived from a completed
// handshake: one AEAD key + nonce base per direction, and the replay
// floor for the receive direction. The derived keys live in
// memguard.LockedBuffer storage (mlocked, zeroed on Destroy) rather than
// plain byte arrays, the same treatment ratchet.go gives its chain and
// header keys.
//
// Nonce scheme (spec §4.3): the nonce is never put on the wire. Frames on
// a single pipe are delivered in enqueue order (§5) and TCP preserves byte
// order, so the receiver does not need to discover the sender's counter —
// it deterministically predicts "last accepted + 1" and attempts exactly
// that nonce. A genuine next frame always authenticates under it; a
// resent/replayed frame was sealed under a smaller counter and fails
// authentication under the predicted one, which is how ReplayRejected is
// surfaced without ever transmitting a counter.
type Session struct {
	suite CipherSuite

	writeKey  *memguard.LockedBuffer
	writeBase [nonceSize]byte
	writeCtr  uint64

	readKey     *memguard.LockedBuffer
	readBase    [nonceSize]byte
	readHighest uint64
}

// Destroy wipes and releases the session's locked key material. Safe to
// call more than once; safe to call on a nil Session.
func (s *Session) Destroy() {
	if s == nil {
		return
	}
	s.writeKey.Destroy()
	s.readKey.Destroy()
}

// deriveSession builds a Session from a completed X25519 exchange. myPub
// and theirPub order the two "directions" consistently on both ends
// without an explicit initiator/responder handshake role: whichever
// public key sorts first lexicographically names direction "A", the other
// "B", and each side derives its write/read material from the matching
// label.
func deriveSession(shared []byte, myPub, theirPub [32]byte, suite CipherSuite) (*Session, error) {
	myLabel, theirLabel := "A", "B"
	if bytes.Compare(myPub[:], theirPub[:]) > 0 {
		myLabel, theirLabel = "B", "A"
	}

	s := &Session{suite: suite}
	var writeKeyBuf, readKeyBuf [keySize]byte
	if err := kdf(shared, "nitro-wire-"+myLabel, writeKeyBuf[:], s.writeBase[:]); err != nil {
		return nil, err
	}
	if err := kdf(shared, "nitro-wire-"+theirLabel, readKeyBuf[:], s.readBase[:]); err != nil {
		return nil, err
	}
	s.writeKey = memguard.NewBufferFromBytes(writeKeyBuf[:])
	s.readKey = memguard.NewBufferFromBytes(readKeyBuf[:])
	s.writeCtr = binary.LittleEndian.Uint64(s.writeBase[nonceSize-8:])
	s.readHighest = binary.LittleEndian.Uint64(s.readBase[nonceSize-8:])
	return s, nil
}

func kdf(secret []byte, salt string, key, nonceBase []byte) error {
	r := hkdf.New(sha256.New, secret, []byte(salt), nil)
	if _, err := io.ReadFull(r, key); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, nonceBase); err != nil {
		return err
	}
	return nil
}

// Seal encrypts plaintext under the next outbound nonce, advancing the
// write counter.
func (s *Session) Seal(plaintext []byte) []byte {
	s.writeCtr++
	nonce := s.writeBase
	binary.LittleEndian.PutUint64(nonce[nonceSize-8:], s.writeCtr)
	key := s.writeKey.ByteArray32()
	return s.suite.Seal(nil, &nonce, plaintext, key)
}

// Open decrypts ciphertext under the predicted next inbound nonce. On
// success the replay floor advances; on failure the floor is left
// untouched and ErrReplayRejected is returned, matching §8's "counter
// stat_recv unchanged" invariant for rejected replays.
func (s *Session) Open(ciphertext []byte) ([]byte, error) {
	predicted := s.readHighest + 1
	nonce := s.readBase
	binary.LittleEndian.PutUint64(nonce[nonceSize-8:], predicted)
	key := s.readKey.ByteArray32()
	plaintext, ok := s.suite.Open(nil, &nonce, ciphertext, key)
	if !ok {
		return nil, ErrReplayRejected
	}
	s.readHighest = predicted
	return plaintext, nil
}
