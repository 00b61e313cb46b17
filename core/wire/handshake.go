package wire

import (
	"crypto/rand"
	"net"

	"golang.org/x/crypto/curve25519"
)

// GenerateEphemeral returns a fresh X25519 keypair for one handshake.
func GenerateEphemeral() (priv, pub [32]byte, err error) {
	if _, err = rand.Read(priv[:]); err != nil {
		return priv, pub, err
	}
	// Clamp per RFC 7748; curve25519.X25519 also clamps internally but
	// doing it here keeps the private key well-formed if ever inspected.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64

	pubSlice, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return priv, pub, err
	}
	copy(pub[:], pubSlice)
	return priv, pub, nil
}

// Handshake performs the unencrypted hello exchange of §4.3 over conn,
// then derives the per-direction Session from the X25519 shared secret.
// It returns the session and the peer's advertised identity. Either side
// of conn may call Handshake; there is no explicit client/server role.
func Handshake(conn net.Conn, selfIdent [16]byte, suite CipherSuite) (sess *Session, peerIdent [16]byte, err error) {
	priv, pub, err := GenerateEphemeral()
	if err != nil {
		return nil, peerIdent, err
	}

	mine := &Hello{Identity: selfIdent, PublicKey: pub, Version: ProtocolVersion}
	theirs, err := exchangeHellos(conn, mine)
	if err != nil {
		return nil, peerIdent, err
	}

	shared, err := curve25519.X25519(priv[:], theirs.PublicKey[:])
	if err != nil {
		return nil, peerIdent, ErrHandshakeFailed
	}

	sess, err = deriveSession(shared, pub, theirs.PublicKey, suite)
	if err != nil {
		return nil, peerIdent, err
	}
	return sess, theirs.Identity, nil
}
