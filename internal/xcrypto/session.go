package xcrypto

import (
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Session is the pair (shared_secret, nonce) derived by the C7 handshake;
// it is the sole input to the AEAD used on the established TCP stream and
// on the UDP handshake's own encrypted fields.
type Session struct {
	Secret [32]byte
	Nonce  [24]byte
}

// ZeroNonceSession builds the "temporary session" used for the initial
// NonceRequest/NonceAllowed round of the handshake: the shared secret with
// an all-zero nonce.
func ZeroNonceSession(secret [32]byte) Session {
	return Session{Secret: secret}
}

// Seal encrypts and authenticates plaintext under the session, binding aad
// (e.g. a sequence number) as associated data.
func (s Session) Seal(plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.Secret[:])
	if err != nil {
		return nil, fmt.Errorf("new aead: %w", err)
	}
	return aead.Seal(nil, s.Nonce[:], plaintext, aad), nil
}

// Open decrypts and authenticates ciphertext under the session.
func (s Session) Open(ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.Secret[:])
	if err != nil {
		return nil, fmt.Errorf("new aead: %w", err)
	}
	out, err := aead.Open(nil, s.Nonce[:], ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("session open: %w", ErrMAC)
	}
	return out, nil
}

// ErrMAC is returned (wrapped) when a session decryption fails
// authentication; per spec §7, MAC failures ban the offending peer.
var ErrMAC = fmt.Errorf("mac verification failed")
