package xcrypto

import (
	"crypto/rand"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/schnorr"
)

// PrivateKey is a consensus/session signing key.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// PublicKey is the counterpart used for verification and ECDH.
type PublicKey struct {
	key *secp256k1.PublicKey
}

// GenerateKey creates a fresh random keypair.
func GenerateKey() (PrivateKey, error) {
	k, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return PrivateKey{}, fmt.Errorf("generate key: %w", err)
	}
	return PrivateKey{key: k}, nil
}

// Public returns the public half of priv.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey{key: priv.key.PubKey()}
}

// Bytes returns the 32-byte scalar encoding of the private key.
func (priv PrivateKey) Bytes() []byte {
	return priv.key.Serialize()
}

// PrivateKeyFromBytes parses a 32-byte scalar.
func PrivateKeyFromBytes(b []byte) (PrivateKey, error) {
	if len(b) != 32 {
		return PrivateKey{}, fmt.Errorf("private key must be 32 bytes, got %d", len(b))
	}
	k := secp256k1.PrivKeyFromBytes(b)
	return PrivateKey{key: k}, nil
}

// Bytes returns the 33-byte compressed encoding of the public key.
func (pub PublicKey) Bytes() []byte {
	if pub.key == nil {
		return nil
	}
	return pub.key.SerializeCompressed()
}

// PublicKeyFromBytes parses a compressed public key.
func PublicKeyFromBytes(b []byte) (PublicKey, error) {
	k, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return PublicKey{}, fmt.Errorf("parse public key: %w", err)
	}
	return PublicKey{key: k}, nil
}

func (pub PublicKey) String() string {
	return fmt.Sprintf("%x", pub.Bytes())
}

// Equal reports whether two public keys encode the same point.
func (pub PublicKey) Equal(other PublicKey) bool {
	if pub.key == nil || other.key == nil {
		return pub.key == other.key
	}
	return pub.key.IsEqual(other.key)
}

// Sign produces a Schnorr signature (BIP-340 style, as implemented by
// decred's secp256k1/schnorr package) over digest.
func (priv PrivateKey) Sign(digest H256) (Signature, error) {
	sig, err := schnorr.Sign(priv.key, digest[:])
	if err != nil {
		return Signature{}, fmt.Errorf("schnorr sign: %w", err)
	}
	var out Signature
	copy(out[:], sig.Serialize())
	return out, nil
}

// Signature is a 64-byte Schnorr signature.
type Signature [64]byte

// Verify checks sig over digest against pub.
func (sig Signature) Verify(pub PublicKey, digest H256) bool {
	parsed, err := schnorr.ParseSignature(sig[:])
	if err != nil {
		return false
	}
	return parsed.Verify(digest[:], pub.key)
}

func (sig Signature) Bytes() []byte { return sig[:] }

// SignatureFromBytes parses a 64-byte signature.
func SignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != 64 {
		return Signature{}, fmt.Errorf("signature must be 64 bytes, got %d", len(b))
	}
	var out Signature
	copy(out[:], b)
	return out, nil
}

// ECDH derives a shared secret from priv and the peer's public key, for the
// C7 session-initiator handshake.
func ECDH(priv PrivateKey, peer PublicKey) [32]byte {
	secret := secp256k1.GenerateSharedSecret(priv.key, peer.key)
	var out [32]byte
	copy(out[:], secret)
	return out
}

// RandomNonce returns a fresh random 24-byte nonce suitable for
// chacha20poly1305.NewX.
func RandomNonce() ([24]byte, error) {
	var n [24]byte
	if _, err := rand.Read(n[:]); err != nil {
		return n, fmt.Errorf("random nonce: %w", err)
	}
	return n, nil
}
