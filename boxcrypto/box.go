// Package boxcrypto wraps golang.org/x/crypto/nacl/box into the small,
// spec-shaped API the rest of the DHT core calls: keypair generation,
// authenticated encrypt/decrypt, precomputed shared keys, and nonce
// handling. See spec.md §4.2.
package boxcrypto

import (
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/nacl/box"

	"github.com/quietmesh/dhtcore/dhttype"
)

const (
	// NonceSize is the length of a nacl/box nonce.
	NonceSize = 24
	// Overhead is the fixed MAC expansion box.Seal adds to every message.
	Overhead = box.Overhead
)

type (
	PublicKey = [32]byte
	SecretKey = [32]byte
	Nonce     = [NonceSize]byte
	// SharedKey is a precomputed shared secret from Precompute.
	SharedKey = [32]byte
)

// KeyPair generates a fresh curve25519 keypair using crypto/rand.
func KeyPair() (pub PublicKey, sec SecretKey, err error) {
	p, s, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return pub, sec, err
	}
	return *p, *s, nil
}

// PublicKeyOf returns the NodeID view of a public key (they are the same
//32 bytes; NodeID is the identity, PublicKey is the crypto role).
func PublicKeyOf(id dhttype.NodeID) PublicKey {
	return PublicKey(id)
}

// NodeIDOf is the inverse of PublicKeyOf.
func NodeIDOf(pub PublicKey) dhttype.NodeID {
	return dhttype.NodeID(pub)
}

// RandomNonce draws a fresh random nonce.
func RandomNonce() (Nonce, error) {
	var n Nonce
	if _, err := io.ReadFull(rand.Reader, n[:]); err != nil {
		return n, err
	}
	return n, nil
}

// IncrementNonce adds one to a nonce, treated as a big-endian unsigned
// integer, wrapping on overflow. Per spec.md §8's nonce-monotonicity
// invariant.
func IncrementNonce(n *Nonce) {
	for i := len(n) - 1; i >= 0; i-- {
		n[i]++
		if n[i] != 0 {
			return
		}
	}
}

// Encrypt authenticated-encrypts plaintext from sender to recipient under
// nonce. Output length is len(plaintext) + Overhead.
func Encrypt(recipientPub PublicKey, senderSec SecretKey, nonce Nonce, plaintext []byte) []byte {
	return box.Seal(nil, plaintext, &nonce, &recipientPub, &senderSec)
}

// ErrDecryptFailed is returned when the MAC does not verify; the caller
// must drop the packet, per spec.md §4.2.
var ErrDecryptFailed = errors.New("boxcrypto: MAC verification failed")

// Decrypt authenticated-decrypts ciphertext sent by senderPub to
// recipientSec. Returns ErrDecryptFailed on any tampering.
func Decrypt(senderPub PublicKey, recipientSec SecretKey, nonce Nonce, ciphertext []byte) ([]byte, error) {
	out, ok := box.Open(nil, ciphertext, &nonce, &senderPub, &recipientSec)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return out, nil
}

// Precompute derives a shared key for repeated encrypt/decrypt with the
// same peer, avoiding the scalar multiplication on every call.
func Precompute(theirPub PublicKey, ourSec SecretKey) SharedKey {
	var shared SharedKey
	box.Precompute(&shared, &theirPub, &ourSec)
	return shared
}

// EncryptFast encrypts using a precomputed shared key.
func EncryptFast(shared SharedKey, nonce Nonce, plaintext []byte) []byte {
	return box.SealAfterPrecomputation(nil, plaintext, &nonce, &shared)
}

// DecryptFast decrypts using a precomputed shared key.
func DecryptFast(shared SharedKey, nonce Nonce, ciphertext []byte) ([]byte, error) {
	out, ok := box.OpenAfterPrecomputation(nil, ciphertext, &nonce, &shared)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return out, nil
}
