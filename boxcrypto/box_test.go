package boxcrypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	pubA, secA, err := KeyPair()
	require.NoError(t, err)
	pubB, secB, err := KeyPair()
	require.NoError(t, err)

	nonce, err := RandomNonce()
	require.NoError(t, err)

	msg := []byte("hello friend")
	ct := Encrypt(pubB, secA, nonce, msg)
	require.Len(t, ct, len(msg)+Overhead)

	pt, err := Decrypt(pubA, secB, nonce, ct)
	require.NoError(t, err)
	require.Equal(t, msg, pt)

	// Tamper any byte and decryption must fail.
	tampered := append([]byte(nil), ct...)
	tampered[0] ^= 0xFF
	_, err = Decrypt(pubA, secB, nonce, tampered)
	require.ErrorIs(t, err, ErrDecryptFailed)
}

func TestPrecomputeMatchesDirect(t *testing.T) {
	pubA, secA, _ := KeyPair()
	pubB, secB, _ := KeyPair()
	nonce, _ := RandomNonce()
	msg := []byte("precomputed path")

	shared := Precompute(pubB, secA)
	ct := EncryptFast(shared, nonce, msg)

	sharedB := Precompute(pubA, secB)
	pt, err := DecryptFast(sharedB, nonce, ct)
	require.NoError(t, err)
	require.Equal(t, msg, pt)
}

func TestIncrementNonceWraps(t *testing.T) {
	var n Nonce
	for i := range n {
		n[i] = 0xFF
	}
	IncrementNonce(&n)
	require.Equal(t, Nonce{}, n)

	var n2 Nonce
	n2[len(n2)-1] = 0xFE
	n2[len(n2)-2] = 0x00
	for i := 0; i < 255; i++ {
		IncrementNonce(&n2)
	}
	require.Equal(t, byte(0x01), n2[len(n2)-2])
	require.Equal(t, byte(0xFD), n2[len(n2)-1])
}
