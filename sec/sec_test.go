package sec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAesEcbRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	c, err := NewAesEcb(key)
	require.NoError(t, err)

	plain := make([]byte, 256)
	for i := range plain {
		plain[i] = byte(i * 7)
	}

	ciph := make([]byte, len(plain))
	require.NoError(t, c.Encrypt(ciph, plain))
	assert.NotEqual(t, plain, ciph)

	// In-place decryption, the way the ingestion path uses it.
	require.NoError(t, c.Decrypt(ciph, ciph))
	assert.Equal(t, plain, ciph)
}

func TestAesEcbRejectsBadInput(t *testing.T) {
	_, err := NewAesEcb(make([]byte, 15))
	assert.Error(t, err)

	c, err := NewAesEcb(make([]byte, 16))
	require.NoError(t, err)

	assert.Error(t, c.Decrypt(make([]byte, 20), make([]byte, 20)))
	assert.Error(t, c.Decrypt(make([]byte, 16), make([]byte, 32)))
}

func TestParseImageKey(t *testing.T) {
	raw := make([]byte, 16)
	for i := range raw {
		raw[i] = byte(0x40 + i)
	}

	key, err := ParseImageKey(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, key)

	key, err = ParseImageKey([]byte("404142434445464748494a4b4c4d4e4f"))
	require.NoError(t, err)
	assert.Len(t, key, 16)

	_, err = ParseImageKey([]byte("not a key"))
	assert.Error(t, err)
}

func TestWrapUnwrapImageKey(t *testing.T) {
	kek := make([]byte, 16)
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}

	wrapped, err := WrapImageKey(kek, key)
	require.NoError(t, err)
	assert.NotEqual(t, key, wrapped)

	unwrapped, err := UnwrapImageKey(kek, wrapped)
	require.NoError(t, err)
	assert.Equal(t, key, unwrapped)

	// Wrong KEK must fail the integrity check, not return garbage.
	bad := make([]byte, 16)
	bad[0] = 1
	_, err = UnwrapImageKey(bad, wrapped)
	assert.Error(t, err)
}

func TestDigest(t *testing.T) {
	body := []byte("firmware body")

	d := CalcDigest(body)
	require.Len(t, d, DIGEST_SIZE)
	require.NoError(t, CheckDigest(d, d))

	flipped := append([]byte(nil), d...)
	flipped[0] ^= 0x01
	assert.Error(t, CheckDigest(d, flipped))
	assert.Error(t, CheckDigest(d, d[:DIGEST_SIZE-1]))
}

func TestSignVerifyDigest(t *testing.T) {
	pub, priv, err := GenerateSignKey()
	require.NoError(t, err)

	digest := CalcDigest([]byte("firmware body"))
	sig := SignDigest(priv, digest)
	require.Len(t, sig, SIG_SIZE)

	require.NoError(t, VerifyDigestSig(pub, digest, sig))

	bad := append([]byte(nil), sig...)
	bad[3] ^= 0x80
	assert.Error(t, VerifyDigestSig(pub, digest, bad))

	other := CalcDigest([]byte("different body"))
	assert.Error(t, VerifyDigestSig(pub, other, sig))
	assert.Error(t, VerifyDigestSig(pub[:16], digest, sig))
}
