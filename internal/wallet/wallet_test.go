package wallet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	w, err := New("alice")
	require.NoError(t, err)

	data := []byte(`{"type":"ROLL_DICE","payload":{"value":4}}`)
	sig, err := w.Sign(data)
	require.NoError(t, err)

	id := w.Identity()
	assert.Equal(t, "alice", id.Name)
	assert.Len(t, id.PublicKey, 64)
	assert.True(t, w.Verify(data, sig, id.PublicKey))

	tampered := append([]byte(nil), data...)
	tampered[len(tampered)-3] = '5'
	assert.False(t, Verify(tampered, sig, id.PublicKey))
}

func TestVerifyRejectsGarbage(t *testing.T) {
	w, err := New("bob")
	require.NoError(t, err)
	sig, err := w.Sign([]byte("x"))
	require.NoError(t, err)

	assert.False(t, Verify([]byte("x"), "zz", w.Identity().PublicKey))
	assert.False(t, Verify([]byte("x"), sig, "abcd"))

	other, err := New("mallory")
	require.NoError(t, err)
	assert.False(t, Verify([]byte("x"), sig, other.Identity().PublicKey))
}

func TestFromSeedRoundTrip(t *testing.T) {
	w, err := New("carol")
	require.NoError(t, err)

	restored, err := FromSeed("carol", w.Seed())
	require.NoError(t, err)
	assert.Equal(t, w.Identity(), restored.Identity())

	_, err = FromSeed("carol", "beef")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
