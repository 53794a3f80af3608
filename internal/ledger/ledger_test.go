package ledger

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/peerplay/internal/wallet"
)

func fixedClock() func() time.Time {
	t0 := time.UnixMilli(1_700_000_000_000)
	return func() time.Time { return t0 }
}

func newWallet(t *testing.T, name string) *wallet.Wallet {
	t.Helper()
	w, err := wallet.New(name)
	require.NoError(t, err)
	return w
}

func appendSigned(t *testing.T, l *Ledger, w *wallet.Wallet, typ string, payload any) Entry {
	t.Helper()
	a, err := NewAction(typ, payload)
	require.NoError(t, err)
	sig, pub, err := SignAction(w, a)
	require.NoError(t, err)
	e, err := l.Append(a, sig, pub)
	require.NoError(t, err)
	return e
}

func TestAppendAssignsIndexes(t *testing.T) {
	host := newWallet(t, "host")
	l := New(wallet.Ed25519, WithClock(fixedClock()))

	e0 := appendSigned(t, l, host, "BEGIN", nil)
	e1 := appendSigned(t, l, host, "ROLL_DICE", map[string]int{"value": 4})

	assert.Equal(t, 0, e0.Index)
	assert.Equal(t, 1, e1.Index)
	assert.Equal(t, int64(1_700_000_000_000), e1.Timestamp)
	assert.Equal(t, 2, l.Len())
	assert.True(t, e1.Verify(wallet.Ed25519))
}

func TestAppendRejectsForgedSignature(t *testing.T) {
	host := newWallet(t, "host")
	mallory := newWallet(t, "mallory")
	l := New(wallet.Ed25519)

	a, err := NewAction("ROLL_DICE", map[string]int{"value": 6})
	require.NoError(t, err)
	sig, _, err := SignAction(mallory, a)
	require.NoError(t, err)

	_, err = l.Append(a, sig, host.Identity().PublicKey)
	assert.ErrorIs(t, err, ErrVerification)
	assert.Equal(t, 0, l.Len())
}

func TestMutatedActionFailsVerification(t *testing.T) {
	host := newWallet(t, "host")
	l := New(wallet.Ed25519)
	e := appendSigned(t, l, host, "ROLL_DICE", map[string]int{"value": 4})
	require.True(t, e.Verify(wallet.Ed25519))

	tampered := e
	tampered.Action.Payload = json.RawMessage(`{"value":5}`)
	assert.False(t, tampered.Verify(wallet.Ed25519))

	retyped := e
	retyped.Action.Type = "ROLL_DICF"
	assert.False(t, retyped.Verify(wallet.Ed25519))
}

func TestMergeDeltaAndFull(t *testing.T) {
	host := newWallet(t, "host")
	src := New(wallet.Ed25519)
	for i := 0; i < 3; i++ {
		appendSigned(t, src, host, "END_PHASE", nil)
	}

	dst := New(wallet.Ed25519)
	added, err := dst.Merge(src.Entries()[:2])
	require.NoError(t, err)
	assert.Len(t, added, 2)

	// Full resend overlaps the known prefix.
	added, err = dst.Merge(src.Entries())
	require.NoError(t, err)
	require.Len(t, added, 1)
	assert.Equal(t, 2, added[0].Index)

	// Delta only.
	appendSigned(t, src, host, "END_PHASE", nil)
	added, err = dst.Merge(src.Since(3))
	require.NoError(t, err)
	assert.Len(t, added, 1)
	assert.Equal(t, src.Entries(), dst.Entries())
}

func TestMergeRejectsForgedBatchWhole(t *testing.T) {
	host := newWallet(t, "host")
	mallory := newWallet(t, "mallory")
	src := New(wallet.Ed25519)
	appendSigned(t, src, host, "BEGIN", nil)
	appendSigned(t, src, host, "END_PHASE", nil)

	batch := src.Entries()
	forgedAction, err := NewAction("ROLL_DICE", map[string]int{"value": 6})
	require.NoError(t, err)
	sig, _, err := SignAction(mallory, forgedAction)
	require.NoError(t, err)
	batch = append(batch, Entry{
		Index:           2,
		Action:          forgedAction,
		Signature:       sig,
		SignerPublicKey: host.Identity().PublicKey,
	})

	peers := []*Ledger{New(wallet.Ed25519), New(wallet.Ed25519)}
	for _, p := range peers {
		_, err := p.Merge(batch)
		assert.ErrorIs(t, err, ErrVerification)
		assert.Equal(t, 0, p.Len())
	}
}

func TestMergeRejectsConflictAndGap(t *testing.T) {
	host := newWallet(t, "host")
	a := New(wallet.Ed25519)
	appendSigned(t, a, host, "BEGIN", nil)
	appendSigned(t, a, host, "END_PHASE", nil)

	b := New(wallet.Ed25519)
	appendSigned(t, b, host, "BEGIN", nil)
	appendSigned(t, b, host, "ROLL_DICE", map[string]int{"value": 2})

	_, err := b.Merge(a.Entries())
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 2, b.Len())

	appendSigned(t, a, host, "END_PHASE", nil)
	fresh := New(wallet.Ed25519)
	_, err = fresh.Merge(a.Since(2))
	assert.ErrorIs(t, err, ErrGap)
	assert.Equal(t, 0, fresh.Len())
}

func TestLoadAndReset(t *testing.T) {
	host := newWallet(t, "host")
	src := New(wallet.Ed25519)
	appendSigned(t, src, host, "BEGIN", nil)
	appendSigned(t, src, host, "END_PHASE", nil)

	l := New(wallet.Ed25519)
	require.NoError(t, l.Load(src.Entries()))
	assert.Equal(t, 2, l.Len())

	shuffled := src.Entries()
	shuffled[0], shuffled[1] = shuffled[1], shuffled[0]
	assert.ErrorIs(t, New(wallet.Ed25519).Load(shuffled), ErrGap)

	l.Reset()
	assert.Equal(t, 0, l.Len())
	assert.Nil(t, l.Since(0))
}
