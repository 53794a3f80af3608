package signaling

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/peerplay/internal/models"
	"github.com/mossy-p/peerplay/internal/wallet"
)

func TestClampDebounce(t *testing.T) {
	assert.Equal(t, DefaultDebounce, ClampDebounce(0))
	assert.Equal(t, MinDebounce, ClampDebounce(time.Millisecond))
	assert.Equal(t, MaxDebounce, ClampDebounce(time.Second))
	assert.Equal(t, 250*time.Millisecond, ClampDebounce(250*time.Millisecond))
}

func TestDebouncerRunsLatestOncePerWindow(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	var calls, last atomic.Int32

	for i := int32(1); i <= 5; i++ {
		v := i
		d.schedule(func() {
			calls.Add(1)
			last.Store(v)
		})
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(5), last.Load())

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDebouncerCancel(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	var calls atomic.Int32
	d.schedule(func() { calls.Add(1) })
	d.cancel()

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestDebouncerCancelWaitsForRunningFunc(t *testing.T) {
	d := newDebouncer(time.Millisecond)
	started, release := make(chan struct{}), make(chan struct{})
	var done atomic.Bool
	d.schedule(func() {
		close(started)
		<-release
		done.Store(true)
	})
	<-started

	cancelled := make(chan struct{})
	go func() {
		d.cancel()
		close(cancelled)
	}()
	select {
	case <-cancelled:
		t.Fatal("cancel returned while a publish was still being sent")
	case <-time.After(30 * time.Millisecond):
	}

	close(release)
	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("cancel never returned")
	}
	assert.True(t, done.Load())
}

func TestManualExchangeIsInert(t *testing.T) {
	var ex Exchange = Manual{}
	assert.NoError(t, ex.Publish(models.Listing{SessionID: "s1"}))
	assert.NoError(t, ex.Subscribe(func([]models.Listing) { t.Fatal("manual exchange never lists") }))
	assert.NoError(t, ex.SendTargeted(models.Answer{}))
	ex.OnTargeted(func(models.Answer) { t.Fatal("manual exchange never delivers") })
	assert.NoError(t, ex.Retract())
	assert.NoError(t, ex.Close())
}

func TestDialRelayFailures(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := DialRelay(ctx, RelayConfig{URL: "ws://127.0.0.1:1/ws/relay"})
	assert.Error(t, err)

	w, err := wallet.New("Ann")
	require.NoError(t, err)
	_, err = DialRelay(ctx, RelayConfig{URL: "ws://127.0.0.1:1/ws/relay", Signer: w, Token: "t"})
	assert.ErrorIs(t, err, ErrRelayUnavailable)
}
