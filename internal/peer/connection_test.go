package peer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mossy-p/peerplay/internal/peer"
	"github.com/mossy-p/peerplay/internal/peer/peertest"
)

const wait = 2 * time.Second

type statusLog struct {
	mu       sync.Mutex
	statuses []peer.Status
	closes   int
	cause    error
}

func (l *statusLog) options() []peer.Option {
	return []peer.Option{
		peer.WithStatusHandler(func(_ *peer.Connection, s peer.Status) {
			l.mu.Lock()
			l.statuses = append(l.statuses, s)
			l.mu.Unlock()
		}),
		peer.WithCloseHandler(func(_ *peer.Connection, err error) {
			l.mu.Lock()
			l.closes++
			l.cause = err
			l.mu.Unlock()
		}),
	}
}

func (l *statusLog) snapshot() ([]peer.Status, int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]peer.Status(nil), l.statuses...), l.closes, l.cause
}

func handshake(t *testing.T, n *peertest.Network) (*peer.Connection, *peer.Connection, *statusLog, *statusLog) {
	t.Helper()
	hostLog, guestLog := &statusLog{}, &statusLog{}

	host := peer.NewConnection("conn-1", n.NewTransport(), hostLog.options()...)
	offer, err := host.CreateOffer("host")
	require.NoError(t, err)
	assert.Equal(t, peer.StatusStarted, host.Status())

	blob, err := offer.Encode()
	require.NoError(t, err)
	decoded, err := peer.DecodeSignal(blob)
	require.NoError(t, err)

	guest := peer.NewConnection(decoded.ConnectionID, n.NewTransport(), guestLog.options()...)
	answer, err := guest.AcceptOffer(decoded, "guest")
	require.NoError(t, err)
	assert.Equal(t, "host", guest.RemoteName())

	require.NoError(t, host.AcceptAnswer(answer))
	assert.Equal(t, "guest", host.RemoteName())

	require.Eventually(t, func() bool {
		return host.Status() == peer.StatusConnected && guest.Status() == peer.StatusConnected
	}, wait, 5*time.Millisecond)
	return host, guest, hostLog, guestLog
}

func TestSignalEncodeDecode(t *testing.T) {
	sig := peer.Signal{
		ConnectionID:       "abc",
		SessionDescription: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"},
		PlayerName:         "alice",
	}
	blob, err := sig.Encode()
	require.NoError(t, err)

	got, err := peer.DecodeSignal("  " + blob + "\n")
	require.NoError(t, err)
	assert.Equal(t, "abc", got.ConnectionID)
	assert.Equal(t, "alice", got.PlayerName)
	assert.Empty(t, got.ICECandidates)
}

func TestDecodeSignalRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not base64":   "%%%",
		"not json":     "bm90IGpzb24=",
		"missing id":   "eyJzZXNzaW9uRGVzY3JpcHRpb24iOnsidHlwZSI6Im9mZmVyIiwic2RwIjoidj0wIn19",
		"empty object": "e30=",
	}
	for name, blob := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := peer.DecodeSignal(blob)
			assert.ErrorIs(t, err, peer.ErrMalformedSignal)
		})
	}
}

func TestHandshakeStatusIsMonotonic(t *testing.T) {
	n := peertest.NewNetwork()
	_, _, hostLog, guestLog := handshake(t, n)

	hostStatuses, _, _ := hostLog.snapshot()
	assert.Equal(t, []peer.Status{peer.StatusStarted, peer.StatusAnswered, peer.StatusConnected}, hostStatuses)

	guestStatuses, _, _ := guestLog.snapshot()
	assert.Equal(t, []peer.Status{peer.StatusAnswered, peer.StatusConnected}, guestStatuses)
}

func TestCloseIsIdempotent(t *testing.T) {
	n := peertest.NewNetwork()
	host, _, hostLog, _ := handshake(t, n)

	require.NoError(t, host.Close())
	require.NoError(t, host.Close())

	statuses, closes, cause := hostLog.snapshot()
	assert.Equal(t, 1, closes)
	assert.NoError(t, cause)
	assert.Equal(t, peer.StatusClosed, statuses[len(statuses)-1])
	assert.Equal(t, peer.StatusClosed, host.Status())
}

func TestRemoteCloseForcesClosed(t *testing.T) {
	n := peertest.NewNetwork()
	host, guest, _, guestLog := handshake(t, n)

	require.NoError(t, host.Close())
	require.Eventually(t, func() bool { return guest.Status() == peer.StatusClosed }, wait, 5*time.Millisecond)

	_, closes, cause := guestLog.snapshot()
	assert.Equal(t, 1, closes)
	assert.ErrorIs(t, cause, peer.ErrTransportFailure)
	assert.ErrorIs(t, guest.Send([]byte("x")), peer.ErrClosed)
}

func TestCloseBeforeNegotiation(t *testing.T) {
	n := peertest.NewNetwork()
	log := &statusLog{}
	c := peer.NewConnection("c", n.NewTransport(), log.options()...)

	require.NoError(t, c.Close())
	_, err := c.CreateOffer("x")
	assert.ErrorIs(t, err, peer.ErrInvalidTransition)

	_, closes, _ := log.snapshot()
	assert.Equal(t, 1, closes)
}

func TestSendDeliversInOrder(t *testing.T) {
	n := peertest.NewNetwork()
	host, guest, _, _ := handshake(t, n)

	var mu sync.Mutex
	var got []string
	id := guest.AddMessageListener(func(b []byte) {
		mu.Lock()
		got = append(got, string(b))
		mu.Unlock()
	})

	for _, m := range []string{"a", "b", "c", "d"} {
		require.NoError(t, host.Send([]byte(m)))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 4
	}, wait, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
	mu.Unlock()

	guest.RemoveMessageListener(id)
	require.NoError(t, host.Send([]byte("e")))
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.Len(t, got, 4)
	mu.Unlock()
}

func TestCandidatesFoldIntoOutgoingSignal(t *testing.T) {
	n := peertest.NewNetwork()
	c := peer.NewConnection("c", n.NewTransport())

	_, err := c.Signal()
	assert.ErrorIs(t, err, peer.ErrInvalidTransition)

	_, err = c.CreateOffer("host")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	require.NoError(t, c.WaitGathered(ctx))

	sig, err := c.Signal()
	require.NoError(t, err)
	assert.Len(t, sig.ICECandidates, 1)
	assert.Equal(t, "host", sig.PlayerName)
}

func TestAcceptAnswerRequiresStarted(t *testing.T) {
	n := peertest.NewNetwork()
	c := peer.NewConnection("c", n.NewTransport())
	answer := peer.Signal{
		ConnectionID:       "c",
		SessionDescription: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "loopback lb-99"},
	}
	err := c.AcceptAnswer(answer)
	assert.ErrorIs(t, err, peer.ErrInvalidTransition)
	assert.Equal(t, peer.StatusNew, c.Status())
}

func TestTransportFailureClosesBothEnds(t *testing.T) {
	n := peertest.NewNetwork()
	hostT := n.NewTransport()
	host := peer.NewConnection("c", hostT)
	offer, err := host.CreateOffer("h")
	require.NoError(t, err)
	guest := peer.NewConnection("c", n.NewTransport())
	answer, err := guest.AcceptOffer(offer, "g")
	require.NoError(t, err)
	require.NoError(t, host.AcceptAnswer(answer))
	require.Eventually(t, func() bool { return host.Status() == peer.StatusConnected }, wait, 5*time.Millisecond)

	hostT.Fail()
	require.Eventually(t, func() bool {
		return host.Status() == peer.StatusClosed && guest.Status() == peer.StatusClosed
	}, wait, 5*time.Millisecond)
	assert.ErrorIs(t, host.Err(), peer.ErrTransportFailure)
}
