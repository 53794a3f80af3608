// Package peertest provides an in-process Transport for tests and offline
// demos. Links negotiate through fake session descriptions and deliver
// messages in order on a per-transport event loop.
package peertest

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/mossy-p/peerplay/internal/peer"
)

const sdpPrefix = "loopback "

var ErrUnknownPeer = errors.New("unknown loopback peer")

// Network connects loopback transports to each other.
type Network struct {
	mu         sync.Mutex
	seq        int
	transports map[string]*Transport
}

func NewNetwork() *Network {
	return &Network{transports: make(map[string]*Transport)}
}

// Factory returns a peer.TransportFactory bound to this network.
func (n *Network) Factory() peer.TransportFactory {
	return func() (peer.Transport, error) {
		return n.NewTransport(), nil
	}
}

func (n *Network) NewTransport() *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	t := &Transport{
		id:     fmt.Sprintf("lb-%d", n.seq),
		net:    n,
		events: make(chan func(), 256),
		done:   make(chan struct{}),
	}
	n.transports[t.id] = t
	go t.loop()
	return t
}

func (n *Network) lookup(sdp string) (*Transport, error) {
	id, ok := strings.CutPrefix(sdp, sdpPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPeer, sdp)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.transports[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}
	return t, nil
}

// Transport is a loopback peer.Transport.
type Transport struct {
	id  string
	net *Network

	mu          sync.Mutex
	remote      *Transport
	closed      bool
	onCandidate func(*webrtc.ICECandidateInit)
	onLink      func(peer.LinkState)
	onMessage   func([]byte)

	events    chan func()
	done      chan struct{}
	closeOnce sync.Once
}

func (t *Transport) ID() string { return t.id }

func (t *Transport) loop() {
	for {
		select {
		case fn := <-t.events:
			fn()
		case <-t.done:
			return
		}
	}
}

func (t *Transport) post(fn func()) {
	select {
	case <-t.done:
	case t.events <- fn:
	}
}

func (t *Transport) description(typ webrtc.SDPType) webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: typ, SDP: sdpPrefix + t.id}
}

func (t *Transport) gather() {
	t.post(func() {
		t.mu.Lock()
		fn := t.onCandidate
		t.mu.Unlock()
		if fn == nil {
			return
		}
		cand := webrtc.ICECandidateInit{Candidate: "candidate:1 1 udp 1 127.0.0.1 9 typ host " + t.id}
		fn(&cand)
		fn(nil)
	})
}

func (t *Transport) CreateOffer() (webrtc.SessionDescription, error) {
	t.gather()
	return t.description(webrtc.SDPTypeOffer), nil
}

func (t *Transport) Answer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	remote, err := t.net.lookup(offer.SDP)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	t.mu.Lock()
	t.remote = remote
	t.mu.Unlock()
	t.gather()
	return t.description(webrtc.SDPTypeAnswer), nil
}

func (t *Transport) SetAnswer(answer webrtc.SessionDescription) error {
	remote, err := t.net.lookup(answer.SDP)
	if err != nil {
		return err
	}
	remote.mu.Lock()
	paired := remote.remote == t
	remote.mu.Unlock()
	if !paired {
		return fmt.Errorf("%w: %s did not answer %s", ErrUnknownPeer, remote.id, t.id)
	}

	t.mu.Lock()
	t.remote = remote
	t.mu.Unlock()

	t.emitLink(peer.LinkConnected)
	remote.emitLink(peer.LinkConnected)
	return nil
}

func (t *Transport) AddICECandidate(webrtc.ICECandidateInit) error { return nil }

func (t *Transport) Send(data []byte) error {
	t.mu.Lock()
	remote, closed := t.remote, t.closed
	t.mu.Unlock()
	if closed {
		return errors.New("loopback transport closed")
	}
	if remote == nil {
		return errors.New("loopback transport not linked")
	}
	payload := append([]byte(nil), data...)
	remote.post(func() {
		remote.mu.Lock()
		fn := remote.onMessage
		remote.mu.Unlock()
		if fn != nil {
			fn(payload)
		}
	})
	return nil
}

func (t *Transport) emitLink(state peer.LinkState) {
	t.post(func() {
		t.mu.Lock()
		fn := t.onLink
		t.mu.Unlock()
		if fn != nil {
			fn(state)
		}
	})
}

func (t *Transport) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onCandidate = fn
	t.mu.Unlock()
}

func (t *Transport) OnLinkState(fn func(peer.LinkState)) {
	t.mu.Lock()
	t.onLink = fn
	t.mu.Unlock()
}

func (t *Transport) OnMessage(fn func([]byte)) {
	t.mu.Lock()
	t.onMessage = fn
	t.mu.Unlock()
}

// Fail simulates the link dropping underneath both ends.
func (t *Transport) Fail() {
	t.mu.Lock()
	remote := t.remote
	t.mu.Unlock()
	t.emitLink(peer.LinkFailed)
	if remote != nil {
		remote.emitLink(peer.LinkFailed)
	}
}

// Close tears down this end; the other end observes the link closing.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		remote := t.remote
		t.mu.Unlock()

		if remote != nil {
			remote.emitLink(peer.LinkClosed)
		}
		close(t.done)
	})
	return nil
}
