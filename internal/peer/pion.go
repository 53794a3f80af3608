package peer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

const dataChannelLabel = "peerplay"

// PionConfig configures WebRTC transports.
type PionConfig struct {
	ICEServers []string
	Logger     *zap.Logger
}

// NewPionFactory returns a factory producing data-channel transports.
func NewPionFactory(cfg PionConfig) TransportFactory {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rtcConfig := webrtc.Configuration{}
	if len(cfg.ICEServers) > 0 {
		rtcConfig.ICEServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}
	return func() (Transport, error) {
		return NewPionTransport(rtcConfig, logger)
	}
}

// PionTransport is a Transport over one PeerConnection and one ordered
// data channel.
type PionTransport struct {
	pc     *webrtc.PeerConnection
	logger *zap.Logger

	mu          sync.RWMutex
	dc          *webrtc.DataChannel
	onCandidate func(*webrtc.ICECandidateInit)
	onLink      func(LinkState)
	onMessage   func([]byte)
}

func NewPionTransport(cfg webrtc.Configuration, logger *zap.Logger) (*PionTransport, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}
	t := &PionTransport{pc: pc, logger: logger}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		t.mu.RLock()
		fn := t.onCandidate
		t.mu.RUnlock()
		if fn == nil {
			return
		}
		if c == nil {
			fn(nil)
			return
		}
		init := c.ToJSON()
		fn(&init)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debug("[webrtc] connection state changed", zap.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateFailed:
			t.emitLink(LinkFailed)
		case webrtc.PeerConnectionStateDisconnected:
			t.emitLink(LinkDisconnected)
		case webrtc.PeerConnectionStateClosed:
			t.emitLink(LinkClosed)
		}
	})

	// The answering side receives the channel from the offerer.
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != dataChannelLabel {
			return
		}
		t.bind(dc)
	})
	return t, nil
}

func (t *PionTransport) bind(dc *webrtc.DataChannel) {
	t.mu.Lock()
	t.dc = dc
	t.mu.Unlock()

	dc.OnOpen(func() { t.emitLink(LinkConnected) })
	dc.OnClose(func() { t.emitLink(LinkClosed) })
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		t.mu.RLock()
		fn := t.onMessage
		t.mu.RUnlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
}

func (t *PionTransport) emitLink(state LinkState) {
	t.mu.RLock()
	fn := t.onLink
	t.mu.RUnlock()
	if fn != nil {
		fn(state)
	}
}

func (t *PionTransport) CreateOffer() (webrtc.SessionDescription, error) {
	ordered := true
	dc, err := t.pc.CreateDataChannel(dataChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to create data channel: %w", err)
	}
	t.bind(dc)

	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return offer, nil
}

func (t *PionTransport) Answer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := t.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("failed to set remote description: %w", err)
	}
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return answer, nil
}

func (t *PionTransport) SetAnswer(answer webrtc.SessionDescription) error {
	return t.pc.SetRemoteDescription(answer)
}

func (t *PionTransport) AddICECandidate(c webrtc.ICECandidateInit) error {
	return t.pc.AddICECandidate(c)
}

func (t *PionTransport) Send(data []byte) error {
	t.mu.RLock()
	dc := t.dc
	t.mu.RUnlock()
	if dc == nil {
		return errors.New("data channel not open")
	}
	return dc.Send(data)
}

func (t *PionTransport) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	t.mu.Lock()
	t.onCandidate = fn
	t.mu.Unlock()
}

func (t *PionTransport) OnLinkState(fn func(LinkState)) {
	t.mu.Lock()
	t.onLink = fn
	t.mu.Unlock()
}

func (t *PionTransport) OnMessage(fn func([]byte)) {
	t.mu.Lock()
	t.onMessage = fn
	t.mu.Unlock()
}

func (t *PionTransport) Close() error {
	return t.pc.Close()
}
