package peer

import "github.com/pion/webrtc/v4"

// LinkState is the coarse transport state a Connection cares about.
type LinkState int

const (
	LinkConnecting LinkState = iota
	LinkConnected
	LinkDisconnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkDisconnected:
		return "disconnected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is one P2P link with a single ordered message channel.
// Callbacks may fire from any goroutine.
type Transport interface {
	// CreateOffer opens the message channel and sets the local offer.
	CreateOffer() (webrtc.SessionDescription, error)
	// Answer applies a remote offer and sets the local answer.
	Answer(offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	// SetAnswer applies the remote answer to a previously created offer.
	SetAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	Send(data []byte) error

	// OnICECandidate receives nil once gathering is complete.
	OnICECandidate(func(c *webrtc.ICECandidateInit))
	OnLinkState(func(LinkState))
	OnMessage(func(data []byte))

	Close() error
}

// TransportFactory builds a fresh transport per connection.
type TransportFactory func() (Transport, error)
