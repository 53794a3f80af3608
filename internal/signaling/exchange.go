// Package signaling moves signal blobs between peers. The exchange never
// looks inside a blob.
package signaling

import (
	"errors"

	"github.com/mossy-p/peerplay/internal/models"
)

var (
	ErrDuplicateIdentity = errors.New("identity already connected to the relay")
	ErrRelayUnavailable  = errors.New("relay unavailable")
)

// Exchange is implemented by every signaling strategy.
type Exchange interface {
	// Publish advertises the host's slots. Implementations may coalesce calls.
	Publish(listing models.Listing) error
	// Subscribe requests the open listings for the game; onList receives each reply.
	Subscribe(onList func([]models.Listing)) error
	// SendTargeted routes an answer blob to one slot of one session.
	SendTargeted(answer models.Answer) error
	// OnTargeted registers the host's handler for answers addressed to it.
	OnTargeted(fn func(models.Answer))
	// Retract withdraws the published listing. Call before Close.
	Retract() error
	Close() error
}

// Manual is the copy/paste strategy: blobs travel out of band, so every
// operation is a no-op.
type Manual struct{}

var _ Exchange = Manual{}

func (Manual) Publish(models.Listing) error           { return nil }
func (Manual) Subscribe(func([]models.Listing)) error { return nil }
func (Manual) SendTargeted(models.Answer) error       { return nil }
func (Manual) OnTargeted(func(models.Answer))         {}
func (Manual) Retract() error                         { return nil }
func (Manual) Close() error                           { return nil }
