// Package ledger holds the ordered, signed action log a session replicates.
// Only the host appends; every peer verifies whole batches before merging.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mossy-p/peerplay/internal/wallet"
)

var (
	ErrVerification = errors.New("ledger verification failed")
	ErrConflict     = errors.New("ledger history conflict")
	ErrGap          = errors.New("ledger gap")
)

type Ledger struct {
	verifier wallet.Verifier
	logger   *zap.Logger
	now      func() time.Time

	mu      sync.RWMutex
	entries []Entry
}

type Option func(*Ledger)

func WithLogger(l *zap.Logger) Option {
	return func(lg *Ledger) {
		if l != nil {
			lg.logger = l
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

func New(v wallet.Verifier, opts ...Option) *Ledger {
	if v == nil {
		v = wallet.Ed25519
	}
	l := &Ledger{verifier: v, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append verifies a signed action and records it at the next index.
// Host-authored entries are verified like any guest request.
func (l *Ledger) Append(a Action, signature, signerPublicKey string) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := Entry{
		Index:           len(l.entries),
		Action:          a,
		Signature:       signature,
		SignerPublicKey: signerPublicKey,
		Timestamp:       l.now().UnixMilli(),
	}
	if !e.Verify(l.verifier) {
		l.logger.Warn("rejected unsigned or forged action", zap.String("type", a.Type))
		return Entry{}, fmt.Errorf("%w: %s action", ErrVerification, a.Type)
	}
	l.entries = append(l.entries, e)
	return e, nil
}

// Merge applies a full or delta batch. Entries already held must match
// exactly; new entries must continue the log without gaps. Nothing is
// applied unless the whole batch checks out. It returns the new entries.
func (l *Ledger) Merge(batch []Entry) ([]Entry, error) {
	if err := VerifyAll(l.verifier, batch); err != nil {
		l.logger.Warn("rejected ledger sync", zap.Int("batch", len(batch)), zap.Error(err))
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	next := len(l.entries)
	var added []Entry
	for _, e := range batch {
		switch {
		case e.Index < 0:
			return nil, fmt.Errorf("%w: negative index %d", ErrConflict, e.Index)
		case e.Index < len(l.entries):
			if !l.entries[e.Index].Same(e) {
				return nil, fmt.Errorf("%w: entry %d differs", ErrConflict, e.Index)
			}
		case e.Index == next:
			added = append(added, e)
			next++
		case e.Index < next:
			return nil, fmt.Errorf("%w: duplicate entry %d in batch", ErrConflict, e.Index)
		default:
			return nil, fmt.Errorf("%w: expected index %d, got %d", ErrGap, next, e.Index)
		}
	}
	l.entries = append(l.entries, added...)
	return added, nil
}

// Load replaces the log with a persisted history after verifying it.
func (l *Ledger) Load(entries []Entry) error {
	if err := VerifyAll(l.verifier, entries); err != nil {
		return err
	}
	for i, e := range entries {
		if e.Index != i {
			return fmt.Errorf("%w: entry at %d has index %d", ErrGap, i, e.Index)
		}
	}
	l.mu.Lock()
	l.entries = append([]Entry(nil), entries...)
	l.mu.Unlock()
	return nil
}

// Entries returns a copy of the log.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Since returns the entries from index from onwards.
func (l *Ledger) Since(from int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if from < 0 {
		from = 0
	}
	if from >= len(l.entries) {
		return nil
	}
	return append([]Entry(nil), l.entries[from:]...)
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Reset drops the whole history. Used when a session is closed or a game reset.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.entries = nil
	l.mu.Unlock()
}

// VerifyAll checks every signature in entries and fails on the first bad one.
func VerifyAll(v wallet.Verifier, entries []Entry) error {
	for _, e := range entries {
		if !e.Verify(v) {
			return fmt.Errorf("%w: entry %d (%s)", ErrVerification, e.Index, e.Action.Type)
		}
	}
	return nil
}
