// Package replay turns a seed and a ledger into game state. Reducers must be
// pure: the same seed and entries always yield the same state on every peer.
package replay

import (
	"sync"

	"github.com/mossy-p/peerplay/internal/ledger"
)

// Reducer is a pure game rule set. Apply must not mutate its input state.
type Reducer[S any] interface {
	Initial(seed uint32) S
	Apply(state S, entry ledger.Entry) S
}

// Replay folds entries over the initial state for seed.
func Replay[S any](r Reducer[S], seed uint32, entries []ledger.Entry) S {
	return Fold(r, r.Initial(seed), entries)
}

// Fold applies entries in order starting from state.
func Fold[S any](r Reducer[S], state S, entries []ledger.Entry) S {
	for _, e := range entries {
		state = r.Apply(state, e)
	}
	return state
}

// Engine caches the last replayed state so a growing ledger only pays for
// the new entries. A seed change or a shorter ledger replays from scratch.
type Engine[S any] struct {
	reducer Reducer[S]

	mu      sync.Mutex
	seed    uint32
	applied int
	state   S
	primed  bool
}

func NewEngine[S any](r Reducer[S]) *Engine[S] {
	return &Engine[S]{reducer: r}
}

// Sync brings the cached state up to date with entries and returns it.
// Callers pass the full ledger; the engine assumes a prefix it has already
// applied is unchanged, which holds because accepted entries are immutable.
func (e *Engine[S]) Sync(seed uint32, entries []ledger.Entry) S {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.primed || seed != e.seed || len(entries) < e.applied {
		e.seed = seed
		e.state = e.reducer.Initial(seed)
		e.applied = 0
		e.primed = true
	}
	e.state = Fold(e.reducer, e.state, entries[e.applied:])
	e.applied = len(entries)
	return e.state
}

// Reset forgets the cache.
func (e *Engine[S]) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	var zero S
	e.state = zero
	e.applied = 0
	e.primed = false
}
