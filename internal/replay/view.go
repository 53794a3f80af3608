package replay

import "github.com/mossy-p/peerplay/internal/ledger"

// View is what the session layer inspects on a replayed state.
type View interface {
	Terminal() bool
	Digest() string
}

// Replayer keeps a replayed view in step with a ledger.
type Replayer interface {
	Sync(seed uint32, entries []ledger.Entry) View
	Reset()
}
