package game

import (
	"github.com/mossy-p/peerplay/internal/ledger"
	"github.com/mossy-p/peerplay/internal/replay"
)

// Replayer adapts the evolution reducer to replay.Replayer.
type Replayer struct {
	engine *replay.Engine[State]
}

var _ replay.Replayer = (*Replayer)(nil)

func NewReplayer(winThreshold int) *Replayer {
	return &Replayer{engine: replay.NewEngine[State](Evolution{WinThreshold: winThreshold})}
}

func (r *Replayer) Sync(seed uint32, entries []ledger.Entry) replay.View {
	return r.engine.Sync(seed, entries)
}

func (r *Replayer) Reset() { r.engine.Reset() }
