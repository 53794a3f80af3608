package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mossy-p/peerplay/internal/ledger"
)

// Record is what a peer keeps to resume a session after a restart.
type Record struct {
	SessionID  string         `json:"sessionId"`
	PlayerName string         `json:"playerName"`
	Host       bool           `json:"host"`
	MaxPlayers int            `json:"maxPlayers"`
	Seed       uint32         `json:"seed"`
	Started    bool           `json:"started"`
	Finished   bool           `json:"finished"`
	Entries    []ledger.Entry `json:"entries"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// Persistence stores session records keyed by session id.
type Persistence interface {
	SaveSession(ctx context.Context, rec Record) error
	GetSession(ctx context.Context, sessionID string) (Record, error)
	UpdateLedger(ctx context.Context, sessionID string, entries []ledger.Entry) error
	RemoveSession(ctx context.Context, sessionID string) error
}

// MemoryStore is an in-process Persistence.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Persistence = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) SaveSession(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Entries = append([]ledger.Entry(nil), rec.Entries...)
	m.records[rec.SessionID] = rec
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNoRecord, sessionID)
	}
	rec.Entries = append([]ledger.Entry(nil), rec.Entries...)
	return rec, nil
}

func (m *MemoryStore) UpdateLedger(_ context.Context, sessionID string, entries []ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoRecord, sessionID)
	}
	rec.Entries = append([]ledger.Entry(nil), entries...)
	m.records[sessionID] = rec
	return nil
}

func (m *MemoryStore) RemoveSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, sessionID)
	return nil
}
