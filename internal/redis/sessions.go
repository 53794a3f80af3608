package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/peerplay/internal/ledger"
	"github.com/mossy-p/peerplay/internal/session"
)

// SessionStore persists session records under session:<id>.
type SessionStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ session.Persistence = (*SessionStore)(nil)

// NewSessionStore keeps records for ttl after their last change; zero keeps
// them until removed.
func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{client: client, ttl: ttl}
}

func sessionKey(id string) string { return "session:" + id }

func (s *SessionStore) SaveSession(ctx context.Context, rec session.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	if err := s.client.Set(ctx, sessionKey(rec.SessionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}
	return nil
}

func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (session.Record, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return session.Record{}, fmt.Errorf("%w: %s", session.ErrNoRecord, sessionID)
	}
	if err != nil {
		return session.Record{}, err
	}
	var rec session.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return session.Record{}, fmt.Errorf("failed to parse session: %w", err)
	}
	return rec, nil
}

// UpdateLedger rewrites the record's entries inside a WATCH transaction so
// a concurrent save is not lost.
func (s *SessionStore) UpdateLedger(ctx context.Context, sessionID string, entries []ledger.Entry) error {
	key := sessionKey(sessionID)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", session.ErrNoRecord, sessionID)
		}
		if err != nil {
			return err
		}
		var rec session.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return fmt.Errorf("failed to parse session: %w", err)
		}
		rec.Entries = entries
		rec.UpdatedAt = time.Now().UTC()
		out, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttl)
			return nil
		})
		return err
	}, key)
}

func (s *SessionStore) RemoveSession(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, sessionKey(sessionID)).Err()
}
