package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mossy-p/peerplay/internal/models"
)

// ListingStore keeps relay listings.
//
// Keys:
//
//	listing:<gameId>:<sessionId>   listing JSON, expires after the offer TTL
//	game:<gameId>:listings         set of session ids
//	owner:<publicKey>:listings     set of JSON ["<gameId>","<sessionId>"] pairs
type ListingStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewListingStore(client *redis.Client, ttl time.Duration) *ListingStore {
	return &ListingStore{client: client, ttl: ttl, now: time.Now}
}

func listingKey(gameID, sessionID string) string {
	return "listing:" + gameID + ":" + sessionID
}

func gameKey(gameID string) string { return "game:" + gameID + ":listings" }

func ownerKey(publicKey string) string { return "owner:" + publicKey + ":listings" }

// ownerMember encodes a listing reference so ids may contain any character.
func ownerMember(gameID, sessionID string) string {
	data, _ := json.Marshal([2]string{gameID, sessionID})
	return string(data)
}

func parseOwnerMember(m string) (gameID, sessionID string, ok bool) {
	var ref [2]string
	if err := json.Unmarshal([]byte(m), &ref); err != nil {
		return "", "", false
	}
	return ref[0], ref[1], true
}

// Put upserts a listing owned by l.PublicKey. Another owner's listing under
// the same session id is refused.
func (s *ListingStore) Put(ctx context.Context, l models.Listing) error {
	existing, err := s.Get(ctx, l.GameID, l.SessionID)
	switch {
	case err == nil && existing.PublicKey != l.PublicKey:
		return fmt.Errorf("%w: session %s", ErrForbidden, l.SessionID)
	case err != nil && !errors.Is(err, ErrNotFound):
		return err
	}

	l.UpdatedAt = s.now().UTC()
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("failed to marshal listing: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, listingKey(l.GameID, l.SessionID), data, s.ttl)
	pipe.SAdd(ctx, gameKey(l.GameID), l.SessionID)
	pipe.Expire(ctx, gameKey(l.GameID), s.ttl)
	pipe.SAdd(ctx, ownerKey(l.PublicKey), ownerMember(l.GameID, l.SessionID))
	pipe.Expire(ctx, ownerKey(l.PublicKey), s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store listing: %w", err)
	}
	return nil
}

func (s *ListingStore) Get(ctx context.Context, gameID, sessionID string) (models.Listing, error) {
	data, err := s.client.Get(ctx, listingKey(gameID, sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Listing{}, fmt.Errorf("%w: listing %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return models.Listing{}, err
	}
	var l models.Listing
	if err := json.Unmarshal(data, &l); err != nil {
		return models.Listing{}, fmt.Errorf("failed to parse listing: %w", err)
	}
	return l, nil
}

// Open returns the game's listings that still have an answerable slot,
// most recently updated first. Expired members are pruned on the way.
func (s *ListingStore) Open(ctx context.Context, gameID string) ([]models.Listing, error) {
	ids, err := s.client.SMembers(ctx, gameKey(gameID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []models.Listing{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = listingKey(gameID, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	listings := []models.Listing{}
	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var l models.Listing
		if err := json.Unmarshal([]byte(str), &l); err != nil {
			continue
		}
		if len(l.OpenSlots()) > 0 {
			listings = append(listings, l)
		}
	}
	if len(stale) > 0 {
		s.client.SRem(ctx, gameKey(gameID), stale...)
	}

	sort.Slice(listings, func(i, j int) bool {
		if !listings[i].UpdatedAt.Equal(listings[j].UpdatedAt) {
			return listings[i].UpdatedAt.After(listings[j].UpdatedAt)
		}
		return listings[i].SessionID < listings[j].SessionID
	})
	return listings, nil
}

// Delete removes a listing if owner owns it.
func (s *ListingStore) Delete(ctx context.Context, gameID, sessionID, owner string) error {
	l, err := s.Get(ctx, gameID, sessionID)
	if err != nil {
		return err
	}
	if l.PublicKey != owner {
		return fmt.Errorf("%w: session %s", ErrForbidden, sessionID)
	}
	return s.remove(ctx, gameID, sessionID, owner)
}

func (s *ListingStore) remove(ctx context.Context, gameID, sessionID, owner string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, listingKey(gameID, sessionID))
	pipe.SRem(ctx, gameKey(gameID), sessionID)
	pipe.SRem(ctx, ownerKey(owner), ownerMember(gameID, sessionID))
	_, err := pipe.Exec(ctx)
	return err
}

// DeleteOwned removes every listing owned by publicKey and returns how many.
func (s *ListingStore) DeleteOwned(ctx context.Context, publicKey string) (int, error) {
	members, err := s.client.SMembers(ctx, ownerKey(publicKey)).Result()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range members {
		gameID, sessionID, ok := parseOwnerMember(m)
		if !ok {
			continue
		}
		if err := s.remove(ctx, gameID, sessionID, publicKey); err != nil {
			return removed, err
		}
		removed++
	}
	s.client.Del(ctx, ownerKey(publicKey))
	return removed, nil
}
