package export

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ShareTTL is the fixed lifetime of a share link.
const ShareTTL = 24 * time.Hour

// ShareStore keeps PHI-safe snapshots under random tokens with a fixed
// expiry, backed by Redis.
type ShareStore struct {
	client *redis.Client
	prefix string
}

// NewShareStore creates a share store from a Redis URL.
func NewShareStore(redisURL string) (*ShareStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewShareStoreWithClient(client), nil
}

// NewShareStoreWithClient creates a store from an existing Redis client.
func NewShareStoreWithClient(client *redis.Client) *ShareStore {
	return &ShareStore{client: client, prefix: "share:"}
}

// NewToken returns a 128-bit random hex token.
func NewToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate share token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// Save stores the snapshot under the token with the share TTL.
func (s *ShareStore) Save(ctx context.Context, token string, snap *Snapshot) (time.Time, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return time.Time{}, fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+token, data, ShareTTL).Err(); err != nil {
		return time.Time{}, fmt.Errorf("store shared snapshot: %w", err)
	}
	return time.Now().Add(ShareTTL), nil
}

// Get returns the snapshot for a token, or ErrShareNotFound when the
// token is unknown or expired.
func (s *ShareStore) Get(ctx context.Context, token string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.prefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrShareNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load shared snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal shared snapshot: %w", err)
	}
	return &snap, nil
}
