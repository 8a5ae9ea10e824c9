package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidStoreType = errors.New("session: invalid store type")
	ErrInvalidConfig    = errors.New("session: invalid store configuration")
)

// Store holds session state between requests. Sessions are ephemeral: a
// lost session only costs the client a sidebar reload, so drivers favor
// simplicity over durability.
type Store interface {
	// Get retrieves a session by id. Returns nil if not found (not an error).
	Get(ctx context.Context, id string) (*State, error)

	// Put creates or replaces a session.
	Put(ctx context.Context, st State) error

	// Delete removes a session by id.
	Delete(ctx context.Context, id string) error

	// Close releases any resources held by the store.
	Close() error
}

// StoreType selects the session store driver.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
)

// StoreOption is a functional option for configuring a session store.
type StoreOption func(*storeConfig)

type storeConfig struct {
	redisClient *redis.Client
	redisTTL    time.Duration
}

// WithRedisClient sets the Redis client for the Redis driver.
func WithRedisClient(client *redis.Client) StoreOption {
	return func(c *storeConfig) {
		c.redisClient = client
	}
}

// WithRedisTTL sets the TTL for Redis session keys.
func WithRedisTTL(ttl time.Duration) StoreOption {
	return func(c *storeConfig) {
		c.redisTTL = ttl
	}
}

// NewStore creates a session store of the given driver type.
func NewStore(storeType StoreType, opts ...StoreOption) (Store, error) {
	config := &storeConfig{}
	for _, opt := range opts {
		opt(config)
	}

	switch storeType {
	case StoreTypeMemory:
		return &memoryStore{sessions: make(map[string]State)}, nil

	case StoreTypeRedis:
		if config.redisClient == nil {
			return nil, ErrInvalidConfig
		}
		ttl := config.redisTTL
		if ttl <= 0 {
			ttl = 24 * time.Hour
		}
		return &redisStore{client: config.redisClient, ttl: ttl}, nil

	default:
		return nil, ErrInvalidStoreType
	}
}

type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]State
}

func (s *memoryStore) Get(ctx context.Context, id string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, exists := s.sessions[id]
	if !exists {
		return nil, nil
	}
	return &st, nil
}

func (s *memoryStore) Put(ctx context.Context, st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[st.ID] = st
	return nil
}

func (s *memoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

func (s *memoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions = nil
	return nil
}

type redisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func sessionKey(id string) string {
	return "chatsession:" + id
}

func (s *redisStore) Get(ctx context.Context, id string) (*State, error) {
	val, err := s.client.Get(ctx, sessionKey(id)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var st State
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		return nil, err
	}

	// Refresh TTL on read
	_ = s.client.Expire(ctx, sessionKey(id), s.ttl).Err()

	return &st, nil
}

func (s *redisStore) Put(ctx context.Context, st State) error {
	val, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, sessionKey(st.ID), val, s.ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, sessionKey(id)).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
