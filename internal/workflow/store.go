package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voyplan/orchestrator/internal/metrics"
)

// StateStore durably persists orchestration records keyed by session id.
// Commit must be atomic per record so a crash never observes a half-written
// transition.
type StateStore interface {
	// Create persists a brand-new record, failing with ErrAlreadyStarted if
	// one exists for the session.
	Create(ctx context.Context, rec *Record) error
	// Commit overwrites the record for rec.SessionID.
	Commit(ctx context.Context, rec *Record) error
	// Get returns the latest committed record, or ErrNotStarted.
	Get(ctx context.Context, sessionID string) (*Record, error)
	// Active returns the session ids whose records are non-terminal.
	Active(ctx context.Context) ([]string, error)
}

const (
	recordKeyPrefix = "orchestration:session:"
	activeSetKey    = "orchestration:active"
)

// RedisStore is the Redis-backed StateStore.
type RedisStore struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisStore creates a Redis-backed state store.
func NewRedisStore(rdb *redis.Client, logger *zap.Logger) *RedisStore {
	return &RedisStore{rdb: rdb, logger: logger}
}

func recordKey(sessionID string) string { return recordKeyPrefix + sessionID }

// Create implements StateStore. SETNX gives the only-one-start guarantee.
func (s *RedisStore) Create(ctx context.Context, rec *Record) error {
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	ok, err := s.rdb.SetNX(ctx, recordKey(rec.SessionID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}
	if !ok {
		return fmt.Errorf("session %q: %w", rec.SessionID, ErrAlreadyStarted)
	}
	if err := s.rdb.SAdd(ctx, activeSetKey, rec.SessionID).Err(); err != nil {
		return fmt.Errorf("track active session: %w", err)
	}
	s.updateActiveGauge(ctx)
	return nil
}

// Commit implements StateStore. The record write and the active-set update
// commit in one MULTI/EXEC so resume never sees a torn transition.
func (s *RedisStore) Commit(ctx context.Context, rec *Record) error {
	rec.UpdatedAt = time.Now()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, recordKey(rec.SessionID), data, 0)
	if rec.Terminal() {
		pipe.SRem(ctx, activeSetKey, rec.SessionID)
	} else {
		pipe.SAdd(ctx, activeSetKey, rec.SessionID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	s.updateActiveGauge(ctx)
	return nil
}

// Get implements StateStore.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	data, err := s.rdb.Get(ctx, recordKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotStarted)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// Active implements StateStore.
func (s *RedisStore) Active(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	return ids, nil
}

func (s *RedisStore) updateActiveGauge(ctx context.Context) {
	if n, err := s.rdb.SCard(ctx, activeSetKey).Result(); err == nil {
		metrics.ActiveSessions.Set(float64(n))
	}
}

// MemoryStore is an in-process StateStore used by tests and single-node
// development. Records round-trip through JSON so callers never share
// mutable state with the store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string][]byte
	active  map[string]struct{}
}

// NewMemoryStore creates an empty in-memory state store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string][]byte),
		active:  make(map[string]struct{}),
	}
}

// Create implements StateStore.
func (s *MemoryStore) Create(ctx context.Context, rec *Record) error {
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.SessionID]; ok {
		return fmt.Errorf("session %q: %w", rec.SessionID, ErrAlreadyStarted)
	}
	return s.putLocked(rec)
}

// Commit implements StateStore.
func (s *MemoryStore) Commit(ctx context.Context, rec *Record) error {
	rec.UpdatedAt = time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.putLocked(rec)
}

func (s *MemoryStore) putLocked(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	s.records[rec.SessionID] = data
	if rec.Terminal() {
		delete(s.active, rec.SessionID)
	} else {
		s.active[rec.SessionID] = struct{}{}
	}
	return nil
}

// Get implements StateStore.
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*Record, error) {
	s.mu.Lock()
	data, ok := s.records[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, ErrNotStarted)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record: %w", err)
	}
	return &rec, nil
}

// Active implements StateStore.
func (s *MemoryStore) Active(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	return ids, nil
}
