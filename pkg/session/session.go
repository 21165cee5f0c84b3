// Package session keeps the conversational context each agent call is
// scoped to. Stores are owned by one orchestrator and never shared
// process-wide.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

var (
	ErrNotFound = errors.New("session: not found")
	ErrExists   = errors.New("session: already exists")
)

type Event struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

type Session struct {
	ID        string    `json:"id"`
	AppName   string    `json:"app_name"`
	UserID    string    `json:"user_id"`
	Events    []Event   `json:"events"`
	CreatedAt time.Time `json:"created_at"`
}

type Store interface {
	Get(ctx context.Context, appName, userID, sessionID string) (*Session, error)
	Create(ctx context.Context, appName, userID, sessionID string) (*Session, error)
	Append(ctx context.Context, appName, userID, sessionID string, event Event) error
}

// CacheStore is an in-memory Store whose sessions expire after ttl.
type CacheStore struct {
	mu    sync.Mutex
	cache *cache.Cache
}

func NewCacheStore(ttl time.Duration) *CacheStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CacheStore{
		cache: cache.New(ttl, ttl/6),
	}
}

func key(appName, userID, sessionID string) string {
	return appName + "/" + userID + "/" + sessionID
}

// Get returns a copy of the session so callers cannot mutate stored events.
func (s *CacheStore) Get(_ context.Context, appName, userID, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	x, found := s.cache.Get(key(appName, userID, sessionID))
	if !found {
		return nil, ErrNotFound
	}
	stored := x.(*Session)
	out := *stored
	out.Events = append([]Event(nil), stored.Events...)
	return &out, nil
}

func (s *CacheStore) Create(_ context.Context, appName, userID, sessionID string) (*Session, error) {
	if sessionID == "" {
		return nil, errors.New("session: empty id")
	}
	sess := &Session{
		ID:        sessionID,
		AppName:   appName,
		UserID:    userID,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cache.Add(key(appName, userID, sessionID), sess, cache.DefaultExpiration); err != nil {
		return nil, ErrExists
	}
	out := *sess
	return &out, nil
}

func (s *CacheStore) Append(_ context.Context, appName, userID, sessionID string, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(appName, userID, sessionID)
	x, found := s.cache.Get(k)
	if !found {
		return ErrNotFound
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}
	sess := x.(*Session)
	sess.Events = append(sess.Events, event)
	s.cache.Set(k, sess, cache.DefaultExpiration)
	return nil
}
