package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// PendingSession is a validation session waiting for its result.
type PendingSession struct {
	Nonce        string `json:"nonce"`
	ClientId     string `json:"client_id,omitempty"`
	ValidationId string `json:"validation_id,omitempty"`
}

// Should be safe to use in concurrency
type SessionStorage interface {
	// Store the pending session for the given session id. Should not return
	// an error when the session already exists, it should just update it.
	StoreSession(sessionId string, session PendingSession) error

	// Should retrieve the session and return an error in any case where it
	// fails to do so, expiry included.
	RetrieveSession(sessionId string) (PendingSession, error)

	// Should remove the session. The session not being there is an error.
	RemoveSession(sessionId string) error
}

const DefaultSessionTTL time.Duration = 15 * time.Minute

type InMemorySessionStorage struct {
	ttl   time.Duration
	now   func() time.Time
	mutex sync.Mutex

	sessions map[string]memorySession
}

type memorySession struct {
	session PendingSession
	expires time.Time
}

func NewInMemorySessionStorage(ttl time.Duration) *InMemorySessionStorage {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &InMemorySessionStorage{
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]memorySession),
	}
}

type RedisSessionStorage struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

func NewRedisSessionStorage(client *redis.Client, namespace string, ttl time.Duration) *RedisSessionStorage {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionStorage{client: client, namespace: namespace, ttl: ttl}
}

// ------------------------------------------------------------------------------

func createKey(namespace, sessionId string) string {
	return fmt.Sprintf("%s:session:%s", namespace, sessionId)
}

func (s *RedisSessionStorage) StoreSession(sessionId string, session PendingSession) error {
	value, err := json.Marshal(session)
	if err != nil {
		return err
	}
	ctx := context.Background()
	return s.client.Set(ctx, createKey(s.namespace, sessionId), value, s.ttl).Err()
}

func (s *RedisSessionStorage) RetrieveSession(sessionId string) (PendingSession, error) {
	ctx := context.Background()
	value, err := s.client.Get(ctx, createKey(s.namespace, sessionId)).Bytes()
	if err != nil {
		return PendingSession{}, fmt.Errorf("failed to find session %s: %w", sessionId, err)
	}
	var session PendingSession
	if err := json.Unmarshal(value, &session); err != nil {
		return PendingSession{}, fmt.Errorf("corrupt session %s: %w", sessionId, err)
	}
	return session, nil
}

func (s *RedisSessionStorage) RemoveSession(sessionId string) error {
	ctx := context.Background()
	n, err := s.client.Del(ctx, createKey(s.namespace, sessionId)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("failed to remove session %s, because it wasn't there", sessionId)
	}
	return nil
}

// ------------------------------------------------------------------------------

func (s *InMemorySessionStorage) StoreSession(sessionId string, session PendingSession) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sessions[sessionId] = memorySession{session: session, expires: s.now().Add(s.ttl)}
	return nil
}

func (s *InMemorySessionStorage) RetrieveSession(sessionId string) (PendingSession, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	entry, ok := s.sessions[sessionId]
	if !ok {
		return PendingSession{}, fmt.Errorf("failed to find session %s", sessionId)
	}
	if !s.now().Before(entry.expires) {
		delete(s.sessions, sessionId)
		return PendingSession{}, fmt.Errorf("session %s expired", sessionId)
	}
	return entry.session, nil
}

func (s *InMemorySessionStorage) RemoveSession(sessionId string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.sessions[sessionId]; ok {
		delete(s.sessions, sessionId)
		return nil
	}
	return fmt.Errorf("failed to remove session %s, because it wasn't there", sessionId)
}
