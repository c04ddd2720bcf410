package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charlesng35/lineauth/internal/cache"
	"github.com/charlesng35/lineauth/pkg/crypto"
)

// DefaultSessionTTL bounds how long an idle browser session is kept.
const DefaultSessionTTL = 2 * time.Hour

const (
	sessionKeyPrefix = "session:"
	sessionIDBytes   = 32
)

// Session is the server-side key/value bag of one browser. It is not safe for
// concurrent use; each request loads its own copy.
type Session struct {
	id     string
	values map[string]string
	fresh  bool
	dirty  bool
	prevID string
}

// ID returns the identifier carried in the session cookie.
func (s *Session) ID() string { return s.id }

// IsNew reports whether the session was created by this request.
func (s *Session) IsNew() bool { return s.fresh }

// Get returns the value stored under key, or "".
func (s *Session) Get(key string) string {
	return s.values[key]
}

// Set stores value under key.
func (s *Session) Set(key, value string) {
	if current, ok := s.values[key]; ok && current == value {
		return
	}
	s.values[key] = value
	s.dirty = true
}

// Delete removes key.
func (s *Session) Delete(key string) {
	if _, ok := s.values[key]; !ok {
		return
	}
	delete(s.values, key)
	s.dirty = true
}

// Pop returns and removes the value stored under key.
func (s *Session) Pop(key string) string {
	value := s.Get(key)
	s.Delete(key)
	return value
}

// SessionStore persists browser sessions in a cache.Store.
type SessionStore struct {
	store cache.Store
	ttl   time.Duration
	newID func() (string, error)
}

// NewSessionStore constructs a SessionStore instance.
func NewSessionStore(store cache.Store, ttl time.Duration) (*SessionStore, error) {
	if store == nil {
		return nil, errors.New("session store: cache store is required")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		store: store,
		ttl:   ttl,
		newID: func() (string, error) { return crypto.GenerateToken(sessionIDBytes) },
	}, nil
}

// TTL returns the session lifetime.
func (s *SessionStore) TTL() time.Duration {
	return s.ttl
}

// Load returns the session for id. Unknown or empty ids yield a fresh session.
func (s *SessionStore) Load(ctx context.Context, id string) (*Session, error) {
	id = strings.TrimSpace(id)
	if id != "" {
		data, found, err := s.store.Get(ctx, sessionKeyPrefix+id)
		if err != nil {
			return nil, fmt.Errorf("session store: load: %w", err)
		}
		if found {
			values := map[string]string{}
			if err := json.Unmarshal(data, &values); err == nil {
				return &Session{id: id, values: values}, nil
			}
		}
	}

	newID, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("session store: generate id: %w", err)
	}
	return &Session{id: newID, values: map[string]string{}, fresh: true}, nil
}

// Save writes the session when it changed. Empty sessions are removed.
func (s *SessionStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return errors.New("session store: session is nil")
	}
	if sess.prevID != "" {
		if err := s.store.Delete(ctx, sessionKeyPrefix+sess.prevID); err != nil {
			return fmt.Errorf("session store: drop previous: %w", err)
		}
		sess.prevID = ""
	}
	if !sess.dirty {
		return nil
	}

	if len(sess.values) == 0 {
		if err := s.store.Delete(ctx, sessionKeyPrefix+sess.id); err != nil {
			return fmt.Errorf("session store: delete: %w", err)
		}
		sess.dirty = false
		return nil
	}

	payload, err := json.Marshal(sess.values)
	if err != nil {
		return fmt.Errorf("session store: marshal: %w", err)
	}
	if err := s.store.Set(ctx, sessionKeyPrefix+sess.id, payload, s.ttl); err != nil {
		return fmt.Errorf("session store: save: %w", err)
	}
	sess.dirty = false
	return nil
}

// Regenerate assigns a new id to sess, keeping its values. The old record is
// dropped on the next Save.
func (s *SessionStore) Regenerate(sess *Session) error {
	newID, err := s.newID()
	if err != nil {
		return fmt.Errorf("session store: generate id: %w", err)
	}
	if !sess.fresh {
		sess.prevID = sess.id
	}
	sess.id = newID
	sess.fresh = true
	sess.dirty = true
	return nil
}

// Destroy removes the session record and clears its values.
func (s *SessionStore) Destroy(ctx context.Context, sess *Session) error {
	if sess == nil {
		return nil
	}
	sess.values = map[string]string{}
	sess.dirty = false
	if err := s.store.Delete(ctx, sessionKeyPrefix+sess.id); err != nil {
		return fmt.Errorf("session store: destroy: %w", err)
	}
	return nil
}
