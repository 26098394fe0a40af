package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"chorewheel/chores"
	"chorewheel/db"
)

// Token-based auth for the JSON API. Tokens are persisted; the pick
// counters of a token live only in this process, like a cookie session's.
type APISession struct {
	Token  string
	UserID int64
}

// APITokenTTL is how long a token is accepted after it was issued.
var APITokenTTL = 30 * 24 * time.Hour

// ttlModifier is APITokenTTL as an SQLite datetime modifier.
func ttlModifier() string {
	return fmt.Sprintf("-%d seconds", int64(APITokenTTL/time.Second))
}

// CreateAPIToken issues a token for userID. Expired tokens are pruned first.
func CreateAPIToken(ctx context.Context, userID int64) (string, error) {
	if err := PruneAPISessions(ctx); err != nil {
		return "", err
	}
	token := generateRandomToken(32)
	_, err := db.DB.ExecContext(ctx, "INSERT INTO api_sessions (token, user_id) VALUES (?, ?)", token, userID)
	if err != nil {
		return "", fmt.Errorf("insert api session: %w", err)
	}
	return token, nil
}

func GetAPISession(ctx context.Context, token string) (APISession, bool) {
	sess := APISession{Token: token}
	err := db.DB.QueryRowContext(ctx, "SELECT user_id FROM api_sessions WHERE token = ? AND created_at >= datetime('now', ?)", token, ttlModifier()).Scan(&sess.UserID)
	if err != nil {
		return APISession{}, false
	}
	return sess, true
}

func RevokeAPIToken(ctx context.Context, token string) error {
	if _, err := db.DB.ExecContext(ctx, "DELETE FROM api_sessions WHERE token = ?", token); err != nil {
		return fmt.Errorf("delete api session: %w", err)
	}
	APICounters.Delete(token)
	return nil
}

// PruneAPISessions deletes tokens older than APITokenTTL.
func PruneAPISessions(ctx context.Context) error {
	if _, err := db.DB.ExecContext(ctx, "DELETE FROM api_sessions WHERE created_at < datetime('now', ?)", ttlModifier()); err != nil {
		return fmt.Errorf("prune api sessions: %w", err)
	}
	return nil
}

type tokenCounters struct {
	mu       sync.Mutex
	counters chores.Counters
}

// CounterStore keeps pick counters per API token. Each token has its own
// lock so Update is atomic per token without serializing other tokens.
type CounterStore struct {
	mu      sync.Mutex
	entries map[string]*tokenCounters
}

func NewCounterStore() *CounterStore {
	return &CounterStore{entries: make(map[string]*tokenCounters)}
}

var APICounters = NewCounterStore()

func (s *CounterStore) entry(token string, create bool) *tokenCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[token]
	if !ok && create {
		e = &tokenCounters{}
		s.entries[token] = e
	}
	return e
}

func (s *CounterStore) Load(token string) chores.Counters {
	e := s.entry(token, false)
	if e == nil {
		return chores.Counters{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counters
}

func (s *CounterStore) Save(token string, c chores.Counters) {
	s.Update(token, func(chores.Counters) (chores.Counters, error) { return c, nil })
}

// Update passes the stored counters of token to fn and stores what fn
// returns, also when fn fails. Calls for the same token run one at a time.
func (s *CounterStore) Update(token string, fn func(chores.Counters) (chores.Counters, error)) error {
	e := s.entry(token, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := fn(e.counters)
	e.counters = c
	return err
}

func (s *CounterStore) Delete(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, token)
}

// Sweep drops counters that no longer count anything at now: neither the
// day nor the month they were recorded in is current.
func (s *CounterStore) Sweep(now time.Time) {
	fresh := chores.Fresh(now)
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, e := range s.entries {
		e.mu.Lock()
		stale := e.counters.Current(now) == fresh
		e.mu.Unlock()
		if stale {
			delete(s.entries, token)
		}
	}
}

func (s *CounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func generateRandomToken(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		// Without randomness tokens would be guessable.
		panic(fmt.Sprintf("critical security error: failed to generate random token: %v", err))
	}
	return base64.URLEncoding.EncodeToString(b)
}
