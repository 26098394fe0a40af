package auth

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chorewheel/chores"
	"chorewheel/config"
	"chorewheel/db"
)

func TestMain(m *testing.M) {
	dir, err := os.MkdirTemp("", "chorewheel-auth")
	if err != nil {
		panic(err)
	}
	if err := db.InitDB(filepath.Join(dir, "test_auth.db")); err != nil {
		panic(err)
	}
	config.AppConfig.SessionKey = "test-secret-key-12345678901234567890123456789012"
	InitStore()

	code := m.Run()

	db.DB.Close()
	os.RemoveAll(dir)
	os.Exit(code)
}

func newUser(t *testing.T, name string) int64 {
	t.Helper()
	id, err := db.CreateUser(context.Background(), name, "hash")
	require.NoError(t, err)
	return id
}

func TestSessionManagement(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("GET", "/", nil)

	var userID int64 = 42
	require.NoError(t, SetSession(w, r, userID, "alice"))

	// Cookies set on the response must be passed back in a new request
	r2 := httptest.NewRequest("GET", "/", nil)
	for _, c := range w.Result().Cookies() {
		r2.AddCookie(c)
	}

	if GetUserID(r2) != userID {
		t.Errorf("Expected userID %d, got %d", userID, GetUserID(r2))
	}
	if GetUsername(r2) != "alice" {
		t.Errorf("Expected username alice, got %q", GetUsername(r2))
	}

	w3 := httptest.NewRecorder()
	require.NoError(t, ClearSession(w3, r2))
	r3 := httptest.NewRequest("GET", "/", nil)
	for _, c := range w3.Result().Cookies() {
		if c.MaxAge >= 0 {
			r3.AddCookie(c)
		}
	}
	if GetUserID(r3) != 0 {
		t.Error("Expected no user after ClearSession")
	}
}

func TestCountersRoundTripThroughCookie(t *testing.T) {
	now := time.Date(2026, time.October, 15, 8, 0, 0, 0, time.UTC)

	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/spin", nil)
	require.NoError(t, SetSession(w, r, 7, "bob"))
	assert.Equal(t, chores.Counters{}, LoadCounters(r))

	want := chores.Counters{
		Daily:   chores.DailyCounter{Date: "2026-10-15", Count: 2},
		Monthly: chores.MonthlyCounter{Month: "2026-10", Count: 1},
	}
	// Each Save writes a full cookie; keep only the last one
	wSave := httptest.NewRecorder()
	require.NoError(t, SaveCounters(wSave, r, want))

	r2 := httptest.NewRequest("POST", "/spin", nil)
	for _, c := range wSave.Result().Cookies() {
		r2.AddCookie(c)
	}
	assert.Equal(t, want, LoadCounters(r2))
	assert.Equal(t, int64(7), GetUserID(r2))

	w2 := httptest.NewRecorder()
	require.NoError(t, ResetCounters(w2, r2, now))
	assert.Equal(t, chores.Fresh(now), LoadCounters(r2))
}

func TestLoginDropsOldCounters(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/login", nil)
	require.NoError(t, SaveCounters(w, r, chores.Counters{Daily: chores.DailyCounter{Date: "2026-10-15", Count: 2}}))
	require.NoError(t, SetSession(w, r, 1, "carol"))
	assert.Equal(t, chores.Counters{}, LoadCounters(r))
}

func TestAPITokenPersistence(t *testing.T) {
	ctx := context.Background()
	userID := newUser(t, "mobile-user")

	token, err := CreateAPIToken(ctx, userID)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	sess, ok := GetAPISession(ctx, token)
	require.True(t, ok, "Failed to retrieve API session by token")
	assert.Equal(t, userID, sess.UserID)
	assert.Equal(t, token, sess.Token)

	_, ok = GetAPISession(ctx, "invalid-token")
	assert.False(t, ok, "GetAPISession succeeded for invalid token")

	APICounters.Save(token, chores.Counters{Monthly: chores.MonthlyCounter{Month: "2026-10", Count: 1}})
	require.NoError(t, RevokeAPIToken(ctx, token))
	_, ok = GetAPISession(ctx, token)
	assert.False(t, ok)
	assert.Equal(t, chores.Counters{}, APICounters.Load(token))
}

func TestCounterStoreIsolatesTokens(t *testing.T) {
	s := NewCounterStore()
	a := chores.Counters{Daily: chores.DailyCounter{Date: "2026-10-15", Count: 1}}
	s.Save("a", a)
	assert.Equal(t, a, s.Load("a"))
	assert.Equal(t, chores.Counters{}, s.Load("b"))
}

func TestCounterStoreUpdateIsAtomic(t *testing.T) {
	s := NewCounterStore()
	capReached := errors.New("cap reached")

	var wg sync.WaitGroup
	var mu sync.Mutex
	granted := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update("tok", func(c chores.Counters) (chores.Counters, error) {
				if c.Daily.Count >= chores.DailyCap {
					return c, capReached
				}
				time.Sleep(time.Millisecond)
				c.Daily.Count++
				return c, nil
			})
			if err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, chores.DailyCap, granted)
	assert.Equal(t, chores.DailyCap, s.Load("tok").Daily.Count)
}

func TestCounterStoreUpdateKeepsCountersOnError(t *testing.T) {
	s := NewCounterStore()
	rolled := chores.Counters{Daily: chores.DailyCounter{Date: "2026-10-16"}}
	err := s.Update("tok", func(chores.Counters) (chores.Counters, error) {
		return rolled, chores.ErrNoEligibleChores
	})
	assert.ErrorIs(t, err, chores.ErrNoEligibleChores)
	assert.Equal(t, rolled, s.Load("tok"))
}

func TestCounterStoreSweep(t *testing.T) {
	now := time.Date(2026, time.October, 15, 9, 0, 0, 0, time.UTC)
	s := NewCounterStore()
	s.Save("today", chores.Counters{Daily: chores.DailyCounter{Date: "2026-10-15", Count: 1}})
	s.Save("this-month", chores.Counters{
		Daily:   chores.DailyCounter{Date: "2026-10-01", Count: 2},
		Monthly: chores.MonthlyCounter{Month: "2026-10", Count: 1},
	})
	s.Save("last-month", chores.Counters{
		Daily:   chores.DailyCounter{Date: "2026-09-30", Count: 2},
		Monthly: chores.MonthlyCounter{Month: "2026-09", Count: 1},
	})
	s.Save("zero", chores.Counters{})

	s.Sweep(now)

	assert.Equal(t, 2, s.Len())
	assert.Equal(t, 1, s.Load("today").Daily.Count)
	assert.Equal(t, 1, s.Load("this-month").Monthly.Count)
	assert.Equal(t, chores.Counters{}, s.Load("last-month"))
}

func TestExpiredAPITokens(t *testing.T) {
	ctx := context.Background()
	userID := newUser(t, "expiring-user")

	old, err := CreateAPIToken(ctx, userID)
	require.NoError(t, err)
	_, err = db.DB.ExecContext(ctx, "UPDATE api_sessions SET created_at = datetime('now', '-31 days') WHERE token = ?", old)
	require.NoError(t, err)

	_, ok := GetAPISession(ctx, old)
	assert.False(t, ok, "expired token accepted")

	fresh, err := CreateAPIToken(ctx, userID)
	require.NoError(t, err)
	_, ok = GetAPISession(ctx, fresh)
	assert.True(t, ok)

	var n int
	require.NoError(t, db.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM api_sessions WHERE token = ?", old).Scan(&n))
	assert.Zero(t, n, "expired token was not pruned")
}

func TestGenerateRandomToken(t *testing.T) {
	t1 := generateRandomToken(32)
	t2 := generateRandomToken(32)

	if t1 == t2 {
		t.Error("generateRandomToken produced identical tokens")
	}
}

func TestValidation(t *testing.T) {
	assert.ErrorIs(t, ValidatePassword("short"), ErrPasswordTooShort)
	assert.NoError(t, ValidatePassword("long enough"))

	assert.NoError(t, ValidateUsername("alice"))
	assert.ErrorIs(t, ValidateUsername(""), ErrInvalidUsername)
	assert.ErrorIs(t, ValidateUsername(" alice"), ErrInvalidUsername)
	long := make([]byte, MaxUsernameLength+1)
	for i := range long {
		long[i] = 'a'
	}
	assert.ErrorIs(t, ValidateUsername(string(long)), ErrInvalidUsername)
}

func TestFlashes(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest("POST", "/register", nil)
	require.NoError(t, AddFlash(w, r, "Registration successful! Please log in."))

	r2 := httptest.NewRequest("GET", "/login", nil)
	for _, c := range w.Result().Cookies() {
		r2.AddCookie(c)
	}
	w2 := httptest.NewRecorder()
	got, err := Flashes(w2, r2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Registration successful! Please log in."}, got)
	got, err = Flashes(w2, r2)
	require.NoError(t, err)
	assert.Empty(t, got)
}
