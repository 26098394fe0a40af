package auth

import (
	"crypto/sha256"
	"encoding/gob"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/sessions"

	"chorewheel/chores"
	"chorewheel/config"
)

var Store *sessions.CookieStore

func init() {
	// flash messages are kept as []any in the session
	gob.Register([]any{})
}

func InitStore() {
	// Derive two 32-byte keys from the session key
	// Auth key for signing (HMAC)
	authKey := sha256.Sum256([]byte(config.AppConfig.SessionKey + "auth"))
	// Encryption key for content encryption (AES)
	encKey := sha256.Sum256([]byte(config.AppConfig.SessionKey + "encryption"))

	Store = sessions.NewCookieStore(authKey[:], encKey[:])
	Store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 7, // 7 days
		HttpOnly: true,
		Secure:   config.AppConfig.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

const SessionName = "chorewheel-session"

const (
	keyUserID       = "userID"
	keyUsername     = "username"
	keyDailyDate    = "dailyDate"
	keyDailyCount   = "dailyCount"
	keyMonthlyMonth = "monthlyMonth"
	keyMonthlyCount = "monthlyCount"
)

func GetUserID(r *http.Request) int64 {
	session, _ := Store.Get(r, SessionName)
	if id, ok := session.Values[keyUserID].(int64); ok {
		return id
	}
	return 0
}

func GetUsername(r *http.Request) string {
	session, _ := Store.Get(r, SessionName)
	name, _ := session.Values[keyUsername].(string)
	return name
}

// SetSession logs the user in. Counters left over from an earlier login are
// dropped.
func SetSession(w http.ResponseWriter, r *http.Request, userID int64, username string) error {
	session, _ := Store.Get(r, SessionName)
	session.Values = map[any]any{
		keyUserID:   userID,
		keyUsername: username,
	}
	return session.Save(r, w)
}

func ClearSession(w http.ResponseWriter, r *http.Request) error {
	session, _ := Store.Get(r, SessionName)
	session.Values = map[any]any{}
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// LoadCounters returns the pick counters stored in the session, zero if
// none were saved yet. They are not rolled over to the current period.
func LoadCounters(r *http.Request) chores.Counters {
	session, _ := Store.Get(r, SessionName)
	var c chores.Counters
	c.Daily.Date, _ = session.Values[keyDailyDate].(string)
	c.Daily.Count, _ = session.Values[keyDailyCount].(int)
	c.Monthly.Month, _ = session.Values[keyMonthlyMonth].(string)
	c.Monthly.Count, _ = session.Values[keyMonthlyCount].(int)
	return c
}

func SaveCounters(w http.ResponseWriter, r *http.Request, c chores.Counters) error {
	session, _ := Store.Get(r, SessionName)
	session.Values[keyDailyDate] = c.Daily.Date
	session.Values[keyDailyCount] = c.Daily.Count
	session.Values[keyMonthlyMonth] = c.Monthly.Month
	session.Values[keyMonthlyCount] = c.Monthly.Count
	return session.Save(r, w)
}

// ResetCounters starts fresh counters for the periods containing now.
func ResetCounters(w http.ResponseWriter, r *http.Request, now time.Time) error {
	return SaveCounters(w, r, chores.Fresh(now))
}

const (
	MinPasswordLength = 8
	MaxUsernameLength = 80
)

var (
	ErrPasswordTooShort = errors.New("password too short")
	ErrInvalidUsername  = errors.New("invalid username")
)

func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

func ValidateUsername(username string) error {
	if username == "" || strings.TrimSpace(username) != username ||
		utf8.RuneCountInString(username) > MaxUsernameLength {
		return ErrInvalidUsername
	}
	return nil
}

// AddFlash queues a one-shot message shown on the next rendered page.
func AddFlash(w http.ResponseWriter, r *http.Request, msg string) error {
	session, _ := Store.Get(r, SessionName)
	session.AddFlash(msg)
	return session.Save(r, w)
}

// Flashes pops the queued messages. It writes the session cookie, so it must
// run before the response body. The messages are returned even when saving
// the session fails.
func Flashes(w http.ResponseWriter, r *http.Request) ([]string, error) {
	session, _ := Store.Get(r, SessionName)
	raw := session.Flashes()
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok {
			out = append(out, s)
		}
	}
	return out, session.Save(r, w)
}
