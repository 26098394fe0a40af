package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

var DB *sql.DB

// HashCost is the bcrypt cost used for new password hashes.
var HashCost = 12

var (
	dummyOnce sync.Once
	dummyHash string
)

// DummyHash is compared against when a login names an unknown user, so the
// response time does not reveal which usernames exist.
func DummyHash() string {
	dummyOnce.Do(func() {
		dummyHash, _ = HashPassword("chorewheel-dummy-password")
	})
	return dummyHash
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username TEXT UNIQUE NOT NULL COLLATE NOCASE,
	password_hash TEXT NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chores (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	chore_text TEXT NOT NULL,
	chore_type TEXT NOT NULL CHECK (chore_type IN ('daily', 'weekly', 'monthly')),
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_chores_user ON chores(user_id);

CREATE TABLE IF NOT EXISTS api_sessions (
	token TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
);
`

// InitDB opens the SQLite database and creates the schema.
func InitDB(dataSourceName string) error {
	conn, err := sql.Open("sqlite3", dataSourceName+dsnOptions(dataSourceName))
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	// An in-memory database lives only as long as its connection.
	if dataSourceName == ":memory:" {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		_ = conn.Close()
		return fmt.Errorf("create tables: %w", err)
	}
	DB = conn
	return nil
}

func dsnOptions(dataSourceName string) string {
	if strings.Contains(dataSourceName, "?") {
		return "&_foreign_keys=on"
	}
	return "?_foreign_keys=on"
}

// WithTx runs fn inside a SQL transaction.
func WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), HashCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
