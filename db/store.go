package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"chorewheel/chores"
	"chorewheel/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUsernameTaken = errors.New("username already exists")
)

func CreateUser(ctx context.Context, username, passwordHash string) (int64, error) {
	result, err := DB.ExecContext(ctx, "INSERT INTO users (username, password_hash) VALUES (?, ?)", username, passwordHash)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, ErrUsernameTaken
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return result.LastInsertId()
}

// GetUserByUsername matches usernames case-insensitively.
func GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	var u models.User
	err := DB.QueryRowContext(ctx, "SELECT id, username, password_hash, created_at FROM users WHERE username = ?", username).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

// AddChores stores texts under category for userID.
func AddChores(ctx context.Context, userID int64, category models.Category, texts []string) error {
	return AddChoreLists(ctx, userID, chores.ByCategory{category: texts})
}

// AddChoreLists stores every list in lists for userID in one transaction.
func AddChoreLists(ctx context.Context, userID int64, lists chores.ByCategory) error {
	for category := range lists {
		if !category.IsValid() {
			return fmt.Errorf("invalid chore category: %q", category)
		}
	}
	return WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "INSERT INTO chores (user_id, chore_text, chore_type) VALUES (?, ?, ?)")
		if err != nil {
			return fmt.Errorf("prepare insert chore: %w", err)
		}
		defer stmt.Close()

		for _, category := range models.Categories {
			for _, text := range lists[category] {
				if _, err := stmt.ExecContext(ctx, userID, text, string(category)); err != nil {
					return fmt.Errorf("insert chore: %w", err)
				}
			}
		}
		return nil
	})
}

// ListChores returns every chore owned by userID in insertion order.
func ListChores(ctx context.Context, userID int64) ([]models.Chore, error) {
	rows, err := DB.QueryContext(ctx, "SELECT id, user_id, chore_text, chore_type, created_at FROM chores WHERE user_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, fmt.Errorf("select chores: %w", err)
	}
	defer rows.Close()

	var list []models.Chore
	for rows.Next() {
		var c models.Chore
		var category string
		if err := rows.Scan(&c.ID, &c.UserID, &c.Text, &category, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chore: %w", err)
		}
		c.Category = models.Category(category)
		list = append(list, c)
	}
	return list, rows.Err()
}

// ListChoresByCategory groups the texts of ListChores for the chore wheel.
func ListChoresByCategory(ctx context.Context, userID int64) (chores.ByCategory, error) {
	list, err := ListChores(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := chores.ByCategory{}
	for _, c := range list {
		out[c.Category] = append(out[c.Category], c.Text)
	}
	return out, nil
}

// DeleteChore removes a chore only if userID owns it.
func DeleteChore(ctx context.Context, id, userID int64) error {
	result, err := DB.ExecContext(ctx, "DELETE FROM chores WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete chore: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete chore: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
