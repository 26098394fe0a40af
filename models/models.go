package models

import (
	"fmt"
	"strings"
	"time"
)

// Category governs which period cap applies to a chore.
type Category string

const (
	Daily   Category = "daily"
	Weekly  Category = "weekly"
	Monthly Category = "monthly"
)

// Categories lists every category in display order.
var Categories = []Category{Daily, Weekly, Monthly}

func (c Category) IsValid() bool {
	switch c {
	case Daily, Weekly, Monthly:
		return true
	default:
		return false
	}
}

func ParseCategory(input string) (Category, error) {
	c := Category(strings.TrimSpace(strings.ToLower(input)))
	if !c.IsValid() {
		return "", fmt.Errorf("invalid chore category: %q", input)
	}
	return c, nil
}

type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type Chore struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Text      string    `json:"chore"`
	Category  Category  `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}
