package chores

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const MaxChoreLength = 256

var ErrChoreTooLong = errors.New("chore text too long")

// ParseLines splits a multiline form field into chore texts, one per
// non-blank line.
func ParseLines(text string) ([]string, error) {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > MaxChoreLength {
			return nil, fmt.Errorf("%w: %.20q...", ErrChoreTooLong, line)
		}
		out = append(out, line)
	}
	return out, nil
}
