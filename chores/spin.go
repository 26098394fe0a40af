// Package chores holds the chore wheel rules: which chores may be picked in
// the current day and month, and the random pick itself.
package chores

import (
	"errors"
	"math/rand/v2"

	"chorewheel/models"
)

const (
	DailyCap   = 2
	MonthlyCap = 1
)

// ErrNoEligibleChores is returned by Spin when every category is empty or
// capped. It is an expected outcome, shown to the user as a message.
var ErrNoEligibleChores = errors.New("no eligible chores available at the moment")

// ByCategory is a user's chore texts grouped by category.
type ByCategory map[models.Category][]string

// Picker draws a uniform index in [0, n).
type Picker interface {
	IntN(n int) int
}

type randomPicker struct{}

func (randomPicker) IntN(n int) int { return rand.IntN(n) }

// RandomPicker uses the process-wide math/rand/v2 source.
var RandomPicker Picker = randomPicker{}

type Candidate struct {
	Chore    string          `json:"chore"`
	Category models.Category `json:"type"`
}

type Result struct {
	Candidate
	Counters Counters `json:"-"`
}

// Eligible lists the chores that may be picked under counters, daily first,
// then weekly, then monthly.
func Eligible(lists ByCategory, counters Counters) []Candidate {
	var out []Candidate
	add := func(c models.Category) {
		for _, text := range lists[c] {
			out = append(out, Candidate{Chore: text, Category: c})
		}
	}
	if counters.Daily.Count < DailyCap {
		add(models.Daily)
	}
	add(models.Weekly)
	if counters.Monthly.Count < MonthlyCap {
		add(models.Monthly)
	}
	return out
}

// Spin picks one eligible chore uniformly at random. Every candidate weighs
// the same, so a category with more chores comes up more often. The counter
// of the picked category is advanced in the returned Result; counters passed
// in are not modified.
func Spin(lists ByCategory, counters Counters, pick Picker) (Result, error) {
	eligible := Eligible(lists, counters)
	if len(eligible) == 0 {
		return Result{Counters: counters}, ErrNoEligibleChores
	}
	if pick == nil {
		pick = RandomPicker
	}

	selected := eligible[pick.IntN(len(eligible))]
	switch selected.Category {
	case models.Daily:
		counters.Daily.Count++
	case models.Monthly:
		counters.Monthly.Count++
	}
	return Result{Candidate: selected, Counters: counters}, nil
}
