package chores

import "time"

const (
	dayLayout   = "2006-01-02"
	monthLayout = "2006-01"
)

// DailyCounter counts daily picks made on Date.
type DailyCounter struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

// MonthlyCounter counts monthly picks made during Month.
type MonthlyCounter struct {
	Month string `json:"month"`
	Count int    `json:"count"`
}

// Counters is the per-session pick state. It is never written to the
// database; callers keep it next to the login session.
type Counters struct {
	Daily   DailyCounter   `json:"daily"`
	Monthly MonthlyCounter `json:"monthly"`
}

// PeriodKeys returns the calendar day and year-month of now.
func PeriodKeys(now time.Time) (day, month string) {
	return now.Format(dayLayout), now.Format(monthLayout)
}

// ResetDaily returns stored unchanged when it belongs to today, otherwise a
// fresh zero counter for today. An absent (zero) record is always replaced.
func ResetDaily(stored DailyCounter, today string) DailyCounter {
	if stored.Date != today {
		return DailyCounter{Date: today}
	}
	return stored
}

// ResetMonthly is ResetDaily for the month window.
func ResetMonthly(stored MonthlyCounter, month string) MonthlyCounter {
	if stored.Month != month {
		return MonthlyCounter{Month: month}
	}
	return stored
}

// Current rolls both counters over to the periods containing now.
func (c Counters) Current(now time.Time) Counters {
	day, month := PeriodKeys(now)
	return Counters{
		Daily:   ResetDaily(c.Daily, day),
		Monthly: ResetMonthly(c.Monthly, month),
	}
}

// Fresh returns zero counters for the periods containing now.
func Fresh(now time.Time) Counters {
	return Counters{}.Current(now)
}

// Remaining reports how many daily and monthly picks are still allowed.
// Counters are expected to be current.
func (c Counters) Remaining() (daily, monthly int) {
	return max(DailyCap-c.Daily.Count, 0), max(MonthlyCap-c.Monthly.Count, 0)
}
