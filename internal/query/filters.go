package query

import (
	"strconv"
	"strings"
)

// MonthFilter is an optional calendar month, 1 through 12.
type MonthFilter struct {
	month int
}

// NewMonthFilter parses raw. An empty string yields an unset filter.
func NewMonthFilter(raw string) (MonthFilter, error) {
	n, set, err := parseBounded("month", raw, 1, 12)
	if err != nil || !set {
		return MonthFilter{}, err
	}
	return MonthFilter{month: n}, nil
}

// Value returns the month and whether one was given.
func (f MonthFilter) Value() (int, bool) { return f.month, f.month != 0 }

// DayFilter is an optional day of the month, 1 through 31.
type DayFilter struct {
	day int
}

// NewDayFilter parses raw. An empty string yields an unset filter.
func NewDayFilter(raw string) (DayFilter, error) {
	n, set, err := parseBounded("day", raw, 1, 31)
	if err != nil || !set {
		return DayFilter{}, err
	}
	return DayFilter{day: n}, nil
}

// Value returns the day and whether one was given.
func (f DayFilter) Value() (int, bool) { return f.day, f.day != 0 }

// Page is a validated limit/page pair. Pages are numbered from 1.
type Page struct {
	Limit  int
	Number int
}

// DefaultLimit applies when the request carries no limit.
const DefaultLimit = 100

// NewPage parses the limit and page parameters. Empty values select DefaultLimit
// (capped at maxLimit) and page 1.
func NewPage(limit, page string, maxLimit int) (Page, error) {
	if maxLimit <= 0 {
		maxLimit = DefaultLimit
	}

	p := Page{Limit: min(DefaultLimit, maxLimit), Number: 1}

	if n, set, err := parseBounded("limit", limit, 1, maxLimit); err != nil {
		return Page{}, err
	} else if set {
		p.Limit = n
	}

	if n, set, err := parseBounded("page", page, 1, int(^uint32(0)>>1)); err != nil {
		return Page{}, err
	} else if set {
		p.Number = n
	}

	return p, nil
}

// Offset is the number of rows to skip for this page.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Limit
}

func parseBounded(field, raw string, lo, hi int) (int, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, invalid(field, "must be an integer, got %q", raw)
	}
	if n < lo || n > hi {
		return 0, false, invalid(field, "must be between %d and %d, got %d", lo, hi, n)
	}
	return n, true, nil
}
