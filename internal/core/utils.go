package core

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/pkg/errors"
)

var ErrInvalidDate = errors.New("invalid date")

var (
	monthDayRegex = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})$`)
	relativeRegex = regexp.MustCompile(`^([dwmy])-(\d+)$`)
)

// ProgressPrint writes msg to stderr unless quiet is true.
func ProgressPrint(msg string, quiet bool) {
	if !quiet {
		fmt.Fprintln(os.Stderr, msg)
	}
}

// GetTZ returns a *time.Location for the given timezone name.
// Falls back to UTC if the timezone is not found.
func GetTZ(name string) *time.Location {
	if name == "" {
		name = DefaultTZ
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Timezone '%s' not found; falling back to UTC.\n", name)
		return time.UTC
	}
	return loc
}

// Today returns the current calendar date in loc.
func Today(loc *time.Location) civil.Date {
	return civil.DateOf(time.Now().In(loc))
}

// ParseDate parses a YYYY-MM-DD string into a calendar date.
func ParseDate(s string) (civil.Date, error) {
	d, err := civil.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return civil.Date{}, errors.Wrapf(ErrInvalidDate, "'%s' (expected YYYY-MM-DD)", s)
	}
	return d, nil
}

// ParseDateSpec returns a concrete date for flexible spec strings, relative to today.
// Supports:
// 1. Exact YYYY-MM-DD
// 2. today / yesterday
// 3. M/D or MM/DD (most recent past occurrence)
// 4. Relative forms like d-7 (days), w-2 (weeks), m-3 (months), y-1 (years)
func ParseDateSpec(spec string, today civil.Date) (civil.Date, error) {
	spec = strings.TrimSpace(spec)

	if d, err := civil.ParseDate(spec); err == nil {
		return d, nil
	}

	switch strings.ToLower(spec) {
	case "today":
		return today, nil
	case "yesterday":
		return today.AddDays(-1), nil
	}

	if matches := monthDayRegex.FindStringSubmatch(spec); matches != nil {
		month, _ := strconv.Atoi(matches[1])
		day, _ := strconv.Atoi(matches[2])
		target := civil.Date{Year: today.Year, Month: time.Month(month), Day: day}
		if target.After(today) {
			target.Year--
		}
		if !target.IsValid() {
			return civil.Date{}, errors.Wrapf(ErrInvalidDate, "'%s' is not a calendar day in %d", spec, target.Year)
		}
		return target, nil
	}

	if matches := relativeRegex.FindStringSubmatch(strings.ToLower(spec)); matches != nil {
		num, _ := strconv.Atoi(matches[2])

		switch matches[1] {
		case "d":
			return today.AddDays(-num), nil
		case "w":
			return today.AddDays(-num * 7), nil
		case "m":
			return addDate(today, 0, -num), nil
		case "y":
			return addDate(today, -num, 0), nil
		}
	}

	return civil.Date{}, errors.Wrapf(ErrInvalidDate, "invalid date specification: '%s'", spec)
}

// GetTimeRange returns the inclusive (start, end) dates of a named period.
// Supported periods: today, yesterday, this-week, last-week, this-month,
// last-month, this-quarter, last-quarter.
func GetTimeRange(period string, today civil.Date) (civil.Date, civil.Date, error) {
	switch period {
	case "today":
		return today, today, nil

	case "yesterday":
		d := today.AddDays(-1)
		return d, d, nil

	case "this-week":
		start := startOfWeek(today)
		return start, start.AddDays(6), nil

	case "last-week":
		start := startOfWeek(today).AddDays(-7)
		return start, start.AddDays(6), nil

	case "this-month":
		first := civil.Date{Year: today.Year, Month: today.Month, Day: 1}
		return first, addDate(first, 0, 1).AddDays(-1), nil

	case "last-month":
		first := addDate(civil.Date{Year: today.Year, Month: today.Month, Day: 1}, 0, -1)
		return first, addDate(first, 0, 1).AddDays(-1), nil

	case "this-quarter":
		q := (int(today.Month) - 1) / 3
		first := civil.Date{Year: today.Year, Month: time.Month(q*3 + 1), Day: 1}
		return first, addDate(first, 0, 3).AddDays(-1), nil

	case "last-quarter":
		q := (int(today.Month) - 1) / 3
		first := addDate(civil.Date{Year: today.Year, Month: time.Month(q*3 + 1), Day: 1}, 0, -3)
		return first, addDate(first, 0, 3).AddDays(-1), nil
	}

	return civil.Date{}, civil.Date{}, errors.Wrapf(ErrInvalidDate, "unknown period: %s", period)
}

// ResolveWindow turns optional start/end strings into a concrete window.
// A missing start defaults to DefaultWindowDays before today, a missing end to today.
func ResolveWindow(startStr, endStr string, today civil.Date) (civil.Date, civil.Date, error) {
	start := today.AddDays(-DefaultWindowDays)
	end := today

	if startStr != "" {
		d, err := ParseDate(startStr)
		if err != nil {
			return civil.Date{}, civil.Date{}, err
		}
		start = d
	}
	if endStr != "" {
		d, err := ParseDate(endStr)
		if err != nil {
			return civil.Date{}, civil.Date{}, err
		}
		end = d
	}

	if start.After(end) {
		return civil.Date{}, civil.Date{}, errors.Wrapf(ErrInvalidDate, "start %s is after end %s", start, end)
	}
	return start, end, nil
}

// MaskToken hides all but the last four characters of a credential.
func MaskToken(token string) string {
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}

func startOfWeek(d civil.Date) civil.Date {
	// Week starts on Monday
	weekday := int(d.In(time.UTC).Weekday())
	if weekday == 0 {
		weekday = 7
	}
	return d.AddDays(-(weekday - 1))
}

func addDate(d civil.Date, years, months int) civil.Date {
	return civil.DateOf(d.In(time.UTC).AddDate(years, months, 0))
}
