package coretools

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/sigap/pkg/toolexecutor"
	"github.com/robfig/cron/v3"
)

const dateLayout = "2006-01-02"

// maxDayOffset bounds day arithmetic to about a century
const maxDayOffset = 36500

var weekdayNames = map[time.Weekday]string{
	time.Sunday:    "Minggu",
	time.Monday:    "Senin",
	time.Tuesday:   "Selasa",
	time.Wednesday: "Rabu",
	time.Thursday:  "Kamis",
	time.Friday:    "Jumat",
	time.Saturday:  "Sabtu",
}

func dateScheduleTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name: ToolDateSchedule,
		Description: "Date and schedule calculations. Operations: add_days (date + days), " +
			"add_business_days (skips weekends), diff_days (date to end_date), weekday (day name of date), " +
			"next_runs (next count occurrences of a cron expression). Dates use YYYY-MM-DD; date defaults to today.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "operation", Type: "string", Description: "Operation to perform", Required: true,
				Enum: []string{"add_days", "add_business_days", "diff_days", "weekday", "next_runs"}},
			{Name: "date", Type: "string", Description: "Start date YYYY-MM-DD (default today)"},
			{Name: "days", Type: "integer", Description: "Number of days for add operations"},
			{Name: "end_date", Type: "string", Description: "End date YYYY-MM-DD for diff_days"},
			{Name: "cron", Type: "string", Description: "Cron expression for next_runs, e.g. 0 9 * * 1"},
			{Name: "count", Type: "integer", Description: "Occurrences for next_runs (default 3, max 10)"},
		},
		Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
			return runDateOperation(opts, params)
		},
	}
}

func runDateOperation(opts Options, params map[string]interface{}) (map[string]interface{}, error) {
	op := stringParam(params, "operation")

	start, err := parseDate(stringParam(params, "date"), opts)
	if err != nil {
		return nil, err
	}

	switch op {
	case "add_days":
		days, err := dayOffset(params)
		if err != nil {
			return nil, err
		}
		result := start.AddDate(0, 0, days)
		return dateResult(op, start, result), nil

	case "add_business_days":
		days, err := dayOffset(params)
		if err != nil {
			return nil, err
		}
		result := addBusinessDays(start, days)
		return dateResult(op, start, result), nil

	case "diff_days":
		raw := stringParam(params, "end_date")
		if raw == "" {
			return nil, fmt.Errorf("end_date is required for diff_days")
		}
		end, err := parseDate(raw, opts)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"operation":     op,
			"date":          start.Format(dateLayout),
			"end_date":      end.Format(dateLayout),
			"days":          daysBetween(start, end),
			"business_days": businessDaysBetween(start, end),
		}, nil

	case "weekday":
		return map[string]interface{}{
			"operation": op,
			"date":      start.Format(dateLayout),
			"weekday":   weekdayNames[start.Weekday()],
		}, nil

	case "next_runs":
		spec := stringParam(params, "cron")
		if spec == "" {
			return nil, fmt.Errorf("cron is required for next_runs")
		}
		schedule, err := cron.ParseStandard(spec)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
		}
		n := intParam(params, "count", 3)
		if n <= 0 {
			n = 3
		}
		if n > 10 {
			n = 10
		}

		from := opts.Now().In(opts.Location)
		if stringParam(params, "date") != "" {
			from = start.Add(-time.Second)
		}
		runs := make([]string, 0, n)
		next := from
		for i := 0; i < n; i++ {
			next = schedule.Next(next)
			if next.IsZero() {
				break
			}
			runs = append(runs, fmt.Sprintf("%s %s", weekdayNames[next.Weekday()], next.Format("2006-01-02 15:04")))
		}
		return map[string]interface{}{
			"operation": op,
			"cron":      spec,
			"runs":      runs,
		}, nil
	}

	return nil, fmt.Errorf("unknown operation %q", op)
}

func dayOffset(params map[string]interface{}) (int, error) {
	days := intParam(params, "days", 0)
	if days > maxDayOffset || days < -maxDayOffset {
		return 0, fmt.Errorf("days must be between -%d and %d, got %d", maxDayOffset, maxDayOffset, days)
	}
	return days, nil
}

func parseDate(raw string, opts Options) (time.Time, error) {
	if raw == "" {
		now := opts.Now().In(opts.Location)
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, opts.Location), nil
	}
	for _, layout := range []string{dateLayout, "02-01-2006", "02/01/2006"} {
		if t, err := time.ParseInLocation(layout, raw, opts.Location); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q (expected YYYY-MM-DD)", raw)
}

func dateResult(op string, start, result time.Time) map[string]interface{} {
	return map[string]interface{}{
		"operation": op,
		"date":      start.Format(dateLayout),
		"result":    result.Format(dateLayout),
		"weekday":   weekdayNames[result.Weekday()],
	}
}

func isWeekend(t time.Time) bool {
	return t.Weekday() == time.Saturday || t.Weekday() == time.Sunday
}

// addBusinessDays moves days weekdays from start. Every seven calendar days
// hold exactly five weekdays, so whole weeks are skipped arithmetically.
func addBusinessDays(start time.Time, days int) time.Time {
	step := 1
	if days < 0 {
		step = -1
		days = -days
	}
	if days == 0 {
		return start
	}

	// Keep at least one weekday for the loop so the result never lands on a weekend
	weeks := (days - 1) / 5
	t := start.AddDate(0, 0, step*7*weeks)
	days -= 5 * weeks

	for days > 0 {
		t = t.AddDate(0, 0, step)
		if !isWeekend(t) {
			days--
		}
	}
	return t
}

// daysBetween counts calendar days, independent of DST shifts
func daysBetween(a, b time.Time) int {
	ua := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

// businessDaysBetween counts weekdays in (a, b]
func businessDaysBetween(a, b time.Time) int {
	sign := 1
	if b.Before(a) {
		a, b = b, a
		sign = -1
	}

	weeks := daysBetween(a, b) / 7
	n := 5 * weeks
	for t := a.AddDate(0, 0, 7*weeks+1); !t.After(b); t = t.AddDate(0, 0, 1) {
		if !isWeekend(t) {
			n++
		}
	}
	return sign * n
}
