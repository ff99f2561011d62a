package bot

import (
	"strconv"
	"strings"
	"time"

	"github.com/BuildWithDuke/bugsbugger/internal/quiet"
	"github.com/BuildWithDuke/bugsbugger/internal/reminder"
)

const (
	dateLayout     = "2006-01-02"
	defaultDueHour = 9
)

// parseDue reads "YYYY-MM-DD [HH:MM]" from the front of fields in loc and
// returns the number of fields consumed.
func parseDue(fields []string, loc *time.Location) (time.Time, int, error) {
	if len(fields) == 0 {
		return time.Time{}, 0, &reminder.InputError{Field: "due", Msg: "missing date (YYYY-MM-DD)"}
	}
	day, err := time.ParseInLocation(dateLayout, fields[0], loc)
	if err != nil {
		return time.Time{}, 0, &reminder.InputError{Field: "due", Msg: "expected YYYY-MM-DD, got " + strconv.Quote(fields[0])}
	}
	clock, used := quiet.Clock{Hour: defaultDueHour}, 1
	if len(fields) > 1 && strings.Contains(fields[1], ":") {
		c, err := quiet.ParseClock(fields[1])
		if err != nil {
			return time.Time{}, 0, &reminder.InputError{Field: "due", Msg: "expected HH:MM, got " + strconv.Quote(fields[1])}
		}
		clock, used = c, 2
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour, clock.Minute, 0, 0, loc), used, nil
}

// parseAdd reads "<YYYY-MM-DD> [HH:MM] <title> [| rrule]".
func parseAdd(text string, loc *time.Location) (reminder.Draft, error) {
	left, rule, _ := strings.Cut(text, "|")
	fields := strings.Fields(left)
	due, used, err := parseDue(fields, loc)
	if err != nil {
		return reminder.Draft{}, err
	}
	title := strings.Join(fields[used:], " ")
	if title == "" {
		return reminder.Draft{}, &reminder.InputError{Field: "title", Msg: "must not be empty"}
	}
	return reminder.Draft{Title: title, DueAt: due, Rule: strings.TrimSpace(rule)}, nil
}

var editFields = []string{"title", "due", "amount", "currency", "repeat"}

// parsePatch builds a one-field patch. "none" clears repeat and amount.
func parsePatch(field, value string, loc *time.Location) (reminder.Patch, error) {
	value = strings.TrimSpace(value)
	var p reminder.Patch
	switch strings.ToLower(field) {
	case "title":
		p.Title = &value
	case "due":
		due, used, err := parseDue(strings.Fields(value), loc)
		if err != nil {
			return p, err
		}
		if used != len(strings.Fields(value)) {
			return p, &reminder.InputError{Field: "due", Msg: "expected YYYY-MM-DD [HH:MM]"}
		}
		p.DueAt = &due
	case "amount":
		if strings.EqualFold(value, "none") {
			p.ClearAmount = true
			break
		}
		v, err := strconv.ParseFloat(strings.TrimPrefix(strings.ReplaceAll(value, ",", ""), "$"), 64)
		if err != nil || v < 0 {
			return p, &reminder.InputError{Field: "amount", Msg: "expected a number, got " + strconv.Quote(value)}
		}
		p.Amount = &v
	case "currency":
		if len(value) != 3 {
			return p, &reminder.InputError{Field: "currency", Msg: "expected a 3-letter code"}
		}
		p.Currency = &value
	case "repeat":
		if strings.EqualFold(value, "none") {
			value = ""
		}
		p.Rule = &value
	default:
		return p, &reminder.InputError{Field: "field", Msg: "one of " + strings.Join(editFields, ", ")}
	}
	return p, nil
}
