// Package recurrence advances recurring obligations using RFC 5545 RRULEs.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

var (
	// ErrInvalidRule means the rule text could not be parsed.
	ErrInvalidRule = errors.New("recurrence: invalid rule")
	// ErrNoOccurrence means the rule has no occurrence after the given time.
	ErrNoOccurrence = errors.New("recurrence: no further occurrence")
)

// Error carries the rule that failed. errors.Is matches ErrInvalidRule or
// ErrNoOccurrence depending on Kind.
type Error struct {
	Kind error
	Rule string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v %q: %v", e.Kind, e.Rule, e.Err)
	}
	return fmt.Sprintf("%v %q", e.Kind, e.Rule)
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Normalize trims an RRULE body, drops an optional "RRULE:" prefix and
// upper-cases it.
func Normalize(rule string) string {
	s := strings.TrimSpace(rule)
	if len(s) >= 6 && strings.EqualFold(s[:6], "RRULE:") {
		s = s[6:]
	}
	return strings.ToUpper(strings.TrimSpace(s))
}

// Validate reports whether rule parses. It does not check for occurrences.
func Validate(rule string) error {
	_, err := parse(rule, time.Now())
	return err
}

// NextOccurrence returns the first occurrence of rule strictly after dueAt,
// treating dueAt as the rule's DTSTART. The result uses dueAt's location.
func NextOccurrence(dueAt time.Time, rule string) (time.Time, error) {
	r, err := parse(rule, dueAt)
	if err != nil {
		return time.Time{}, err
	}
	next := r.After(dueAt, false)
	if next.IsZero() {
		return time.Time{}, &Error{Kind: ErrNoOccurrence, Rule: rule}
	}
	return next.In(dueAt.Location()), nil
}

// Occurrences returns up to n occurrences strictly after dueAt. Used for previews.
func Occurrences(dueAt time.Time, rule string, n int) ([]time.Time, error) {
	out := make([]time.Time, 0, n)
	cur := dueAt
	for len(out) < n {
		next, err := NextOccurrence(cur, rule)
		if errors.Is(err, ErrNoOccurrence) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, next)
		cur = next
	}
	return out, nil
}

func parse(rule string, dtstart time.Time) (*rrule.RRule, error) {
	body := Normalize(rule)
	if body == "" {
		return nil, &Error{Kind: ErrInvalidRule, Rule: rule, Err: errors.New("empty rule")}
	}
	if strings.Contains(body, "DTSTART") {
		return nil, &Error{Kind: ErrInvalidRule, Rule: rule, Err: errors.New("DTSTART is implied by the due date")}
	}
	opt, err := rrule.StrToROption(body)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidRule, Rule: rule, Err: err}
	}
	opt.Dtstart = dtstart
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidRule, Rule: rule, Err: err}
	}
	return r, nil
}
