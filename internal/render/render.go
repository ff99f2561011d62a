// Package render turns reminders, stats and settings into Telegram HTML.
package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/BuildWithDuke/bugsbugger/internal/engine"
	"github.com/BuildWithDuke/bugsbugger/internal/escalation"
	"github.com/BuildWithDuke/bugsbugger/internal/storage"
	"github.com/BuildWithDuke/bugsbugger/pkg/logx"
	"github.com/BuildWithDuke/bugsbugger/pkg/tgui"
)

const (
	dueLayout     = "Jan 02, 2006 at 03:04 PM"
	shortLayout   = "Jan 02"
	snoozedLayout = "03:04 PM"

	// listTitleRunes keeps one list entry on a phone-width line.
	listTitleRunes = 48
)

var urgency = map[string]string{
	"gentle":      "🔔",
	"reminder":    "🔔",
	"early":       "🔔",
	"moderate":    "⚠️",
	"approaching": "⚠️",
	"urgent":      "🚨",
	"due_soon":    "🚨",
	"critical":    "🔥",
	"overdue":     "💥",
}

var statusEmoji = map[storage.Status]string{
	storage.StatusActive:   "🔔",
	storage.StatusSnoozed:  "⏸",
	storage.StatusDone:     "✓",
	storage.StatusArchived: "📦",
}

// Renderer formats messages in each user's timezone.
type Renderer struct {
	policy *engine.Policy
}

func New(policy *engine.Policy) *Renderer {
	if policy == nil {
		policy = engine.NewPolicy(nil, nil, logx.Nop())
	}
	return &Renderer{policy: policy}
}

// Nag implements engine.Renderer.
func (r *Renderer) Nag(ob storage.Obligation, u storage.User, tier escalation.Tier, now time.Time) string {
	emoji, ok := urgency[tier.Name]
	if !ok {
		emoji = "🔔"
	}
	b := tgui.New().
		HTML(tgui.JoinH(" ", tgui.Esc(emoji), tgui.B(TierLabel(tier.Name)+" Reminder"), tgui.Esc(emoji))).
		Blank()
	r.card(b, ob, u, now, true)
	return b.String()
}

// Card is the full view of one reminder.
func (r *Renderer) Card(ob storage.Obligation, u storage.User, now time.Time) string {
	b := tgui.New()
	r.card(b, ob, u, now, true)
	return b.String()
}

func (r *Renderer) card(b *tgui.Builder, ob storage.Obligation, u storage.User, now time.Time, showID bool) {
	loc, _ := r.policy.Zone(u)
	title := tgui.B(ob.Title)
	if !ob.Status.Schedulable() {
		title = tgui.S(ob.Title)
	}
	if showID {
		title = tgui.JoinH(" ", title, tgui.Esc(fmt.Sprintf("(ID: %d)", ob.ID)))
	}
	b.HTML(title)
	b.Line(fmt.Sprintf("📅 Due: %s (%s)", ob.DueAt.In(loc).Format(dueLayout), Relative(ob.DueAt, now)))
	if ob.Recurring && ob.Rule != "" {
		b.HTML(tgui.JoinH(" ", tgui.Esc("🔁 Recurring:"), tgui.Code(ob.Rule)))
	}
	if ob.Amount != nil && *ob.Amount != 0 {
		b.Line("💰 Amount: " + Money(*ob.Amount, ob.Currency))
	}
	if ob.Description != "" {
		b.Blank().Line(ob.Description)
	}
	if ob.Status == storage.StatusSnoozed && ob.SnoozedUntil != nil {
		b.Blank().Line("⏸ Snoozed until " + ob.SnoozedUntil.In(loc).Format(snoozedLayout))
	}
}

// When formats t in the user's timezone.
func (r *Renderer) When(t time.Time, u storage.User) string {
	loc, _ := r.policy.Zone(u)
	return t.In(loc).Format(dueLayout)
}

// List renders one page of reminders.
func (r *Renderer) List(page tgui.Page[storage.Obligation], u storage.User, now time.Time) string {
	if page.Total == 0 {
		return "You have no active reminders."
	}
	loc, _ := r.policy.Zone(u)
	b := tgui.New().HTML(tgui.B(fmt.Sprintf("Your Reminders (%d)", page.Total)))
	for _, ob := range page.Items {
		b.Blank().
			HTML(tgui.JoinH(" ", tgui.Esc(statusEmoji[ob.Status]), tgui.B(tgui.TruncRunes(ob.Title, listTitleRunes)), tgui.Esc(fmt.Sprintf("(ID: %d)", ob.ID)))).
			Line(fmt.Sprintf("   Due: %s (%s)", ob.DueAt.In(loc).Format(shortLayout), Relative(ob.DueAt, now)))
	}
	if page.Pages > 1 {
		b.Blank().HTML(tgui.I(page.Label()))
	}
	return b.String()
}

// Upcoming renders the seven-day dashboard. obs must be sorted by due time.
func (r *Renderer) Upcoming(obs []storage.Obligation, u storage.User, now time.Time) string {
	b := tgui.New().Title("📆", "Next 7 days")
	if len(obs) == 0 {
		return b.Blank().Line("Nothing due this week. 🎉").String()
	}
	loc, _ := r.policy.Zone(u)
	day := ""
	for _, ob := range obs {
		local := ob.DueAt.In(loc)
		if d := local.Format("Monday, Jan 02"); d != day {
			day = d
			b.Blank().HTML(tgui.B(d))
		}
		line := fmt.Sprintf("%s %s · %s (#%d)", statusEmoji[ob.Status], local.Format("15:04"), ob.Title, ob.ID)
		if ob.Amount != nil && *ob.Amount != 0 {
			line += " · " + Money(*ob.Amount, ob.Currency)
		}
		b.Line(line)
	}
	return b.String()
}

// TierLabel is "CRITICAL"/"OVERDUE" for the loud tiers, title case otherwise.
func TierLabel(name string) string {
	switch name {
	case "critical", "overdue":
		return strings.ToUpper(name)
	}
	words := strings.FieldsFunc(name, func(r rune) bool { return r == '_' || r == ' ' })
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// Relative is "in 3 days", "tomorrow" or "2 hours overdue".
func Relative(due, now time.Time) string {
	d := due.Sub(now)
	switch {
	case d < 0 && d > -time.Minute:
		return "just now"
	case d < 0:
		return humanize.RelTime(due, now, "overdue", "")
	case d < time.Minute:
		return "now"
	case d >= 24*time.Hour && d < 48*time.Hour:
		return "tomorrow"
	}
	return "in " + strings.TrimSpace(humanize.RelTime(now, due, "", ""))
}

// Money formats an amount with thousands separators; currency defaults to USD.
func Money(v float64, currency string) string {
	if currency == "" {
		currency = "USD"
	}
	return currency + " " + humanize.FormatFloat("#,###.##", v)
}

// Duration is "15 minutes", "1.5 hours", "2 days".
func Duration(minutes int) string {
	unit := func(v float64, name string) string {
		if v == float64(int(v)) {
			if int(v) == 1 {
				return "1 " + name
			}
			return fmt.Sprintf("%d %ss", int(v), name)
		}
		return fmt.Sprintf("%.1f %ss", v, name)
	}
	switch {
	case minutes < 60:
		return unit(float64(minutes), "minute")
	case minutes < 1440:
		return unit(float64(minutes)/60, "hour")
	}
	return unit(float64(minutes)/1440, "day")
}

// History lists recent firings, newest first.
func (r *Renderer) History(recs []storage.FiringRecord, u storage.User) string {
	if len(recs) == 0 {
		return ""
	}
	loc, _ := r.policy.Zone(u)
	b := tgui.New().HTML(tgui.B("Recent nags"))
	for _, rec := range recs {
		b.Line(fmt.Sprintf("#%d %s · %s", rec.Seq, rec.FiredAt.In(loc).Format("Jan 02 15:04"), TierLabel(rec.Tier)))
	}
	return b.String()
}
