package render

import (
	"fmt"
	"strings"

	"github.com/BuildWithDuke/bugsbugger/internal/escalation"
	"github.com/BuildWithDuke/bugsbugger/internal/reminder"
	"github.com/BuildWithDuke/bugsbugger/internal/storage"
	"github.com/BuildWithDuke/bugsbugger/pkg/tgui"
)

func Welcome() string {
	return tgui.New().
		Title("🐰", "Welcome to BugsBugger!").
		Blank().
		Line("I'll nag you about bills, deadlines and events with escalating frequency until you mark them done.").
		Blank().
		HTML(tgui.B("Quick start:")).
		HTML(tgui.JoinH(" ", tgui.Esc("• /add"), tgui.Code("2026-04-01 09:00 pay rent | FREQ=MONTHLY"))).
		Line("• /list - see your reminders").
		Line("• /help - full command list").
		Blank().
		Line("I won't shut up until you pay attention.").
		String()
}

var helpSections = []struct {
	title string
	lines [][2]string
}{
	{"Creating reminders", [][2]string{
		{"/add <YYYY-MM-DD> [HH:MM] <title> [| RRULE]", "create a reminder"},
	}},
	{"Managing reminders", [][2]string{
		{"/list [page]", "open reminders"},
		{"/upcoming", "next 7 days"},
		{"/show <id>", "details and nag history"},
		{"/done <id>", "mark done (recurring ones roll over)"},
		{"/snooze <id> [minutes]", "snooze a reminder"},
		{"/edit <id> <field> <value>", "change title, due, amount or repeat"},
		{"/archive <id>", "close without completing"},
		{"/delete <id>", "delete a reminder"},
	}},
	{"Settings & info", [][2]string{
		{"/settings", "view your settings"},
		{"/timezone <tz>", "e.g. America/Toronto"},
		{"/quiet <start> <end>", "e.g. 23:00 07:00"},
		{"/escalation <profile>", "nag intensity"},
		{"/stats", "your statistics"},
	}},
}

// Help lists the commands. profiles are the available escalation names.
func Help(profiles []string) string {
	b := tgui.New().Title("🐰", "BugsBugger commands")
	for _, sec := range helpSections {
		b.Blank().HTML(tgui.B(sec.title + ":"))
		for _, l := range sec.lines {
			b.HTML(tgui.JoinH(" - ", tgui.Code(l[0]), tgui.Esc(l[1])))
		}
	}
	if len(profiles) > 0 {
		b.Blank().Line("Profiles: " + strings.Join(profiles, ", "))
	}
	return b.Blank().
		Line("Use the buttons on a nag to mark it done or snooze it.").
		String()
}

// Settings shows a user's timezone, quiet hours and profile.
func Settings(u storage.User, cat *escalation.Catalog) string {
	b := tgui.New().Title("⚙️", "Settings").Blank()
	b.KV("🌍", "Timezone", u.Timezone)
	b.KV("🌙", "Quiet hours", u.QuietStart+" - "+u.QuietEnd)
	b.KV("📈", "Escalation", u.Profile)
	if cat != nil {
		if p, ok := cat.Lookup(u.Profile); ok {
			b.Blank()
			for _, t := range p.Tiers {
				b.Line(fmt.Sprintf("• %s: %s every %s", TierLabel(t.Name), thresholdText(t.Threshold), Duration(t.Interval)))
			}
		}
	}
	return b.String()
}

func thresholdText(days float64) string {
	switch {
	case days < 0:
		return "overdue,"
	case days < 1:
		return fmt.Sprintf("within %s,", Duration(int(days*24*60+0.5)))
	}
	return fmt.Sprintf("from %s before,", Duration(int(days*24*60+0.5)))
}

// Stats renders /stats.
func Stats(st reminder.Stats) string {
	b := tgui.New().Title("📊", "Your BugsBugger stats").Blank()
	b.HTML(tgui.B("📋 Overview"))
	b.Line(fmt.Sprintf("Total reminders: %d", st.Total))
	b.Line(fmt.Sprintf("✓ Completed: %d", st.Done))
	b.Line(fmt.Sprintf("🔔 Active: %d", st.Active))
	b.Line(fmt.Sprintf("⏸ Snoozed: %d", st.Snoozed))
	b.Line(fmt.Sprintf("💥 Overdue: %d", st.Overdue))
	b.Line(fmt.Sprintf("📅 Upcoming (7 days): %d", st.UpcomingWeek))

	b.Blank().HTML(tgui.B("🎯 Performance"))
	b.Line(fmt.Sprintf("Completion rate: %.1f%%", st.CompletionRate()))
	b.Line(fmt.Sprintf("Average nags per reminder: %.1f", st.AvgNags()))

	b.Blank().HTML(tgui.B("🐰 Nagging"))
	b.Line(fmt.Sprintf("Total nags sent: %d", st.TotalNags))
	if st.MostNagged != "" {
		b.HTML(tgui.JoinH(" ", tgui.Esc("Most nagged:"), tgui.I(st.MostNagged), tgui.Esc(fmt.Sprintf("(%d nags)", st.MostNaggedNags))))
	}

	if st.Snoozes > 0 {
		b.Blank().HTML(tgui.B("⏸ Snoozes"))
		b.Line(fmt.Sprintf("Total snoozes: %d", st.Snoozes))
		b.Line("Average snooze: " + Duration(int(st.AvgSnoozeMinutes+0.5)))
	}

	b.Blank().HTML(tgui.B("🔄 Types"))
	b.Line(fmt.Sprintf("🔁 Recurring: %d", st.Recurring))
	b.Line(fmt.Sprintf("1️⃣ One-time: %d", st.Total-st.Recurring))
	return b.String()
}
