package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/BuildWithDuke/bugsbugger/internal/reminder"
	"github.com/BuildWithDuke/bugsbugger/internal/render"
	"github.com/BuildWithDuke/bugsbugger/internal/storage"
	"github.com/BuildWithDuke/bugsbugger/internal/transport/telegram/router"
	"github.com/BuildWithDuke/bugsbugger/pkg/tgui"
)

const historyLimit = 5

func (b *Bot) Commands() []router.Command {
	cmds := []router.Command{
		{Name: "start", Description: "register and show a quick intro", Handle: b.cmdStart},
		{Name: "help", Description: "list commands", Handle: b.cmdHelp},
		{Name: "add", Aliases: []string{"new"}, Description: "create a reminder", Usage: "/add <YYYY-MM-DD> [HH:MM] <title> [| RRULE]", Handle: b.cmdAdd},
		{Name: "list", Aliases: []string{"ls"}, Description: "open reminders", Usage: "/list [page]", Handle: b.cmdList},
		{Name: "upcoming", Aliases: []string{"week"}, Description: "what is due in the next 7 days", Handle: b.cmdUpcoming},
		{Name: "show", Description: "details and nag history", Usage: "/show <id>", Handle: b.cmdShow},
		{Name: "done", Description: "mark a reminder done", Usage: "/done <id>", Handle: b.cmdDone},
		{Name: "snooze", Description: "snooze a reminder", Usage: "/snooze <id> [minutes]", Handle: b.cmdSnooze},
		{Name: "edit", Description: "change a reminder", Usage: "/edit <id> <title|due|amount|currency|repeat> <value>", Handle: b.cmdEdit},
		{Name: "archive", Description: "close without completing", Usage: "/archive <id>", Handle: b.cmdArchive},
		{Name: "delete", Aliases: []string{"rm"}, Description: "delete a reminder", Usage: "/delete <id>", Handle: b.cmdDelete},
		{Name: "settings", Description: "view your settings", Handle: b.cmdSettings},
		{Name: "timezone", Aliases: []string{"tz"}, Description: "set your timezone", Usage: "/timezone <Area/City>", Handle: b.cmdTimezone},
		{Name: "quiet", Description: "set quiet hours", Usage: "/quiet <HH:MM> <HH:MM>", Handle: b.cmdQuiet},
		{Name: "escalation", Description: "set nag intensity", Usage: "/escalation <profile>", Handle: b.cmdEscalation},
		{Name: "stats", Description: "your statistics", Handle: b.cmdStats},
	}
	for i := range cmds {
		cmds[i].Timeout = b.opt.Timeout
	}
	return cmds
}

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	if _, err := b.user(ctx, req); err != nil {
		return b.fail(ctx, req, err)
	}
	_, err := req.Reply(ctx, render.Welcome(), nil)
	return err
}

func (b *Bot) cmdHelp(ctx context.Context, req *router.Request) error {
	_, err := req.Reply(ctx, render.Help(b.svc.Policy().Catalog().Names()), nil)
	return err
}

func (b *Bot) cmdAdd(ctx context.Context, req *router.Request) error {
	u, err := b.user(ctx, req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	if req.Text == "" {
		return b.fail(ctx, req, usage("add", "/add <YYYY-MM-DD> [HH:MM] <title> [| RRULE]"))
	}
	loc, _ := b.svc.Policy().Zone(u)
	d, err := parseAdd(req.Text, loc)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	ob, err := b.svc.Create(ctx, u, d)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	msg := tgui.New().Title("✅", "Reminder created").Blank().HTML(tgui.Raw(b.render.Card(ob, u, b.now())))
	if ob.NextFireAt != nil {
		msg.Blank().Line("First nag: " + b.render.When(*ob.NextFireAt, u))
	}
	_, err = req.Reply(ctx, msg.String(), nil)
	return err
}

func (b *Bot) cmdList(ctx context.Context, req *router.Request) error {
	index := 0
	if len(req.Args) > 0 {
		n, err := strconv.Atoi(req.Args[0])
		if err != nil || n < 1 {
			return b.fail(ctx, req, usage("page", "/list [page]"))
		}
		index = n - 1
	}
	text, kb, err := b.listPage(ctx, req, index)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	_, err = req.Reply(ctx, text, markup(kb))
	return err
}

func (b *Bot) listPage(ctx context.Context, req *router.Request, index int) (string, *tgui.Inline, error) {
	u, err := b.user(ctx, req)
	if err != nil {
		return "", nil, err
	}
	obs, err := b.svc.List(ctx, u, false)
	if err != nil {
		return "", nil, err
	}
	page := tgui.Paginate(obs, index, b.opt.PageSize)
	return b.render.List(page, u, b.now()), pageKeyboard(page.Index, page.HasPrev, page.HasNext), nil
}

func (b *Bot) cmdUpcoming(ctx context.Context, req *router.Request) error {
	u, err := b.user(ctx, req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	obs, err := b.svc.Upcoming(ctx, u, 0)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	_, err = req.Reply(ctx, b.render.Upcoming(obs, u, b.now()), nil)
	return err
}

// withID resolves the user and the leading id argument.
func (b *Bot) withID(ctx context.Context, req *router.Request, u string) (storage.User, int64, error) {
	if len(req.Args) == 0 {
		return storage.User{}, 0, usage("id", u)
	}
	id, err := parseID(req.Args[0])
	if err != nil {
		return storage.User{}, 0, err
	}
	user, err := b.user(ctx, req)
	return user, id, err
}

func (b *Bot) cmdShow(ctx context.Context, req *router.Request) error {
	u, id, err := b.withID(ctx, req, "/show <id>")
	if err != nil {
		return b.fail(ctx, req, err)
	}
	ob, err := b.svc.Get(ctx, u, id)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	hist, err := b.svc.History(ctx, u, id, historyLimit)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	msg := tgui.New().HTML(tgui.Raw(b.render.Card(ob, u, b.now())))
	if tier, _ := b.svc.Policy().ResolveTier(ob, b.now()); ob.Status.Schedulable() {
		msg.Blank().Line(fmt.Sprintf("Tier: %s · nagged %d times", render.TierLabel(tier.Name), ob.NagCount))
		if ob.NextFireAt != nil {
			msg.Line("Next nag: " + b.render.When(*ob.NextFireAt, u))
		}
	} else {
		msg.Blank().Line("Status: " + string(ob.Status))
	}
	if len(hist) > 0 {
		msg.Blank().HTML(tgui.Raw(b.render.History(hist, u)))
	}
	var kb *tgui.Inline
	if ob.Status.Schedulable() {
		kb = NagKeyboard(ob.ID)
	}
	_, err = req.Reply(ctx, msg.String(), markup(kb))
	return err
}

func (b *Bot) cmdDone(ctx context.Context, req *router.Request) error {
	u, id, err := b.withID(ctx, req, "/done <id>")
	if err != nil {
		return b.fail(ctx, req, err)
	}
	text, err := b.done(ctx, u, id)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	_, err = req.Reply(ctx, text, nil)
	return err
}

func (b *Bot) done(ctx context.Context, u storage.User, id int64) (string, error) {
	res, err := b.svc.Acknowledge(ctx, u, id)
	if err != nil {
		return "", err
	}
	ob := res.Obligation
	msg := tgui.New()
	switch {
	case res.RolledOver:
		msg.HTML(tgui.JoinH(" ", tgui.Esc("🔁 Done:"), tgui.B(ob.Title))).
			Line("Next occurrence: " + b.render.When(ob.DueAt, u))
	case res.RecurrenceErr != nil:
		msg.HTML(tgui.JoinH(" ", tgui.Esc("✅ Done:"), tgui.B(ob.Title))).
			Line("The repeat rule has no more occurrences, so it is closed.")
	default:
		msg.HTML(tgui.JoinH(" ", tgui.Esc("✅ Done:"), tgui.B(ob.Title)))
	}
	return msg.String(), nil
}

func (b *Bot) cmdSnooze(ctx context.Context, req *router.Request) error {
	u, id, err := b.withID(ctx, req, "/snooze <id> [minutes]")
	if err != nil {
		return b.fail(ctx, req, err)
	}
	minutes := 0
	if len(req.Args) > 1 {
		if minutes, err = strconv.Atoi(req.Args[1]); err != nil || minutes <= 0 {
			return b.fail(ctx, req, &reminder.InputError{Field: "minutes", Msg: "expected a positive number"})
		}
	}
	text, err := b.snooze(ctx, u, id, minutes)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	_, err = req.Reply(ctx, text, nil)
	return err
}

func (b *Bot) snooze(ctx context.Context, u storage.User, id int64, minutes int) (string, error) {
	ob, err := b.svc.Snooze(ctx, u, id, minutes)
	if err != nil {
		return "", err
	}
	msg := tgui.New().HTML(tgui.JoinH(" ", tgui.Esc("⏸ Snoozed"), tgui.B(ob.Title)))
	if ob.SnoozedUntil != nil {
		msg.Line("Until " + b.render.When(*ob.SnoozedUntil, u))
	}
	return msg.String(), nil
}

func (b *Bot) cmdEdit(ctx context.Context, req *router.Request) error {
	const u = "/edit <id> <title|due|amount|currency|repeat> <value>"
	if len(req.Args) < 3 {
		return b.fail(ctx, req, usage("edit", u))
	}
	user, id, err := b.withID(ctx, req, u)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	loc, _ := b.svc.Policy().Zone(user)
	p, err := parsePatch(req.Args[1], strings.Join(req.Args[2:], " "), loc)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	ob, err := b.svc.Edit(ctx, user, id, p)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	msg := tgui.New().Title("✏️", "Reminder updated").Blank().HTML(tgui.Raw(b.render.Card(ob, user, b.now())))
	_, err = req.Reply(ctx, msg.String(), nil)
	return err
}

func (b *Bot) cmdArchive(ctx context.Context, req *router.Request) error {
	u, id, err := b.withID(ctx, req, "/archive <id>")
	if err != nil {
		return b.fail(ctx, req, err)
	}
	ob, err := b.svc.Archive(ctx, u, id)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	_, err = req.Reply(ctx, tgui.JoinH(" ", tgui.Esc("📦 Archived:"), tgui.B(ob.Title)).String(), nil)
	return err
}

func (b *Bot) cmdDelete(ctx context.Context, req *router.Request) error {
	u, id, err := b.withID(ctx, req, "/delete <id>")
	if err != nil {
		return b.fail(ctx, req, err)
	}
	ob, err := b.svc.Get(ctx, u, id)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	text := tgui.JoinH(" ", tgui.Esc("Delete"), tgui.B(ob.Title), tgui.Esc("for good?")).String()
	_, err = req.Reply(ctx, text, deleteKeyboard(id).Markup())
	return err
}

func (b *Bot) cmdSettings(ctx context.Context, req *router.Request) error {
	u, err := b.user(ctx, req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	_, err = req.Reply(ctx, render.Settings(u, b.svc.Policy().Catalog()), nil)
	return err
}

func (b *Bot) cmdTimezone(ctx context.Context, req *router.Request) error {
	u, err := b.user(ctx, req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	if len(req.Args) != 1 {
		return b.fail(ctx, req, usage("timezone", "/timezone <Area/City>, currently "+u.Timezone))
	}
	if u, err = b.svc.SetTimezone(ctx, u, req.Args[0]); err != nil {
		return b.fail(ctx, req, err)
	}
	_, err = req.Reply(ctx, tgui.JoinH(" ", tgui.Esc("🌍 Timezone set to"), tgui.Code(u.Timezone)).String(), nil)
	return err
}

func (b *Bot) cmdQuiet(ctx context.Context, req *router.Request) error {
	u, err := b.user(ctx, req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	if len(req.Args) != 2 {
		return b.fail(ctx, req, usage("quiet", "/quiet <HH:MM> <HH:MM>, currently "+u.QuietStart+" "+u.QuietEnd))
	}
	if u, err = b.svc.SetQuietHours(ctx, u, req.Args[0], req.Args[1]); err != nil {
		return b.fail(ctx, req, err)
	}
	_, err = req.Reply(ctx, fmt.Sprintf("🌙 Quiet hours: %s - %s", u.QuietStart, u.QuietEnd), nil)
	return err
}

func (b *Bot) cmdEscalation(ctx context.Context, req *router.Request) error {
	u, err := b.user(ctx, req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	cat := b.svc.Policy().Catalog()
	if len(req.Args) != 1 {
		return b.fail(ctx, req, usage("profile", "/escalation <"+strings.Join(cat.Names(), "|")+">, currently "+u.Profile))
	}
	if u, err = b.svc.SetProfile(ctx, u, req.Args[0]); err != nil {
		return b.fail(ctx, req, err)
	}
	_, err = req.Reply(ctx, render.Settings(u, cat), nil)
	return err
}

func (b *Bot) cmdStats(ctx context.Context, req *router.Request) error {
	u, err := b.user(ctx, req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	st, err := b.svc.Stats(ctx, u)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	_, err = req.Reply(ctx, render.Stats(st), nil)
	return err
}
