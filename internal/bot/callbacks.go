package bot

import (
	"context"

	"github.com/BuildWithDuke/bugsbugger/internal/transport/telegram/router"
	"github.com/BuildWithDuke/bugsbugger/pkg/tgui"
)

// Callback actions. Data is "action:id[:arg]".
const (
	actionDone   = "done"
	actionSnooze = "snooze"
	actionList   = "list"
	actionDelete = "del"
	actionKeep   = "delno"
)

func (b *Bot) Callbacks() []router.CallbackRoute {
	return []router.CallbackRoute{
		{Action: actionDone, Timeout: b.opt.Timeout, Handle: b.cbDone},
		{Action: actionSnooze, Timeout: b.opt.Timeout, Handle: b.cbSnooze},
		{Action: actionList, Timeout: b.opt.Timeout, Handle: b.cbList},
		{Action: actionDelete, Timeout: b.opt.Timeout, Handle: b.cbDelete},
		{Action: actionKeep, Timeout: b.opt.Timeout, Handle: b.cbKeep},
	}
}

func (b *Bot) cbDone(ctx context.Context, req *router.Request, cb tgui.Callback) error {
	id, err := cb.Int64(0)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	u, err := b.user(ctx, req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	text, err := b.done(ctx, u, id)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	_ = req.Answer(ctx, "Done")
	return req.Edit(ctx, text, nil)
}

func (b *Bot) cbSnooze(ctx context.Context, req *router.Request, cb tgui.Callback) error {
	id, err := cb.Int64(0)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	minutes, err := cb.Int(1)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	u, err := b.user(ctx, req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	text, err := b.snooze(ctx, u, id, minutes)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	_ = req.Answer(ctx, "Snoozed")
	return req.Edit(ctx, text, nil)
}

func (b *Bot) cbList(ctx context.Context, req *router.Request, cb tgui.Callback) error {
	index, err := cb.Int(0)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	text, kb, err := b.listPage(ctx, req, index)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	return req.Edit(ctx, text, markup(kb))
}

func (b *Bot) cbDelete(ctx context.Context, req *router.Request, cb tgui.Callback) error {
	id, err := cb.Int64(0)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	u, err := b.user(ctx, req)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	ob, err := b.svc.Get(ctx, u, id)
	if err != nil {
		return b.fail(ctx, req, err)
	}
	if err := b.svc.Delete(ctx, u, id); err != nil {
		return b.fail(ctx, req, err)
	}
	_ = req.Answer(ctx, "Deleted")
	return req.Edit(ctx, tgui.JoinH(" ", tgui.Esc("🗑 Deleted:"), tgui.B(ob.Title)).String(), nil)
}

func (b *Bot) cbKeep(ctx context.Context, req *router.Request, _ tgui.Callback) error {
	return req.Edit(ctx, "Kept it. 👍", nil)
}
