package bot

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/BuildWithDuke/bugsbugger/internal/engine"
	"github.com/BuildWithDuke/bugsbugger/internal/escalation"
	"github.com/BuildWithDuke/bugsbugger/internal/storage"
	kit "github.com/BuildWithDuke/bugsbugger/internal/transport"
	"github.com/BuildWithDuke/bugsbugger/pkg/tgui"
)

// Deliverer sends nags through a transport adapter with the action buttons
// attached. It implements engine.Deliverer.
type Deliverer struct {
	adapter kit.Adapter
}

var _ engine.Deliverer = (*Deliverer)(nil)

func NewDeliverer(adapter kit.Adapter) (*Deliverer, error) {
	if adapter == nil {
		return nil, errors.New("bot: adapter is required")
	}
	return &Deliverer{adapter: adapter}, nil
}

func (d *Deliverer) Deliver(ctx context.Context, u storage.User, ob storage.Obligation, msg string, _ escalation.Tier) (engine.Receipt, error) {
	ref, err := d.adapter.SendText(ctx, u.ChatID, msg, kit.HTML(NagKeyboard(ob.ID).Markup()))
	if err != nil {
		return engine.Receipt{}, &engine.TransportError{ObligationID: ob.ID, Err: err}
	}
	return engine.Receipt{ChatID: ref.ChatID, MessageID: ref.MessageID}, nil
}

// Snooze choices on nag buttons, in minutes.
var (
	snoozeHour = int(time.Hour / time.Minute)
	snoozeDay  = int(24 * time.Hour / time.Minute)
)

// NagKeyboard is Done | Snooze 1h | Snooze 1d.
func NagKeyboard(id int64) *tgui.Inline {
	sid := strconv.FormatInt(id, 10)
	return tgui.NewInline().Row(
		tgui.Btn("✅ Done", tgui.MustData(actionDone, sid)),
		tgui.Btn("⏸ 1h", tgui.MustData(actionSnooze, sid, strconv.Itoa(snoozeHour))),
		tgui.Btn("⏸ 1d", tgui.MustData(actionSnooze, sid, strconv.Itoa(snoozeDay))),
	)
}

func deleteKeyboard(id int64) *tgui.Inline {
	sid := strconv.FormatInt(id, 10)
	return tgui.ConfirmInline(
		tgui.Btn("🗑 Delete", tgui.MustData(actionDelete, sid)),
		tgui.Btn("Cancel", tgui.MustData(actionKeep, sid)),
	)
}

// pageKeyboard has prev/next buttons for a multi-page list, or is nil.
func pageKeyboard(index int, hasPrev, hasNext bool) *tgui.Inline {
	if !hasPrev && !hasNext {
		return nil
	}
	var row []tgui.Button
	if hasPrev {
		row = append(row, tgui.Btn("◀ Prev", tgui.MustData(actionList, strconv.Itoa(index-1))))
	}
	if hasNext {
		row = append(row, tgui.Btn("Next ▶", tgui.MustData(actionList, strconv.Itoa(index+1))))
	}
	return tgui.NewInline().Row(row...)
}

// markup unwraps an optional keyboard without producing a typed nil.
func markup(kb *tgui.Inline) any {
	if kb == nil {
		return nil
	}
	return kb.Markup()
}
