// Package engine decides when obligations fire and fires them.
//
// Policy resolves the active escalation tier and computes next_fire_at,
// shifting candidates out of the owner's quiet window. Dispatcher polls the
// store for due obligations and advances each one exactly once per delivery.
// The commit is guarded by the nag_count and revision read before delivery.
//
// Delivery is polled, not timed per obligation: a nag fires at most one poll
// interval after its next_fire_at. Runner drives the poll from a cron
// "@every" schedule that never overlaps cycles.
package engine
