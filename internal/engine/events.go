package engine

// Event types published on the bus.
const (
	EventNagFired  = "nag.fired"
	EventNagFailed = "nag.failed"
	EventCycleDone = "cycle.done"
)

// NagEvent is the Data of nag.fired and nag.failed.
type NagEvent struct {
	ObligationID int64
	UserID       int64
	Tier         string
	Seq          int
	MessageID    int
	Err          string
}
