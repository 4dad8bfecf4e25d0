package timer

import (
	"fmt"

	"github.com/jaym/go-microtimer/caller"
)

type EventKind int

const (
	EventKindOk EventKind = iota
	EventKindTick
	EventKindCancelled
)

func (k EventKind) String() string {
	switch k {
	case EventKindOk:
		return "ok"
	case EventKindTick:
		return "tick"
	case EventKindCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// ParseEventKind is the inverse of EventKind.String.
func ParseEventKind(s string) (EventKind, bool) {
	switch s {
	case "ok":
		return EventKindOk, true
	case "tick":
		return EventKindTick, true
	case "cancelled":
		return EventKindCancelled, true
	}
	return 0, false
}

// Event is what a Notifier delivers to a caller. For ticks Seq is the 1-based
// tick number; for cancelled it is the number of ticks delivered before the
// interval retired.
type Event struct {
	Caller  caller.Handle
	Kind    EventKind
	TimerID string
	Seq     uint64
}

func (e Event) String() string {
	if e.TimerID == "" {
		return fmt.Sprintf("{%s %s}", e.Caller, e.Kind)
	}
	return fmt.Sprintf("{%s %s %s #%d}", e.Caller, e.Kind, e.TimerID, e.Seq)
}

func Ok(c caller.Handle) Event {
	return Event{Caller: c, Kind: EventKindOk}
}

func Tick(c caller.Handle, timerID string, seq uint64) Event {
	return Event{Caller: c, Kind: EventKindTick, TimerID: timerID, Seq: seq}
}

func Cancelled(c caller.Handle, timerID string, ticks uint64) Event {
	return Event{Caller: c, Kind: EventKindCancelled, TimerID: timerID, Seq: ticks}
}
