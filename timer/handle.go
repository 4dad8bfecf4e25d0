package timer

import "github.com/jaym/go-microtimer/caller"

// Canceler injects a cancel request into a running interval. Cancel must not
// block and must be safe to call any number of times, including after the
// interval has retired.
type Canceler interface {
	Cancel()
}

// Handle refers to one running interval. It can be copied and shared freely.
type Handle struct {
	ID    string
	Owner caller.Handle

	canceler Canceler
}

func NewHandle(id string, owner caller.Handle, c Canceler) Handle {
	return Handle{
		ID:       id,
		Owner:    owner,
		canceler: c,
	}
}

// Cancel requests that the interval stop. The confirmation, if the interval
// was still running, arrives as a cancelled event to Owner.
func (h Handle) Cancel() {
	if h.canceler != nil {
		h.canceler.Cancel()
	}
}
