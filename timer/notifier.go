package timer

import "github.com/jaym/go-microtimer/caller"

// Notifier delivers events to callers. Implementations are supplied by the
// embedding process; the timer core only calls Notify. A returned error is
// logged and otherwise ignored.
type Notifier interface {
	Notify(c caller.Handle, ev Event) error
}

type NotifierFunc func(c caller.Handle, ev Event) error

func (f NotifierFunc) Notify(c caller.Handle, ev Event) error {
	return f(c, ev)
}
