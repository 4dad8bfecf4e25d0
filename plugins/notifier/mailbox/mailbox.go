// Package mailbox routes timer events to in-process consumers. Each caller
// handle owns one mailbox; events queue without bound so the delivering
// interval never waits on a slow reader.
package mailbox

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/eapache/queue"
	"github.com/go-logr/logr"
	"golang.org/x/exp/maps"

	"github.com/jaym/go-microtimer/caller"
	"github.com/jaym/go-microtimer/timer"
)

var (
	ErrNoMailbox       = errors.New("no mailbox for caller")
	ErrMailboxExists   = errors.New("mailbox already open")
	ErrMailboxClosed   = errors.New("mailbox closed")
	ErrNotifierStopped = errors.New("mailbox notifier stopped")
)

type Mailbox struct {
	owner caller.Handle

	lock   sync.Mutex
	q      *queue.Queue
	closed bool
	wake   chan struct{}
}

func newMailbox(owner caller.Handle) *Mailbox {
	return &Mailbox{
		owner: owner,
		q:     queue.New(),
		wake:  make(chan struct{}, 1),
	}
}

func (m *Mailbox) Owner() caller.Handle {
	return m.owner
}

func (m *Mailbox) put(ev timer.Event) error {
	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return ErrMailboxClosed
	}
	m.q.Add(ev)
	m.lock.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

func (m *Mailbox) close() {
	m.lock.Lock()
	m.closed = true
	m.lock.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Receive returns the oldest queued event. Once the mailbox is closed and
// drained it returns ErrMailboxClosed.
func (m *Mailbox) Receive(ctx context.Context) (timer.Event, error) {
	for {
		m.lock.Lock()
		if m.q.Length() > 0 {
			ev := m.q.Remove().(timer.Event)
			m.lock.Unlock()
			return ev, nil
		}
		closed := m.closed
		m.lock.Unlock()
		if closed {
			return timer.Event{}, ErrMailboxClosed
		}

		select {
		case <-ctx.Done():
			return timer.Event{}, ctx.Err()
		case <-m.wake:
		}
	}
}

func (m *Mailbox) Len() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.q.Length()
}

// Notifier implements timer.Notifier over a set of mailboxes.
type Notifier struct {
	log logr.Logger

	lock    sync.RWMutex
	stopped bool
	boxes   map[caller.Handle]*Mailbox
}

var _ timer.Notifier = (*Notifier)(nil)

func New(log logr.Logger) *Notifier {
	return &Notifier{
		log:   log,
		boxes: make(map[caller.Handle]*Mailbox),
	}
}

func (n *Notifier) Open(c caller.Handle) (*Mailbox, error) {
	n.lock.Lock()
	defer n.lock.Unlock()
	if n.stopped {
		return nil, ErrNotifierStopped
	}
	if _, ok := n.boxes[c]; ok {
		return nil, errors.Wrapf(ErrMailboxExists, "%s", c)
	}
	m := newMailbox(c)
	n.boxes[c] = m
	n.log.V(4).Info("opened mailbox", "caller", c)
	return m, nil
}

// Close detaches the mailbox for c. Events already queued can still be
// received.
func (n *Notifier) Close(c caller.Handle) {
	n.lock.Lock()
	m, ok := n.boxes[c]
	delete(n.boxes, c)
	n.lock.Unlock()

	if ok {
		m.close()
		n.log.V(4).Info("closed mailbox", "caller", c, "pending", m.Len())
	}
}

func (n *Notifier) Notify(c caller.Handle, ev timer.Event) error {
	n.lock.RLock()
	m, ok := n.boxes[c]
	n.lock.RUnlock()
	if !ok {
		return errors.Wrapf(ErrNoMailbox, "%s", c)
	}
	return m.put(ev)
}

// Stop closes every mailbox and refuses new ones.
func (n *Notifier) Stop() {
	n.lock.Lock()
	n.stopped = true
	boxes := maps.Values(n.boxes)
	n.boxes = make(map[caller.Handle]*Mailbox)
	n.lock.Unlock()

	for _, m := range boxes {
		m.close()
	}
	n.log.V(3).Info("stopped mailbox notifier", "mailboxes", len(boxes))
}
