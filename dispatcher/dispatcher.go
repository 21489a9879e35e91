// Package dispatcher owns the action queue: a FIFO of candidate actions plus
// a single in-flight marker. Once an action leaves the queue it can no longer
// be cancelled.
package dispatcher

import (
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/root-sector-ltd-and-co-kg/framesync/types"
)

var (
	// ErrAlreadyDispatched is returned when cancelling an action that has left the queue
	ErrAlreadyDispatched = errors.New("action already dispatched")

	// ErrNotQueued is returned for an action id the dispatcher has never seen
	ErrNotQueued = errors.New("action not queued")

	// ErrDuplicateAction is returned when an action id is enqueued twice
	ErrDuplicateAction = errors.New("action already enqueued")

	// ErrEmpty is returned by Next when nothing is queued
	ErrEmpty = errors.New("action queue is empty")

	// ErrBusy is returned by Next while another action is in flight
	ErrBusy = errors.New("another action is in flight")
)

// Entry is a queued action with its enqueue time
type Entry struct {
	Action   types.Action
	QueuedAt time.Time
}

// Dispatcher is an ordered, at-most-once-per-enqueue action queue. An id that
// was dispatched or cancelled can never be enqueued again.
type Dispatcher struct {
	mu         sync.Mutex
	queue      *list.List
	index      map[string]*list.Element
	inFlight   *Entry
	dispatched map[string]struct{}
	cancelled  map[string]struct{}
	now        func() time.Time
}

// New creates an empty dispatcher
func New() *Dispatcher {
	return &Dispatcher{
		queue:      list.New(),
		index:      make(map[string]*list.Element),
		dispatched: make(map[string]struct{}),
		cancelled:  make(map[string]struct{}),
		now:        time.Now,
	}
}

// Enqueue appends action to the tail of the queue
func (d *Dispatcher) Enqueue(action types.Action) error {
	if action.ID == "" {
		return fmt.Errorf("action id cannot be empty")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, queued := d.index[action.ID]; queued {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, action.ID)
	}
	if _, done := d.dispatched[action.ID]; done {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, action.ID)
	}
	if _, gone := d.cancelled[action.ID]; gone {
		return fmt.Errorf("%w: %s was cancelled", ErrDuplicateAction, action.ID)
	}

	d.index[action.ID] = d.queue.PushBack(&Entry{Action: action, QueuedAt: d.now()})
	return nil
}

// Next removes the head of the queue and marks it in flight. Done must be
// called before the next action can be taken.
func (d *Dispatcher) Next() (types.Action, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inFlight != nil {
		return types.Action{}, ErrBusy
	}
	front := d.queue.Front()
	if front == nil {
		return types.Action{}, ErrEmpty
	}

	entry := d.queue.Remove(front).(*Entry)
	delete(d.index, entry.Action.ID)
	d.dispatched[entry.Action.ID] = struct{}{}
	d.inFlight = entry
	return entry.Action, nil
}

// Done clears the in-flight marker for actionID
func (d *Dispatcher) Done(actionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inFlight == nil || d.inFlight.Action.ID != actionID {
		return fmt.Errorf("action %s is not in flight", actionID)
	}
	d.inFlight = nil
	return nil
}

// Cancel removes a queued action
func (d *Dispatcher) Cancel(actionID string) (types.Action, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if elem, ok := d.index[actionID]; ok {
		entry := d.queue.Remove(elem).(*Entry)
		delete(d.index, actionID)
		d.cancelled[actionID] = struct{}{}
		return entry.Action, nil
	}
	if _, done := d.dispatched[actionID]; done {
		return types.Action{}, fmt.Errorf("%w: %s", ErrAlreadyDispatched, actionID)
	}
	return types.Action{}, fmt.Errorf("%w: %s", ErrNotQueued, actionID)
}

// Clear removes every queued action and returns them in queue order. The
// in-flight action is left alone.
func (d *Dispatcher) Clear() []types.Action {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := make([]types.Action, 0, d.queue.Len())
	for e := d.queue.Front(); e != nil; e = e.Next() {
		action := e.Value.(*Entry).Action
		removed = append(removed, action)
		d.cancelled[action.ID] = struct{}{}
	}
	d.queue.Init()
	d.index = make(map[string]*list.Element)
	return removed
}

// Len returns the number of queued actions
func (d *Dispatcher) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Len()
}

// InFlight returns the id of the action currently being processed
func (d *Dispatcher) InFlight() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inFlight == nil {
		return "", false
	}
	return d.inFlight.Action.ID, true
}

// Pending returns copies of the queued entries in order
func (d *Dispatcher) Pending() []Entry {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Entry, 0, d.queue.Len())
	for e := d.queue.Front(); e != nil; e = e.Next() {
		out = append(out, *e.Value.(*Entry))
	}
	return out
}
