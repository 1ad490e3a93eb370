package venue

import (
	"context"
	"errors"
	"sync"
)

// ErrNoScript is returned when a ScriptedQuoter runs out of fills.
var ErrNoScript = errors.New("no scripted fill left")

type scriptEntry struct {
	fill Fill
	err  error
}

// ScriptedQuoter replays queued fills in order. Fills are queued by tests or
// through the API when no remote quoter is configured.
type ScriptedQuoter struct {
	mu      sync.Mutex
	entries []scriptEntry
	orders  []Order
}

func NewScriptedQuoter() *ScriptedQuoter {
	return &ScriptedQuoter{}
}

// Push queues a fill.
func (q *ScriptedQuoter) Push(fill Fill) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, scriptEntry{fill: fill})
}

// PushError queues a rejection.
func (q *ScriptedQuoter) PushError(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, scriptEntry{err: err})
}

func (q *ScriptedQuoter) Execute(_ context.Context, order Order) (Fill, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.orders = append(q.orders, order)
	if len(q.entries) == 0 {
		return Fill{}, ErrNoScript
	}
	next := q.entries[0]
	q.entries = q.entries[1:]
	return next.fill, next.err
}

// Orders returns every order seen so far.
func (q *ScriptedQuoter) Orders() []Order {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Order, len(q.orders))
	copy(out, q.orders)
	return out
}
