package viewport

import "sync"

// Events dispatches viewport events to handlers synchronously, in
// subscription order.
type Events struct {
	mu   sync.RWMutex
	next Subscription
	subs []subscriber
}

type subscriber struct {
	id   Subscription
	kind EventKind
	h    Handler
}

// On registers h for events of the given kind.
func (e *Events) On(kind EventKind, h Handler) Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.next++
	e.subs = append(e.subs, subscriber{id: e.next, kind: kind, h: h})
	return e.next
}

// Off removes a handler. Unknown subscriptions are ignored.
func (e *Events) Off(sub Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, s := range e.subs {
		if s.id == sub {
			e.subs = append(e.subs[:i:i], e.subs[i+1:]...)
			return
		}
	}
}

// Fire delivers ev to every handler registered for its kind. Handlers run
// without the lock held and may subscribe or unsubscribe.
func (e *Events) Fire(ev Event) {
	e.mu.RLock()
	var targets []Handler
	for _, s := range e.subs {
		if s.kind == ev.Kind {
			targets = append(targets, s.h)
		}
	}
	e.mu.RUnlock()

	for _, h := range targets {
		h(ev)
	}
}

// Len returns the number of registered handlers.
func (e *Events) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs)
}
