package store

import (
	"sync"
)

// SnapshotFunc computes the current snapshot for a query. Implementations
// re-read their backing storage; the notifier never caches documents itself.
type SnapshotFunc func(q Query) (Snapshot, error)

type watcher struct {
	query Query
	ch    chan Snapshot

	mu     sync.Mutex
	closed bool
}

// push delivers a snapshot, coalescing with any undelivered previous one so a
// slow consumer only ever sees the latest state. Deliveries after close are
// dropped.
func (w *watcher) push(snap Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.ch <- snap:
	default:
		// drop the stale undelivered snapshot, then send the fresh one
		select {
		case <-w.ch:
		default:
		}
		w.ch <- snap
	}
}

func (w *watcher) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.ch)
}

// Notifier tracks live watchers per collection and fans snapshots out to
// them. It is shared by the Store implementations; each write path calls
// Broadcast with the affected collections.
type Notifier struct {
	mu       sync.Mutex
	watchers map[string][]*watcher // collection -> watchers
	snapshot SnapshotFunc
}

func NewNotifier(snapshot SnapshotFunc) *Notifier {
	return &Notifier{
		watchers: make(map[string][]*watcher),
		snapshot: snapshot,
	}
}

// Watch registers a new watcher and immediately delivers the initial
// snapshot, so subscribers never have to wait for the first remote change.
func (n *Notifier) Watch(q Query) (*Subscription, error) {
	snap, err := n.snapshot(q)
	if err != nil {
		return nil, err
	}

	w := &watcher{query: q, ch: make(chan Snapshot, 1)}
	n.mu.Lock()
	n.watchers[q.Collection] = append(n.watchers[q.Collection], w)
	n.mu.Unlock()

	w.push(snap)
	return newSubscription(w.ch, func() { n.remove(w) }), nil
}

func (n *Notifier) remove(w *watcher) {
	n.mu.Lock()
	ws := n.watchers[w.query.Collection]
	for i, cand := range ws {
		if cand == w {
			n.watchers[w.query.Collection] = append(ws[:i:i], ws[i+1:]...)
			break
		}
	}
	n.mu.Unlock()
	w.close()
}

// Broadcast recomputes and delivers snapshots to every watcher of the given
// collections. Snapshot errors degrade to a dropped delivery; the watcher
// keeps its previous state and the next successful write catches it up.
func (n *Notifier) Broadcast(logErr func(error), collections ...string) {
	n.mu.Lock()
	var targets []*watcher
	for _, col := range collections {
		targets = append(targets, n.watchers[col]...)
	}
	n.mu.Unlock()

	for _, w := range targets {
		snap, err := n.snapshot(w.query)
		if err != nil {
			if logErr != nil {
				logErr(err)
			}
			continue
		}
		w.push(snap)
	}
}

func (n *Notifier) CloseAll() {
	n.mu.Lock()
	var all []*watcher
	for _, ws := range n.watchers {
		all = append(all, ws...)
	}
	n.watchers = make(map[string][]*watcher)
	n.mu.Unlock()

	for _, w := range all {
		w.close()
	}
}
