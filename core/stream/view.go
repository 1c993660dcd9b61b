// Package stream implements live merged views over store collections.
//
// A LiveView watches one store subscription per partition and keeps an
// in-memory cache keyed by partition. Each snapshot received for a partition
// replaces that partition's cached records wholesale; the view then rebuilds
// the merged slice, newest first, and hands it to the OnChange callback.
package stream

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/chuoapp/chuo/core"
	"github.com/chuoapp/chuo/storage/store"
)

// Record is any domain document that can live in a view.
type Record interface {
	RecordID() string
	RecordCreated() time.Time
}

// Source is the watchable side of a store. *inmemdb.DB and *pgdb.DB satisfy it.
type Source interface {
	Watch(q store.Query) (*store.Subscription, error)
}

// Partition is one watched slice of a collection, eg. a category.
type Partition struct {
	Key   string
	Query store.Query
}

type Options[T Record] struct {
	Source     Source
	Partitions []Partition
	Decode     func(json.RawMessage) (T, error)

	// OnChange receives the rebuilt merged slice after every applied
	// snapshot. It is called with the view's lock held so deliveries are
	// ordered; it must not call back into the view.
	OnChange func([]T)

	Logger core.Logger
}

// LiveView merges per-partition snapshots into a single ordered slice.
type LiveView[T Record] struct {
	mutex  sync.Mutex
	closed bool
	cache  map[string][]T
	keys   []string // first-seen partition order, for deterministic merges
	merged []T

	decode   func(json.RawMessage) (T, error)
	onChange func([]T)
	logger   core.Logger

	subs []*store.Subscription
	wg   sync.WaitGroup
}

// Open subscribes to every partition and starts consuming snapshots. The
// initial snapshot of each partition is applied before Open returns control
// of that partition to the background consumer (the store delivers it on
// subscribe). A partition the caller is not allowed to watch is skipped with
// a warning and contributes no records; any other watch failure aborts the
// whole view.
func Open[T Record](opts Options[T]) (*LiveView[T], error) {
	if opts.Source == nil {
		return nil, errors.New("stream: nil source")
	}
	if opts.Decode == nil {
		return nil, errors.New("stream: nil decoder")
	}

	v := &LiveView[T]{
		cache:    make(map[string][]T, len(opts.Partitions)),
		decode:   opts.Decode,
		onChange: opts.OnChange,
		logger:   opts.Logger,
	}

	for _, p := range opts.Partitions {
		sub, err := opts.Source.Watch(p.Query)
		if err != nil {
			if errors.Cause(err) == store.ErrPermissionDenied {
				v.logWarn("skipping partition " + p.Key + ": permission denied")
				continue
			}
			v.Close()
			return nil, core.NewTransportError("watching "+p.Key, err)
		}
		v.subs = append(v.subs, sub)

		v.wg.Add(1)
		go v.consume(p.Key, sub)
	}
	return v, nil
}

func (v *LiveView[T]) consume(key string, sub *store.Subscription) {
	defer v.wg.Done()
	for snap := range sub.C {
		recs := make([]T, 0, len(snap.Docs))
		for _, doc := range snap.Docs {
			rec, err := v.decode(doc)
			if err != nil {
				v.logErr("decoding document in "+key, err)
				continue
			}
			recs = append(recs, rec)
		}
		v.ApplySnapshot(key, recs)
	}
}

// ApplySnapshot replaces the partition's cached records with recs and
// rebuilds the merged view. An empty snapshot removes the partition entry
// entirely, so a vanished partition leaves no stale records behind.
// Snapshots arriving after Close are dropped.
func (v *LiveView[T]) ApplySnapshot(key string, recs []T) {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	if v.closed {
		return
	}

	if _, ok := v.cache[key]; !ok {
		v.keys = append(v.keys, key)
	}
	if len(recs) == 0 {
		delete(v.cache, key)
	} else {
		v.cache[key] = recs
	}

	merged := make([]T, 0, len(v.merged))
	for _, k := range v.keys {
		merged = append(merged, v.cache[k]...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].RecordCreated().After(merged[j].RecordCreated())
	})
	v.merged = merged

	if v.onChange != nil {
		v.onChange(merged)
	}
}

// Records returns a copy of the current merged view, newest first.
func (v *LiveView[T]) Records() []T {
	v.mutex.Lock()
	defer v.mutex.Unlock()

	recs := make([]T, len(v.merged))
	copy(recs, v.merged)
	return recs
}

// Close unsubscribes from all partitions and waits for the consumers to
// drain. Idempotent; no OnChange fires after it returns.
func (v *LiveView[T]) Close() {
	v.mutex.Lock()
	if v.closed {
		v.mutex.Unlock()
		return
	}
	v.closed = true
	v.mutex.Unlock()

	for _, sub := range v.subs {
		sub.Unsubscribe()
	}
	v.wg.Wait()
}

func (v *LiveView[T]) logWarn(msg string) {
	if v.logger != nil {
		v.logger.Warn(msg)
	}
}

func (v *LiveView[T]) logErr(msg string, err error) {
	if v.logger != nil {
		v.logger.Error(msg, err)
	}
}
