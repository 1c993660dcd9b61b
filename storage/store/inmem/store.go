// Package inmemdb provides an in-memory Store used in DEV/TEST mode. It
// keeps whole collections in maps and emits full snapshots to watchers on
// every write, which makes it a faithful stand-in for the hosted realtime
// database.
package inmemdb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/chuoapp/chuo/core"
	"github.com/chuoapp/chuo/storage/store"
)

type collection struct {
	docs  map[string]json.RawMessage
	order []string // insertion order, for deterministic snapshots
}

type DB struct {
	mutex       sync.RWMutex
	collections map[string]*collection
	notifier    *store.Notifier
	logger      core.Logger
}

var _ store.Store = (*DB)(nil)

func Open(logger core.Logger) *DB {
	db := &DB{
		collections: make(map[string]*collection),
		logger:      logger,
	}
	db.notifier = store.NewNotifier(db.snapshot)
	return db
}

func (db *DB) getCollection(name string) *collection {
	col, ok := db.collections[name]
	if !ok {
		col = &collection{docs: make(map[string]json.RawMessage)}
		db.collections[name] = col
	}
	return col
}

func (db *DB) snapshot(q store.Query) (store.Snapshot, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()
	return db.snapshotLocked(q)
}

func (db *DB) snapshotLocked(q store.Query) (store.Snapshot, error) {
	snap := store.Snapshot{Collection: q.Collection, Docs: []json.RawMessage{}}
	col, ok := db.collections[q.Collection]
	if !ok {
		return snap, nil
	}
	for _, id := range col.order {
		doc := col.docs[id]
		ok, err := matches(doc, q.Where)
		if err != nil {
			return store.Snapshot{}, errors.Wrap(err, "matching document "+id)
		}
		if ok {
			snap.Docs = append(snap.Docs, doc)
		}
	}
	return snap, nil
}

func matches(doc json.RawMessage, where store.Where) (bool, error) {
	if len(where) == 0 {
		return true, nil
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(doc, &fields); err != nil {
		return false, err
	}
	for field, want := range where {
		val, ok := fields[field]
		if !ok || fmt.Sprint(val) != want {
			return false, nil
		}
	}
	return true, nil
}

func (db *DB) Create(_ context.Context, colName, id string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "marshalling document")
	}

	db.mutex.Lock()
	col := db.getCollection(colName)
	if _, ok := col.docs[id]; ok {
		db.mutex.Unlock()
		return store.ErrAlreadyExists
	}
	col.docs[id] = raw
	col.order = append(col.order, id)
	db.mutex.Unlock()

	db.notifier.Broadcast(db.logSnapErr, colName)
	return nil
}

func (db *DB) Update(_ context.Context, colName, id string, fields map[string]interface{}) error {
	db.mutex.Lock()
	col := db.getCollection(colName)
	raw, ok := col.docs[id]
	if !ok {
		db.mutex.Unlock()
		return store.ErrNotFound
	}
	merged, err := mergeFields(raw, fields)
	if err != nil {
		db.mutex.Unlock()
		return err
	}
	col.docs[id] = merged
	db.mutex.Unlock()

	db.notifier.Broadcast(db.logSnapErr, colName)
	return nil
}

func (db *DB) Delete(_ context.Context, colName, id string) error {
	db.mutex.Lock()
	col := db.getCollection(colName)
	if _, ok := col.docs[id]; !ok {
		db.mutex.Unlock()
		return store.ErrNotFound
	}
	delete(col.docs, id)
	for i, candidate := range col.order {
		if candidate == id {
			col.order = append(col.order[:i:i], col.order[i+1:]...)
			break
		}
	}
	db.mutex.Unlock()

	db.notifier.Broadcast(db.logSnapErr, colName)
	return nil
}

func (db *DB) Get(_ context.Context, colName, id string) (json.RawMessage, error) {
	db.mutex.RLock()
	defer db.mutex.RUnlock()

	if col, ok := db.collections[colName]; ok {
		if doc, ok := col.docs[id]; ok {
			return doc, nil
		}
	}
	return nil, store.ErrNotFound
}

func (db *DB) Find(_ context.Context, q store.Query) ([]json.RawMessage, error) {
	snap, err := db.snapshot(q)
	if err != nil {
		return nil, err
	}
	return snap.Docs, nil
}

func (db *DB) Batch(_ context.Context, ops ...store.Op) error {
	db.mutex.Lock()
	affected := make(map[string]bool, len(ops))

	// validate everything upfront; a batch applies atomically or not at all
	prepared := make([]json.RawMessage, len(ops))
	for i, op := range ops {
		col := db.getCollection(op.Collection)
		switch op.Kind {
		case store.OpCreate:
			if _, ok := col.docs[op.ID]; ok {
				db.mutex.Unlock()
				return store.ErrAlreadyExists
			}
			raw, err := json.Marshal(op.Doc)
			if err != nil {
				db.mutex.Unlock()
				return errors.Wrap(err, "marshalling document")
			}
			prepared[i] = raw
		case store.OpUpdate:
			raw, ok := col.docs[op.ID]
			if !ok {
				db.mutex.Unlock()
				return store.ErrNotFound
			}
			merged, err := mergeFields(raw, op.Fields)
			if err != nil {
				db.mutex.Unlock()
				return err
			}
			prepared[i] = merged
		case store.OpDelete:
			if _, ok := col.docs[op.ID]; !ok {
				db.mutex.Unlock()
				return store.ErrNotFound
			}
		}
	}

	for i, op := range ops {
		col := db.getCollection(op.Collection)
		switch op.Kind {
		case store.OpCreate:
			col.docs[op.ID] = prepared[i]
			col.order = append(col.order, op.ID)
		case store.OpUpdate:
			col.docs[op.ID] = prepared[i]
		case store.OpDelete:
			delete(col.docs, op.ID)
			for j, candidate := range col.order {
				if candidate == op.ID {
					col.order = append(col.order[:j:j], col.order[j+1:]...)
					break
				}
			}
		}
		affected[op.Collection] = true
	}
	db.mutex.Unlock()

	cols := make([]string, 0, len(affected))
	for col := range affected {
		cols = append(cols, col)
	}
	db.notifier.Broadcast(db.logSnapErr, cols...)
	return nil
}

func (db *DB) Watch(q store.Query) (*store.Subscription, error) {
	return db.notifier.Watch(q)
}

func (db *DB) Close() error {
	db.notifier.CloseAll()
	return nil
}

func (db *DB) logSnapErr(err error) {
	if db.logger != nil {
		db.logger.Error("computing snapshot", err)
	}
}

func mergeFields(raw json.RawMessage, fields map[string]interface{}) (json.RawMessage, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "unmarshalling document")
	}
	for field, val := range fields {
		doc[field] = val
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "marshalling document")
	}
	return merged, nil
}
