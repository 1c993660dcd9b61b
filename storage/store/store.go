// Package store defines the realtime document store the feature modules are
// built on: schemaless JSON documents keyed by generated ids, grouped in
// collections, with push-based subscriptions that deliver the entire current
// snapshot of a filtered collection on every change.
package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrNotFound         = errors.New("document not found")
	ErrAlreadyExists    = errors.New("document already exists")
	ErrPermissionDenied = errors.New("permission denied")
)

type (
	// Where is an equality filter on top-level JSON document fields.
	Where map[string]string

	// Query identifies a filtered collection; it is the unit of subscription.
	Query struct {
		Collection string
		Where      Where
	}

	// Snapshot is the complete, non-incremental contents of a queried
	// collection at a point in time. An empty Docs slice is the explicit
	// "no data" signal.
	Snapshot struct {
		Collection string
		Docs       []json.RawMessage
	}

	OpKind int

	// Op is a single write within a Batch.
	Op struct {
		Kind       OpKind
		Collection string
		ID         string
		Doc        interface{}            // OpCreate
		Fields     map[string]interface{} // OpUpdate
	}

	// Store is a realtime document store. All writes notify live watchers of
	// the affected collection with a fresh snapshot.
	Store interface {
		Create(ctx context.Context, collection, id string, doc interface{}) error
		// Update merges fields into an existing document.
		Update(ctx context.Context, collection, id string, fields map[string]interface{}) error
		Delete(ctx context.Context, collection, id string) error
		Get(ctx context.Context, collection, id string) (json.RawMessage, error)
		Find(ctx context.Context, q Query) ([]json.RawMessage, error)
		// Batch applies all ops atomically; watchers are notified once per
		// affected collection.
		Batch(ctx context.Context, ops ...Op) error
		Watch(q Query) (*Subscription, error)
		Close() error
	}
)

const (
	OpCreate OpKind = iota
	OpUpdate
	OpDelete
)

func CreateOp(collection, id string, doc interface{}) Op {
	return Op{Kind: OpCreate, Collection: collection, ID: id, Doc: doc}
}

func UpdateOp(collection, id string, fields map[string]interface{}) Op {
	return Op{Kind: OpUpdate, Collection: collection, ID: id, Fields: fields}
}

func DeleteOp(collection, id string) Op {
	return Op{Kind: OpDelete, Collection: collection, ID: id}
}

// Subscription is a live handle on a Query. Snapshots arrive on C; the
// channel is closed on Unsubscribe. Unsubscribe is idempotent and safe to
// call while a snapshot delivery is in flight.
type Subscription struct {
	C <-chan Snapshot

	once   sync.Once
	cancel func()
}

func newSubscription(ch <-chan Snapshot, cancel func()) *Subscription {
	return &Subscription{C: ch, cancel: cancel}
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}
