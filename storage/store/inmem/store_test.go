package inmemdb

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/chuoapp/chuo/storage/store"
)

type doc struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Count    int    `json:"count"`
}

func mustCreate(t *testing.T, db *DB, col string, d doc) {
	t.Helper()
	if err := db.Create(context.Background(), col, d.ID, d); err != nil {
		t.Fatalf("Create(%s) failed, %v", d.ID, err)
	}
}

func getDoc(t *testing.T, db *DB, col, id string) doc {
	t.Helper()
	raw, err := db.Get(context.Background(), col, id)
	if err != nil {
		t.Fatalf("Get(%s) failed, %v", id, err)
	}
	var d doc
	if err = json.Unmarshal(raw, &d); err != nil {
		t.Fatalf("unmarshalling %s: %v", id, err)
	}
	return d
}

func TestCRUD(t *testing.T) {
	db := Open(nil)
	defer func() { _ = db.Close() }()
	ctx := context.Background()

	mustCreate(t, db, "docs", doc{ID: "d1", Category: "a", Count: 1})

	if err := db.Create(ctx, "docs", "d1", doc{ID: "d1"}); errors.Cause(err) != store.ErrAlreadyExists {
		t.Errorf("duplicate Create() error = %v, want ErrAlreadyExists", err)
	}

	if got := getDoc(t, db, "docs", "d1"); got.Count != 1 {
		t.Errorf("Count = %d, want 1", got.Count)
	}

	// partial update merges fields and keeps the rest
	if err := db.Update(ctx, "docs", "d1", map[string]interface{}{"count": 2}); err != nil {
		t.Fatalf("Update() failed, %v", err)
	}
	if got := getDoc(t, db, "docs", "d1"); got.Count != 2 || got.Category != "a" {
		t.Errorf("after update got %+v", got)
	}

	if err := db.Update(ctx, "docs", "nope", map[string]interface{}{"count": 2}); errors.Cause(err) != store.ErrNotFound {
		t.Errorf("Update() of missing doc error = %v, want ErrNotFound", err)
	}

	if err := db.Delete(ctx, "docs", "d1"); err != nil {
		t.Fatalf("Delete() failed, %v", err)
	}
	if _, err := db.Get(ctx, "docs", "d1"); errors.Cause(err) != store.ErrNotFound {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := db.Delete(ctx, "docs", "d1"); errors.Cause(err) != store.ErrNotFound {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

func TestFindWhere(t *testing.T) {
	db := Open(nil)
	defer func() { _ = db.Close() }()

	mustCreate(t, db, "docs", doc{ID: "d1", Category: "a", Count: 1})
	mustCreate(t, db, "docs", doc{ID: "d2", Category: "b", Count: 1})
	mustCreate(t, db, "docs", doc{ID: "d3", Category: "a", Count: 2})

	raws, err := db.Find(context.Background(), store.Query{Collection: "docs", Where: store.Where{"category": "a"}})
	if err != nil {
		t.Fatalf("Find() failed, %v", err)
	}
	if len(raws) != 2 {
		t.Fatalf("got %d docs, want 2", len(raws))
	}

	// non-string values match through their printed form
	raws, err = db.Find(context.Background(), store.Query{Collection: "docs", Where: store.Where{"count": "2"}})
	if err != nil {
		t.Fatalf("Find() failed, %v", err)
	}
	if len(raws) != 1 {
		t.Errorf("got %d docs, want 1", len(raws))
	}

	// unknown collection is empty, not an error
	raws, err = db.Find(context.Background(), store.Query{Collection: "nope"})
	if err != nil {
		t.Fatalf("Find() failed, %v", err)
	}
	if len(raws) != 0 {
		t.Errorf("got %d docs, want 0", len(raws))
	}
}

func TestWatchDeliversInitialSnapshot(t *testing.T) {
	db := Open(nil)
	defer func() { _ = db.Close() }()

	mustCreate(t, db, "docs", doc{ID: "d1", Category: "a"})

	sub, err := db.Watch(store.Query{Collection: "docs", Where: store.Where{"category": "a"}})
	if err != nil {
		t.Fatalf("Watch() failed, %v", err)
	}
	defer sub.Unsubscribe()

	select {
	case snap := <-sub.C:
		if len(snap.Docs) != 1 {
			t.Errorf("initial snapshot has %d docs, want 1", len(snap.Docs))
		}
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot delivered")
	}
}

func TestWatchCoalescesForSlowConsumers(t *testing.T) {
	db := Open(nil)
	defer func() { _ = db.Close() }()
	ctx := context.Background()

	sub, err := db.Watch(store.Query{Collection: "docs"})
	if err != nil {
		t.Fatalf("Watch() failed, %v", err)
	}
	defer sub.Unsubscribe()

	// nobody reading; every write replaces the undelivered snapshot
	mustCreate(t, db, "docs", doc{ID: "d1"})
	mustCreate(t, db, "docs", doc{ID: "d2"})
	if err = db.Delete(ctx, "docs", "d1"); err != nil {
		t.Fatalf("Delete() failed, %v", err)
	}

	select {
	case snap := <-sub.C:
		if len(snap.Docs) != 1 {
			t.Fatalf("coalesced snapshot has %d docs, want 1", len(snap.Docs))
		}
		var d doc
		if err = json.Unmarshal(snap.Docs[0], &d); err != nil {
			t.Fatalf("unmarshalling: %v", err)
		}
		if d.ID != "d2" {
			t.Errorf("got %q, want d2", d.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot delivered")
	}
}

func TestWatchClosedOnUnsubscribe(t *testing.T) {
	db := Open(nil)
	defer func() { _ = db.Close() }()

	sub, err := db.Watch(store.Query{Collection: "docs"})
	if err != nil {
		t.Fatalf("Watch() failed, %v", err)
	}
	sub.Unsubscribe()
	sub.Unsubscribe() // idempotent

	// channel drains then closes
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-sub.C:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("subscription channel never closed")
		}
	}
}

func TestBatchAtomicity(t *testing.T) {
	db := Open(nil)
	defer func() { _ = db.Close() }()
	ctx := context.Background()

	mustCreate(t, db, "docs", doc{ID: "d1", Count: 1})

	// one bad op fails the whole batch
	err := db.Batch(ctx,
		store.UpdateOp("docs", "d1", map[string]interface{}{"count": 9}),
		store.DeleteOp("docs", "missing"),
	)
	if errors.Cause(err) != store.ErrNotFound {
		t.Fatalf("Batch() error = %v, want ErrNotFound", err)
	}
	if got := getDoc(t, db, "docs", "d1"); got.Count != 1 {
		t.Errorf("Count = %d after failed batch, want 1", got.Count)
	}

	// a valid batch applies everything
	err = db.Batch(ctx,
		store.CreateOp("docs", "d2", doc{ID: "d2"}),
		store.UpdateOp("docs", "d1", map[string]interface{}{"count": 9}),
		store.DeleteOp("docs", "d1"),
	)
	if err != nil {
		t.Fatalf("Batch() failed, %v", err)
	}
	if _, err = db.Get(ctx, "docs", "d1"); errors.Cause(err) != store.ErrNotFound {
		t.Errorf("d1 still present after batch delete")
	}
	if got := getDoc(t, db, "docs", "d2"); got.ID != "d2" {
		t.Errorf("d2 not created by batch")
	}
}
