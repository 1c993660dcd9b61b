// Package pgdb implements the document Store on PostgreSQL: one jsonb row
// per document. Live watchers are served by re-querying the affected
// collection after every local write; in multi-instance deployments a redis
// pub/sub bridge propagates change notifications between instances.
package pgdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/chuoapp/chuo/core"
	"github.com/chuoapp/chuo/storage/store"
)

const snapshotTimeout = 10 * time.Second

type DB struct {
	db       *sqlx.DB
	notifier *store.Notifier
	logger   core.Logger
	bridge   *fanoutBridge
}

var _ store.Store = (*DB)(nil)

func Open(conf *core.Config, logger core.Logger) (*DB, error) {
	sqlDB, err := open(conf.Database.Name, false, conf)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err = ping(sqlDB.DB); err != nil {
		return nil, err
	}

	db := &DB{db: sqlDB, logger: logger}
	db.notifier = store.NewNotifier(db.snapshot)

	if conf.Redis.Enabled {
		db.bridge = newFanoutBridge(conf.Redis, db.notifier, logger)
		db.bridge.start()
	}
	return db, nil
}

func (db *DB) snapshot(q store.Query) (store.Snapshot, error) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	docs, err := db.Find(ctx, q)
	if err != nil {
		return store.Snapshot{}, err
	}
	return store.Snapshot{Collection: q.Collection, Docs: docs}, nil
}

func (db *DB) Create(ctx context.Context, collection, id string, doc interface{}) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "marshalling document")
	}

	res, err := db.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, doc) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		collection, id, raw,
	)
	if err != nil {
		return errors.Wrap(err, "inserting document")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrAlreadyExists
	}

	db.changed(collection)
	return nil
}

func (db *DB) Update(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return errors.Wrap(err, "marshalling fields")
	}

	res, err := db.db.ExecContext(ctx,
		`UPDATE documents SET doc = doc || $3::jsonb WHERE collection = $1 AND id = $2`,
		collection, id, raw,
	)
	if err != nil {
		return errors.Wrap(err, "updating document")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}

	db.changed(collection)
	return nil
}

func (db *DB) Delete(ctx context.Context, collection, id string) error {
	res, err := db.db.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err != nil {
		return errors.Wrap(err, "deleting document")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}

	db.changed(collection)
	return nil
}

func (db *DB) Get(ctx context.Context, collection, id string) (json.RawMessage, error) {
	var raw []byte
	err := db.db.GetContext(ctx, &raw,
		`SELECT doc FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "getting document")
	}
	return raw, nil
}

func (db *DB) Find(ctx context.Context, q store.Query) ([]json.RawMessage, error) {
	query := `SELECT doc FROM documents WHERE collection = $1`
	args := []interface{}{q.Collection}
	for field, val := range q.Where {
		args = append(args, field, val)
		query += fmt.Sprintf(" AND doc->>$%d = $%d", len(args)-1, len(args))
	}
	query += ` ORDER BY created_at, id`

	var raws [][]byte
	if err := db.db.SelectContext(ctx, &raws, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying documents")
	}
	docs := make([]json.RawMessage, 0, len(raws))
	for _, raw := range raws {
		docs = append(docs, raw)
	}
	return docs, nil
}

func (db *DB) Batch(ctx context.Context, ops ...store.Op) error {
	tx, err := db.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}

	affected := make(map[string]bool, len(ops))
	for _, op := range ops {
		if err = applyOp(ctx, tx, op); err != nil {
			_ = tx.Rollback()
			return err
		}
		affected[op.Collection] = true
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "committing batch")
	}

	cols := make([]string, 0, len(affected))
	for col := range affected {
		cols = append(cols, col)
	}
	db.changed(cols...)
	return nil
}

func applyOp(ctx context.Context, tx *sqlx.Tx, op store.Op) error {
	switch op.Kind {
	case store.OpCreate:
		raw, err := json.Marshal(op.Doc)
		if err != nil {
			return errors.Wrap(err, "marshalling document")
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, doc) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
			op.Collection, op.ID, raw,
		)
		if err != nil {
			return errors.Wrap(err, "inserting document")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrAlreadyExists
		}
	case store.OpUpdate:
		raw, err := json.Marshal(op.Fields)
		if err != nil {
			return errors.Wrap(err, "marshalling fields")
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET doc = doc || $3::jsonb WHERE collection = $1 AND id = $2`,
			op.Collection, op.ID, raw,
		)
		if err != nil {
			return errors.Wrap(err, "updating document")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
	case store.OpDelete:
		res, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = $1 AND id = $2`,
			op.Collection, op.ID,
		)
		if err != nil {
			return errors.Wrap(err, "deleting document")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
	default:
		return errors.New("unknown op kind " + strconv.Itoa(int(op.Kind)))
	}
	return nil
}

func (db *DB) Watch(q store.Query) (*store.Subscription, error) {
	return db.notifier.Watch(q)
}

// SQL exposes the underlying connection for migrations.
func (db *DB) SQL() *sql.DB { return db.db.DB }

func (db *DB) Close() error {
	if db.bridge != nil {
		db.bridge.stop()
	}
	db.notifier.CloseAll()
	return db.db.Close()
}

// changed fans a local write out to live watchers, and over redis to the
// other instances when the bridge is up.
func (db *DB) changed(collections ...string) {
	db.notifier.Broadcast(db.logSnapErr, collections...)
	if db.bridge != nil {
		db.bridge.publish(collections...)
	}
}

func (db *DB) logSnapErr(err error) {
	if db.logger != nil {
		db.logger.Error("computing snapshot", err)
	}
}

// ping waits for the database to be ready. Waits 100ms longer between each attempt.
func ping(db *sql.DB) error {
	var err error
	maxAttempts := 30
	for attempts := 1; attempts <= maxAttempts; attempts++ {
		err = db.Ping()
		if err == nil {
			break
		}
		time.Sleep(time.Duration(attempts) * 100 * time.Millisecond)
	}

	if err != nil {
		return errors.Wrap(err, "DB ping timeout")
	}
	return nil
}
