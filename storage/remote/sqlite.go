package remote

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kitaindia/slim3/datastore/record"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	key    BLOB NOT NULL PRIMARY KEY,
	kind   TEXT NOT NULL,
	record BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS records_kind ON records(kind);
CREATE TABLE IF NOT EXISTS sequences (
	kind TEXT NOT NULL PRIMARY KEY,
	next INTEGER NOT NULL
);
`

// SQLiteConfig configures the sqlite driver
type SQLiteConfig struct {
	Path string
}

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is a driver backed by a sqlite database file. Records are
// rows keyed by encoded key, stored in the binary record encoding; ids
// come from a per-kind sequence table.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens a sqlite-backed store at config.Path
func NewSQLiteStore(config SQLiteConfig) (*SQLiteStore, error) {
	dsn := filepath.Clean(config.Path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)

	if err != nil {
		return nil, fmt.Errorf("could not open sqlite store at %s: %s", config.Path, err.Error())
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()

		return nil, fmt.Errorf("could not apply schema: %s", err.Error())
	}

	return &SQLiteStore{db: db, path: config.Path}, nil
}

// NewTempSQLiteStore opens a sqlite store at a fresh temp path. It is
// meant for tests that need a working store without configuring one.
func NewTempSQLiteStore() (*SQLiteStore, error) {
	return NewSQLiteStore(SQLiteConfig{
		Path: filepath.Join(os.TempDir(), fmt.Sprintf("slim3-sqlite-%s", uuid.New().String())),
	})
}

// Purge closes the store and deletes its file
func (store *SQLiteStore) Purge() error {
	if err := store.Close(); err != nil {
		return fmt.Errorf("could not close store: %s", err.Error())
	}

	if err := os.RemoveAll(store.path); err != nil {
		return fmt.Errorf("could not remove path %s: %s", store.path, err.Error())
	}

	return nil
}

// Close implements Store.Close
func (store *SQLiteStore) Close() error {
	return store.db.Close()
}

// querier covers the shared query surface of sql.DB and sql.Tx
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func (store *SQLiteStore) querier(tx Transaction) (querier, error) {
	if err := checkTx(tx); err != nil {
		return nil, err
	}

	if stx, ok := tx.(*sqliteTransaction); ok && stx != nil {
		return stx.tx, nil
	}

	return store.db, nil
}

// BeginTransaction implements Store.BeginTransaction
func (store *SQLiteStore) BeginTransaction() (Transaction, error) {
	tx, err := store.db.Begin()

	if err != nil {
		return nil, fmt.Errorf("could not begin transaction: %s", err.Error())
	}

	return &sqliteTransaction{tx: tx, id: uuid.New().String(), active: true}, nil
}

// AllocateIDs implements Store.AllocateIDs
func (store *SQLiteStore) AllocateIDs(parent *record.Key, kind string, n int) (KeyRange, error) {
	var end int64

	err := store.db.QueryRow(
		`INSERT INTO sequences(kind, next) VALUES(?, ?)
		 ON CONFLICT(kind) DO UPDATE SET next = next + ?
		 RETURNING next`,
		kind, n, n,
	).Scan(&end)

	if err != nil {
		return KeyRange{}, fmt.Errorf("could not advance id sequence for kind %s: %s", kind, err.Error())
	}

	return KeyRange{Parent: parent, Kind: kind, Start: end - int64(n) + 1, End: end}, nil
}

// Get implements Store.Get
func (store *SQLiteStore) Get(tx Transaction, key *record.Key) (*record.Record, error) {
	q, err := store.querier(tx)

	if err != nil {
		return nil, err
	}

	var raw []byte

	err = q.QueryRow(`SELECT record FROM records WHERE key = ?`, key.Bytes()).Scan(&raw)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	if err != nil {
		return nil, fmt.Errorf("could not read record %s: %s", key, err.Error())
	}

	return record.Decode(raw)
}

// GetMulti implements Store.GetMulti
func (store *SQLiteStore) GetMulti(tx Transaction, keys []*record.Key) ([]*record.Record, error) {
	q, err := store.querier(tx)

	if err != nil {
		return nil, err
	}

	recs := make([]*record.Record, len(keys))

	for i, key := range keys {
		var raw []byte

		err := q.QueryRow(`SELECT record FROM records WHERE key = ?`, key.Bytes()).Scan(&raw)

		if err == sql.ErrNoRows {
			continue
		}

		if err != nil {
			return nil, fmt.Errorf("could not read record %s: %s", key, err.Error())
		}

		if recs[i], err = record.Decode(raw); err != nil {
			return nil, err
		}
	}

	return recs, nil
}

// Put implements Store.Put
func (store *SQLiteStore) Put(tx Transaction, records []*record.Record) ([]*record.Key, error) {
	q, err := store.querier(tx)

	if err != nil {
		return nil, err
	}

	keys := make([]*record.Key, len(records))

	for i, rec := range records {
		key := rec.Key()

		if key.Incomplete() {
			r, err := store.allocateIn(q, key.Kind(), 1)

			if err != nil {
				return nil, err
			}

			key = key.WithID(r.Start)
		}

		stored := rec.Clone()
		stored.SetKey(key)

		_, err := q.Exec(
			`INSERT INTO records(key, kind, record) VALUES(?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET kind = excluded.kind, record = excluded.record`,
			key.Bytes(), key.Kind(), record.Encode(stored),
		)

		if err != nil {
			return nil, fmt.Errorf("could not put record %s: %s", key, err.Error())
		}

		keys[i] = key
	}

	return keys, nil
}

func (store *SQLiteStore) allocateIn(q querier, kind string, n int) (KeyRange, error) {
	var end int64

	err := q.QueryRow(
		`INSERT INTO sequences(kind, next) VALUES(?, ?)
		 ON CONFLICT(kind) DO UPDATE SET next = next + ?
		 RETURNING next`,
		kind, n, n,
	).Scan(&end)

	if err != nil {
		return KeyRange{}, fmt.Errorf("could not advance id sequence for kind %s: %s", kind, err.Error())
	}

	return KeyRange{Kind: kind, Start: end - int64(n) + 1, End: end}, nil
}

// Delete implements Store.Delete
func (store *SQLiteStore) Delete(tx Transaction, keys []*record.Key) error {
	q, err := store.querier(tx)

	if err != nil {
		return err
	}

	for _, key := range keys {
		if _, err := q.Exec(`DELETE FROM records WHERE key = ?`, key.Bytes()); err != nil {
			return fmt.Errorf("could not delete record %s: %s", key, err.Error())
		}
	}

	return nil
}

// Prepare implements Store.Prepare
func (store *SQLiteStore) Prepare(tx Transaction, query Query) (PreparedQuery, error) {
	if err := checkTx(tx); err != nil {
		return nil, err
	}

	return &preparedQuery{query: query, scan: func() ([]*record.Record, error) {
		scanTx := tx

		if stx, ok := tx.(*sqliteTransaction); ok && stx != nil && !stx.active {
			scanTx = nil
		}

		q, err := store.querier(scanTx)

		if err != nil {
			return nil, err
		}

		rows, err := q.Query(`SELECT record FROM records WHERE kind = ? ORDER BY key`, query.Kind)

		if err != nil {
			return nil, fmt.Errorf("could not scan kind %s: %s", query.Kind, err.Error())
		}

		defer rows.Close()

		var recs []*record.Record

		for rows.Next() {
			var raw []byte

			if err := rows.Scan(&raw); err != nil {
				return nil, fmt.Errorf("could not scan row: %s", err.Error())
			}

			rec, err := record.Decode(raw)

			if err != nil {
				return nil, err
			}

			recs = append(recs, rec)
		}

		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("row iteration error: %s", err.Error())
		}

		return recs, nil
	}}, nil
}

var _ Transaction = (*sqliteTransaction)(nil)

type sqliteTransaction struct {
	tx     *sql.Tx
	id     string
	active bool
}

// ID implements Transaction.ID
func (tx *sqliteTransaction) ID() string {
	return tx.id
}

// Active implements Transaction.Active
func (tx *sqliteTransaction) Active() bool {
	return tx.active
}

// Commit implements Transaction.Commit
func (tx *sqliteTransaction) Commit() error {
	if !tx.active {
		return ErrInactiveTransaction
	}

	tx.active = false

	if err := tx.tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %s", err.Error())
	}

	return nil
}

// Rollback implements Transaction.Rollback
func (tx *sqliteTransaction) Rollback() error {
	if !tx.active {
		return ErrInactiveTransaction
	}

	tx.active = false

	if err := tx.tx.Rollback(); err != nil {
		return fmt.Errorf("could not roll back transaction: %s", err.Error())
	}

	return nil
}
