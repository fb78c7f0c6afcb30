package onion

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/grailbio/base/retry"
	_ "github.com/mattn/go-sqlite3"
)

// memDBCounter gives every in-memory backend a distinct shared-cache
// database name, so two backends opened with an empty path in the same
// process (e.g. parallel tests) don't see each other's records.
var memDBCounter atomic.Int64

// backendRetryPolicy bounds how hard SQLiteBackend.Persist retries a
// failed write before giving up, following grailbio-base's
// retry.Backoff/MaxRetries combinators (spec section 7: retriable Backend
// errors get bounded exponential backoff).
var backendRetryPolicy = retry.MaxRetries(retry.Backoff(10*time.Millisecond, 200*time.Millisecond, 2), 4)

// Backend is the bookkeeping persistence contract spec section 6
// requires: every schema mutation is durably recorded before it is
// installed in memory, and on startup the whole set of records is
// replayed in ascending id order to rebuild the in-memory schema tree.
type Backend interface {
	Persist(ctx context.Context, rec Record) error
	LoadAll(ctx context.Context) ([]Record, error)
	Close() error
}

// SQLiteBackend implements Backend over SQLite, following
// arkiliandb-Arkilian's manifest catalog topology: one single-
// connection write handle (SQLite only supports one writer at a time
// regardless of connection pool size, so there's no point pretending
// otherwise) and a separate read pool, both opened against the same
// WAL-mode database file.
type SQLiteBackend struct {
	write *sql.DB
	read  *sql.DB
	log   *slog.Logger

	timeout time.Duration
}

// NewSQLiteBackend opens (and if necessary creates) the bookkeeping
// database at path. An empty path opens a private in-memory database,
// useful for tests.
func NewSQLiteBackend(path string, opts ...BackendOption) (*SQLiteBackend, error) {
	var writeDSN, readDSN string
	if path == "" {
		// A bare ":memory:" DSN gives every connection (write or read)
		// its own private, separate database — the read pool would never
		// see anything the write connection persisted. Naming the memory
		// database and passing cache=shared instead makes every
		// connection that opens this DSN attach to the same underlying
		// store; memDBCounter keeps concurrently-opened backends from
		// colliding on the same name.
		name := fmt.Sprintf("onion-mem-%d", memDBCounter.Add(1))
		writeDSN = fmt.Sprintf("file:%s?mode=memory&cache=shared&_journal_mode=WAL&_busy_timeout=5000", name)
		readDSN = fmt.Sprintf("file:%s?mode=memory&cache=shared&_journal_mode=WAL&_busy_timeout=5000&_query_only=true", name)
	} else {
		writeDSN = path + "?_journal_mode=WAL&_busy_timeout=5000"
		readDSN = path + "?_journal_mode=WAL&_busy_timeout=5000&_query_only=true"
	}

	write, err := sql.Open("sqlite3", writeDSN)
	if err != nil {
		return nil, backendErr(err, "opening write connection")
	}
	write.SetMaxOpenConns(1)
	write.SetMaxIdleConns(1)

	read, err := sql.Open("sqlite3", readDSN)
	if err != nil {
		write.Close()
		return nil, backendErr(err, "opening read connection pool")
	}
	read.SetMaxIdleConns(4)
	read.SetConnMaxLifetime(time.Hour)

	b := &SQLiteBackend{
		write:   write,
		read:    read,
		log:     slog.Default(),
		timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.migrate(); err != nil {
		write.Close()
		read.Close()
		return nil, err
	}
	return b, nil
}

// BackendOption configures an SQLiteBackend.
type BackendOption func(*SQLiteBackend)

// WithBackendLogger overrides the default slog logger.
func WithBackendLogger(l *slog.Logger) BackendOption {
	return func(b *SQLiteBackend) { b.log = l }
}

// WithBackendTimeout overrides the per-operation context timeout
// applied on top of whatever deadline the caller's context carries
// (spec section 7: "a configurable I/O timeout").
func WithBackendTimeout(d time.Duration) BackendOption {
	return func(b *SQLiteBackend) { b.timeout = d }
}

func (b *SQLiteBackend) migrate() error {
	_, err := b.write.Exec(`
		CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY,
			kind TEXT NOT NULL,
			parent_id INTEGER NOT NULL,
			serial INTEGER NOT NULL,
			body BLOB NOT NULL
		)
	`)
	if err != nil {
		return backendErr(err, "running schema migration")
	}
	return nil
}

// Persist upserts rec by ID, storing rec.Serial as the row's serial,
// and retries any failed write a bounded number of times.
func (b *SQLiteBackend) Persist(ctx context.Context, rec Record) error {
	body, err := Encode(rec)
	if err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		qctx, cancel := context.WithTimeout(ctx, b.timeout)
		_, err = b.write.ExecContext(qctx, `
			INSERT INTO records (id, kind, parent_id, serial, body) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, parent_id=excluded.parent_id,
				serial=excluded.serial, body=excluded.body
		`, rec.ID, string(rec.Kind), rec.ParentID, rec.Serial, body)
		cancel()
		if err == nil {
			return nil
		}
		b.log.Warn("bookkeeping persist failed", "id", rec.ID, "kind", rec.Kind, "attempt", attempt, "err", err)
		if waitErr := retry.Wait(ctx, backendRetryPolicy, attempt); waitErr != nil {
			return backendErr(err, "persisting record %d (gave up after %d attempts)", rec.ID, attempt+1)
		}
	}
}

// LoadAll returns every record in ascending id order, matching
// spec section 6's required replay order for rebuilding the schema
// tree (tables before the fields that reference them).
func (b *SQLiteBackend) LoadAll(ctx context.Context) ([]Record, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	rows, err := b.read.QueryContext(ctx, `SELECT body FROM records ORDER BY id ASC`)
	if err != nil {
		return nil, backendErr(err, "loading records")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, backendErr(err, "scanning record")
		}
		rec, err := Decode(body)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, backendErr(err, "iterating records")
	}
	return out, nil
}

// Close releases both connections.
func (b *SQLiteBackend) Close() error {
	rerr := b.read.Close()
	werr := b.write.Close()
	if werr != nil {
		return backendErr(werr, "closing write connection")
	}
	if rerr != nil {
		return backendErr(rerr, "closing read connection")
	}
	return nil
}
