// Package store persists identification results in SQLite.
//
// A Session is a unit of work: records added to it are buffered and written
// by Flush, which assigns their IDs inside the session's open transaction,
// and made durable by Commit. Each identification worker owns one Session;
// sessions never share a connection.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

// BusyTimeoutMillis is how long a connection waits for another writer's lock.
const BusyTimeoutMillis = 60000

const schema = `
CREATE TABLE IF NOT EXISTS studies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS subjects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	study_id INTEGER NOT NULL REFERENCES studies(id),
	identifier TEXT NOT NULL,
	UNIQUE (study_id, identifier)
);
CREATE TABLE IF NOT EXISTS samples (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	study_id INTEGER NOT NULL REFERENCES studies(id),
	name TEXT NOT NULL,
	subject_id INTEGER REFERENCES subjects(id),
	date TEXT NOT NULL DEFAULT '',
	subset TEXT NOT NULL DEFAULT '',
	tissue TEXT NOT NULL DEFAULT '',
	disease TEXT NOT NULL DEFAULT '',
	lab TEXT NOT NULL DEFAULT '',
	experimenter TEXT NOT NULL DEFAULT '',
	ig_class TEXT NOT NULL DEFAULT '',
	v_primer TEXT NOT NULL DEFAULT '',
	j_primer TEXT NOT NULL DEFAULT '',
	paired INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT '',
	input_checksum TEXT NOT NULL DEFAULT '',
	run_id TEXT NOT NULL DEFAULT '',
	UNIQUE (study_id, name)
);
CREATE INDEX IF NOT EXISTS samples_name ON samples (name);
CREATE TABLE IF NOT EXISTS sequences (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sample_id INTEGER NOT NULL REFERENCES samples(id),
	seq_id TEXT NOT NULL,
	seq_hash INTEGER NOT NULL,
	reversed INTEGER NOT NULL,
	v_gene TEXT NOT NULL,
	j_gene TEXT NOT NULL,
	v_length INTEGER NOT NULL,
	v_match INTEGER NOT NULL,
	j_length INTEGER NOT NULL,
	j_match INTEGER NOT NULL,
	pre_cdr3_length INTEGER NOT NULL,
	pre_cdr3_match INTEGER NOT NULL,
	post_cdr3_length INTEGER NOT NULL,
	post_cdr3_match INTEGER NOT NULL,
	pad_length INTEGER NOT NULL,
	num_gaps INTEGER NOT NULL,
	in_frame INTEGER NOT NULL,
	functional INTEGER NOT NULL,
	stop INTEGER NOT NULL,
	copy_number INTEGER NOT NULL,
	cdr3_num_nts INTEGER NOT NULL,
	cdr3_nt TEXT NOT NULL,
	cdr3_aa TEXT NOT NULL,
	sequence TEXT NOT NULL,
	sequence_replaced TEXT NOT NULL,
	germline TEXT NOT NULL,
	quality TEXT,
	mutation_fraction REAL NOT NULL,
	mutation_count INTEGER NOT NULL,
	clone_id INTEGER REFERENCES clones(id),
	UNIQUE (sample_id, seq_id)
);
CREATE INDEX IF NOT EXISTS sequences_hash ON sequences (seq_hash);
CREATE INDEX IF NOT EXISTS sequences_clone ON sequences (clone_id);
CREATE TABLE IF NOT EXISTS duplicate_sequences (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sample_id INTEGER NOT NULL REFERENCES samples(id),
	seq_id TEXT NOT NULL,
	duplicate_seq_id TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS noresults (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	sample_id INTEGER NOT NULL REFERENCES samples(id),
	seq_id TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS sample_stats (
	sample_id INTEGER PRIMARY KEY REFERENCES samples(id),
	reads INTEGER NOT NULL,
	sequence_cnt INTEGER NOT NULL,
	valid_cnt INTEGER NOT NULL,
	no_result_cnt INTEGER NOT NULL,
	functional_cnt INTEGER NOT NULL,
	in_frame_cnt INTEGER NOT NULL,
	stop_cnt INTEGER NOT NULL,
	avg_v_length REAL NOT NULL,
	stddev_v_length REAL NOT NULL,
	avg_mutation_frac REAL NOT NULL,
	mutations TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS clones (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	subject_id INTEGER NOT NULL REFERENCES subjects(id),
	v_gene TEXT NOT NULL,
	j_gene TEXT NOT NULL,
	cdr3_num_nts INTEGER NOT NULL,
	cdr3_nt TEXT NOT NULL,
	cdr3_aa TEXT NOT NULL,
	germline TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS clone_stats (
	clone_id INTEGER PRIMARY KEY REFERENCES clones(id),
	unique_cnt INTEGER NOT NULL,
	total_cnt INTEGER NOT NULL,
	mutations TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS modification_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	action_type TEXT NOT NULL,
	info TEXT NOT NULL,
	created TEXT NOT NULL
);
`

// DB is an open identification database.
type DB struct {
	db   *sql.DB
	path string
}

// DSN returns the driver connection string for a database file. Every
// connection waits on busy locks, runs in WAL mode and begins write
// transactions immediately.
func DSN(path string) string {
	v := url.Values{}
	v.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", BusyTimeoutMillis))
	v.Add("_pragma", "journal_mode(WAL)")
	v.Add("_pragma", "foreign_keys(1)")
	v.Set("_txlock", "immediate")
	return "file:" + path + "?" + v.Encode()
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*DB, error) {
	sdb, err := sql.Open("sqlite", DSN(path))
	if err != nil {
		return nil, errors.E(err, "open database", path)
	}
	if _, err := sdb.ExecContext(ctx, schema); err != nil {
		_ = sdb.Close()
		return nil, errors.E(err, "create schema", path)
	}
	log.Debug.Printf("store: opened %s", path)
	return &DB{db: sdb, path: path}, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.db.Close()
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// Gateway is the persistence contract used by identification workers.
type Gateway interface {
	// GetOrCreateStudy returns the study with the given name, creating it if
	// needed. The bool is true when the study was created.
	GetOrCreateStudy(ctx context.Context, name string) (*Study, bool, error)
	// GetOrCreateSubject returns the subject of study with the given
	// identifier, creating it if needed.
	GetOrCreateSubject(ctx context.Context, study *Study, identifier string) (*Subject, bool, error)
	// GetOrCreateSample returns the sample of study with the given name,
	// creating it if needed.
	GetOrCreateSample(ctx context.Context, study *Study, name string) (*Sample, bool, error)
	// Add buffers one record.
	Add(r Record)
	// BulkAdd buffers records in order.
	BulkAdd(rs []Record)
	// Flush writes buffered records, assigning their IDs, without
	// committing.
	Flush(ctx context.Context) error
	// Commit flushes and commits.
	Commit(ctx context.Context) error
	// SampleHasSequences reports whether any sample with the given name
	// already has sequences.
	SampleHasSequences(ctx context.Context, name string) (bool, error)
	// Close releases the session, rolling back uncommitted work.
	Close() error
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Session is a Gateway backed by one database connection.
type Session struct {
	conn    *sql.Conn
	tx      *sql.Tx
	pending []Record
}

var _ Gateway = (*Session)(nil)

// NewSession opens a session on its own connection.
func (db *DB) NewSession(ctx context.Context) (*Session, error) {
	conn, err := db.db.Conn(ctx)
	if err != nil {
		return nil, errors.E(err, "open session", db.path)
	}
	return &Session{conn: conn}, nil
}

func (s *Session) q() querier {
	if s.tx != nil {
		return s.tx
	}
	return s.conn
}

func (s *Session) begin(ctx context.Context) error {
	if s.tx != nil {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.E(err, "begin transaction")
	}
	s.tx = tx
	return nil
}

// Add implements Gateway.
func (s *Session) Add(r Record) {
	s.pending = append(s.pending, r)
}

// BulkAdd implements Gateway.
func (s *Session) BulkAdd(rs []Record) {
	s.pending = append(s.pending, rs...)
}

// Pending returns the number of buffered records.
func (s *Session) Pending() int { return len(s.pending) }

// Flush implements Gateway. On error the open transaction is rolled back and
// the buffer is discarded.
func (s *Session) Flush(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	if err := s.begin(ctx); err != nil {
		return err
	}
	for _, r := range s.pending {
		if err := r.save(ctx, s.tx); err != nil {
			s.pending = nil
			s.rollback()
			return errors.E(err, "flush")
		}
	}
	s.pending = nil
	return nil
}

// Commit implements Gateway.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	if err != nil {
		return errors.E(err, "commit")
	}
	return nil
}

func (s *Session) rollback() {
	if s.tx == nil {
		return
	}
	if err := s.tx.Rollback(); err != nil {
		log.Error.Printf("store: rollback: %v", err)
	}
	s.tx = nil
}

// Rollback discards buffered records and the open transaction.
func (s *Session) Rollback() {
	s.pending = nil
	s.rollback()
}

// Close implements Gateway.
func (s *Session) Close() error {
	s.Rollback()
	return s.conn.Close()
}

// GetOrCreateStudy implements Gateway.
func (s *Session) GetOrCreateStudy(ctx context.Context, name string) (*Study, bool, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, false, err
	}
	st := &Study{Name: name}
	err := s.q().QueryRowContext(ctx, `SELECT id FROM studies WHERE name = ?`, name).Scan(&st.ID)
	if err == nil {
		return st, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, errors.E(err, "query study", name)
	}
	if err := s.create(ctx, st); err != nil {
		return nil, false, err
	}
	return st, true, nil
}

// GetOrCreateSubject implements Gateway.
func (s *Session) GetOrCreateSubject(ctx context.Context, study *Study, identifier string) (*Subject, bool, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, false, err
	}
	sub := &Subject{StudyID: study.ID, Identifier: identifier}
	err := s.q().QueryRowContext(ctx, `SELECT id FROM subjects WHERE study_id = ? AND identifier = ?`,
		study.ID, identifier).Scan(&sub.ID)
	if err == nil {
		return sub, false, nil
	}
	if err != sql.ErrNoRows {
		return nil, false, errors.E(err, "query subject", identifier)
	}
	if err := s.create(ctx, sub); err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

// GetOrCreateSample implements Gateway.
func (s *Session) GetOrCreateSample(ctx context.Context, study *Study, name string) (*Sample, bool, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, false, err
	}
	rows, err := s.q().QueryContext(ctx, `SELECT `+sampleColumns+` FROM samples WHERE study_id = ? AND name = ?`,
		study.ID, name)
	if err != nil {
		return nil, false, errors.E(err, "query sample", name)
	}
	samples, err := scanSamples(rows)
	if err != nil {
		return nil, false, errors.E(err, "query sample", name)
	}
	if len(samples) > 0 {
		return samples[0], false, nil
	}
	sm := &Sample{StudyID: study.ID, Name: name}
	if err := s.create(ctx, sm); err != nil {
		return nil, false, err
	}
	return sm, true, nil
}

func (s *Session) create(ctx context.Context, r Record) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	if err := r.save(ctx, s.tx); err != nil {
		s.rollback()
		return errors.E(err, "create")
	}
	return nil
}

// SampleHasSequences implements Gateway.
func (s *Session) SampleHasSequences(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.q().QueryRowContext(ctx, `SELECT COUNT(*) FROM sequences q JOIN samples s ON q.sample_id = s.id WHERE s.name = ?`,
		name).Scan(&n)
	if err != nil {
		return false, errors.E(err, "query sample sequences", name)
	}
	return n > 0, nil
}
