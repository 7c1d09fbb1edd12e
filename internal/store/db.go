// Package store implements the persistent typed tables, transactions, event
// log, and revision-checked mutation semantics for BranchMind's core
// entities: a single *sql.DB handle behind a sync.RWMutex, SQL schema
// created idempotently at startup, and writes wrapped in transactions.
// Plan/task/step/anchor/card create and edit, and job creation, write
// exactly one event row alongside the entity row. The other writes (doc
// entries, job claims/completions/messages, lease expiry, card edges,
// anchor bindings, knowledge rows, task checkpoint and salvaged-proof
// updates) write no event row.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"branchmind/internal/logging"

	_ "modernc.org/sqlite"
)

// Store is the durable, single-writer-per-workspace persistence layer.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex // guards writer serialization; readers may run concurrently
	dbPath string
}

// Open creates (or opens) the SQLite database at path and ensures the schema
// exists.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// Single-writer-per-workspace: one connection avoids SQLITE_BUSY
	// races between the mutex-guarded Go layer and the driver's own pool.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, dbPath: path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Store("store opened at %s", path)
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
PRAGMA journal_mode=WAL;
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS id_counters (
	workspace TEXT NOT NULL,
	kind TEXT NOT NULL,
	next_value INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (workspace, kind)
);

CREATE TABLE IF NOT EXISTS events (
	workspace TEXT NOT NULL,
	seq INTEGER NOT NULL,
	id TEXT NOT NULL,
	ts_ms INTEGER NOT NULL,
	event_type TEXT NOT NULL,
	payload_json TEXT NOT NULL,
	PRIMARY KEY (workspace, seq)
);

CREATE TABLE IF NOT EXISTS plans (
	workspace TEXT NOT NULL,
	id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	context TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'TODO',
	priority INTEGER NOT NULL DEFAULT 0,
	revision INTEGER NOT NULL DEFAULT 1,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	PRIMARY KEY (workspace, id)
);

CREATE TABLE IF NOT EXISTS tasks (
	workspace TEXT NOT NULL,
	id TEXT NOT NULL,
	plan_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	context TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'TODO',
	priority INTEGER NOT NULL DEFAULT 0,
	blocked INTEGER NOT NULL DEFAULT 0,
	parked_until_ts_ms INTEGER,
	stale_after_ms INTEGER,
	reasoning_mode TEXT NOT NULL DEFAULT 'off',
	crit_manual INTEGER NOT NULL DEFAULT 0,
	crit_auto INTEGER NOT NULL DEFAULT 0,
	tests_manual INTEGER NOT NULL DEFAULT 0,
	tests_auto INTEGER NOT NULL DEFAULT 0,
	security_manual INTEGER NOT NULL DEFAULT 0,
	security_auto INTEGER NOT NULL DEFAULT 0,
	perf_manual INTEGER NOT NULL DEFAULT 0,
	perf_auto INTEGER NOT NULL DEFAULT 0,
	docs_manual INTEGER NOT NULL DEFAULT 0,
	docs_auto INTEGER NOT NULL DEFAULT 0,
	salvaged_proof_json TEXT NOT NULL DEFAULT '[]',
	revision INTEGER NOT NULL DEFAULT 1,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	PRIMARY KEY (workspace, id)
);
CREATE INDEX IF NOT EXISTS idx_tasks_plan_id ON tasks(workspace, plan_id, id);
CREATE INDEX IF NOT EXISTS idx_tasks_plan_status ON tasks(workspace, plan_id, status);
CREATE INDEX IF NOT EXISTS idx_tasks_updated ON tasks(workspace, updated_at_ms);

CREATE TABLE IF NOT EXISTS steps (
	workspace TEXT NOT NULL,
	id TEXT NOT NULL,
	task_id TEXT NOT NULL,
	path TEXT NOT NULL,
	title TEXT NOT NULL,
	success_criteria_json TEXT NOT NULL DEFAULT '[]',
	tests_json TEXT NOT NULL DEFAULT '[]',
	blockers_json TEXT NOT NULL DEFAULT '[]',
	rollback_json TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'open',
	crit_confirmed INTEGER NOT NULL DEFAULT 0,
	tests_confirmed INTEGER NOT NULL DEFAULT 0,
	security_confirmed INTEGER NOT NULL DEFAULT 0,
	perf_confirmed INTEGER NOT NULL DEFAULT 0,
	docs_confirmed INTEGER NOT NULL DEFAULT 0,
	require_criteria INTEGER NOT NULL DEFAULT 1,
	require_tests INTEGER NOT NULL DEFAULT 1,
	require_security INTEGER NOT NULL DEFAULT 0,
	require_perf INTEGER NOT NULL DEFAULT 0,
	require_docs INTEGER NOT NULL DEFAULT 0,
	proof_criteria_mode TEXT NOT NULL DEFAULT 'off',
	proof_tests_mode TEXT NOT NULL DEFAULT 'require',
	proof_security_mode TEXT NOT NULL DEFAULT 'off',
	proof_perf_mode TEXT NOT NULL DEFAULT 'off',
	proof_docs_mode TEXT NOT NULL DEFAULT 'off',
	proof_criteria_present INTEGER NOT NULL DEFAULT 0,
	proof_tests_present INTEGER NOT NULL DEFAULT 0,
	proof_security_present INTEGER NOT NULL DEFAULT 0,
	proof_perf_present INTEGER NOT NULL DEFAULT 0,
	proof_docs_present INTEGER NOT NULL DEFAULT 0,
	revision INTEGER NOT NULL DEFAULT 1,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	PRIMARY KEY (workspace, id)
);
CREATE INDEX IF NOT EXISTS idx_steps_task_path ON steps(workspace, task_id, path);

CREATE TABLE IF NOT EXISTS anchors (
	workspace TEXT NOT NULL,
	id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL DEFAULT 'component',
	status TEXT NOT NULL DEFAULT 'active',
	description TEXT NOT NULL DEFAULT '',
	refs_json TEXT NOT NULL DEFAULT '[]',
	aliases_json TEXT NOT NULL DEFAULT '[]',
	parent_id TEXT NOT NULL DEFAULT '',
	depends_on_json TEXT NOT NULL DEFAULT '[]',
	revision INTEGER NOT NULL DEFAULT 1,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	PRIMARY KEY (workspace, id)
);

CREATE TABLE IF NOT EXISTS anchor_aliases (
	workspace TEXT NOT NULL,
	alias_id TEXT NOT NULL,
	canonical_id TEXT NOT NULL,
	PRIMARY KEY (workspace, alias_id)
);

CREATE TABLE IF NOT EXISTS anchor_bindings (
	workspace TEXT NOT NULL,
	anchor_id TEXT NOT NULL,
	repo_rel TEXT NOT NULL,
	kind TEXT NOT NULL DEFAULT '',
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	PRIMARY KEY (workspace, anchor_id, repo_rel)
);
CREATE INDEX IF NOT EXISTS idx_anchor_bindings_path ON anchor_bindings(workspace, repo_rel);

CREATE TABLE IF NOT EXISTS anchor_links (
	workspace TEXT NOT NULL,
	anchor_id TEXT NOT NULL,
	branch TEXT NOT NULL,
	graph_doc TEXT NOT NULL,
	card_id TEXT NOT NULL,
	card_type TEXT NOT NULL DEFAULT '',
	last_ts_ms INTEGER NOT NULL,
	PRIMARY KEY (workspace, anchor_id, branch, graph_doc, card_id)
);
CREATE INDEX IF NOT EXISTS idx_anchor_links_card ON anchor_links(workspace, branch, graph_doc, card_id);
CREATE INDEX IF NOT EXISTS idx_anchor_links_anchor ON anchor_links(workspace, anchor_id, last_ts_ms);
CREATE INDEX IF NOT EXISTS idx_anchor_links_branch ON anchor_links(workspace, branch);

CREATE TABLE IF NOT EXISTS cards (
	workspace TEXT NOT NULL,
	branch TEXT NOT NULL,
	graph_doc TEXT NOT NULL,
	id TEXT NOT NULL,
	type TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	text TEXT NOT NULL DEFAULT '',
	tags_json TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL DEFAULT 'open',
	meta_json TEXT NOT NULL DEFAULT '{}',
	revision INTEGER NOT NULL DEFAULT 1,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	PRIMARY KEY (workspace, branch, graph_doc, id)
);
CREATE INDEX IF NOT EXISTS idx_cards_updated ON cards(workspace, branch, graph_doc, updated_at_ms);

CREATE TABLE IF NOT EXISTS card_edges (
	workspace TEXT NOT NULL,
	branch TEXT NOT NULL,
	graph_doc TEXT NOT NULL,
	from_id TEXT NOT NULL,
	edge_type TEXT NOT NULL,
	to_id TEXT NOT NULL,
	PRIMARY KEY (workspace, branch, graph_doc, from_id, edge_type, to_id)
);
CREATE INDEX IF NOT EXISTS idx_card_edges_to ON card_edges(workspace, branch, graph_doc, to_id, edge_type);

CREATE TABLE IF NOT EXISTS doc_entries (
	workspace TEXT NOT NULL,
	branch TEXT NOT NULL,
	doc TEXT NOT NULL,
	seq INTEGER NOT NULL,
	ts_ms INTEGER NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	format TEXT NOT NULL DEFAULT '',
	meta_json TEXT NOT NULL DEFAULT '{}',
	content TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (workspace, branch, doc, seq)
);

CREATE TABLE IF NOT EXISTS jobs (
	workspace TEXT NOT NULL,
	id TEXT NOT NULL,
	title TEXT NOT NULL,
	prompt TEXT NOT NULL DEFAULT '',
	kind TEXT NOT NULL DEFAULT '',
	priority INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'QUEUED',
	task_id TEXT NOT NULL DEFAULT '',
	anchor_id TEXT NOT NULL DEFAULT '',
	meta_json TEXT NOT NULL DEFAULT '{}',
	runner_id TEXT NOT NULL DEFAULT '',
	lease_expires_at_ms INTEGER NOT NULL DEFAULT 0,
	claim_revision INTEGER NOT NULL DEFAULT 0,
	summary TEXT NOT NULL DEFAULT '',
	artifacts_json TEXT NOT NULL DEFAULT '{}',
	revision INTEGER NOT NULL DEFAULT 1,
	created_at_ms INTEGER NOT NULL,
	updated_at_ms INTEGER NOT NULL,
	PRIMARY KEY (workspace, id)
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(workspace, status);
CREATE INDEX IF NOT EXISTS idx_jobs_task ON jobs(workspace, task_id);

CREATE TABLE IF NOT EXISTS job_events (
	workspace TEXT NOT NULL,
	job_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	ts_ms INTEGER NOT NULL,
	kind TEXT NOT NULL,
	payload_json TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (workspace, job_id, seq)
);

CREATE TABLE IF NOT EXISTS runner_leases (
	workspace TEXT NOT NULL,
	runner_id TEXT NOT NULL,
	active_job_id TEXT NOT NULL DEFAULT '',
	lease_expires_at_ms INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'IDLE',
	PRIMARY KEY (workspace, runner_id)
);

CREATE TABLE IF NOT EXISTS focus (
	workspace TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS knowledge (
	workspace TEXT NOT NULL,
	anchor_id TEXT NOT NULL,
	key TEXT NOT NULL,
	card_id TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	created_at_ms INTEGER NOT NULL,
	PRIMARY KEY (workspace, anchor_id, key, card_id)
);
CREATE INDEX IF NOT EXISTS idx_knowledge_anchor ON knowledge(workspace, anchor_id);
CREATE INDEX IF NOT EXISTS idx_knowledge_key ON knowledge(workspace, key);
`)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// tx runs fn inside a SQL transaction, committing on success and rolling
// back (producing no event row) on any error.
func (s *Store) tx(fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return errIO(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errIO(err)
	}
	return nil
}

// nowMs is overridable in tests; production uses wall-clock time.
var nowMs = defaultNowMs
