// Package store provides the shared sqlite-backed store for tasks, daily
// usage, negotiations and content artifacts. It is pure persistence: no
// component-specific logic lives here.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is RFC 3339 with fixed-width nanoseconds. Timestamps are
// compared as strings in queries and in the claim ordering; a trimmed
// fraction would not compare in time order, so the width is pinned.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store provides access to the shared database.
type Store struct {
	path string
	db   *sql.DB
	mu   sync.RWMutex
}

// NewStore creates a new Store for the given database file.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Initialize opens the database and creates the schema if needed.
func (s *Store) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", s.path+"?_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db

	if err := s.initSchema(); err != nil {
		db.Close()
		s.db = nil
		return fmt.Errorf("failed to init schema: %w", err)
	}

	return nil
}

// initSchema creates all tables if they don't exist.
func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			assigned_to TEXT NOT NULL,
			created_by TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 5,
			status TEXT NOT NULL DEFAULT 'pending',
			input TEXT,
			output TEXT,
			error_message TEXT,
			parent_id TEXT,
			created_at TEXT NOT NULL,
			started_at TEXT,
			completed_at TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_claim
			ON tasks (assigned_to, status, priority, created_at)`,
		`CREATE TABLE IF NOT EXISTS daily_usage (
			agent_name TEXT NOT NULL,
			date TEXT NOT NULL,
			llm_calls INTEGER NOT NULL DEFAULT 0,
			subtasks INTEGER NOT NULL DEFAULT 0,
			retries INTEGER NOT NULL DEFAULT 0,
			tasks_completed INTEGER NOT NULL DEFAULT 0,
			alerts_sent INTEGER NOT NULL DEFAULT 0,
			UNIQUE (agent_name, date)
		)`,
		`CREATE TABLE IF NOT EXISTS negotiations (
			id TEXT PRIMARY KEY,
			requesting_agent TEXT NOT NULL,
			responding_agent TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			round INTEGER NOT NULL DEFAULT 1,
			request_task_id TEXT NOT NULL,
			request_summary TEXT,
			quality_criteria TEXT,
			response_task_id TEXT,
			criteria_met INTEGER,
			response_summary TEXT,
			needed_by TEXT,
			created_at TEXT NOT NULL,
			closed_at TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS content_items (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			category TEXT NOT NULL,
			title TEXT NOT NULL,
			url TEXT,
			sentiment REAL NOT NULL DEFAULT 0,
			published_at TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_content_published
			ON content_items (published_at, category)`,
		`CREATE TABLE IF NOT EXISTS findings (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			category TEXT,
			summary TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS predictions (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			agent_name TEXT NOT NULL,
			claim TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			verdict TEXT,
			horizon TEXT,
			created_at TEXT NOT NULL,
			flagged_at TEXT,
			resolved_at TEXT
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

// Close closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return err
		}
		s.db = nil
	}

	return nil
}

// DB returns the underlying database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}
