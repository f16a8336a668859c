//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package sqlite provides a SQLite checkpoint store. Each checkpoint is one
// row keyed by (thread_id, step) holding the checkpoint as a JSON blob.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mattn/go-sqlite3"

	"trpc.group/trpc-go/trpc-agent-graph/graph"
)

const (
	driverName = "sqlite3"

	sqliteCreateCheckpoints = "CREATE TABLE IF NOT EXISTS checkpoints (" +
		"thread_id TEXT NOT NULL, " +
		"step INTEGER NOT NULL, " +
		"checkpoint_id TEXT NOT NULL, " +
		"parent_step INTEGER NOT NULL, " +
		"node TEXT, " +
		"source TEXT NOT NULL, " +
		"ts INTEGER NOT NULL, " +
		"checkpoint_json BLOB NOT NULL, " +
		"PRIMARY KEY (thread_id, step)" +
		")"

	sqliteSelectMaxStep = "SELECT COALESCE(MAX(step), 0) FROM checkpoints WHERE thread_id = ?"

	sqliteInsertCheckpoint = "INSERT INTO checkpoints (" +
		"thread_id, step, checkpoint_id, parent_step, node, source, ts, checkpoint_json) " +
		"VALUES (?, ?, ?, ?, ?, ?, ?, ?)"

	sqliteSelectLatest = "SELECT checkpoint_json FROM checkpoints WHERE thread_id = ? " +
		"ORDER BY step DESC LIMIT 1"

	sqliteSelectByStep = "SELECT checkpoint_json FROM checkpoints WHERE thread_id = ? AND step = ?"

	sqliteSelectAsc = "SELECT checkpoint_json FROM checkpoints WHERE thread_id = ? ORDER BY step ASC"
)

// Saver is a SQLite-backed graph.Saver.
type Saver struct {
	db     *sql.DB
	owned  bool
	schema *graph.StateSchema
	// mu serializes writers of this process; SQLite admits one at a time.
	mu sync.Mutex
}

var _ graph.Saver = (*Saver)(nil)

// Option configures a Saver.
type Option func(*Saver)

// WithSchema re-types loaded state through schema.Restore.
func WithSchema(schema *graph.StateSchema) Option {
	return func(s *Saver) { s.schema = schema }
}

// NewSaver creates a saver over db and creates the table if needed. The
// caller keeps ownership of db.
func NewSaver(db *sql.DB, opts ...Option) (*Saver, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if _, err := db.Exec(sqliteCreateCheckpoints); err != nil {
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}
	s := &Saver{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Open opens the database file at dsn and creates a saver that owns it.
func Open(dsn string, opts ...Option) (*Saver, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", dsn, err)
	}
	s, err := NewSaver(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// Save appends ckpt inside a transaction that checks the latest step.
func (s *Saver) Save(ctx context.Context, ckpt *graph.Checkpoint) error {
	if err := graph.ValidateCheckpoint(ckpt); err != nil {
		return err
	}
	blob, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var latest int
	if err := tx.QueryRowContext(ctx, sqliteSelectMaxStep, ckpt.ThreadID).Scan(&latest); err != nil {
		return fmt.Errorf("select latest step: %w", err)
	}
	if latest >= ckpt.Step {
		return fmt.Errorf("%w: thread %q step %d, latest %d", graph.ErrStepConflict, ckpt.ThreadID, ckpt.Step, latest)
	}
	_, err = tx.ExecContext(ctx, sqliteInsertCheckpoint,
		ckpt.ThreadID, ckpt.Step, ckpt.ID, ckpt.ParentStep, ckpt.Node, ckpt.Source,
		ckpt.CreatedAt.UnixNano(), blob)
	if err != nil {
		if isConstraint(err) {
			return fmt.Errorf("%w: thread %q step %d", graph.ErrStepConflict, ckpt.ThreadID, ckpt.Step)
		}
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// LoadLatest returns the newest checkpoint of a thread.
func (s *Saver) LoadLatest(ctx context.Context, threadID string) (*graph.Checkpoint, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, sqliteSelectLatest, threadID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select latest checkpoint: %w", err)
	}
	return s.decode(blob)
}

// Load returns the checkpoint at step.
func (s *Saver) Load(ctx context.Context, threadID string, step int) (*graph.Checkpoint, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, sqliteSelectByStep, threadID, step).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: thread %q step %d", graph.ErrNoCheckpoint, threadID, step)
	}
	if err != nil {
		return nil, fmt.Errorf("select checkpoint: %w", err)
	}
	return s.decode(blob)
}

// List returns the thread's checkpoints, oldest first.
func (s *Saver) List(ctx context.Context, threadID string) ([]*graph.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, sqliteSelectAsc, threadID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()
	var out []*graph.Checkpoint
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		ck, err := s.decode(blob)
		if err != nil {
			return nil, err
		}
		out = append(out, ck)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return out, nil
}

func (s *Saver) decode(blob []byte) (*graph.Checkpoint, error) {
	var ck graph.Checkpoint
	if err := json.Unmarshal(blob, &ck); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	if s.schema == nil {
		return &ck, nil
	}
	var err error
	if ck.State, err = s.schema.Restore(ck.State); err != nil {
		return nil, err
	}
	if ck.Update, err = s.schema.Restore(ck.Update); err != nil {
		return nil, err
	}
	if ck.Input, err = s.schema.Restore(ck.Input); err != nil {
		return nil, err
	}
	return &ck, nil
}

// Close closes the database when the saver opened it.
func (s *Saver) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
