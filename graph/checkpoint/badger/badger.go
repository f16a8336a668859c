//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package badger provides an embedded checkpoint store on BadgerDB.
//
// Checkpoints live under ckpt/<thread>/<step> with the step zero padded so
// keys sort in step order. head/<thread> holds the latest step and is the key
// concurrent writers of one thread conflict on.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/dgraph-io/badger/v4"

	"trpc.group/trpc-go/trpc-agent-graph/graph"
	"trpc.group/trpc-go/trpc-agent-graph/log"
)

const maxConflictRetries = 16

// Config holds the options of the underlying database.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in RAM.
	InMemory bool
	// SyncWrites fsyncs every commit.
	SyncWrites bool
}

// Saver is a BadgerDB-backed graph.Saver.
type Saver struct {
	db     *badger.DB
	owned  bool
	schema *graph.StateSchema
}

var _ graph.Saver = (*Saver)(nil)

// Option configures a Saver.
type Option func(*Saver)

// WithSchema re-types loaded state through schema.Restore.
func WithSchema(schema *graph.StateSchema) Option {
	return func(s *Saver) { s.schema = schema }
}

// Open opens a database per cfg and returns a saver that owns it.
func Open(cfg Config, opts ...Option) (*Saver, error) {
	var bo badger.Options
	if cfg.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger: path is required for a persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("badger: create %s: %w", cfg.Path, err)
		}
		bo = badger.DefaultOptions(cfg.Path)
	}
	bo = bo.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1).WithLogger(badgerLogger{})
	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	s := NewSaver(db, opts...)
	s.owned = true
	return s, nil
}

// NewSaver creates a saver on an open database. The caller keeps ownership
// of db.
func NewSaver(db *badger.DB, opts ...Option) *Saver {
	s := &Saver{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func threadKey(threadID string) string { return url.PathEscape(threadID) }

func headKey(threadID string) []byte {
	return []byte("head/" + threadKey(threadID))
}

func checkpointPrefix(threadID string) []byte {
	return []byte("ckpt/" + threadKey(threadID) + "/")
}

func checkpointKey(threadID string, step int) []byte {
	return append(checkpointPrefix(threadID), fmt.Sprintf("%020d", step)...)
}

// Save appends ckpt. Concurrent writers of one thread are serialized by
// badger's conflict detection on the head key.
func (s *Saver) Save(ctx context.Context, ckpt *graph.Checkpoint) error {
	if err := graph.ValidateCheckpoint(ckpt); err != nil {
		return err
	}
	blob, err := json.Marshal(ckpt)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	for attempt := 0; ; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			latest, err := readHead(txn, ckpt.ThreadID)
			if err != nil {
				return err
			}
			if latest >= ckpt.Step {
				return fmt.Errorf("%w: thread %q step %d, latest %d",
					graph.ErrStepConflict, ckpt.ThreadID, ckpt.Step, latest)
			}
			if err := txn.Set(checkpointKey(ckpt.ThreadID, ckpt.Step), blob); err != nil {
				return err
			}
			return txn.Set(headKey(ckpt.ThreadID), []byte(strconv.Itoa(ckpt.Step)))
		})
		if !errors.Is(err, badger.ErrConflict) || attempt >= maxConflictRetries {
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err != nil && !errors.Is(err, graph.ErrStepConflict) {
		return fmt.Errorf("badger save checkpoint: %w", err)
	}
	return err
}

func readHead(txn *badger.Txn, threadID string) (int, error) {
	item, err := txn.Get(headKey(threadID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var step int
	err = item.Value(func(v []byte) error {
		step, err = strconv.Atoi(string(v))
		return err
	})
	return step, err
}

// LoadLatest returns the newest checkpoint of a thread.
func (s *Saver) LoadLatest(_ context.Context, threadID string) (*graph.Checkpoint, error) {
	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		step, err := readHead(txn, threadID)
		if err != nil || step == 0 {
			return err
		}
		item, err := txn.Get(checkpointKey(threadID, step))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("badger latest checkpoint: %w", err)
	}
	if blob == nil {
		return nil, nil
	}
	return s.decode(blob)
}

// Load returns the checkpoint at step.
func (s *Saver) Load(_ context.Context, threadID string, step int) (*graph.Checkpoint, error) {
	var blob []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey(threadID, step))
		if err != nil {
			return err
		}
		blob, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: thread %q step %d", graph.ErrNoCheckpoint, threadID, step)
	}
	if err != nil {
		return nil, fmt.Errorf("badger get checkpoint: %w", err)
	}
	return s.decode(blob)
}

// List returns the thread's checkpoints, oldest first.
func (s *Saver) List(_ context.Context, threadID string) ([]*graph.Checkpoint, error) {
	var blobs [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 16})
		defer it.Close()
		prefix := checkpointPrefix(threadID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			v, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			blobs = append(blobs, v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger list checkpoints: %w", err)
	}
	out := make([]*graph.Checkpoint, 0, len(blobs))
	for _, b := range blobs {
		ck, err := s.decode(b)
		if err != nil {
			return nil, err
		}
		out = append(out, ck)
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

// badgerLogger routes badger's internal logging to the package logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any)   { log.Errorf("badger: "+format, args...) }
func (badgerLogger) Warningf(format string, args ...any) { log.Warnf("badger: "+format, args...) }
func (badgerLogger) Infof(format string, args ...any)    { log.Debugf("badger: "+format, args...) }
func (badgerLogger) Debugf(format string, args ...any)   { log.Debugf("badger: "+format, args...) }
