// Copyright (C) 2025 Aegis Labs (dev@aegis-sec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package audit persists one record per checked query in an embedded
// BadgerDB. Records are indexed by employee and by session so the review
// endpoints can pull an employee's recent history without a scan.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/aegis-sec/aegis/services/consensus"
)

// ErrNotFound is returned when no record exists for the given id.
var ErrNotFound = errors.New("audit record not found")

// ReviewStatus tracks where a record sits in the human review workflow.
type ReviewStatus string

const (
	// ReviewNone marks records that never needed review (final ACCEPT).
	ReviewNone ReviewStatus = "none"

	// ReviewOpen marks records awaiting a reviewer decision. Assigned
	// automatically when the final verdict is FLAG, BLOCK, or ERROR.
	ReviewOpen ReviewStatus = "open"

	// ReviewCleared means a reviewer judged the query benign.
	ReviewCleared ReviewStatus = "cleared"

	// ReviewConfirmed means a reviewer confirmed the violation.
	ReviewConfirmed ReviewStatus = "confirmed"
)

// ParseReviewStatus validates a reviewer-supplied decision. Only the two
// terminal decisions are accepted from the API.
func ParseReviewStatus(s string) (ReviewStatus, error) {
	switch ReviewStatus(s) {
	case ReviewCleared, ReviewConfirmed:
		return ReviewStatus(s), nil
	default:
		return "", fmt.Errorf("invalid review decision %q: must be cleared or confirmed", s)
	}
}

// Record is one audited query check.
type Record struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	EmployeeID string    `json:"employee_id"`
	SessionID  string    `json:"session_id"`
	QueryText  string    `json:"query_text"`

	PIIStatus     consensus.Verdict `json:"pii_status"`
	SLMFlag       consensus.Verdict `json:"slm_flag"`
	MaliciousFlag consensus.Verdict `json:"malicious_flag"`
	FinalFlag     consensus.Verdict `json:"final_flag"`

	Entities       []string `json:"entities,omitempty"`
	AdapterVersion string   `json:"adapter_version,omitempty"`
	DurationMS     int64    `json:"duration_ms"`

	ReviewStatus ReviewStatus `json:"review_status"`
	Reviewer     string       `json:"reviewer,omitempty"`
	ReviewNote   string       `json:"review_note,omitempty"`
	ReviewedAt   time.Time    `json:"reviewed_at,omitzero"`
}

// Summary aggregates one employee's or session's verdict history.
type Summary struct {
	Total     int            `json:"total"`
	ByFinal   map[string]int `json:"by_final"`
	OpenCount int            `json:"open_reviews"`
}

// Config holds configuration for the audit store.
type Config struct {
	// Path is the directory for the database files. Required unless
	// InMemory is set.
	Path string

	// InMemory disables disk persistence. Used by tests.
	InMemory bool

	// SyncWrites trades write latency for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal log output. Nil disables it.
	Logger *slog.Logger

	// GCInterval is how often value log garbage collection runs.
	// Zero disables it.
	GCInterval time.Duration
}

// DefaultConfig returns the production configuration: durable writes and
// periodic value log GC.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
		GCInterval: 5 * time.Minute,
	}
}

// InMemoryConfig returns a configuration for tests: no disk I/O, no GC.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is the audit persistence layer. Safe for concurrent use.
type Store struct {
	db     *badger.DB
	stopGC chan struct{}
	doneGC chan struct{}
}

// Open opens (or creates) the audit store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for a persistent audit store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create audit store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.gcLoop(cfg.GCInterval)
	}
	return s, nil
}

// Close stops GC and closes the database. Safe to call once.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
	}
	return s.db.Close()
}

func (s *Store) gcLoop(interval time.Duration) {
	defer close(s.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			// ErrNoRewrite means nothing to collect, not a fault.
			if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				slog.Warn("Audit store value log GC error", "error", err)
			}
		}
	}
}

// Key layout:
//
//	rec:<id>                          full record JSON
//	emp:<employee_id>:<ts>:<id>       -> id
//	ses:<session_id>:<ts>:<id>        -> id
//
// The timestamp segment is RFC3339Nano, so a prefix iteration walks one
// employee's records in time order.
func recordKey(id string) []byte {
	return []byte("rec:" + id)
}

func employeeKey(rec *Record) []byte {
	return []byte("emp:" + rec.EmployeeID + ":" + rec.Timestamp.UTC().Format(time.RFC3339Nano) + ":" + rec.ID)
}

func sessionKey(rec *Record) []byte {
	return []byte("ses:" + rec.SessionID + ":" + rec.Timestamp.UTC().Format(time.RFC3339Nano) + ":" + rec.ID)
}

// Put persists a record and its indexes in one transaction. A missing ID,
// timestamp, or review status is filled in: FLAG, BLOCK, and ERROR finals
// open a review, ACCEPT does not.
func (s *Store) Put(ctx context.Context, rec *Record) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.ReviewStatus == "" {
		switch rec.FinalFlag {
		case consensus.VerdictAccept:
			rec.ReviewStatus = ReviewNone
		default:
			rec.ReviewStatus = ReviewOpen
		}
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(recordKey(rec.ID), raw); err != nil {
			return err
		}
		if rec.EmployeeID != "" {
			if err := txn.Set(employeeKey(rec), []byte(rec.ID)); err != nil {
				return err
			}
		}
		if rec.SessionID != "" {
			if err := txn.Set(sessionKey(rec), []byte(rec.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get fetches one record by id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	var rec Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Review records a reviewer decision on a record. Only records with an open
// review can be decided; deciding a record twice is an error.
func (s *Store) Review(ctx context.Context, id string, decision ReviewStatus, reviewer, note string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	if decision != ReviewCleared && decision != ReviewConfirmed {
		return nil, fmt.Errorf("invalid review decision %q", decision)
	}
	if reviewer == "" {
		return nil, fmt.Errorf("a review decision requires a reviewer")
	}

	var rec Record
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		if rec.ReviewStatus != ReviewOpen {
			return fmt.Errorf("record %s has review status %s, not open", id, rec.ReviewStatus)
		}
		rec.ReviewStatus = decision
		rec.Reviewer = reviewer
		rec.ReviewNote = note
		rec.ReviewedAt = time.Now().UTC()

		raw, err := json.Marshal(&rec)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		return txn.Set(recordKey(id), raw)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByEmployee returns up to limit records for one employee, oldest first.
func (s *Store) ListByEmployee(ctx context.Context, employeeID string, limit int) ([]*Record, error) {
	return s.listByIndex(ctx, "emp:"+employeeID+":", limit)
}

// ListBySession returns up to limit records for one session, oldest first.
func (s *Store) ListBySession(ctx context.Context, sessionID string, limit int) ([]*Record, error) {
	return s.listByIndex(ctx, "ses:"+sessionID+":", limit)
}

func (s *Store) listByIndex(ctx context.Context, prefix string, limit int) ([]*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("context cancelled: %w", err)
	}
	if limit <= 0 {
		limit = 100
	}

	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid() && len(ids) < limit; it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// EmployeeSummary aggregates all of one employee's records.
func (s *Store) EmployeeSummary(ctx context.Context, employeeID string) (*Summary, error) {
	return s.summarize(ctx, "emp:"+employeeID+":")
}

// SessionSummary aggregates all of one session's records.
func (s *Store) SessionSummary(ctx context.Context, sessionID string) (*Summary, error) {
	return s.summarize(ctx, "ses:"+sessionID+":")
}

func (s *Store) summarize(ctx context.Context, prefix string) (*Summary, error) {
	records, err := s.listByIndex(ctx, prefix, 10000)
	if err != nil {
		return nil, err
	}
	summary := &Summary{ByFinal: make(map[string]int)}
	for _, rec := range records {
		summary.Total++
		summary.ByFinal[string(rec.FinalFlag)]++
		if rec.ReviewStatus == ReviewOpen {
			summary.OpenCount++
		}
	}
	return summary, nil
}
