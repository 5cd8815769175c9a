package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-healer/internal/models"

	_ "modernc.org/sqlite"
)

const (
	// DefaultListLimit bounds ListActions when no limit is given.
	DefaultListLimit = 100
	// MaxListLimit is the largest page ListActions returns.
	MaxListLimit = 1000
)

// ActionFilter narrows ListActions. Zero fields do not filter.
type ActionFilter struct {
	Policy string
	Since  time.Time
	Limit  int
}

// SQLiteStore keeps the history of resolver actions in SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// RecordActions stores the actions of one policy execution in a single transaction.
// Actions without an ID get a fresh one; an empty policy on the action is filled in.
func (s *SQLiteStore) RecordActions(ctx context.Context, policy string, actions []models.Action) error {
	if len(actions) == 0 {
		return nil
	}
	s.logger.Debug("sql", "op", "insert", "table", "actions", "policy", policy, "count", len(actions))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO actions (id, policy, resolver, type, instant, assignments, diagnoses, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range actions {
		id := a.ID
		if id == "" {
			id = uuid.NewString()
		}
		owner := a.Policy
		if owner == "" {
			owner = policy
		}
		instant := a.Instant
		if instant.IsZero() {
			instant = time.Now()
		}
		assignments, err := json.Marshal(nonNil(a.Assignments))
		if err != nil {
			return fmt.Errorf("marshal assignments: %w", err)
		}
		diagnoses, err := json.Marshal(nonNil(a.Diagnoses))
		if err != nil {
			return fmt.Errorf("marshal diagnoses: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, id, owner, a.Resolver, a.Type, instant.UTC().UnixNano(),
			string(assignments), string(diagnoses), a.Detail); err != nil {
			return fmt.Errorf("insert action %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// ListActions returns recorded actions, newest first.
func (s *SQLiteStore) ListActions(ctx context.Context, filter ActionFilter) ([]models.Action, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	s.logger.Debug("sql", "op", "list", "table", "actions", "policy", filter.Policy, "limit", limit)

	var (
		where []string
		args  []any
	)
	if filter.Policy != "" {
		where = append(where, "policy = ?")
		args = append(args, filter.Policy)
	}
	if !filter.Since.IsZero() {
		where = append(where, "instant >= ?")
		args = append(args, filter.Since.UTC().UnixNano())
	}
	query := `SELECT id, policy, resolver, type, instant, assignments, diagnoses, detail FROM actions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY instant DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	actions := []models.Action{}
	for rows.Next() {
		var (
			a                      models.Action
			instant                int64
			assignments, diagnoses string
		)
		if err := rows.Scan(&a.ID, &a.Policy, &a.Resolver, &a.Type, &instant, &assignments, &diagnoses, &a.Detail); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(assignments), &a.Assignments); err != nil {
			return nil, fmt.Errorf("unmarshal assignments: %w", err)
		}
		if err := json.Unmarshal([]byte(diagnoses), &a.Diagnoses); err != nil {
			return nil, fmt.Errorf("unmarshal diagnoses: %w", err)
		}
		a.Instant = time.Unix(0, instant).UTC()
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
