package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/calmpath/internal/domain"
	"github.com/ashureev/calmpath/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers; pragmas apply to every pooled connection.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		closeOnError(db)
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.initSchema(); err != nil {
		closeOnError(db)
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func closeOnError(db *sql.DB) {
	if err := db.Close(); err != nil {
		slog.Warn("Failed to close database after setup error", "error", err)
	}
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS crisis_guides (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		image_url TEXT,
		steps_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_crises (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		guide_id INTEGER REFERENCES crisis_guides(id),
		title TEXT NOT NULL,
		description TEXT,
		current_step_index INTEGER NOT NULL DEFAULT 0 CHECK (current_step_index >= 0),
		is_resolved INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_user_crises_user ON user_crises(user_id, created_at);

	CREATE TABLE IF NOT EXISTS crisis_notes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		crisis_id INTEGER NOT NULL REFERENCES user_crises(id),
		content TEXT NOT NULL,
		sentiment TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_crisis_notes_crisis ON crisis_notes(crisis_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `SELECT user_id, display_name, last_seen_at, created_at FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&user.UserID, &user.DisplayName, &lastSeen, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.UnixMilli(lastSeen)
	user.CreatedAt = time.UnixMilli(createdAt)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, display_name, last_seen_at, created_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		display_name = excluded.display_name,
		last_seen_at = excluded.last_seen_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.DisplayName, user.LastSeenAt.UnixMilli(), user.CreatedAt.UnixMilli())
	return shared.WrapSQLiteError("upsert user", err)
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET last_seen_at = ? WHERE user_id = ?`, lastSeen.UnixMilli(), userID)
	if err != nil {
		return shared.WrapSQLiteError("update last_seen", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

const guideColumns = `id, title, description, image_url, steps_json, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGuide(row rowScanner) (*domain.Guide, error) {
	var g domain.Guide
	var imageURL sql.NullString
	var stepsJSON string
	var createdAt int64

	if err := row.Scan(&g.ID, &g.Title, &g.Description, &imageURL, &stepsJSON, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stepsJSON), &g.Steps); err != nil {
		return nil, fmt.Errorf("decode steps of guide %d: %w", g.ID, err)
	}
	if imageURL.Valid {
		g.ImageURL = &imageURL.String
	}
	g.CreatedAt = time.UnixMilli(createdAt)
	return &g, nil
}

// ListGuides returns every guide ordered by id.
func (s *SQLiteStore) ListGuides(ctx context.Context) ([]*domain.Guide, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+guideColumns+` FROM crisis_guides ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query guides: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close guide rows", "error", closeErr)
		}
	}()

	guides := []*domain.Guide{}
	for rows.Next() {
		g, err := scanGuide(rows)
		if err != nil {
			return nil, fmt.Errorf("scan guide row: %w", err)
		}
		guides = append(guides, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate guides: %w", err)
	}
	return guides, nil
}

// GetGuide retrieves a guide by id.
func (s *SQLiteStore) GetGuide(ctx context.Context, id int64) (*domain.Guide, error) {
	g, err := scanGuide(s.db.QueryRowContext(ctx, `SELECT `+guideColumns+` FROM crisis_guides WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan guide row: %w", err)
	}
	return g, nil
}

// SeedGuides inserts guides inside one transaction, only if the table is empty.
func (s *SQLiteStore) SeedGuides(ctx context.Context, guides []*domain.Guide) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, shared.WrapSQLiteError("begin seed", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Warn("failed to roll back seed transaction", "error", rbErr)
		}
	}()

	var existing int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM crisis_guides`).Scan(&existing); err != nil {
		return 0, fmt.Errorf("count guides: %w", err)
	}
	if existing > 0 {
		return 0, nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO crisis_guides (title, description, image_url, steps_json, created_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare guide insert: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			slog.Warn("failed to close guide insert statement", "error", closeErr)
		}
	}()

	now := s.now()
	for _, g := range guides {
		stepsJSON, err := json.Marshal(g.Steps)
		if err != nil {
			return 0, fmt.Errorf("encode steps of %q: %w", g.Title, err)
		}
		var imageURL any
		if g.ImageURL != nil {
			imageURL = *g.ImageURL
		}
		res, err := stmt.ExecContext(ctx, g.Title, g.Description, imageURL, string(stepsJSON), now.UnixMilli())
		if err != nil {
			return 0, shared.WrapSQLiteError("insert guide", err)
		}
		if g.ID, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("guide id: %w", err)
		}
		g.CreatedAt = time.UnixMilli(now.UnixMilli())
	}

	if err := tx.Commit(); err != nil {
		return 0, shared.WrapSQLiteError("commit seed", err)
	}
	return len(guides), nil
}

const crisisColumns = `id, user_id, guide_id, title, description, current_step_index, is_resolved, version, created_at`

func scanCrisis(row rowScanner) (*domain.Crisis, error) {
	var c domain.Crisis
	var guideID sql.NullInt64
	var description sql.NullString
	var createdAt int64

	if err := row.Scan(&c.ID, &c.UserID, &guideID, &c.Title, &description,
		&c.CurrentStepIndex, &c.IsResolved, &c.Version, &createdAt); err != nil {
		return nil, err
	}
	if guideID.Valid {
		c.GuideID = &guideID.Int64
	}
	if description.Valid {
		c.Description = &description.String
	}
	c.CreatedAt = time.UnixMilli(createdAt)
	return &c, nil
}

// CreateCrisis inserts a crisis and assigns its ID.
func (s *SQLiteStore) CreateCrisis(ctx context.Context, crisis *domain.Crisis) error {
	var guideID, description any
	if crisis.GuideID != nil {
		guideID = *crisis.GuideID
	}
	if crisis.Description != nil {
		description = *crisis.Description
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_crises (user_id, guide_id, title, description, current_step_index, is_resolved, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		crisis.UserID, guideID, crisis.Title, description,
		crisis.CurrentStepIndex, crisis.IsResolved, crisis.Version, crisis.CreatedAt.UnixMilli())
	if err != nil {
		if shared.IsSQLiteConstraintError(err) {
			return fmt.Errorf("insert crisis: guide %v: %w", guideID, domain.ErrNotFound)
		}
		return shared.WrapSQLiteError("insert crisis", err)
	}
	if crisis.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("crisis id: %w", err)
	}
	return nil
}

// GetCrisis retrieves a crisis by id.
func (s *SQLiteStore) GetCrisis(ctx context.Context, id int64) (*domain.Crisis, error) {
	c, err := scanCrisis(s.db.QueryRowContext(ctx, `SELECT `+crisisColumns+` FROM user_crises WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan crisis row: %w", err)
	}
	return c, nil
}

// ListCrisesByUser returns a user's crises, newest first.
func (s *SQLiteStore) ListCrisesByUser(ctx context.Context, userID string) ([]*domain.Crisis, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+crisisColumns+` FROM user_crises WHERE user_id = ? ORDER BY created_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query crises: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close crisis rows", "error", closeErr)
		}
	}()

	crises := []*domain.Crisis{}
	for rows.Next() {
		c, err := scanCrisis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan crisis row: %w", err)
		}
		crises = append(crises, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate crises: %w", err)
	}
	return crises, nil
}

// UpdateCrisisProgress writes progress with a compare-and-swap on version.
func (s *SQLiteStore) UpdateCrisisProgress(ctx context.Context, crisis *domain.Crisis, expectedVersion int64) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE user_crises
		SET current_step_index = ?, is_resolved = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		crisis.CurrentStepIndex, crisis.IsResolved, crisis.ID, expectedVersion)
	if err != nil {
		return shared.WrapSQLiteError("update crisis progress", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM user_crises WHERE id = ?`, crisis.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("crisis %d: %w", crisis.ID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check crisis existence: %w", err)
		}
		slog.Warn("UpdateCrisisProgress lost version race", "crisis_id", crisis.ID, "expected_version", expectedVersion)
		return fmt.Errorf("crisis %d changed concurrently: %w", crisis.ID, domain.ErrConflict)
	}

	crisis.Version = expectedVersion + 1
	return nil
}

// CreateNote appends a note and assigns its ID.
func (s *SQLiteStore) CreateNote(ctx context.Context, note *domain.Note) error {
	var sentiment any
	if note.Sentiment != nil {
		sentiment = *note.Sentiment
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO crisis_notes (crisis_id, content, sentiment, created_at)
		VALUES (?, ?, ?, ?)`,
		note.CrisisID, note.Content, sentiment, note.CreatedAt.UnixMilli())
	if err != nil {
		if shared.IsSQLiteConstraintError(err) {
			return fmt.Errorf("insert note for crisis %d: %w", note.CrisisID, domain.ErrNotFound)
		}
		return shared.WrapSQLiteError("insert note", err)
	}
	if note.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("note id: %w", err)
	}
	return nil
}

// ListNotes returns the notes of a crisis, newest first.
func (s *SQLiteStore) ListNotes(ctx context.Context, crisisID int64) ([]*domain.Note, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, crisis_id, content, sentiment, created_at
		FROM crisis_notes WHERE crisis_id = ?
		ORDER BY created_at DESC, id DESC`, crisisID)
	if err != nil {
		return nil, fmt.Errorf("query notes: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close note rows", "error", closeErr)
		}
	}()

	notes := []*domain.Note{}
	for rows.Next() {
		var n domain.Note
		var sentiment sql.NullString
		var createdAt int64
		if err := rows.Scan(&n.ID, &n.CrisisID, &n.Content, &sentiment, &createdAt); err != nil {
			return nil, fmt.Errorf("scan note row: %w", err)
		}
		if sentiment.Valid {
			n.Sentiment = &sentiment.String
		}
		n.CreatedAt = time.UnixMilli(createdAt)
		notes = append(notes, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notes: %w", err)
	}
	return notes, nil
}
