package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ndelin/aide/internal/domain"
	"github.com/ndelin/aide/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // Mutex for write operations to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		display_name TEXT,
		timezone TEXT,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		notes TEXT,
		done INTEGER NOT NULL DEFAULT 0,
		due_at INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, created_at);

	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		location TEXT,
		source TEXT NOT NULL,
		starts_at INTEGER NOT NULL,
		ends_at INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_user ON events(user_id, starts_at);

	CREATE TABLE IF NOT EXISTS journal_entries (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		body TEXT NOT NULL,
		mood TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_journal_user ON journal_entries(user_id, created_at);
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

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, display_name, timezone,
		       last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	row := s.db.QueryRowContext(ctx, query, userID)

	var user domain.User
	var displayName, timezone sql.NullString
	var lastSeen, createdAt, updatedAt int64

	err := row.Scan(
		&user.UserID, &user.Username, &displayName, &timezone,
		&lastSeen, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.DisplayName = displayName.String
	user.Timezone = timezone.String
	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)

	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, display_name, timezone, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		display_name = excluded.display_name,
		timezone = excluded.timezone,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, nullable(user.DisplayName), nullable(user.Timezone),
		user.LastSeenAt.Unix(), user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
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

// ListTasks retrieves all tasks for a user, newest first.
func (s *SQLiteStore) ListTasks(ctx context.Context, userID string) ([]*domain.Task, error) {
	query := `
		SELECT id, user_id, title, notes, done, due_at, created_at, updated_at
		FROM tasks WHERE user_id = ? ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close task rows", "error", closeErr)
		}
	}()

	var tasks []*domain.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, nil
}

// GetTask retrieves a single task by ID, scoped to the owning user.
func (s *SQLiteStore) GetTask(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	query := `
		SELECT id, user_id, title, notes, done, due_at, created_at, updated_at
		FROM tasks WHERE user_id = ? AND id = ?`

	row := s.db.QueryRowContext(ctx, query, userID, taskID)
	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// CreateTask persists a new task.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *domain.Task) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO tasks (id, user_id, title, notes, done, due_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var dueAt interface{}
	if task.DueAt != nil {
		dueAt = task.DueAt.Unix()
	}

	_, err := s.db.ExecContext(ctx, query,
		task.ID, task.UserID, task.Title, nullable(task.Notes),
		boolToInt(task.Done), dueAt,
		task.CreatedAt.Unix(), task.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// SetTaskDone marks a task done or not done.
func (s *SQLiteStore) SetTaskDone(ctx context.Context, userID, taskID string, done bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `UPDATE tasks SET done = ?, updated_at = ? WHERE user_id = ? AND id = ?`
	result, err := s.db.ExecContext(ctx, query, boolToInt(done), time.Now().Unix(), userID, taskID)
	if err != nil {
		return fmt.Errorf("update task done: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

// DeleteTask removes a task. Retries with exponential backoff since
// deletes from the API race with writes from the operation runner.
func (s *SQLiteStore) DeleteTask(ctx context.Context, userID, taskID string) error {
	err := shared.RetryOnConflict(ctx, 3, 100*time.Millisecond, func() error {
		return s.deleteTaskOnce(ctx, userID, taskID)
	})
	if err != nil {
		return fmt.Errorf("delete task %s: %w", taskID, err)
	}
	return nil
}

func (s *SQLiteStore) deleteTaskOnce(ctx context.Context, userID, taskID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE user_id = ? AND id = ?`, userID, taskID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListEvents retrieves all calendar events for a user ordered by start time.
func (s *SQLiteStore) ListEvents(ctx context.Context, userID string) ([]*domain.Event, error) {
	query := `
		SELECT id, user_id, title, location, source, starts_at, ends_at, created_at
		FROM events WHERE user_id = ? ORDER BY starts_at ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close event rows", "error", closeErr)
		}
	}()

	var events []*domain.Event
	for rows.Next() {
		var event domain.Event
		var location sql.NullString
		var endsAt sql.NullInt64
		var startsAt, createdAt int64

		if err := rows.Scan(
			&event.ID, &event.UserID, &event.Title, &location, &event.Source,
			&startsAt, &endsAt, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}

		event.Location = location.String
		event.StartsAt = time.Unix(startsAt, 0)
		event.CreatedAt = time.Unix(createdAt, 0)
		if endsAt.Valid {
			ts := time.Unix(endsAt.Int64, 0)
			event.EndsAt = &ts
		}
		events = append(events, &event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

// CreateEvent persists a new calendar event.
func (s *SQLiteStore) CreateEvent(ctx context.Context, event *domain.Event) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO events (id, user_id, title, location, source, starts_at, ends_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	var endsAt interface{}
	if event.EndsAt != nil {
		endsAt = event.EndsAt.Unix()
	}

	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.UserID, event.Title, nullable(event.Location), event.Source,
		event.StartsAt.Unix(), endsAt, event.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// DeleteEvent removes a calendar event.
func (s *SQLiteStore) DeleteEvent(ctx context.Context, userID, eventID string) error {
	err := shared.RetryOnConflict(ctx, 3, 100*time.Millisecond, func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		result, execErr := s.db.ExecContext(ctx, `DELETE FROM events WHERE user_id = ? AND id = ?`, userID, eventID)
		if execErr != nil {
			return execErr
		}
		rows, raErr := result.RowsAffected()
		if raErr != nil {
			return raErr
		}
		if rows == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return nil
}

// ListJournalEntries retrieves journal entries for a user, newest first.
// A limit of 0 returns all entries.
func (s *SQLiteStore) ListJournalEntries(ctx context.Context, userID string, limit int) ([]*domain.JournalEntry, error) {
	query := `
		SELECT id, user_id, body, mood, created_at
		FROM journal_entries WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	args := []interface{}{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal entries: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close journal rows", "error", closeErr)
		}
	}()

	var entries []*domain.JournalEntry
	for rows.Next() {
		var entry domain.JournalEntry
		var mood sql.NullString
		var createdAt int64

		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.Body, &mood, &createdAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}

		entry.Mood = mood.String
		entry.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal entries: %w", err)
	}

	return entries, nil
}

// CreateJournalEntry persists a new journal entry.
func (s *SQLiteStore) CreateJournalEntry(ctx context.Context, entry *domain.JournalEntry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	query := `
	INSERT INTO journal_entries (id, user_id, body, mood, created_at)
	VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID, entry.UserID, entry.Body, nullable(entry.Mood), entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var task domain.Task
	var notes sql.NullString
	var done int
	var dueAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(
		&task.ID, &task.UserID, &task.Title, &notes,
		&done, &dueAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan task row: %w", err)
	}

	task.Notes = notes.String
	task.Done = done != 0
	task.CreatedAt = time.Unix(createdAt, 0)
	task.UpdatedAt = time.Unix(updatedAt, 0)
	if dueAt.Valid {
		ts := time.Unix(dueAt.Int64, 0)
		task.DueAt = &ts
	}

	return &task, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
