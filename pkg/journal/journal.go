// Package journal provides a durable append-only record of knowledge
// events, decisions, and plan executions, backed by SQLite. The in-memory
// store keeps its own event log for fast inspection; the journal is the
// record that survives restarts.
package journal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/praxon/praxon/pkg/knowledge"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ knowledge.EventSink = (*Journal)(nil)

// Config holds journal database configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Journal is a SQLite-backed append-only journal.
type Journal struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Open opens the journal database, enables WAL mode, and runs migrations.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (*Journal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	j := &Journal{
		db:     db,
		path:   cfg.Path,
		logger: logger.With().Str("component", "journal").Logger(),
	}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

func (j *Journal) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(j.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// DecisionRecord is one journaled decision request.
type DecisionRecord struct {
	ID         string
	Intent     string
	Outcome    string
	TemplateID string
	Candidates int
	Detail     string
	CreatedAt  time.Time
}

// RunRecord is one journaled plan execution.
type RunRecord struct {
	ID             string
	TemplateID     string
	TemplateName   string
	Status         string
	DryRun         bool
	StepsExecuted  int
	StepsSucceeded int
	StepsFailed    int
	StartedAt      time.Time
	Duration       time.Duration
}

// EventRecord is one journaled knowledge event.
type EventRecord struct {
	ID           string
	Type         string
	TemplateID   string
	TemplateName string
	Detail       string
	Timestamp    time.Time
}

// AppendDecision journals a decision record.
func (j *Journal) AppendDecision(ctx context.Context, rec DecisionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO decisions (id, intent, outcome, template_id, candidates, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		rec.ID, rec.Intent, rec.Outcome, rec.TemplateID, rec.Candidates, rec.Detail, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to append decision: %w", err)
	}
	return nil
}

// AppendRun journals an execution record.
func (j *Journal) AppendRun(ctx context.Context, rec RunRecord) error {
	query := `
		INSERT INTO runs (id, template_id, template_name, status, dry_run,
			steps_executed, steps_succeeded, steps_failed, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		rec.ID, rec.TemplateID, rec.TemplateName, rec.Status, rec.DryRun,
		rec.StepsExecuted, rec.StepsSucceeded, rec.StepsFailed,
		rec.StartedAt, rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to append run: %w", err)
	}
	return nil
}

// AppendStoreEvent implements knowledge.EventSink so the journal can be
// wired directly into the store and receive events as they are appended.
func (j *Journal) AppendStoreEvent(ev knowledge.EventRecord) error {
	return j.AppendEvent(context.Background(), ev)
}

// AppendEvent journals a knowledge store event.
func (j *Journal) AppendEvent(ctx context.Context, ev knowledge.EventRecord) error {
	query := `
		INSERT INTO events (id, type, template_id, template_name, detail, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := j.db.ExecContext(ctx, query,
		uuid.New().String(), string(ev.Type), ev.TemplateID, ev.TemplateName, ev.Detail, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// GetDecision retrieves a decision by id.
func (j *Journal) GetDecision(ctx context.Context, id string) (*DecisionRecord, error) {
	query := `
		SELECT id, intent, outcome, template_id, candidates, detail, created_at
		FROM decisions
		WHERE id = ?
	`
	rec := &DecisionRecord{}
	err := j.db.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.Intent, &rec.Outcome, &rec.TemplateID, &rec.Candidates, &rec.Detail, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, knowledge.NewLookupError("decision not found", nil).WithCode(knowledge.ErrCodeNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	return rec, nil
}

// ListDecisions lists journaled decisions, most recent first.
func (j *Journal) ListDecisions(ctx context.Context, limit, offset int) ([]*DecisionRecord, error) {
	query := `
		SELECT id, intent, outcome, template_id, candidates, detail, created_at
		FROM decisions
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := j.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list decisions: %w", err)
	}
	defer rows.Close()

	records := []*DecisionRecord{}
	for rows.Next() {
		rec := &DecisionRecord{}
		if err := rows.Scan(&rec.ID, &rec.Intent, &rec.Outcome, &rec.TemplateID,
			&rec.Candidates, &rec.Detail, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}
	return records, nil
}

// ListRuns lists journaled executions, most recent first.
func (j *Journal) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	query := `
		SELECT id, template_id, template_name, status, dry_run,
			steps_executed, steps_succeeded, steps_failed, started_at, duration_ms
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`
	rows, err := j.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	records := []*RunRecord{}
	for rows.Next() {
		rec := &RunRecord{}
		var durationMS int64
		if err := rows.Scan(&rec.ID, &rec.TemplateID, &rec.TemplateName, &rec.Status, &rec.DryRun,
			&rec.StepsExecuted, &rec.StepsSucceeded, &rec.StepsFailed,
			&rec.StartedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return records, nil
}

// ListEvents lists journaled events for a template, oldest first. An empty
// template id lists everything.
func (j *Journal) ListEvents(ctx context.Context, templateID string, limit int) ([]*EventRecord, error) {
	query := `
		SELECT id, type, template_id, template_name, detail, timestamp
		FROM events
		WHERE (? = '' OR template_id = ?)
		ORDER BY timestamp ASC
		LIMIT ?
	`
	rows, err := j.db.QueryContext(ctx, query, templateID, templateID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	records := []*EventRecord{}
	for rows.Next() {
		rec := &EventRecord{}
		if err := rows.Scan(&rec.ID, &rec.Type, &rec.TemplateID, &rec.TemplateName,
			&rec.Detail, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return records, nil
}

// Sync copies the store's in-memory event log into the journal, skipping
// events already journaled for the store's templates. It is a coarse
// catch-up for stores loaded from a document.
func (j *Journal) Sync(ctx context.Context, store *knowledge.Store) (int, error) {
	events := store.Events()
	appended := 0
	for _, ev := range events {
		exists, err := j.hasEvent(ctx, ev)
		if err != nil {
			return appended, err
		}
		if exists {
			continue
		}
		if err := j.AppendEvent(ctx, ev); err != nil {
			return appended, err
		}
		appended++
	}
	if appended > 0 {
		j.logger.Info().Int("events", appended).Msg("Journal caught up with store event log")
	}
	return appended, nil
}

func (j *Journal) hasEvent(ctx context.Context, ev knowledge.EventRecord) (bool, error) {
	query := `
		SELECT COUNT(1) FROM events
		WHERE type = ? AND template_id = ? AND timestamp = ?
	`
	var count int
	err := j.db.QueryRowContext(ctx, query, string(ev.Type), ev.TemplateID, ev.Timestamp).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check event: %w", err)
	}
	return count > 0, nil
}
