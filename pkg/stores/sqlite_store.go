package stores

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

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore records evaluation history in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	return &SQLiteStore{
		path: cfg.Path,
	}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
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

// SaveEvaluation records an evaluation and its findings in one
// transaction. A missing evaluation ID is generated.
func (s *SQLiteStore) SaveEvaluation(ctx context.Context, eval *Evaluation, findings []Finding) error {
	if eval.ID == "" {
		eval.ID = uuid.NewString()
	}
	if eval.CreatedAt.IsZero() {
		eval.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO evaluations (id, plan_path, environment, allowed, resource_count, policy_count, violation_count, warning_count, started_at, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		eval.ID,
		eval.PlanPath,
		eval.Environment,
		eval.Allowed,
		eval.ResourceCount,
		eval.PolicyCount,
		eval.ViolationCount,
		eval.WarningCount,
		eval.StartedAt,
		eval.Duration.Milliseconds(),
		eval.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert evaluation: %w", err)
	}

	for i := range findings {
		f := &findings[i]
		f.EvaluationID = eval.ID

		_, err = tx.ExecContext(ctx, `
			INSERT INTO findings (evaluation_id, policy, resource, severity, message, remediation, waived, justification)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			f.EvaluationID,
			f.Policy,
			f.Resource,
			f.Severity,
			f.Message,
			f.Remediation,
			f.Waived,
			f.Justification,
		)
		if err != nil {
			return fmt.Errorf("failed to insert finding for policy %s: %w", f.Policy, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit evaluation: %w", err)
	}

	return nil
}

// GetEvaluation retrieves an evaluation and its findings by ID.
func (s *SQLiteStore) GetEvaluation(ctx context.Context, id string) (*Evaluation, []Finding, error) {
	eval := &Evaluation{}
	var durationMS int64

	err := s.db.QueryRowContext(ctx, `
		SELECT id, plan_path, environment, allowed, resource_count, policy_count, violation_count, warning_count, started_at, duration_ms, created_at
		FROM evaluations
		WHERE id = ?
	`, id).Scan(
		&eval.ID,
		&eval.PlanPath,
		&eval.Environment,
		&eval.Allowed,
		&eval.ResourceCount,
		&eval.PolicyCount,
		&eval.ViolationCount,
		&eval.WarningCount,
		&eval.StartedAt,
		&durationMS,
		&eval.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("evaluation not found: %s", id)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get evaluation: %w", err)
	}
	eval.Duration = time.Duration(durationMS) * time.Millisecond

	findings, err := s.findingsFor(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	return eval, findings, nil
}

// findingsFor loads all findings of one evaluation.
func (s *SQLiteStore) findingsFor(ctx context.Context, evaluationID string) ([]Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, evaluation_id, policy, resource, severity, message, remediation, waived, justification
		FROM findings
		WHERE evaluation_id = ?
		ORDER BY id
	`, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	findings := []Finding{}
	for rows.Next() {
		var f Finding
		err := rows.Scan(
			&f.ID,
			&f.EvaluationID,
			&f.Policy,
			&f.Resource,
			&f.Severity,
			&f.Message,
			&f.Remediation,
			&f.Waived,
			&f.Justification,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating findings: %w", err)
	}

	return findings, nil
}

// ListEvaluations lists evaluations with pagination, newest first.
func (s *SQLiteStore) ListEvaluations(ctx context.Context, limit, offset int) ([]*Evaluation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_path, environment, allowed, resource_count, policy_count, violation_count, warning_count, started_at, duration_ms, created_at
		FROM evaluations
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	evals := []*Evaluation{}
	for rows.Next() {
		eval := &Evaluation{}
		var durationMS int64
		err := rows.Scan(
			&eval.ID,
			&eval.PlanPath,
			&eval.Environment,
			&eval.Allowed,
			&eval.ResourceCount,
			&eval.PolicyCount,
			&eval.ViolationCount,
			&eval.WarningCount,
			&eval.StartedAt,
			&durationMS,
			&eval.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		eval.Duration = time.Duration(durationMS) * time.Millisecond
		evals = append(evals, eval)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evaluations: %w", err)
	}

	return evals, nil
}

// DeleteEvaluation deletes an evaluation and, via cascade, its findings.
func (s *SQLiteStore) DeleteEvaluation(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM evaluations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete evaluation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("evaluation not found: %s", id)
	}

	return nil
}

// PruneBefore deletes all evaluations started before the cutoff and
// returns how many were removed.
func (s *SQLiteStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM evaluations WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune evaluations: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows, nil
}

// GetSummary aggregates the stored history.
func (s *SQLiteStore) GetSummary(ctx context.Context) (*Summary, error) {
	summary := &Summary{
		FindingsBySeverity: make(map[string]int),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN allowed THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN allowed THEN 0 ELSE 1 END), 0)
		FROM evaluations
	`).Scan(&summary.TotalEvaluations, &summary.Allowed, &summary.Blocked)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize evaluations: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT severity, COUNT(*)
		FROM findings
		GROUP BY severity
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize findings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var severity string
		var count int
		if err := rows.Scan(&severity, &count); err != nil {
			return nil, fmt.Errorf("failed to scan severity count: %w", err)
		}
		summary.FindingsBySeverity[severity] = count
		summary.TotalFindings += count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating severity counts: %w", err)
	}

	return summary, nil
}
