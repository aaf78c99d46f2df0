package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("job not found")

type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	trimmed := strings.TrimSpace(path)
	inMemory := false
	if trimmed == "" {
		trimmed = ":memory:"
		inMemory = true
	}
	if strings.Contains(trimmed, "mode=memory") || trimmed == ":memory:" || trimmed == "file::memory:" {
		inMemory = true
	}
	db, err := sql.Open("sqlite", trimmed)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if !inMemory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
            id TEXT PRIMARY KEY,
            status TEXT NOT NULL,
            from_email TEXT NOT NULL,
            dry_run INTEGER NOT NULL,
            total INTEGER NOT NULL,
            sent INTEGER NOT NULL DEFAULT 0,
            failed INTEGER NOT NULL DEFAULT 0,
            batches INTEGER NOT NULL,
            batch_size INTEGER NOT NULL,
            started_at INTEGER NOT NULL,
            finished_at INTEGER
        );`,
		`CREATE TABLE IF NOT EXISTS outcomes (
            job_id TEXT NOT NULL,
            idx INTEGER NOT NULL,
            batch INTEGER NOT NULL,
            recipient TEXT NOT NULL,
            status TEXT NOT NULL,
            subject TEXT NOT NULL,
            message_id TEXT,
            error TEXT,
            attachments INTEGER NOT NULL,
            sent_at INTEGER NOT NULL,
            PRIMARY KEY (job_id, idx),
            FOREIGN KEY(job_id) REFERENCES jobs(id) ON DELETE CASCADE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_started ON jobs(started_at, id);`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_status ON outcomes(job_id, status);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateJob(ctx context.Context, job Job) error {
	status := job.Status
	if status == "" {
		status = JobRunning
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO jobs
        (id, status, from_email, dry_run, total, batches, batch_size, started_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		job.ID,
		status,
		job.FromEmail,
		job.DryRun,
		job.Total,
		job.Batches,
		job.BatchSize,
		job.StartedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, outcome Outcome) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO outcomes
        (job_id, idx, batch, recipient, status, subject, message_id, error, attachments, sent_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		outcome.JobID,
		outcome.Index,
		outcome.Batch,
		outcome.Recipient,
		outcome.Status,
		outcome.Subject,
		nullString(outcome.MessageID),
		nullString(outcome.Error),
		outcome.Attachments,
		outcome.SentAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func (s *Store) FinishJob(ctx context.Context, id, status string, sent, failed int, finishedAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE jobs
        SET status = ?, sent = ?, failed = ?, finished_at = ?
        WHERE id = ?;`,
		status, sent, failed, finishedAt.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListJobs returns a page of jobs and the total job count.
func (s *Store) ListJobs(ctx context.Context, sort string, offset, limit int) ([]Job, int, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs;`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	orderBy := " ORDER BY started_at DESC, id DESC"
	if sort == "oldest" {
		orderBy = " ORDER BY started_at ASC, id ASC"
	}
	rows, err := s.db.QueryContext(ctx, jobColumns+orderBy+" LIMIT ? OFFSET ?;", limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

func (s *Store) GetJob(ctx context.Context, id string) (Job, []Outcome, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, jobColumns+" WHERE id = ?;", id))
	if err != nil {
		return Job{}, nil, err
	}
	outcomes, err := s.outcomes(ctx, id, "")
	if err != nil {
		return Job{}, nil, err
	}
	return job, outcomes, nil
}

// FailedRecipients lists the addresses of a job whose send failed, in row
// order.
func (s *Store) FailedRecipients(ctx context.Context, id string) ([]string, error) {
	if _, err := scanJob(s.db.QueryRowContext(ctx, jobColumns+" WHERE id = ?;", id)); err != nil {
		return nil, err
	}
	failed, err := s.outcomes(ctx, id, "error")
	if err != nil {
		return nil, err
	}
	recipients := make([]string, 0, len(failed))
	for _, outcome := range failed {
		recipients = append(recipients, outcome.Recipient)
	}
	return recipients, nil
}

const jobColumns = `SELECT id, status, from_email, dry_run, total, sent, failed, batches, batch_size, started_at, finished_at FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (Job, error) {
	var job Job
	var startedAt int64
	var finishedAt sql.NullInt64
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.FromEmail,
		&job.DryRun,
		&job.Total,
		&job.Sent,
		&job.Failed,
		&job.Batches,
		&job.BatchSize,
		&startedAt,
		&finishedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.StartedAt = time.UnixMilli(startedAt).UTC()
	if finishedAt.Valid {
		job.FinishedAt = time.UnixMilli(finishedAt.Int64).UTC()
	}
	return job, nil
}

func (s *Store) outcomes(ctx context.Context, jobID, status string) ([]Outcome, error) {
	query := `SELECT job_id, idx, batch, recipient, status, subject, message_id, error, attachments, sent_at
        FROM outcomes WHERE job_id = ?`
	args := []any{jobID}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}
	rows, err := s.db.QueryContext(ctx, query+" ORDER BY idx;", args...)
	if err != nil {
		return nil, fmt.Errorf("get outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []Outcome
	for rows.Next() {
		var outcome Outcome
		var messageID, errMessage sql.NullString
		var sentAt int64
		if err := rows.Scan(
			&outcome.JobID,
			&outcome.Index,
			&outcome.Batch,
			&outcome.Recipient,
			&outcome.Status,
			&outcome.Subject,
			&messageID,
			&errMessage,
			&outcome.Attachments,
			&sentAt,
		); err != nil {
			return nil, fmt.Errorf("get outcomes: %w", err)
		}
		outcome.MessageID = messageID.String
		outcome.Error = errMessage.String
		outcome.SentAt = time.UnixMilli(sentAt).UTC()
		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("get outcomes: %w", err)
	}
	return outcomes, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
