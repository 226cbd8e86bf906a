package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	bucketPending   = "pending"
	bucketActive    = "active"
	bucketCompleted = "completed"
)

// Load reads the last saved snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	ctx = ensureContext(ctx)
	var snapshot Snapshot
	err := retryOnBusy(ctx, func() error {
		snapshot = Snapshot{}
		rows, err := s.db.QueryContext(ctx, `SELECT bucket, id, status, params_json, added_at, started_at,
			completed_at, failed_at, error_message, result_ref
			FROM jobs ORDER BY bucket, position`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			bucket, job, err := scanJob(rows)
			if err != nil {
				return err
			}
			switch bucket {
			case bucketPending:
				snapshot.Pending = append(snapshot.Pending, job)
			case bucketActive:
				snapshot.Active = job
			case bucketCompleted:
				snapshot.Completed = append(snapshot.Completed, job)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: load jobs: %w", ErrPersistence, err)
	}
	return snapshot, nil
}

// Save replaces the stored snapshot in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, snapshot Snapshot) error {
	ctx = ensureContext(ctx)
	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, "DELETE FROM jobs"); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO jobs (id, bucket, position, status, params_json,
			added_at, started_at, completed_at, failed_at, error_message, result_ref)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		insert := func(bucket string, position int, job *Job) error {
			params, err := json.Marshal(job.Params)
			if err != nil {
				return fmt.Errorf("encode params for %s: %w", job.ID, err)
			}
			_, err = stmt.ExecContext(ctx,
				job.ID,
				bucket,
				position,
				string(job.Status),
				string(params),
				job.AddedAt.UTC().Format(time.RFC3339Nano),
				nullableTime(job.StartedAt),
				nullableTime(job.CompletedAt),
				nullableTime(job.FailedAt),
				nullableString(job.Error),
				nullableString(job.ResultRef),
			)
			return err
		}
		for idx, job := range snapshot.Pending {
			if err := insert(bucketPending, idx, job); err != nil {
				return err
			}
		}
		if snapshot.Active != nil {
			if err := insert(bucketActive, 0, snapshot.Active); err != nil {
				return err
			}
		}
		for idx, job := range snapshot.Completed {
			if err := insert(bucketCompleted, idx, job); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("%w: save jobs: %w", ErrPersistence, err)
	}
	return nil
}

// CheckHealth returns diagnostic information about the queue database.
func (s *SQLiteStore) CheckHealth(ctx context.Context) (Health, error) {
	health := Health{Backend: "sqlite", Path: s.path}
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat queue database: %w", err)
	}
	health.Exists = true

	connCtx, cancel := context.WithTimeout(ensureContext(ctx), 2*time.Second)
	defer cancel()
	if err := s.db.QueryRowContext(connCtx, "SELECT COUNT(1) FROM jobs").Scan(&health.Jobs); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("count jobs: %w", err)
	}
	health.Readable = true
	return health, nil
}

func scanJob(scanner interface{ Scan(dest ...any) error }) (string, *Job, error) {
	var (
		bucket, id, status, paramsJSON, addedAt string
		startedAt, completedAt, failedAt        sql.NullString
		errorMessage, resultRef                 sql.NullString
	)
	if err := scanner.Scan(&bucket, &id, &status, &paramsJSON, &addedAt, &startedAt,
		&completedAt, &failedAt, &errorMessage, &resultRef); err != nil {
		return "", nil, err
	}
	job := &Job{
		ID:        id,
		Status:    Status(status),
		Error:     errorMessage.String,
		ResultRef: resultRef.String,
	}
	if err := json.Unmarshal([]byte(paramsJSON), &job.Params); err != nil {
		return "", nil, fmt.Errorf("decode params for %s: %w", id, err)
	}
	added, err := time.Parse(time.RFC3339Nano, addedAt)
	if err != nil {
		return "", nil, fmt.Errorf("parse added_at for %s: %w", id, err)
	}
	job.AddedAt = added
	job.StartedAt = parseNullableTime(startedAt)
	job.CompletedAt = parseNullableTime(completedAt)
	job.FailedAt = parseNullableTime(failedAt)
	return bucket, job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid || value.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, value.String)
	if err != nil {
		return nil
	}
	return &t
}
