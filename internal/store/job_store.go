package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/savrin/waveline/internal/domain"
)

// mutateMaxRetries — предел повторов Mutate при version-конфликтах.
const mutateMaxRetries = 16

// JobStore — репозиторий документов заданий.
type JobStore struct {
	pool *pgxpool.Pool
}

// NewJobStore создаёт новый JobStore.
func NewJobStore(pool *pgxpool.Pool) *JobStore {
	return &JobStore{pool: pool}
}

// Create сохраняет новое задание.
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	stepsJSON, err := json.Marshal(job.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	transitionsJSON, err := json.Marshal(job.Transitions)
	if err != nil {
		return fmt.Errorf("marshal transitions: %w", err)
	}

	query := `
		INSERT INTO jobs (id, user_id, status, steps, transitions, cursor,
		                  retry_generation, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)
	`
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Status,
		stepsJSON,
		transitionsJSON,
		job.Cursor,
		job.RetryGeneration,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get возвращает задание и его текущую версию.
func (s *JobStore) Get(ctx context.Context, id string) (*domain.Job, int64, error) {
	query := `
		SELECT id, user_id, status, steps, transitions, cursor,
		       retry_generation, version, created_at, updated_at
		FROM jobs
		WHERE id = $1
	`

	var job domain.Job
	var stepsJSON, transitionsJSON []byte
	var version int64

	err := s.pool.QueryRow(ctx, query, id).Scan(
		&job.ID,
		&job.UserID,
		&job.Status,
		&stepsJSON,
		&transitionsJSON,
		&job.Cursor,
		&job.RetryGeneration,
		&version,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("scan job: %w", err)
	}

	if err := json.Unmarshal(stepsJSON, &job.Steps); err != nil {
		return nil, 0, fmt.Errorf("unmarshal steps: %w", err)
	}
	if err := json.Unmarshal(transitionsJSON, &job.Transitions); err != nil {
		return nil, 0, fmt.Errorf("unmarshal transitions: %w", err)
	}

	return &job, version, nil
}

// Update записывает документ поверх ожидаемой версии.
// Возвращает ErrVersionConflict, если документ изменился с момента Get.
func (s *JobStore) Update(ctx context.Context, job *domain.Job, version int64) error {
	stepsJSON, err := json.Marshal(job.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	transitionsJSON, err := json.Marshal(job.Transitions)
	if err != nil {
		return fmt.Errorf("marshal transitions: %w", err)
	}

	query := `
		UPDATE jobs
		SET status = $2, steps = $3, transitions = $4, cursor = $5,
		    retry_generation = $6, updated_at = $7, version = version + 1
		WHERE id = $1 AND version = $8
	`
	result, err := s.pool.Exec(ctx, query,
		job.ID,
		job.Status,
		stepsJSON,
		transitionsJSON,
		job.Cursor,
		job.RetryGeneration,
		job.UpdatedAt,
		version,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Либо документ изменён конкурентно, либо его нет.
		if _, _, getErr := s.Get(ctx, job.ID); errors.Is(getErr, ErrNotFound) {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

// Mutate читает задание, применяет fn и записывает результат с CAS по
// версии. При конфликте перечитывает и повторяет. Это сериализует
// мутации per-job: несовместные правки не теряются.
func (s *JobStore) Mutate(ctx context.Context, id string, fn func(*domain.Job) error) (*domain.Job, error) {
	for attempt := 0; attempt < mutateMaxRetries; attempt++ {
		job, version, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		if err := fn(job); err != nil {
			return nil, err
		}
		job.Touch()

		err = s.Update(ctx, job, version)
		if err == nil {
			return job, nil
		}
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("mutate job %s: %w", id, ErrVersionConflict)
}

// CASStatus атомарно переводит статус задания from → to.
// Возвращает ErrCASFailed, если текущий статус не совпал: терминальный
// переход записывается не более одного раза на поколение retry.
func (s *JobStore) CASStatus(ctx context.Context, id string, from, to domain.JobStatus) error {
	query := `
		UPDATE jobs
		SET status = $3, updated_at = now(), version = version + 1
		WHERE id = $1 AND status = $2
	`
	result, err := s.pool.Exec(ctx, query, id, from, to)
	if err != nil {
		return fmt.Errorf("cas job status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrCASFailed
	}
	return nil
}

// ListByStatus возвращает задания в указанном статусе (для sweeper'а).
func (s *JobStore) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]string, error) {
	query := `
		SELECT id FROM jobs
		WHERE status = $1
		ORDER BY updated_at ASC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
