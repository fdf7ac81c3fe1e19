package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/LeventeLantos/bulk-messaging/internal/model"
)

type PostgresQueueRepo struct {
	db *sql.DB
}

func NewPostgresQueueRepo(db *sql.DB) *PostgresQueueRepo {
	return &PostgresQueueRepo{db: db}
}

const queueColumns = `id, owner, name, status, message_template, enable_variations, variations, created_at, updated_at`

func (r *PostgresQueueRepo) Add(ctx context.Context, q model.Queue) (*model.Queue, error) {
	variations, err := json.Marshal(q.Variations)
	if err != nil {
		return nil, err
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO queues (owner, name, status, message_template, enable_variations, variations)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+queueColumns+`
	`, q.Owner, q.Name, string(model.Created), q.MessageTemplate, q.EnableVariations, variations)

	return scanQueue(row)
}

func (r *PostgresQueueRepo) FetchByID(ctx context.Context, id int64) (*model.Queue, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE id = $1
	`, id)

	q, err := scanQueue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return q, err
}

func (r *PostgresQueueRepo) FetchByOwnerAndName(ctx context.Context, owner, name string) (*model.Queue, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE owner = $1 AND name = $2
	`, owner, name)

	q, err := scanQueue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return q, err
}

func (r *PostgresQueueRepo) ListByOwner(ctx context.Context, owner string) ([]model.Queue, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE owner = $1
		ORDER BY created_at ASC
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectQueues(rows)
}

func (r *PostgresQueueRepo) ListByStatus(ctx context.Context, status model.Status) ([]model.Queue, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+queueColumns+`
		FROM queues
		WHERE status = $1
		ORDER BY created_at ASC
	`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectQueues(rows)
}

func (r *PostgresQueueRepo) UpdateStatus(ctx context.Context, id int64, status model.Status) (*model.Queue, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM queues WHERE id = $1 FOR UPDATE
	`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if !model.CanTransition(model.Status(current), status) {
		return nil, ErrInvalidTransition
	}

	row := tx.QueryRowContext(ctx, `
		UPDATE queues
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+queueColumns+`
	`, id, string(status))

	q, err := scanQueue(row)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return q, nil
}

func (r *PostgresQueueRepo) Delete(ctx context.Context, owner, name string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM queues WHERE owner = $1 AND name = $2
	`, owner, name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueue(row rowScanner) (*model.Queue, error) {
	var q model.Queue
	var status string
	var variations []byte
	var createdAt, updatedAt time.Time

	if err := row.Scan(
		&q.ID,
		&q.Owner,
		&q.Name,
		&status,
		&q.MessageTemplate,
		&q.EnableVariations,
		&variations,
		&createdAt,
		&updatedAt,
	); err != nil {
		return nil, err
	}

	q.Status = model.Status(status)
	q.CreatedAt = createdAt
	q.UpdatedAt = updatedAt

	if len(variations) > 0 {
		if err := json.Unmarshal(variations, &q.Variations); err != nil {
			return nil, err
		}
	}
	return &q, nil
}

func collectQueues(rows *sql.Rows) ([]model.Queue, error) {
	var out []model.Queue
	for rows.Next() {
		q, err := scanQueue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}
