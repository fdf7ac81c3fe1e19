package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/LeventeLantos/bulk-messaging/internal/model"
)

type PostgresRecipientRepo struct {
	db *sql.DB
}

func NewPostgresRecipientRepo(db *sql.DB) *PostgresRecipientRepo {
	return &PostgresRecipientRepo{db: db}
}

const recipientColumns = `id, queue_id, name, phone_number, processed, delivered, responses, created_at, updated_at`

func (r *PostgresRecipientRepo) AddMany(ctx context.Context, recipients []model.Recipient) error {
	if len(recipients) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO recipients (queue_id, name, phone_number)
		VALUES ($1, $2, $3)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range recipients {
		if rec.PhoneNumber == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, rec.QueueID, rec.Name, rec.PhoneNumber); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *PostgresRecipientRepo) FetchPending(ctx context.Context, queueID int64, limit int) ([]model.Recipient, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recipientColumns+`
		FROM recipients
		WHERE queue_id = $1 AND processed = false
		ORDER BY id ASC
		LIMIT $2
	`, queueID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRecipients(rows)
}

func (r *PostgresRecipientRepo) ListByQueue(ctx context.Context, queueID int64) ([]model.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recipientColumns+`
		FROM recipients
		WHERE queue_id = $1
		ORDER BY id ASC
	`, queueID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRecipients(rows)
}

func (r *PostgresRecipientRepo) Update(ctx context.Context, id int64, upd model.RecipientUpdate) (*model.Recipient, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE recipients
		SET processed = COALESCE($2, processed),
		    delivered = COALESCE($3, delivered),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+recipientColumns+`
	`, id, upd.Processed, upd.Delivered)

	rec, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (r *PostgresRecipientRepo) AppendResponse(ctx context.Context, queueID int64, phoneNumber, response string) (*model.Recipient, error) {
	// Multiple rows may share a phone number within a queue; the reply is
	// attached to the earliest one, matching the ledger's fetch order.
	row := r.db.QueryRowContext(ctx, `
		UPDATE recipients
		SET responses = responses || to_jsonb($3::text),
		    updated_at = now()
		WHERE id = (
			SELECT id FROM recipients
			WHERE queue_id = $1 AND phone_number = $2
			ORDER BY id ASC
			LIMIT 1
		)
		RETURNING `+recipientColumns+`
	`, queueID, phoneNumber, response)

	rec, err := scanRecipient(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (r *PostgresRecipientRepo) CountTotals(ctx context.Context, queueID int64) (model.Totals, error) {
	var t model.Totals
	err := r.db.QueryRowContext(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE processed),
		       count(*) FILTER (WHERE jsonb_array_length(responses) > 0)
		FROM recipients
		WHERE queue_id = $1
	`, queueID).Scan(&t.Total, &t.Processed, &t.ResponsesReceived)
	return t, err
}

func (r *PostgresRecipientRepo) DeleteByQueue(ctx context.Context, queueID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM recipients WHERE queue_id = $1
	`, queueID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRecipient(row rowScanner) (*model.Recipient, error) {
	var rec model.Recipient
	var responses []byte

	if err := row.Scan(
		&rec.ID,
		&rec.QueueID,
		&rec.Name,
		&rec.PhoneNumber,
		&rec.Processed,
		&rec.Delivered,
		&responses,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if len(responses) > 0 {
		if err := json.Unmarshal(responses, &rec.Responses); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

func collectRecipients(rows *sql.Rows) ([]model.Recipient, error) {
	var out []model.Recipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}
