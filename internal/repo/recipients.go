package repo

import (
	"context"

	"github.com/LeventeLantos/bulk-messaging/internal/model"
)

type RecipientRepository interface {
	// AddMany inserts recipients in bulk; rows that fail validation are
	// skipped rather than aborting the batch.
	AddMany(ctx context.Context, recipients []model.Recipient) error

	// FetchPending returns up to limit unprocessed recipients for the
	// queue in stable insertion order.
	FetchPending(ctx context.Context, queueID int64, limit int) ([]model.Recipient, error)

	ListByQueue(ctx context.Context, queueID int64) ([]model.Recipient, error)

	// Update applies a partial update and returns the updated row, or
	// ErrNotFound if the recipient does not exist.
	Update(ctx context.Context, id int64, upd model.RecipientUpdate) (*model.Recipient, error)

	// AppendResponse appends an inbound reply to the recipient matched by
	// (queueID, phoneNumber). ErrNotFound if no row matches.
	AppendResponse(ctx context.Context, queueID int64, phoneNumber, response string) (*model.Recipient, error)

	CountTotals(ctx context.Context, queueID int64) (model.Totals, error)

	DeleteByQueue(ctx context.Context, queueID int64) (int64, error)
}
