package repo

import (
	"context"
	"errors"

	"github.com/LeventeLantos/bulk-messaging/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("repo: not found")

// ErrInvalidTransition is returned when a status update would violate the
// queue state machine.
var ErrInvalidTransition = errors.New("repo: invalid status transition")

type QueueRepository interface {
	Add(ctx context.Context, q model.Queue) (*model.Queue, error)
	FetchByID(ctx context.Context, id int64) (*model.Queue, error)
	FetchByOwnerAndName(ctx context.Context, owner, name string) (*model.Queue, error)
	ListByOwner(ctx context.Context, owner string) ([]model.Queue, error)
	ListByStatus(ctx context.Context, status model.Status) ([]model.Queue, error)
	UpdateStatus(ctx context.Context, id int64, status model.Status) (*model.Queue, error)
	Delete(ctx context.Context, owner, name string) (bool, error)
}
