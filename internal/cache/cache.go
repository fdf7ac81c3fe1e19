package cache

import (
	"context"

	"github.com/LeventeLantos/bulk-messaging/internal/model"
)

// TotalsCache fronts the ledger's CountTotals query for the progress
// endpoint. A miss is (nil, nil).
type TotalsCache interface {
	GetTotals(ctx context.Context, queueID int64) (*model.Totals, error)
	StoreTotals(ctx context.Context, queueID int64, totals model.Totals) error
}
