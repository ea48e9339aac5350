// Package sheets defines the outbound ports of the spreadsheet mirror and
// the row layout shared by its adapters.
package sheets

import (
	"context"

	"bollette/internal/core"
)

// Ports for outbound adapters.
type (
	// BalanceWriter inserts or replaces the row of one bill, keyed by bill ID.
	BalanceWriter interface {
		UpsertBalance(ctx context.Context, b core.Bill, bal core.Balance) (rowRef string, err error)
	}

	// BalanceDeleter removes the row of one bill. Unknown IDs are not an error.
	BalanceDeleter interface {
		DeleteBalance(ctx context.Context, id string) error
	}

	// Mirror is the full set of operations the sync worker needs.
	Mirror interface {
		BalanceWriter
		BalanceDeleter
	}
)
