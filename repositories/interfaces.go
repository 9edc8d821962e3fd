package repositories

import (
	"context"
	"time"
)

// DeliveryLedger records which webhook deliveries have been processed so a
// redelivery is recognised and skipped
type DeliveryLedger interface {
	// Claim records key as being processed. It returns false when the key
	// was already claimed by an earlier delivery.
	Claim(ctx context.Context, key, action string) (bool, error)

	// Release forgets a claim so a failed delivery can be processed again
	Release(ctx context.Context, key string) error

	// Purge removes claims older than the cutoff and returns how many were removed
	Purge(ctx context.Context, before time.Time) (int64, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Ledger DeliveryLedger
}
