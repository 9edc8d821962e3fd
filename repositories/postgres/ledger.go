package postgres

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/upb/activity-sync/repositories"
)

// DeliveryLedger implements repositories.DeliveryLedger on the
// processed_deliveries table
type DeliveryLedger struct {
	db     *DB
	logger *zap.Logger
}

// NewDeliveryLedger creates a new delivery ledger
func NewDeliveryLedger(db *DB, logger *zap.Logger) repositories.DeliveryLedger {
	return &DeliveryLedger{
		db:     db,
		logger: logger,
	}
}

// Claim inserts the key, relying on the primary key to reject a second claim
func (l *DeliveryLedger) Claim(ctx context.Context, key, action string) (bool, error) {
	query := `
		INSERT INTO processed_deliveries (delivery_key, action)
		VALUES ($1, $2)
		ON CONFLICT (delivery_key) DO NOTHING
	`

	result, err := l.db.ExecContext(ctx, query, key, action)
	if err != nil {
		return false, fmt.Errorf("failed to claim delivery: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		l.logger.Debug("delivery already claimed", zap.String("key", key))
		return false, nil
	}
	return true, nil
}

// Release removes a claim
func (l *DeliveryLedger) Release(ctx context.Context, key string) error {
	query := `DELETE FROM processed_deliveries WHERE delivery_key = $1`

	if _, err := l.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to release delivery: %w", err)
	}

	l.logger.Debug("delivery released", zap.String("key", key))
	return nil
}

// Purge removes claims made before the cutoff
func (l *DeliveryLedger) Purge(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM processed_deliveries WHERE claimed_at < $1`

	result, err := l.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge deliveries: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	l.logger.Info("purged processed deliveries", zap.Int64("count", rows), zap.Time("before", before))
	return rows, nil
}
