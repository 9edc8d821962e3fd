package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newMockLedger(t *testing.T) (*DeliveryLedger, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	ledger := NewDeliveryLedger(Wrap(sqlDB, zap.NewNop()), zap.NewNop())
	return ledger.(*DeliveryLedger), mock
}

var claimQuery = regexp.QuoteMeta("INSERT INTO processed_deliveries (delivery_key, action)")

func TestDeliveryLedger_Claim(t *testing.T) {
	tests := []struct {
		name      string
		rows      int64
		execErr   error
		wantClaim bool
		wantErr   bool
	}{
		{name: "first delivery", rows: 1, wantClaim: true},
		{name: "redelivery", rows: 0, wantClaim: false},
		{name: "database error", execErr: errors.New("connection reset"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ledger, mock := newMockLedger(t)

			exp := mock.ExpectExec(claimQuery).WithArgs("id:evt-1", "LOGIN")
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, tt.rows))
			}

			claimed, err := ledger.Claim(context.Background(), "id:evt-1", "LOGIN")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantClaim, claimed)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestDeliveryLedger_Release(t *testing.T) {
	ledger, mock := newMockLedger(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM processed_deliveries WHERE delivery_key = $1")).
		WithArgs("id:evt-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, ledger.Release(context.Background(), "id:evt-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeliveryLedger_Purge(t *testing.T) {
	ledger, mock := newMockLedger(t)
	cutoff := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM processed_deliveries WHERE claimed_at < $1")).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := ledger.Purge(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_HealthCheck(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))

	db := Wrap(sqlDB, zap.NewNop())
	require.NoError(t, db.HealthCheck(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDB_InitSchema(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS processed_deliveries").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, Wrap(sqlDB, zap.NewNop()).InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
