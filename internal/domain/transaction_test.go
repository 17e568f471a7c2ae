package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func accountPtr(id AccountID) *AccountID {
	return &id
}

func strPtr(s string) *string {
	return &s
}

func TestTransactionRecord_Validate(t *testing.T) {
	alice := NewAccountID("guild1", "alice")
	bob := NewAccountID("guild1", "bob")

	tests := []struct {
		name    string
		record  TransactionRecord
		wantErr bool
		errMsg  string
	}{
		{
			name: "Completed transfer should pass",
			record: TransactionRecord{
				ID:            uuid.New(),
				Type:          TransactionTypeTransfer,
				SourceID:      accountPtr(alice),
				DestinationID: accountPtr(bob),
				Amount:        decimal.NewFromInt(300),
				Status:        TransactionStatusCompleted,
				CreatedAt:     time.Now(),
			},
			wantErr: false,
		},
		{
			name: "Transfer without destination should fail",
			record: TransactionRecord{
				ID:       uuid.New(),
				Type:     TransactionTypeTransfer,
				SourceID: accountPtr(alice),
				Amount:   decimal.NewFromInt(1),
				Status:   TransactionStatusCompleted,
			},
			wantErr: true,
			errMsg:  "transfer must have both source and destination",
		},
		{
			name: "Transfer to the same account should fail",
			record: TransactionRecord{
				ID:            uuid.New(),
				Type:          TransactionTypeTransfer,
				SourceID:      accountPtr(alice),
				DestinationID: accountPtr(alice),
				Amount:        decimal.NewFromInt(1),
				Status:        TransactionStatusCompleted,
			},
			wantErr: true,
			errMsg:  "transfer source and destination must differ",
		},
		{
			name: "Zero amount should fail",
			record: TransactionRecord{
				ID:            uuid.New(),
				Type:          TransactionTypeInitialGrant,
				DestinationID: accountPtr(alice),
				Amount:        decimal.Zero,
				Status:        TransactionStatusCompleted,
			},
			wantErr: true,
			errMsg:  "transaction amount must be positive",
		},
		{
			name: "Initial grant with a source should fail",
			record: TransactionRecord{
				ID:            uuid.New(),
				Type:          TransactionTypeInitialGrant,
				SourceID:      accountPtr(bob),
				DestinationID: accountPtr(alice),
				Amount:        decimal.NewFromInt(1000),
				Status:        TransactionStatusCompleted,
			},
			wantErr: true,
			errMsg:  "initial_grant must have a destination and no source",
		},
		{
			name: "Admin debit without actor should fail",
			record: TransactionRecord{
				ID:       uuid.New(),
				Type:     TransactionTypeAdminDebit,
				SourceID: accountPtr(alice),
				Amount:   decimal.NewFromInt(5),
				Status:   TransactionStatusCompleted,
			},
			wantErr: true,
			errMsg:  "admin adjustment must record the acting admin",
		},
		{
			name: "Admin credit with actor should pass",
			record: TransactionRecord{
				ID:            uuid.New(),
				Type:          TransactionTypeAdminCredit,
				DestinationID: accountPtr(alice),
				Amount:        decimal.NewFromInt(1000),
				ActorID:       strPtr("admin-1"),
				Status:        TransactionStatusCompleted,
			},
			wantErr: false,
		},
		{
			name: "Unknown status should fail",
			record: TransactionRecord{
				ID:            uuid.New(),
				Type:          TransactionTypeTransfer,
				SourceID:      accountPtr(alice),
				DestinationID: accountPtr(bob),
				Amount:        decimal.NewFromInt(1),
				Status:        "pending",
			},
			wantErr: true,
			errMsg:  "transaction status must be completed or failed",
		},
		{
			name: "Unknown type should fail",
			record: TransactionRecord{
				ID:     uuid.New(),
				Type:   "refund",
				Amount: decimal.NewFromInt(1),
				Status: TransactionStatusCompleted,
			},
			wantErr: true,
			errMsg:  "unknown transaction type: refund",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.record.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, tt.errMsg, err.Error())
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransactionRecord_DeltaFor(t *testing.T) {
	alice := NewAccountID("guild1", "alice")
	bob := NewAccountID("guild1", "bob")
	carol := NewAccountID("guild1", "carol")

	transfer := &TransactionRecord{
		Type:          TransactionTypeTransfer,
		SourceID:      accountPtr(alice),
		DestinationID: accountPtr(bob),
		Amount:        decimal.NewFromInt(300),
		Status:        TransactionStatusCompleted,
	}

	assert.True(t, transfer.DeltaFor(alice).Equal(decimal.NewFromInt(-300)))
	assert.True(t, transfer.DeltaFor(bob).Equal(decimal.NewFromInt(300)))
	assert.True(t, transfer.DeltaFor(carol).IsZero())
	assert.True(t, transfer.DeltaFor(alice).Add(transfer.DeltaFor(bob)).IsZero(), "transfer must conserve funds")

	failed := *transfer
	failed.Status = TransactionStatusFailed
	assert.True(t, failed.DeltaFor(alice).IsZero(), "failed records never move funds")
}

func TestTransactionStats_Add(t *testing.T) {
	alice := NewAccountID("guild1", "alice")
	bob := NewAccountID("guild1", "bob")
	now := time.Now()

	stats := &TransactionStats{AccountID: alice}
	stats.Add(&TransactionRecord{
		Type:          TransactionTypeInitialGrant,
		DestinationID: accountPtr(alice),
		Amount:        decimal.NewFromInt(1000),
		Status:        TransactionStatusCompleted,
		CreatedAt:     now.Add(-time.Hour),
	})
	stats.Add(&TransactionRecord{
		Type:          TransactionTypeTransfer,
		SourceID:      accountPtr(alice),
		DestinationID: accountPtr(bob),
		Amount:        decimal.NewFromInt(300),
		Status:        TransactionStatusCompleted,
		CreatedAt:     now,
	})
	stats.Add(&TransactionRecord{
		Type:          TransactionTypeTransfer,
		SourceID:      accountPtr(alice),
		DestinationID: accountPtr(bob),
		Amount:        decimal.NewFromInt(50),
		Status:        TransactionStatusFailed,
		CreatedAt:     now,
	})

	assert.Equal(t, 2, stats.TotalCount)
	assert.Equal(t, 1, stats.SentCount)
	assert.Equal(t, 1, stats.ReceivedCount)
	assert.True(t, stats.TotalSent.Equal(decimal.NewFromInt(300)))
	assert.True(t, stats.TotalReceived.Equal(decimal.NewFromInt(1000)))
	assert.True(t, stats.NetAmount.Equal(decimal.NewFromInt(700)))
	assert.Equal(t, now.Add(-time.Hour), *stats.FirstTransaction)
	assert.Equal(t, now, *stats.LastTransaction)
}
