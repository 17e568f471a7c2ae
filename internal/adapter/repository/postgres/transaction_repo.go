package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/simaogato/guildbank-backend/internal/domain"
)

const transactionColumns = `id, type, source_id, destination_id, amount, reason, actor_id, guild_id, status, created_at`

// transactionRepository implements domain.AuditReader.
// Reads run outside any transaction so they never take row locks.
type transactionRepository struct {
	db *DB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *DB) domain.AuditReader {
	return &transactionRepository{db: db}
}

// List retrieves records matching the filter, most recent first
func (r *transactionRepository) List(ctx context.Context, filter domain.HistoryFilter) ([]*domain.TransactionRecord, error) {
	var (
		conditions []string
		args       []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if filter.AccountID != nil {
		p := arg(string(*filter.AccountID))
		conditions = append(conditions, "(source_id = "+p+" OR destination_id = "+p+")")
	}
	if filter.GuildID != "" {
		conditions = append(conditions, "guild_id = "+arg(filter.GuildID))
	}
	if filter.ActorID != "" {
		conditions = append(conditions, "actor_id = "+arg(filter.ActorID))
	}
	if !filter.From.IsZero() {
		conditions = append(conditions, "created_at >= "+arg(filter.From))
	}
	if !filter.To.IsZero() {
		conditions = append(conditions, "created_at <= "+arg(filter.To))
	}

	var query strings.Builder
	query.WriteString("SELECT " + transactionColumns + " FROM transactions")
	if len(conditions) > 0 {
		query.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	query.WriteString(" ORDER BY created_at DESC, id DESC")
	if filter.Limit > 0 {
		query.WriteString(" LIMIT " + arg(filter.Limit))
	}
	if filter.Offset > 0 {
		query.WriteString(" OFFSET " + arg(filter.Offset))
	}

	rows, err := r.db.QueryContext(ctx, query.String(), args...)
	if err != nil {
		return nil, classify("list transactions", err)
	}
	defer rows.Close()

	records := make([]*domain.TransactionRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list transactions", err)
	}

	return records, nil
}

// GetByID retrieves a record by its ID
func (r *transactionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.TransactionRecord, error) {
	query := "SELECT " + transactionColumns + " FROM transactions WHERE id = $1"

	record, err := scanRecord(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	return record, nil
}

// Stats aggregates the completed records of an account
func (r *transactionRepository) Stats(ctx context.Context, id domain.AccountID) (*domain.TransactionStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE source_id = $1),
			COUNT(*) FILTER (WHERE destination_id = $1),
			COALESCE(SUM(amount) FILTER (WHERE source_id = $1), 0),
			COALESCE(SUM(amount) FILTER (WHERE destination_id = $1), 0),
			MIN(created_at),
			MAX(created_at)
		FROM transactions
		WHERE status = 'completed' AND (source_id = $1 OR destination_id = $1)
	`

	stats := &domain.TransactionStats{AccountID: id}
	var sentStr, receivedStr string
	var first, last sql.NullTime

	err := r.db.QueryRowContext(ctx, query, string(id)).Scan(
		&stats.TotalCount,
		&stats.SentCount,
		&stats.ReceivedCount,
		&sentStr,
		&receivedStr,
		&first,
		&last,
	)
	if err != nil {
		return nil, classify("aggregate transactions", err)
	}

	if stats.TotalSent, err = decimal.NewFromString(sentStr); err != nil {
		return nil, fmt.Errorf("failed to parse sent total: %w", err)
	}
	if stats.TotalReceived, err = decimal.NewFromString(receivedStr); err != nil {
		return nil, fmt.Errorf("failed to parse received total: %w", err)
	}
	stats.NetAmount = stats.TotalReceived.Sub(stats.TotalSent)
	if first.Valid {
		stats.FirstTransaction = &first.Time
	}
	if last.Valid {
		stats.LastTransaction = &last.Time
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*domain.TransactionRecord, error) {
	var (
		record                    domain.TransactionRecord
		txType, status, amountStr string
		sourceID, destinationID   sql.NullString
		actorID                   sql.NullString
	)

	err := row.Scan(
		&record.ID,
		&txType,
		&sourceID,
		&destinationID,
		&amountStr,
		&record.Reason,
		&actorID,
		&record.GuildID,
		&status,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, classify("scan transaction", err)
	}

	record.Type = domain.TransactionType(txType)
	record.Status = domain.TransactionStatus(status)

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	record.Amount = amount

	if sourceID.Valid {
		id := domain.AccountID(sourceID.String)
		record.SourceID = &id
	}
	if destinationID.Valid {
		id := domain.AccountID(destinationID.String)
		record.DestinationID = &id
	}
	if actorID.Valid {
		actor := actorID.String
		record.ActorID = &actor
	}

	return &record, nil
}
