package grpc

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/simaogato/guildbank-backend/internal/domain"
	"github.com/simaogato/guildbank-backend/internal/usecase/balance"
	"github.com/simaogato/guildbank-backend/internal/usecase/history"
	"github.com/simaogato/guildbank-backend/internal/usecase/transfer"
)

// Server implements the GuildBankService gRPC server
type Server struct {
	Engine         *transfer.Engine
	BalanceService *balance.BalanceService
	HistoryService *history.HistoryService
}

// NewServer creates a new gRPC server instance
func NewServer(
	engine *transfer.Engine,
	balanceService *balance.BalanceService,
	historyService *history.HistoryService,
) *Server {
	return &Server{
		Engine:         engine,
		BalanceService: balanceService,
		HistoryService: historyService,
	}
}

// Transfer handles the Transfer RPC
func (s *Server) Transfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	amount, err := amountField(req, "amount")
	if err != nil {
		return nil, err
	}

	record, err := s.Engine.ExecuteTransfer(ctx,
		accountField(req, "source_id"),
		accountField(req, "destination_id"),
		amount,
		stringField(req, "memo"),
	)
	if err != nil {
		return nil, mapError(err)
	}

	return recordToStruct(record), nil
}

// AdjustBalance handles the AdjustBalance RPC. The caller has already authorized actor_id.
func (s *Server) AdjustBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	amount, err := amountField(req, "amount")
	if err != nil {
		return nil, err
	}

	record, err := s.Engine.AdjustBalance(ctx,
		accountField(req, "account_id"),
		amount,
		stringField(req, "reason"),
		stringField(req, "actor_id"),
	)
	if err != nil {
		return nil, mapError(err)
	}

	return recordToStruct(record), nil
}

// GetBalance handles the GetBalance RPC
func (s *Server) GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id := accountField(req, "account_id")

	amount, err := s.BalanceService.GetBalance(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"account_id": structpb.NewStringValue(id.String()),
		"balance":    structpb.NewStringValue(amount.StringFixed(2)),
	}}, nil
}

// History handles the History RPC
func (s *Server) History(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit, err := intField(req, "limit")
	if err != nil {
		return nil, err
	}
	offset, err := intField(req, "offset")
	if err != nil {
		return nil, err
	}

	records, err := s.HistoryService.QueryHistory(ctx, accountField(req, "account_id"), limit, offset)
	if err != nil {
		return nil, mapError(err)
	}

	return recordsToStruct(records), nil
}

// AuditLog handles the AuditLog RPC. An empty guild_id reviews every guild.
func (s *Server) AuditLog(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit, err := intField(req, "limit")
	if err != nil {
		return nil, err
	}

	records, err := s.HistoryService.QueryAll(ctx, stringField(req, "guild_id"), limit)
	if err != nil {
		return nil, mapError(err)
	}

	return recordsToStruct(records), nil
}

// ByActor handles the ByActor RPC
func (s *Server) ByActor(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	limit, err := intField(req, "limit")
	if err != nil {
		return nil, err
	}

	records, err := s.HistoryService.QueryByActor(ctx, stringField(req, "actor_id"), limit)
	if err != nil {
		return nil, mapError(err)
	}

	return recordsToStruct(records), nil
}

// Range handles the Range RPC. from and to are RFC 3339 timestamps; account_id is optional.
func (s *Server) Range(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	from, err := timeField(req, "from")
	if err != nil {
		return nil, err
	}
	to, err := timeField(req, "to")
	if err != nil {
		return nil, err
	}
	limit, err := intField(req, "limit")
	if err != nil {
		return nil, err
	}

	var account *domain.AccountID
	if id := accountField(req, "account_id"); id != "" {
		account = &id
	}

	records, err := s.HistoryService.QueryRange(ctx, account, from, to, limit)
	if err != nil {
		return nil, mapError(err)
	}

	return recordsToStruct(records), nil
}

// GetTransaction handles the GetTransaction RPC
func (s *Server) GetTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	id, err := uuid.Parse(stringField(req, "transaction_id"))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid transaction_id format: %v", err)
	}

	record, err := s.HistoryService.GetTransaction(ctx, id)
	if err != nil {
		return nil, mapError(err)
	}

	return recordToStruct(record), nil
}

// Stats handles the Stats RPC
func (s *Server) Stats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	stats, err := s.HistoryService.Stats(ctx, accountField(req, "account_id"))
	if err != nil {
		return nil, mapError(err)
	}

	fields := map[string]*structpb.Value{
		"account_id":     structpb.NewStringValue(stats.AccountID.String()),
		"total_count":    structpb.NewNumberValue(float64(stats.TotalCount)),
		"sent_count":     structpb.NewNumberValue(float64(stats.SentCount)),
		"received_count": structpb.NewNumberValue(float64(stats.ReceivedCount)),
		"total_sent":     structpb.NewStringValue(stats.TotalSent.StringFixed(2)),
		"total_received": structpb.NewStringValue(stats.TotalReceived.StringFixed(2)),
		"net_amount":     structpb.NewStringValue(stats.NetAmount.StringFixed(2)),
	}
	if stats.FirstTransaction != nil {
		fields["first_transaction"] = structpb.NewStringValue(stats.FirstTransaction.Format(time.RFC3339Nano))
	}
	if stats.LastTransaction != nil {
		fields["last_transaction"] = structpb.NewStringValue(stats.LastTransaction.Format(time.RFC3339Nano))
	}

	return &structpb.Struct{Fields: fields}, nil
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func accountField(req *structpb.Struct, name string) domain.AccountID {
	return domain.AccountID(stringField(req, name))
}

// amountField reads a decimal string. Numbers are refused: a float64 cannot carry money exactly.
func amountField(req *structpb.Struct, name string) (decimal.Decimal, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	raw, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "%s must be a decimal string", name)
	}

	amount, err := decimal.NewFromString(raw.StringValue)
	if err != nil {
		return decimal.Zero, status.Errorf(codes.InvalidArgument, "invalid %s format: %v", name, err)
	}
	return amount, nil
}

func intField(req *structpb.Struct, name string) (int, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != math.Trunc(n.NumberValue) || math.Abs(n.NumberValue) > math.MaxInt32 {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
	}
	return int(n.NumberValue), nil
}

func timeField(req *structpb.Struct, name string) (time.Time, error) {
	raw := stringField(req, name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, status.Errorf(codes.InvalidArgument, "invalid %s format: %v", name, err)
	}
	return t, nil
}

func recordToStruct(r *domain.TransactionRecord) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"transaction_id": structpb.NewStringValue(r.ID.String()),
		"type":           structpb.NewStringValue(string(r.Type)),
		"amount":         structpb.NewStringValue(r.Amount.StringFixed(2)),
		"reason":         structpb.NewStringValue(r.Reason),
		"guild_id":       structpb.NewStringValue(r.GuildID),
		"status":         structpb.NewStringValue(string(r.Status)),
		"created_at":     structpb.NewStringValue(r.CreatedAt.Format(time.RFC3339Nano)),
	}
	if r.SourceID != nil {
		fields["source_id"] = structpb.NewStringValue(r.SourceID.String())
	}
	if r.DestinationID != nil {
		fields["destination_id"] = structpb.NewStringValue(r.DestinationID.String())
	}
	if r.ActorID != nil {
		fields["actor_id"] = structpb.NewStringValue(*r.ActorID)
	}
	return &structpb.Struct{Fields: fields}
}

func recordsToStruct(records []*domain.TransactionRecord) *structpb.Struct {
	values := make([]*structpb.Value, 0, len(records))
	for _, r := range records {
		values = append(values, structpb.NewStructValue(recordToStruct(r)))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"records": structpb.NewListValue(&structpb.ListValue{Values: values}),
		"count":   structpb.NewNumberValue(float64(len(records))),
	}}
}

// mapError converts domain errors to gRPC status errors
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var validationErr *domain.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return status.Errorf(codes.InvalidArgument, "%s", err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		return status.Errorf(codes.FailedPrecondition, "%s", err.Error())
	case errors.Is(err, domain.ErrTransactionAborted):
		return status.Error(codes.Aborted, "transaction could not complete due to contention, please try again")
	case errors.Is(err, domain.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, "ledger temporarily unavailable")
	case errors.Is(err, domain.ErrAccountNotFound), errors.Is(err, domain.ErrTransactionNotFound):
		return status.Errorf(codes.NotFound, "%s", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "request deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	}

	// Default to Internal error for unknown errors
	return status.Error(codes.Internal, "internal error")
}

var _ GuildBankServer = (*Server)(nil)
