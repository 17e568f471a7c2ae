package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/simaogato/guildbank-backend/internal/adapter/cache"
	"github.com/simaogato/guildbank-backend/internal/adapter/repository/memory"
	"github.com/simaogato/guildbank-backend/internal/domain"
	"github.com/simaogato/guildbank-backend/internal/usecase/balance"
	"github.com/simaogato/guildbank-backend/internal/usecase/history"
	"github.com/simaogato/guildbank-backend/internal/usecase/transfer"
	"github.com/simaogato/guildbank-backend/internal/usecase/validation"
)

const testToken = "test-token-123"

func newTestClient(t *testing.T) *Client {
	t.Helper()

	store := memory.NewStore()
	balanceCache, err := cache.NewMemoryCache(100)
	require.NoError(t, err)
	engine := transfer.NewEngine(store, balanceCache, validation.NewGuard(validation.DefaultConfig()), transfer.DefaultConfig(), nil)
	balanceService := balance.NewBalanceService(store, balanceCache, engine, time.Minute, nil)
	historyService := history.NewHistoryService(store)

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(AuthInterceptor(testToken)))
	RegisterGuildBankServer(srv, NewServer(engine, balanceService, historyService))
	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return NewClient(conn)
}

func authContext() context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", testToken)
}

func call(t *testing.T, client *Client, method string, fields map[string]interface{}) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(fields)
	require.NoError(t, err)
	return client.Call(authContext(), method, req)
}

func field(resp *structpb.Struct, name string) string {
	return resp.GetFields()[name].GetStringValue()
}

func listField(resp *structpb.Struct) []*structpb.Value {
	return resp.GetFields()["records"].GetListValue().GetValues()
}

func TestServer_TransferAndBalance(t *testing.T) {
	client := newTestClient(t)

	resp, err := call(t, client, "Transfer", map[string]interface{}{
		"source_id":      "guild1:alice",
		"destination_id": "guild1:bob",
		"amount":         "300",
		"memo":           "rent",
	})
	require.NoError(t, err)
	assert.Equal(t, "transfer", field(resp, "type"))
	assert.Equal(t, "300.00", field(resp, "amount"))
	assert.Equal(t, "guild1:alice", field(resp, "source_id"))
	assert.Equal(t, "guild1:bob", field(resp, "destination_id"))
	assert.Equal(t, "completed", field(resp, "status"))
	_, err = uuid.Parse(field(resp, "transaction_id"))
	assert.NoError(t, err)

	alice, err := call(t, client, "GetBalance", map[string]interface{}{"account_id": "guild1:alice"})
	require.NoError(t, err)
	assert.Equal(t, "700.00", field(alice, "balance"))

	bob, err := call(t, client, "GetBalance", map[string]interface{}{"account_id": "guild1:bob"})
	require.NoError(t, err)
	assert.Equal(t, "1300.00", field(bob, "balance"))
}

func TestServer_TransferErrors(t *testing.T) {
	client := newTestClient(t)

	tests := []struct {
		name         string
		fields       map[string]interface{}
		expectedCode codes.Code
		expectedMsg  string
	}{
		{
			name:         "Insufficient Funds",
			fields:       map[string]interface{}{"source_id": "guild1:alice", "destination_id": "guild1:bob", "amount": "5000"},
			expectedCode: codes.FailedPrecondition,
			expectedMsg:  "insufficient funds",
		},
		{
			name:         "Self Transfer",
			fields:       map[string]interface{}{"source_id": "guild1:alice", "destination_id": "guild1:alice", "amount": "5"},
			expectedCode: codes.InvalidArgument,
			expectedMsg:  "destination",
		},
		{
			name:         "Amount As Number",
			fields:       map[string]interface{}{"source_id": "guild1:alice", "destination_id": "guild1:bob", "amount": 5},
			expectedCode: codes.InvalidArgument,
			expectedMsg:  "must be a decimal string",
		},
		{
			name:         "Malformed Amount",
			fields:       map[string]interface{}{"source_id": "guild1:alice", "destination_id": "guild1:bob", "amount": "five"},
			expectedCode: codes.InvalidArgument,
			expectedMsg:  "invalid amount format",
		},
		{
			name:         "Missing Amount",
			fields:       map[string]interface{}{"source_id": "guild1:alice", "destination_id": "guild1:bob"},
			expectedCode: codes.InvalidArgument,
			expectedMsg:  "amount is required",
		},
		{
			name:         "Cross Guild",
			fields:       map[string]interface{}{"source_id": "guild1:alice", "destination_id": "guild2:bob", "amount": "5"},
			expectedCode: codes.InvalidArgument,
			expectedMsg:  "destination",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, client, "Transfer", tt.fields)

			st, ok := status.FromError(err)
			require.True(t, ok, "error should be a gRPC status")
			assert.Equal(t, tt.expectedCode, st.Code())
			assert.Contains(t, st.Message(), tt.expectedMsg)
		})
	}
}

func TestServer_RequiresToken(t *testing.T) {
	client := newTestClient(t)

	req, err := structpb.NewStruct(map[string]interface{}{"account_id": "guild1:alice"})
	require.NoError(t, err)

	_, err = client.Call(context.Background(), "GetBalance", req)

	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestServer_AdminAndAuditQueries(t *testing.T) {
	client := newTestClient(t)

	adjusted, err := call(t, client, "AdjustBalance", map[string]interface{}{
		"account_id": "guild1:alice",
		"amount":     "1000",
		"reason":     "correction",
		"actor_id":   "admin-7",
	})
	require.NoError(t, err)
	assert.Equal(t, "admin_credit", field(adjusted, "type"))
	assert.Equal(t, "admin-7", field(adjusted, "actor_id"))

	for i := 0; i < 3; i++ {
		_, err := call(t, client, "Transfer", map[string]interface{}{
			"source_id":      "guild1:alice",
			"destination_id": "guild1:bob",
			"amount":         fmt.Sprintf("%d.25", i+1),
		})
		require.NoError(t, err)
	}

	balanceResp, err := call(t, client, "GetBalance", map[string]interface{}{"account_id": "guild1:alice"})
	require.NoError(t, err)
	assert.Equal(t, "1993.25", field(balanceResp, "balance"))

	byActor, err := call(t, client, "ByActor", map[string]interface{}{"actor_id": "admin-7"})
	require.NoError(t, err)
	require.Len(t, listField(byActor), 1)
	assert.Equal(t, field(adjusted, "transaction_id"), listField(byActor)[0].GetStructValue().GetFields()["transaction_id"].GetStringValue())

	hist, err := call(t, client, "History", map[string]interface{}{"account_id": "guild1:alice", "limit": 2})
	require.NoError(t, err)
	records := listField(hist)
	require.Len(t, records, 2)
	assert.Equal(t, "3.25", records[0].GetStructValue().GetFields()["amount"].GetStringValue())

	audit, err := call(t, client, "AuditLog", map[string]interface{}{"guild_id": "guild1"})
	require.NoError(t, err)
	// two initial grants, one credit, three transfers
	assert.Len(t, listField(audit), 6)

	other, err := call(t, client, "AuditLog", map[string]interface{}{"guild_id": "guild2"})
	require.NoError(t, err)
	assert.Empty(t, listField(other))

	now := time.Now().UTC()
	window, err := call(t, client, "Range", map[string]interface{}{
		"account_id": "guild1:bob",
		"from":       now.Add(-time.Hour).Format(time.RFC3339Nano),
		"to":         now.Add(time.Hour).Format(time.RFC3339Nano),
	})
	require.NoError(t, err)
	assert.Len(t, listField(window), 4)

	stats, err := call(t, client, "Stats", map[string]interface{}{"account_id": "guild1:alice"})
	require.NoError(t, err)
	assert.Equal(t, float64(5), stats.GetFields()["total_count"].GetNumberValue())
	assert.Equal(t, float64(3), stats.GetFields()["sent_count"].GetNumberValue())
	assert.Equal(t, "6.75", field(stats, "total_sent"))
	assert.Equal(t, "2000.00", field(stats, "total_received"))
	assert.Equal(t, "1993.25", field(stats, "net_amount"))

	got, err := call(t, client, "GetTransaction", map[string]interface{}{"transaction_id": field(adjusted, "transaction_id")})
	require.NoError(t, err)
	assert.Equal(t, "correction", field(got, "reason"))
}

func TestServer_QueryErrors(t *testing.T) {
	client := newTestClient(t)

	_, err := call(t, client, "GetTransaction", map[string]interface{}{"transaction_id": uuid.NewString()})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = call(t, client, "GetTransaction", map[string]interface{}{"transaction_id": "not-a-uuid"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = call(t, client, "History", map[string]interface{}{"account_id": "guild1:alice", "limit": 2.5})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = call(t, client, "Range", map[string]interface{}{"from": "yesterday"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = call(t, client, "ByActor", map[string]interface{}{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = call(t, client, "AdjustBalance", map[string]interface{}{"account_id": "guild1:alice", "amount": "10", "actor_id": "admin-1"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err), "reason is required")
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		expectedCode codes.Code
	}{
		{name: "Validation", err: domain.NewInvalidAmountError("amount must be positive"), expectedCode: codes.InvalidArgument},
		{name: "Insufficient Funds", err: &domain.InsufficientFundsError{}, expectedCode: codes.FailedPrecondition},
		{name: "Aborted", err: &domain.TransactionAbortedError{Attempts: 3, Cause: domain.Transient(errors.New("deadlock"))}, expectedCode: codes.Aborted},
		{name: "Store Unavailable", err: &domain.StoreUnavailableError{Op: "begin", Cause: errors.New("refused")}, expectedCode: codes.Unavailable},
		{name: "Transaction Not Found", err: domain.ErrTransactionNotFound, expectedCode: codes.NotFound},
		{name: "Deadline", err: fmt.Errorf("failed to lock account: %w", context.DeadlineExceeded), expectedCode: codes.DeadlineExceeded},
		{name: "Unknown", err: errors.New("boom"), expectedCode: codes.Internal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expectedCode, status.Code(mapError(tt.err)))
		})
	}

	assert.NoError(t, mapError(nil))
}
