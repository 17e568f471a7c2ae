package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified name clients dial
const ServiceName = "guildbank.v1.GuildBankService"

// GuildBankServer is the RPC surface the command-routing layer calls.
// Requests and responses are protobuf Structs keyed by snake_case field names.
type GuildBankServer interface {
	Transfer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	AdjustBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	History(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	AuditLog(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ByActor(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Range(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetTransaction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Stats(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(GuildBankServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// ServiceDesc describes GuildBankService for grpc.Server registration
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GuildBankServer)(nil),
	Methods: []grpc.MethodDesc{
		methodDesc("Transfer", GuildBankServer.Transfer),
		methodDesc("AdjustBalance", GuildBankServer.AdjustBalance),
		methodDesc("GetBalance", GuildBankServer.GetBalance),
		methodDesc("History", GuildBankServer.History),
		methodDesc("AuditLog", GuildBankServer.AuditLog),
		methodDesc("ByActor", GuildBankServer.ByActor),
		methodDesc("Range", GuildBankServer.Range),
		methodDesc("GetTransaction", GuildBankServer.GetTransaction),
		methodDesc("Stats", GuildBankServer.Stats),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "guildbank/v1/guildbank.proto",
}

// RegisterGuildBankServer registers srv on the gRPC server
func RegisterGuildBankServer(s grpc.ServiceRegistrar, srv GuildBankServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func methodDesc(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(GuildBankServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod,
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(GuildBankServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Client calls GuildBankService over an established connection
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a new Client instance
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes one method by name, e.g. "Transfer"
func (c *Client) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
