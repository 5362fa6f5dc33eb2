package engine

import (
	"context"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/xela07ax/constraint-ledger/internal/domain"
)

const grpcServiceName = "constraints.v1.ConstraintService"

// ConstraintService - то, что gRPC-слой ожидает от фасада (store.AggregateConstraintStore).
type ConstraintService interface {
	Claim(ctx context.Context, id string, d time.Duration) domain.Status[domain.Unit]
	Validate(ctx context.Context, id string) domain.Status[domain.Unit]
	Release(ctx context.Context, id string) domain.Status[domain.Unit]
	Get(ctx context.Context, id string) (domain.Constraint, error)
}

type ClaimRequest struct {
	ID       string `json:"id"`
	Duration string `json:"duration"` // формат time.ParseDuration: "10s", "1m30s"
}

type CommandRequest struct {
	ID string `json:"id"`
}

type CommandReply struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
}

type ConstraintReply struct {
	ID           string       `json:"id"`
	Phase        domain.Phase `json:"phase"`
	ClaimedUntil *time.Time   `json:"claimed_until,omitempty"`
	Validated    bool         `json:"validated"`
	Version      int64        `json:"version"`
}

// ConstraintServiceServer - серверная сторона gRPC-сервиса.
type ConstraintServiceServer interface {
	Claim(context.Context, *ClaimRequest) (*CommandReply, error)
	Validate(context.Context, *CommandRequest) (*CommandReply, error)
	Release(context.Context, *CommandRequest) (*CommandReply, error)
	Get(context.Context, *CommandRequest) (*ConstraintReply, error)
}

// GRPCServer - тот же пайплайн, что и HTTP, поверх gRPC.
type GRPCServer struct {
	svc ConstraintService
}

var _ ConstraintServiceServer = (*GRPCServer)(nil)

func NewGRPCServer(svc ConstraintService) *GRPCServer {
	return &GRPCServer{svc: svc}
}

// Register вешает сервис на grpc.Server.
func (s *GRPCServer) Register(srv grpc.ServiceRegistrar) {
	srv.RegisterService(&constraintServiceDesc, s)
}

func (s *GRPCServer) Claim(ctx context.Context, req *ClaimRequest) (*CommandReply, error) {
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "bad duration %q: %v", req.Duration, err)
	}
	return reply(req.ID, s.svc.Claim(ctx, req.ID, d))
}

func (s *GRPCServer) Validate(ctx context.Context, req *CommandRequest) (*CommandReply, error) {
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	return reply(req.ID, s.svc.Validate(ctx, req.ID))
}

func (s *GRPCServer) Release(ctx context.Context, req *CommandRequest) (*CommandReply, error) {
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	return reply(req.ID, s.svc.Release(ctx, req.ID))
}

func (s *GRPCServer) Get(ctx context.Context, req *CommandRequest) (*ConstraintReply, error) {
	if err := requireID(req.ID); err != nil {
		return nil, err
	}
	c, err := s.svc.Get(ctx, req.ID)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &ConstraintReply{
		ID:           req.ID,
		Phase:        c.Phase(),
		ClaimedUntil: c.ClaimedUntil,
		Validated:    c.Validated,
		Version:      c.Version,
	}, nil
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return status.Error(codes.InvalidArgument, "constraint id is required")
	}
	return nil
}

// reply переводит Status в ответ или gRPC-статус.
func reply(id string, st domain.Status[domain.Unit]) (*CommandReply, error) {
	switch {
	case st.IsSuccess():
		return &CommandReply{ID: id, Accepted: true}, nil
	case st.IsBadRequest():
		return nil, status.Error(codes.FailedPrecondition, st.Message())
	default:
		return nil, status.Error(codes.Internal, st.Message())
	}
}

func unaryHandler[Req any](method string, call func(ConstraintServiceServer, context.Context, *Req) (any, error)) grpc.MethodHandler {
	fullMethod := "/" + grpcServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ConstraintServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ConstraintServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Описание сервиса вручную: сообщения ходят через jsonCodec, сгенерированных стабов нет.
var constraintServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*ConstraintServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Claim",
			Handler: unaryHandler("Claim", func(s ConstraintServiceServer, ctx context.Context, r *ClaimRequest) (any, error) {
				return s.Claim(ctx, r)
			}),
		},
		{
			MethodName: "Validate",
			Handler: unaryHandler("Validate", func(s ConstraintServiceServer, ctx context.Context, r *CommandRequest) (any, error) {
				return s.Validate(ctx, r)
			}),
		},
		{
			MethodName: "Release",
			Handler: unaryHandler("Release", func(s ConstraintServiceServer, ctx context.Context, r *CommandRequest) (any, error) {
				return s.Release(ctx, r)
			}),
		},
		{
			MethodName: "Get",
			Handler: unaryHandler("Get", func(s ConstraintServiceServer, ctx context.Context, r *CommandRequest) (any, error) {
				return s.Get(ctx, r)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "constraints/v1/constraint_service.proto",
}

// GRPCClient - клиент к ConstraintService с JSON-кодеком.
type GRPCClient struct {
	cc grpc.ClientConnInterface
}

func NewGRPCClient(cc grpc.ClientConnInterface) *GRPCClient {
	return &GRPCClient{cc: cc}
}

func (c *GRPCClient) Claim(ctx context.Context, req *ClaimRequest, opts ...grpc.CallOption) (*CommandReply, error) {
	out := new(CommandReply)
	return out, c.invoke(ctx, "Claim", req, out, opts)
}

func (c *GRPCClient) Validate(ctx context.Context, req *CommandRequest, opts ...grpc.CallOption) (*CommandReply, error) {
	out := new(CommandReply)
	return out, c.invoke(ctx, "Validate", req, out, opts)
}

func (c *GRPCClient) Release(ctx context.Context, req *CommandRequest, opts ...grpc.CallOption) (*CommandReply, error) {
	out := new(CommandReply)
	return out, c.invoke(ctx, "Release", req, out, opts)
}

func (c *GRPCClient) Get(ctx context.Context, req *CommandRequest, opts ...grpc.CallOption) (*ConstraintReply, error) {
	out := new(ConstraintReply)
	return out, c.invoke(ctx, "Get", req, out, opts)
}

func (c *GRPCClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+grpcServiceName+"/"+method, in, out, opts...)
}
