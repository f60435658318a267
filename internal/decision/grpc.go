package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	serviceName  = "decision.v1.DecisionService"
	decideMethod = "/" + serviceName + "/Decide"
)

// GRPCClient calls a remote decision worker with Struct payloads, so no
// generated stubs are needed on either side.
type GRPCClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
}

func NewGRPCClient(addr string, timeout time.Duration, opts ...grpc.DialOption) (*GRPCClient, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GRPCClient{conn: conn, timeout: timeout}, nil
}

func (g *GRPCClient) Close() error {
	if g.conn == nil {
		return nil
	}
	return g.conn.Close()
}

func (g *GRPCClient) Decide(ctx context.Context, s Snapshot) (Verdict, error) {
	req, err := snapshotStruct(s)
	if err != nil {
		return WaitVerdict("decision error"), err
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, decideMethod, req, resp); err != nil {
		return WaitVerdict("decision error"), fmt.Errorf("invoke %s: %w", decideMethod, err)
	}
	return verdictFromMap(resp.AsMap()), nil
}

func snapshotStruct(s Snapshot) (*structpb.Struct, error) {
	data, err := sonic.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := sonic.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

// Server is the worker side of the decision service.
type Server interface {
	Decide(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterServer exposes srv on s under the decision service name.
func RegisterServer(s *grpc.Server, srv Server) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*Server)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Decide",
			Handler:    decideHandler,
		}},
		Streams: []grpc.StreamDesc{},
	}, srv)
}

func decideHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).Decide(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: decideMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).Decide(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
