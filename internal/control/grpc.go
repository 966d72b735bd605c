package control

import (
	"context"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"go.klb.dev/echolink/internal/ipc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "echolink.v1.Control"

const (
	methodStatus = "/" + ServiceName + "/Status"
	methodSay    = "/" + ServiceName + "/Say"
	methodReset  = "/" + ServiceName + "/Reset"
)

// ControlServer is the server API for the Control service.
type ControlServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Say(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Reset(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
}

// Register adds srv to a gRPC server.
func Register(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: statusHandler},
		{MethodName: "Say", Handler: sayHandler},
		{MethodName: "Reset", Handler: resetHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "echolink/v1/control.proto",
}

func statusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodStatus}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).Status(ctx, req.(*emptypb.Empty))
	})
}

func sayHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Say(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodSay}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).Say(ctx, req.(*structpb.Struct))
	})
}

func resetHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServer).Reset(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodReset}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ControlServer).Reset(ctx, req.(*emptypb.Empty))
	})
}

// Client calls a Control service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) Status(ctx context.Context) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodStatus, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Say submits text and returns the monitor's verdict and, when emitted,
// the event id.
func (c *Client) Say(ctx context.Context, text string) (verdict, id string, err error) {
	in, err := structpb.NewStruct(map[string]any{"text": text})
	if err != nil {
		return "", "", err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, methodSay, in, out); err != nil {
		return "", "", err
	}
	f := out.GetFields()
	return f["verdict"].GetStringValue(), f["id"].GetStringValue(), nil
}

func (c *Client) Reset(ctx context.Context) error {
	return c.cc.Invoke(ctx, methodReset, &emptypb.Empty{}, &emptypb.Empty{})
}

// DialIPC connects to the daemon's local socket. No auth is needed; the
// socket is owner-restricted by the OS.
func DialIPC(path string) (*grpc.ClientConn, error) {
	return grpc.NewClient("passthrough:///echolink",
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return ipc.Dial(ctx, path)
		}),
	)
}

// DialTCP connects to a daemon's TCP control address. creds may be nil for
// a plaintext listener; token is sent as a bearer token when set.
func DialTCP(addr, token string, creds credentials.TransportCredentials) (*grpc.ClientConn, error) {
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(&tokenCreds{
			token:  token,
			secure: creds.Info().SecurityProtocol != "insecure",
		}))
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

type tokenCreds struct {
	token  string
	secure bool
}

func (c *tokenCreds) GetRequestMetadata(_ context.Context, _ ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + c.token}, nil
}

func (c *tokenCreds) RequireTransportSecurity() bool { return c.secure }
