package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const scriptAlertMethod = "/internal.ScriptToApi/ScriptAlert"

// ScriptToApiServer receives alerts from running scripts.
type ScriptToApiServer interface {
	ScriptAlert(context.Context, *ScriptAlertNotif) (*Empty, error)
}

// RegisterScriptToApiServer registers srv on s.
func RegisterScriptToApiServer(s grpc.ServiceRegistrar, srv ScriptToApiServer) {
	s.RegisterService(&ScriptToApiServiceDesc, srv)
}

func scriptAlertHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ScriptAlertNotif)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ScriptToApiServer).ScriptAlert(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: scriptAlertMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ScriptToApiServer).ScriptAlert(ctx, req.(*ScriptAlertNotif))
	}
	return interceptor(ctx, in, info, handler)
}

// ScriptToApiServiceDesc describes internal.ScriptToApi.
var ScriptToApiServiceDesc = grpc.ServiceDesc{
	ServiceName: "internal.ScriptToApi",
	HandlerType: (*ScriptToApiServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ScriptAlert", Handler: scriptAlertHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "services/script_to_api.proto",
}

// ScriptToApiClient pushes alerts. Scripts are the usual callers; the Go
// client exists for tooling and tests.
type ScriptToApiClient struct {
	cc grpc.ClientConnInterface
}

// NewScriptToApiClient wraps a connection.
func NewScriptToApiClient(cc grpc.ClientConnInterface) *ScriptToApiClient {
	return &ScriptToApiClient{cc: cc}
}

// ScriptAlert sends one alert.
func (c *ScriptToApiClient) ScriptAlert(ctx context.Context, in *ScriptAlertNotif, opts ...grpc.CallOption) (*Empty, error) {
	out := new(Empty)
	if err := c.cc.Invoke(ctx, scriptAlertMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
