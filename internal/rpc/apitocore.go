package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const scriptSubmitMethod = "/internal.ApiToCore/ScriptSubmit"

// ApiToCoreServer is implemented by the core translator.
type ApiToCoreServer interface {
	ScriptSubmit(context.Context, *ScriptSubmitRequest) (*ScriptSubmitReply, error)
}

// RegisterApiToCoreServer registers srv on s.
func RegisterApiToCoreServer(s grpc.ServiceRegistrar, srv ApiToCoreServer) {
	s.RegisterService(&ApiToCoreServiceDesc, srv)
}

func scriptSubmitHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ScriptSubmitRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ApiToCoreServer).ScriptSubmit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: scriptSubmitMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ApiToCoreServer).ScriptSubmit(ctx, req.(*ScriptSubmitRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ApiToCoreServiceDesc describes internal.ApiToCore.
var ApiToCoreServiceDesc = grpc.ServiceDesc{
	ServiceName: "internal.ApiToCore",
	HandlerType: (*ApiToCoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ScriptSubmit", Handler: scriptSubmitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "services/api_to_core.proto",
}

// ApiToCoreClient submits scripts to the core.
type ApiToCoreClient struct {
	cc grpc.ClientConnInterface
}

// NewApiToCoreClient wraps a connection.
func NewApiToCoreClient(cc grpc.ClientConnInterface) *ApiToCoreClient {
	return &ApiToCoreClient{cc: cc}
}

// ScriptSubmit forwards one script.
func (c *ApiToCoreClient) ScriptSubmit(ctx context.Context, in *ScriptSubmitRequest, opts ...grpc.CallOption) (*ScriptSubmitReply, error) {
	out := new(ScriptSubmitReply)
	if err := c.cc.Invoke(ctx, scriptSubmitMethod, in, out, callOptions(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}
