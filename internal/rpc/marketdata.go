package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const streamPricesMethod = "/internal.MarketDataService/StreamPrices"

// MarketDataServiceServer streams prices to subscribers.
type MarketDataServiceServer interface {
	StreamPrices(*Empty, PriceStreamServer) error
}

// PriceStreamServer is the server side of StreamPrices.
type PriceStreamServer interface {
	Send(*PriceUpdate) error
	grpc.ServerStream
}

type priceStreamServer struct {
	grpc.ServerStream
}

func (x *priceStreamServer) Send(m *PriceUpdate) error {
	return x.ServerStream.SendMsg(m)
}

// RegisterMarketDataServiceServer registers srv on s.
func RegisterMarketDataServiceServer(s grpc.ServiceRegistrar, srv MarketDataServiceServer) {
	s.RegisterService(&MarketDataServiceDesc, srv)
}

func streamPricesHandler(srv any, stream grpc.ServerStream) error {
	m := new(Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(MarketDataServiceServer).StreamPrices(m, &priceStreamServer{stream})
}

// MarketDataServiceDesc describes internal.MarketDataService.
var MarketDataServiceDesc = grpc.ServiceDesc{
	ServiceName: "internal.MarketDataService",
	HandlerType: (*MarketDataServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamPrices",
			Handler:       streamPricesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "services/marketdata.proto",
}

// PriceStream is the client side of StreamPrices.
type PriceStream interface {
	Recv() (*PriceUpdate, error)
	grpc.ClientStream
}

type priceStreamClient struct {
	grpc.ClientStream
}

func (x *priceStreamClient) Recv() (*PriceUpdate, error) {
	m := new(PriceUpdate)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// MarketDataClient subscribes to the market-data feed.
type MarketDataClient struct {
	cc grpc.ClientConnInterface
}

// NewMarketDataClient wraps a connection.
func NewMarketDataClient(cc grpc.ClientConnInterface) *MarketDataClient {
	return &MarketDataClient{cc: cc}
}

// StreamPrices opens the price stream. Cancelling ctx ends it.
func (c *MarketDataClient) StreamPrices(ctx context.Context, in *Empty, opts ...grpc.CallOption) (PriceStream, error) {
	stream, err := c.cc.NewStream(ctx, &MarketDataServiceDesc.Streams[0], streamPricesMethod, callOptions(opts)...)
	if err != nil {
		return nil, err
	}
	x := &priceStreamClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}
