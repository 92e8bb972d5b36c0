package relay

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"
	"google.golang.org/grpc"

	"github.com/AlexandrePrevot/OrderParserProcessor/internal/rpc"
)

// PriceSource opens the market-data stream.
type PriceSource interface {
	StreamPrices(ctx context.Context, in *rpc.Empty, opts ...grpc.CallOption) (rpc.PriceStream, error)
}

// MarketFeed publishes every item of the price stream as a price_update.
// It does not reconnect: when the stream ends or fails, Serve returns
// suture.ErrDoNotRestart.
type MarketFeed struct {
	source PriceSource
	pub    Publisher
	logger zerolog.Logger
}

// NewMarketFeed creates a MarketFeed.
func NewMarketFeed(source PriceSource, pub Publisher, logger zerolog.Logger) *MarketFeed {
	return &MarketFeed{
		source: source,
		pub:    pub,
		logger: logger.With().Str("component", "market-feed").Logger(),
	}
}

// Serve implements suture.Service.
func (f *MarketFeed) Serve(ctx context.Context) error {
	stream, err := f.source.StreamPrices(ctx, &rpc.Empty{})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Error().Err(err).Msg("opening price stream failed")
		return suture.ErrDoNotRestart
	}
	f.logger.Info().Msg("price stream opened")

	for {
		u, err := stream.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				f.logger.Info().Msg("price stream ended")
			} else {
				f.logger.Error().Err(err).Msg("price stream failed")
			}
			return suture.ErrDoNotRestart
		}
		f.pub.Publish(NewPriceUpdate(u.Price, u.Quantity))
	}
}

func (f *MarketFeed) String() string { return "market-feed" }
