package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
	"github.com/alanyoungcy/edgeprofiler/internal/platform/orderflow"
)

// ChannelOrderflow is the bus channel other processes publish raw
// orderflow_update payloads on.
const ChannelOrderflow = "ch:orderflow"

// BusFeed reads orderflow_update payloads from the signal bus instead of a
// WebSocket, so several engines can share one upstream connection.
type BusFeed struct {
	bus           domain.SignalBus
	channel       string
	defaultSymbol string
	onUpdate      UpdateHandler
	logger        *slog.Logger
}

// NewBusFeed creates a BusFeed. An empty channel means ChannelOrderflow.
func NewBusFeed(bus domain.SignalBus, channel, defaultSymbol string, onUpdate UpdateHandler, logger *slog.Logger) *BusFeed {
	if channel == "" {
		channel = ChannelOrderflow
	}
	return &BusFeed{
		bus:           bus,
		channel:       channel,
		defaultSymbol: defaultSymbol,
		onUpdate:      onUpdate,
		logger:        logger.With(slog.String("component", "bus_feed")),
	}
}

// Run subscribes to the channel and handles messages until ctx is cancelled.
func (f *BusFeed) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, f.channel)
	if err != nil {
		return fmt.Errorf("feed: subscribe %s: %w", f.channel, err)
	}
	f.logger.Info("bus feed started", slog.String("channel", f.channel))
	defer f.logger.Info("bus feed stopped")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			if err := f.handleMessage(ctx, data); err != nil {
				f.logger.Debug("bus feed handle message failed",
					slog.String("error", err.Error()),
					slog.Int("payload_len", len(data)),
				)
			}
		}
	}
}

func (f *BusFeed) handleMessage(ctx context.Context, data []byte) error {
	var msg orderflow.UpdateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return err
	}
	if msg.Type != "" && msg.Type != orderflow.MsgOrderflowUpdate {
		return nil
	}
	if f.onUpdate == nil {
		return nil
	}
	return f.onUpdate(ctx, orderflow.UpdateToDomain(&msg, f.defaultSymbol))
}
