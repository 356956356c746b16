// Package feed connects order-flow sources to the profile engine.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/edgeprofiler/internal/platform/orderflow"
)

// UpdateHandler is called for each window received from a feed.
type UpdateHandler func(ctx context.Context, update orderflow.Update) error

// OrderflowFeed connects to the order-flow WebSocket and invokes the handler
// for every update. The underlying client reconnects on its own once the
// first connection succeeds; Run retries only the initial dial.
type OrderflowFeed struct {
	wsURL         string
	defaultSymbol string
	onUpdate      UpdateHandler
	logger        *slog.Logger
	closeOnce     sync.Once
	done          chan struct{}
}

// NewOrderflowFeed creates a feed for wsURL.
func NewOrderflowFeed(wsURL, defaultSymbol string, onUpdate UpdateHandler, logger *slog.Logger) *OrderflowFeed {
	return &OrderflowFeed{
		wsURL:         wsURL,
		defaultSymbol: defaultSymbol,
		onUpdate:      onUpdate,
		logger:        logger.With(slog.String("component", "orderflow_feed")),
		done:          make(chan struct{}),
	}
}

// Run connects and blocks until ctx is cancelled or Close is called.
func (f *OrderflowFeed) Run(ctx context.Context) error {
	client := orderflow.NewWSClient(f.wsURL, f.defaultSymbol)
	defer func() {
		_ = client.Close()
		received, dropped := client.Stats()
		f.logger.Info("orderflow feed stopped",
			slog.Int64("received", received),
			slog.Int64("dropped", dropped),
		)
	}()

	client.OnUpdate(func(u orderflow.Update) {
		if f.onUpdate == nil {
			return
		}
		if err := f.onUpdate(ctx, u); err != nil {
			f.logger.Warn("handle update failed",
				slog.String("symbol", u.Symbol),
				slog.String("error", err.Error()),
			)
		}
	})
	client.OnStatus(func(connected bool) {
		if connected {
			f.logger.Info("orderflow ws connected", slog.String("url", f.wsURL))
		} else {
			f.logger.Warn("orderflow ws disconnected, reconnecting")
		}
	})

	if err := f.connect(ctx, client); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	}
}

// connect dials until the first connection succeeds, backing off between
// attempts.
func (f *OrderflowFeed) connect(ctx context.Context, client *orderflow.WSClient) error {
	delay := 3 * time.Second
	for {
		dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := client.Connect(dialCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("orderflow ws dial failed, retrying",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return fmt.Errorf("feed: closed before connecting")
		case <-time.After(delay):
		}
		delay *= 2
		if delay > time.Minute {
			delay = time.Minute
		}
	}
}

// Close stops the feed.
func (f *OrderflowFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
