// Package orderflow is a client for the order-flow WebSocket feed that
// streams footprint candles.
package orderflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/edgeprofiler/internal/domain"
)

const (
	// DefaultURL is the endpoint served by the order-flow bridge.
	DefaultURL = "ws://localhost:8000/ws/orderflow"

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 3 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// UpdateHandler is called for every orderflow_update message.
type UpdateHandler func(Update)

// StatusHandler is called with true after a connection is established and
// false when it drops.
type StatusHandler func(connected bool)

// WSClient maintains a connection to the order-flow feed and dispatches
// decoded updates to registered handlers.
type WSClient struct {
	wsURL         string
	defaultSymbol string

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	handlerMu      sync.RWMutex
	updateHandlers []UpdateHandler
	statusHandlers []StatusHandler

	received atomic.Int64
	dropped  atomic.Int64

	// backoff is the first reconnect delay. Tests shorten it.
	backoff time.Duration

	done chan struct{}
}

// NewWSClient creates a client for wsURL. Updates that carry no symbol are
// attributed to defaultSymbol.
func NewWSClient(wsURL, defaultSymbol string) *WSClient {
	if wsURL == "" {
		wsURL = DefaultURL
	}
	return &WSClient{
		wsURL:         wsURL,
		defaultSymbol: defaultSymbol,
		backoff:       reconnectDelay,
		done:          make(chan struct{}),
	}
}

// Connect dials the feed, subscribes to the default symbol when one is set,
// and starts the read and ping loops.
func (w *WSClient) Connect(ctx context.Context) error {
	if err := w.dial(ctx); err != nil {
		return err
	}
	w.notifyStatus(true)
	return nil
}

func (w *WSClient) dial(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("orderflow/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("orderflow/ws: connect: %w", err)
	}

	if w.defaultSymbol != "" {
		if err := writeCommand(conn, ClientCommand{Action: ActionSubscribe, Symbol: w.defaultSymbol}); err != nil {
			conn.Close()
			return err
		}
	}

	w.conn = conn
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop(conn)
	go w.pingLoop(conn)
	return nil
}

// Send writes a control command to the server. Connect already subscribes
// to the default symbol.
func (w *WSClient) Send(cmd ClientCommand) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("orderflow/ws: not connected")
	}
	return writeCommand(w.conn, cmd)
}

// writeCommand must be called with w.mu held or before conn is shared.
func writeCommand(conn *websocket.Conn, cmd ClientCommand) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("orderflow/ws: marshal command: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("orderflow/ws: send %s: %w", cmd.Action, err)
	}
	return nil
}

// Close shuts the connection down and stops reconnecting.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	return nil
}

// Done is closed once Close has been called.
func (w *WSClient) Done() <-chan struct{} {
	return w.done
}

// OnUpdate registers a handler for orderflow_update messages.
func (w *WSClient) OnUpdate(handler UpdateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.updateHandlers = append(w.updateHandlers, handler)
}

// OnStatus registers a handler for connection state changes.
func (w *WSClient) OnStatus(handler StatusHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.statusHandlers = append(w.statusHandlers, handler)
}

// Stats returns the number of messages received and the number dropped
// because they could not be decoded.
func (w *WSClient) Stats() (received, dropped int64) {
	return w.received.Load(), w.dropped.Load()
}

func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.notifyStatus(false)
			w.reconnect()
			return
		}
		w.handleMessage(message)
	}
}

func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.Lock()
			current := w.conn
			if current != conn {
				w.mu.Unlock()
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			w.mu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handleMessage routes a raw message by its type field. Unknown types are
// ignored; undecodable messages are counted as dropped.
func (w *WSClient) handleMessage(raw []byte) {
	w.received.Add(1)

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		w.dropped.Add(1)
		return
	}

	switch env.Type {
	case MsgOrderflowUpdate:
		var msg UpdateMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.dropped.Add(1)
			return
		}
		update := UpdateToDomain(&msg, w.defaultSymbol)

		w.handlerMu.RLock()
		handlers := w.updateHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(update)
		}
	}
}

func (w *WSClient) notifyStatus(connected bool) {
	w.handlerMu.RLock()
	handlers := w.statusHandlers
	w.handlerMu.RUnlock()

	for _, h := range handlers {
		h(connected)
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until it succeeds or the client is closed.
func (w *WSClient) reconnect() {
	delay := w.backoff

	for {
		select {
		case <-w.done:
			return
		case <-time.After(delay):
		}

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
