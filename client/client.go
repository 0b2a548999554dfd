// Package client provides a Go client for the Circulate wire gateway:
// live scheduler and circulation activity over WebSocket.
//
// Usage:
//
//	c, err := client.Dial("wss://library.example.com/wire",
//	    client.WithToken("monitor.s3cr3t"),
//	)
//	defer c.Close()
//
//	// Watch every borrow as it happens.
//	events, err := c.Watch(ctx, "loan.borrow")
//	for evt := range events {
//	    fmt.Printf("%s %s\n", evt.Type, evt.Data)
//	}
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/circulate/stream"
	"github.com/xraph/circulate/wire"
)

// Client is a wire client that communicates with a remote Circulate
// gateway.
type Client struct {
	url    string
	token  string
	format string
	logger *slog.Logger

	// Reconnection.
	reconnect  bool
	maxRetries int
	baseDelay  time.Duration

	// Connection state.
	conn      net.Conn
	codec     wire.Codec
	mu        sync.Mutex
	closed    atomic.Bool
	sessionID string

	// Request-response correlation.
	pending sync.Map // frameID → chan *wire.Frame

	// Subscriptions.
	subs sync.Map // topic → chan *stream.Event
}

// Dial connects to a wire gateway and authenticates.
func Dial(url string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), url, opts...)
}

// DialContext connects to a wire gateway with a context.
func DialContext(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c := &Client{
		url:        url,
		format:     wire.CodecNameJSON,
		logger:     slog.Default(),
		maxRetries: 5,
		baseDelay:  time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.codec = wire.GetCodec(c.format)

	if err := c.connect(ctx); err != nil {
		return nil, fmt.Errorf("circulate/client: dial: %w", err)
	}

	// Start the read loop.
	go c.readLoop()

	return c, nil
}

// connect establishes the WebSocket connection and sends the auth frame.
// It reads the auth response directly since the readLoop hasn't started yet.
func (c *Client) connect(ctx context.Context) error {
	conn, _, _, err := ws.Dial(ctx, c.url)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	// The auth frame always goes out as JSON; the negotiated codec
	// applies from the response onward.
	authFrame := &wire.Frame{
		ID:        wire.GenerateFrameID(),
		Type:      wire.FrameRequest,
		Method:    wire.MethodAuth,
		Token:     c.token,
		Timestamp: time.Now().UTC(),
	}
	authData, marshalErr := json.Marshal(wire.AuthRequest{
		Token:  c.token,
		Format: c.format,
	})
	if marshalErr != nil {
		_ = conn.Close()
		return fmt.Errorf("marshal auth request: %w", marshalErr)
	}
	authFrame.Data = authData

	rawAuth, marshalErr := json.Marshal(authFrame)
	if marshalErr != nil {
		_ = conn.Close()
		return fmt.Errorf("marshal auth frame: %w", marshalErr)
	}
	if writeErr := wsutil.WriteClientText(conn, rawAuth); writeErr != nil {
		_ = conn.Close()
		return fmt.Errorf("write auth frame: %w", writeErr)
	}

	// Read the auth response directly from the WebSocket.
	// We cannot use readLoop here because it hasn't been started yet
	// (DialContext starts it after connect returns).
	type readResult struct {
		resp *wire.Frame
		err  error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		data, _, readErr := wsutil.ReadServerData(conn)
		if readErr != nil {
			resultCh <- readResult{err: fmt.Errorf("read auth response: %w", readErr)}
			return
		}
		frame, decodeErr := c.codec.Decode(data)
		if decodeErr != nil {
			resultCh <- readResult{err: fmt.Errorf("decode auth response: %w", decodeErr)}
			return
		}
		resultCh <- readResult{resp: frame}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			_ = conn.Close()
			return result.err
		}
		resp := result.resp
		if resp.Type == wire.FrameErr {
			_ = conn.Close()
			msg := "unknown error"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return fmt.Errorf("auth failed: %s", msg)
		}
		// Extract session ID.
		var authResp wire.AuthResponse
		if len(resp.Data) > 0 {
			if unmarshalErr := json.Unmarshal(resp.Data, &authResp); unmarshalErr != nil {
				c.logger.Warn("failed to unmarshal auth response", slog.String("error", unmarshalErr.Error()))
			}
		}
		c.sessionID = authResp.SessionID
		c.logger.Info("wire client connected",
			slog.String("session_id", c.sessionID),
			slog.String("format", authResp.Format),
		)
		return nil
	case <-ctx.Done():
		_ = conn.Close()
		return ctx.Err()
	case <-time.After(10 * time.Second):
		_ = conn.Close()
		return fmt.Errorf("auth timeout")
	}
}

// readLoop reads frames from the WebSocket and dispatches them.
func (c *Client) readLoop() {
	for {
		if c.closed.Load() {
			return
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()

		data, _, err := wsutil.ReadServerData(conn)
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn("wire client read error", slog.String("error", err.Error()))
			if c.reconnect {
				c.tryReconnect()
			}
			return
		}

		frame, decodeErr := c.codec.Decode(data)
		if decodeErr != nil {
			c.logger.Warn("wire client: invalid frame", slog.String("error", decodeErr.Error()))
			continue
		}

		// Route the frame.
		switch frame.Type {
		case wire.FrameResponse, wire.FrameErr:
			// Correlate with pending request.
			if val, ok := c.pending.Load(frame.CorrelID); ok {
				ch := val.(chan *wire.Frame) //nolint:errcheck // pending map always stores chan *wire.Frame
				select {
				case ch <- frame:
				default:
				}
			}
		case wire.FrameEvent:
			var evt stream.Event
			if json.Unmarshal(frame.Data, &evt) != nil {
				continue
			}
			// An event published on "task:x" also belongs to the
			// aggregate topics; fan it out to every local
			// subscription it covers.
			for _, topic := range stream.ResolveTopics(&evt) {
				if val, ok := c.subs.Load(topic); ok {
					ch := val.(chan *stream.Event) //nolint:errcheck // subs map always stores chan *stream.Event
					select {
					case ch <- &evt:
					default:
						// Drop if subscriber is slow.
					}
				}
			}
		case wire.FramePong:
			// Ignore pong frames.
		}
	}
}

// tryReconnect attempts to reconnect with exponential backoff.
func (c *Client) tryReconnect() {
	delay := c.baseDelay
	for i := range c.maxRetries {
		c.logger.Info("wire client reconnecting",
			slog.Int("attempt", i+1),
			slog.Duration("delay", delay),
		)
		time.Sleep(delay)

		if err := c.connect(context.Background()); err != nil {
			c.logger.Warn("wire client reconnect failed", slog.String("error", err.Error()))
			delay = min(delay*2, 30*time.Second)
			continue
		}

		c.logger.Info("wire client reconnected")
		go c.readLoop()
		go c.resubscribe()
		return
	}
	c.logger.Error("wire client: max reconnection attempts reached")
}

// resubscribe re-establishes server-side subscriptions after a
// reconnect. The new session starts with no topics; local channels
// stay open across the gap.
func (c *Client) resubscribe() {
	c.subs.Range(func(key, _ any) bool {
		topic := key.(string) //nolint:errcheck // subs map keys are always topic strings
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := c.request(ctx, wire.MethodSubscribe, wire.SubscribeRequest{Topic: topic})
		cancel()
		if err != nil {
			c.logger.Warn("wire client resubscribe failed",
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
		}
		return true
	})
}

// request sends a request frame and waits for the correlated response.
func (c *Client) request(ctx context.Context, method string, data any) (*wire.Frame, error) {
	frame := &wire.Frame{
		ID:        wire.GenerateFrameID(),
		Type:      wire.FrameRequest,
		Method:    method,
		Timestamp: time.Now().UTC(),
	}

	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("marshal request data: %w", err)
		}
		frame.Data = raw
	}

	respCh := make(chan *wire.Frame, 1)
	c.pending.Store(frame.ID, respCh)
	defer c.pending.Delete(frame.ID)

	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	select {
	case resp := <-respCh:
		if resp.Type == wire.FrameErr {
			msg := "unknown error"
			if resp.Error != nil {
				msg = resp.Error.Message
			}
			return nil, fmt.Errorf("wire error: %s", msg)
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// writeFrame encodes and sends a frame over the WebSocket.
func (c *Client) writeFrame(frame *wire.Frame) error {
	data, err := c.codec.Encode(frame)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codec.Name() == wire.CodecNameMsgpack {
		return wsutil.WriteClientBinary(c.conn, data)
	}
	return wsutil.WriteClientText(c.conn, data)
}

// SessionID returns the session ID assigned by the gateway.
func (c *Client) SessionID() string { return c.sessionID }

// Close closes the client connection.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil // already closed
	}

	// Close all subscription channels.
	c.subs.Range(func(key, val any) bool {
		ch := val.(chan *stream.Event) //nolint:errcheck // subs map always stores chan *stream.Event
		close(ch)
		c.subs.Delete(key)
		return true
	})

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
