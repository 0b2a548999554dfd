package wire

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/circulate/stream"
)

// authTimeout bounds how long a fresh connection may take to present
// its auth frame.
const authTimeout = 10 * time.Second

// Gateway upgrades HTTP requests to WebSocket connections and streams
// broker events to authenticated subscribers. It implements
// http.Handler; mount it wherever the serving mux wants it:
//
//	mux.Handle("/wire", wire.NewGateway(broker, wire.WithAuth(auth)))
type Gateway struct {
	broker       *stream.Broker
	auth         Authenticator
	defaultCodec Codec
	conns        *ConnectionManager
	logger       *slog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithAuth sets the authenticator for the gateway.
// If not set, NoopAuthenticator is used (development mode).
func WithAuth(auth Authenticator) Option {
	return func(g *Gateway) { g.auth = auth }
}

// WithCodec sets the default codec for the gateway.
// Clients can override via the auth frame's format field.
func WithCodec(codec Codec) Option {
	return func(g *Gateway) { g.defaultCodec = codec }
}

// WithLogger sets the logger for the gateway.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// NewGateway creates a new wire gateway over the given broker.
func NewGateway(broker *stream.Broker, opts ...Option) *Gateway {
	g := &Gateway{
		broker:       broker,
		defaultCodec: &JSONCodec{},
		conns:        NewConnectionManager(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.auth == nil {
		g.auth = &NoopAuthenticator{}
	}
	return g
}

// Broker returns the underlying stream broker.
func (g *Gateway) Broker() *stream.Broker { return g.broker }

// Connections returns the connection manager.
func (g *Gateway) Connections() *ConnectionManager { return g.conns }

// ServeHTTP upgrades the request and runs the frame loop until the
// peer disconnects.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		g.logger.Warn("wire upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close() //nolint:errcheck // nothing to do with a close error here

	if serveErr := g.serve(r, conn); serveErr != nil {
		g.logger.Warn("wire connection ended", slog.String("error", serveErr.Error()))
	}
}

// serve authenticates the connection and processes frames until the
// peer goes away.
func (g *Gateway) serve(r *http.Request, conn net.Conn) error {
	// Wait for the auth frame. Auth frames are always JSON (before
	// codec negotiation).
	if err := conn.SetReadDeadline(time.Now().Add(authTimeout)); err != nil {
		return fmt.Errorf("wire: set auth deadline: %w", err)
	}
	authData, _, readErr := wsutil.ReadClientData(conn)
	if readErr != nil {
		return fmt.Errorf("wire: read auth frame: %w", readErr)
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return fmt.Errorf("wire: clear auth deadline: %w", err)
	}

	var authFrame Frame
	if err := json.Unmarshal(authData, &authFrame); err != nil {
		//nolint:errcheck // best-effort error response before disconnect
		writeJSONFrame(conn, NewErrorFrame("", ErrCodeBadRequest, "invalid auth frame"))
		return fmt.Errorf("wire: unmarshal auth frame: %w", err)
	}

	if authFrame.Method != MethodAuth {
		//nolint:errcheck // best-effort error response before disconnect
		writeJSONFrame(conn, NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "first frame must be auth"))
		return fmt.Errorf("wire: expected auth frame, got %q", authFrame.Method)
	}

	// Parse auth request.
	var authReq AuthRequest
	if len(authFrame.Data) > 0 {
		if err := json.Unmarshal(authFrame.Data, &authReq); err != nil {
			//nolint:errcheck // best-effort error response before disconnect
			writeJSONFrame(conn, NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "invalid auth data"))
			return err
		}
	}

	// Authenticate.
	token := authReq.Token
	if token == "" {
		token = authFrame.Token
	}
	identity, authErr := g.auth.Authenticate(r.Context(), token)
	if authErr != nil {
		//nolint:errcheck // best-effort error response before disconnect
		writeJSONFrame(conn, NewErrorFrame(authFrame.ID, ErrCodeUnauthorized, "authentication failed"))
		return fmt.Errorf("wire: auth failed: %w", authErr)
	}

	// Negotiate codec.
	codec := g.defaultCodec
	if authReq.Format != "" {
		codec = GetCodec(authReq.Format)
	}

	connID := "ws-" + generateFrameID()
	wc := NewConnection(connID, identity, codec)
	g.conns.Add(wc)
	defer func() {
		g.broker.RemoveSubscriber(connID)
		g.conns.Remove(connID)
		g.logger.Info("wire disconnected", slog.String("conn_id", connID))
	}()

	// The serve loop and the event forwarder both write; serialize them.
	writer := &connWriter{conn: conn, codec: codec}

	// Send auth response.
	resp, respErr := NewResponseFrame(authFrame.ID, AuthResponse{
		Format:    codec.Name(),
		SessionID: connID,
	})
	if respErr != nil {
		return fmt.Errorf("wire: marshal auth response: %w", respErr)
	}
	if err := writer.write(resp); err != nil {
		return err
	}

	g.logger.Info("wire authenticated",
		slog.String("conn_id", connID),
		slog.String("subject", identity.Subject),
		slog.String("codec", codec.Name()),
	)

	// Create a subscriber for this connection and forward broker
	// events to the WebSocket.
	sub := g.broker.Subscribe(connID)
	go g.forwardEvents(writer, sub)

	// Frame processing loop.
	for {
		data, _, err := wsutil.ReadClientData(conn)
		if err != nil {
			return nil // Connection closed.
		}

		wc.Touch()

		frame, decErr := codec.Decode(data)
		if decErr != nil {
			errFrame := NewErrorFrame("", ErrCodeBadRequest, "invalid frame: "+decErr.Error())
			if writeErr := writer.write(errFrame); writeErr != nil {
				g.logger.Warn("failed to write error frame", slog.String("error", writeErr.Error()))
			}
			continue
		}

		// Handle ping/pong.
		if frame.Type == FramePing {
			pong := &Frame{
				ID:        generateFrameID(),
				Type:      FramePong,
				CorrelID:  frame.ID,
				Timestamp: frame.Timestamp,
			}
			if writeErr := writer.write(pong); writeErr != nil {
				g.logger.Warn("failed to write pong frame", slog.String("error", writeErr.Error()))
			}
			continue
		}

		// Check authorization for the method.
		if frame.Method != "" {
			reqScope := RequiredScope(frame.Method)
			if reqScope != "" && !identity.HasScope(reqScope) {
				errFrame := NewErrorFrame(frame.ID, ErrCodeForbidden, "insufficient permissions")
				if writeErr := writer.write(errFrame); writeErr != nil {
					g.logger.Warn("failed to write forbidden frame", slog.String("error", writeErr.Error()))
				}
				continue
			}
		}

		// Handle credits replenishment.
		if frame.Credits > 0 && frame.Method == "" {
			sub.AddCredits(int64(frame.Credits))
			continue
		}

		respFrame := g.handleMethod(frame, wc, sub)
		if respFrame != nil {
			if writeErr := writer.write(respFrame); writeErr != nil {
				g.logger.Warn("failed to write response frame", slog.String("error", writeErr.Error()))
			}
		}
	}
}

// handleMethod dispatches a request frame to its operation.
func (g *Gateway) handleMethod(frame *Frame, wc *Connection, sub *stream.Subscriber) *Frame {
	switch frame.Method {
	case MethodSubscribe:
		var req SubscribeRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
		}
		if err := stream.ValidateTopic(req.Topic); err != nil {
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
		}
		g.broker.SubscribeTo(wc.ID, req.Topic)
		wc.AddTopic(req.Topic)
		if req.Credits > 0 {
			sub.AddCredits(int64(req.Credits))
		}
		return mustResponseFrame(frame.ID, map[string]string{
			"topic":  req.Topic,
			"status": "subscribed",
		})

	case MethodUnsubscribe:
		var req UnsubscribeRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
		}
		g.broker.Unsubscribe(wc.ID, req.Topic)
		wc.RemoveTopic(req.Topic)
		return mustResponseFrame(frame.ID, map[string]string{
			"topic":  req.Topic,
			"status": "unsubscribed",
		})

	case MethodStats:
		return mustResponseFrame(frame.ID, StatsResponse{
			Broker:      g.broker.Stats(),
			Connections: g.conns.Count(),
		})

	case MethodAuth:
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "already authenticated")

	default:
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "unknown method: "+frame.Method)
	}
}

// forwardEvents reads from the subscriber channel and writes events
// to the WebSocket connection.
func (g *Gateway) forwardEvents(writer *connWriter, sub *stream.Subscriber) {
	for evt := range sub.C() {
		evtFrame, err := NewEventFrame(evt.Topic, evt)
		if err != nil {
			continue
		}
		if writeErr := writer.write(evtFrame); writeErr != nil {
			return // Connection gone.
		}
	}
}

// mustResponseFrame creates a response frame, returning an error frame
// on marshal failure.
func mustResponseFrame(frameID string, data any) *Frame {
	resp, err := NewResponseFrame(frameID, data)
	if err != nil {
		return NewErrorFrame(frameID, ErrCodeInternal, "marshal response: "+err.Error())
	}
	return resp
}

// connWriter serializes frame writes from the serve loop and the
// event forwarder. JSON frames go out as text, everything else as
// binary.
type connWriter struct {
	mu    sync.Mutex
	conn  net.Conn
	codec Codec
}

func (w *connWriter) write(frame *Frame) error {
	data, err := w.codec.Encode(frame)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.codec.Name() == CodecNameMsgpack {
		return wsutil.WriteServerBinary(w.conn, data)
	}
	return wsutil.WriteServerText(w.conn, data)
}

// writeJSONFrame writes a frame as JSON text before codec negotiation.
func writeJSONFrame(conn net.Conn, frame *Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return wsutil.WriteServerText(conn, data)
}
