// Package websocket provides the WebSocket transport adapter.
//
// Clients connect at /v1/ws and exchange JSON frames:
//
//	inbound:  {"id": "...", "type": "evaluate"|"ping", "payload": {...}}
//	outbound: {"id": "...", "ok": true, "result": {...}}
//	          {"id": "...", "ok": false, "error": {"code": "...", "message": "..."}}
//
// An evaluate payload is a ToolRequest; the result is the Decision with
// exactly the same bytes the stdio and HTTP transports produce. The server
// pings every 30 seconds and drops connections that stop answering.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/superego-ai/superego/internal/ctxkey"
	"github.com/superego-ai/superego/internal/domain/audit"
	"github.com/superego-ai/superego/internal/domain/decision"
	"github.com/superego-ai/superego/internal/domain/request"
	"github.com/superego-ai/superego/internal/port/inbound"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// pingInterval is how often the server pings idle connections.
	pingInterval = 30 * time.Second

	// pongWait is how long a connection may go without answering a ping.
	pongWait = 2 * pingInterval

	// maxFrameSize caps inbound frames (1 MB, same as the HTTP body cap).
	maxFrameSize = 1 << 20
)

// Frame type identifiers accepted from clients.
const (
	FrameEvaluate = "evaluate"
	FramePing     = "ping"
)

// frame is one inbound client message.
type frame struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// response is one outbound server message.
type response struct {
	ID     string          `json:"id"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *frameError     `json:"error,omitempty"`
}

type frameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler upgrades HTTP requests to WebSocket connections and serves
// evaluate frames over them. Mount it on an HTTP listener at /v1/ws.
type Handler struct {
	evaluator inbound.Evaluator
	logger    *slog.Logger
	upgrader  websocket.Upgrader

	mu     sync.Mutex
	conns  map[*websocket.Conn]struct{}
	closed bool
}

// NewHandler creates a WebSocket handler serving the given evaluator.
func NewHandler(evaluator inbound.Evaluator, logger *slog.Logger) *Handler {
	return &Handler{
		evaluator: evaluator,
		logger:    logger.With("component", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// ServeHTTP upgrades the connection and runs the frame loop until the
// client disconnects or the handler is closed.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	if !h.track(conn) {
		_ = conn.Close()
		return
	}
	defer h.untrack(conn)

	logger := ctxkey.LoggerFrom(r.Context(), h.logger)
	logger.Debug("websocket connection opened", "remote", r.RemoteAddr)

	h.serveConn(r.Context(), conn, logger)

	logger.Debug("websocket connection closed", "remote", r.RemoteAddr)
}

// serveConn runs the read loop and write pump for one connection.
func (h *Handler) serveConn(parent context.Context, conn *websocket.Conn, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	// Gorilla permits a single concurrent writer; all outbound frames and
	// pings flow through the write pump.
	send := make(chan response, 16)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		h.writePump(ctx, conn, send)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("websocket read error", "error", err)
			}
			break
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			h.deliver(ctx, send, response{
				OK:    false,
				Error: &frameError{Code: string(decision.CodeValidation), Message: "frame is not valid JSON"},
			})
			continue
		}

		switch f.Type {
		case FramePing:
			h.deliver(ctx, send, response{ID: f.ID, OK: true, Result: json.RawMessage(`{"pong":true}`)})
		case FrameEvaluate:
			// Evaluations run concurrently; the pump serializes replies.
			wg.Add(1)
			go func(f frame) {
				defer wg.Done()
				h.deliver(ctx, send, h.evaluateFrame(ctx, f))
			}(f)
		default:
			h.deliver(ctx, send, response{
				ID:    f.ID,
				OK:    false,
				Error: &frameError{Code: string(decision.CodeValidation), Message: "unknown frame type: " + f.Type},
			})
		}
	}

	cancel()
	wg.Wait()
	_ = conn.Close()
}

// writePump serializes all writes to the connection and keeps it alive
// with periodic pings.
func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, send <-chan response) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case resp := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			// Drain responses already queued before the reader stopped.
			for {
				select {
				case resp := <-send:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteJSON(resp); err != nil {
						return
					}
				default:
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

// deliver queues a response for the write pump, giving up if the
// connection is shutting down.
func (h *Handler) deliver(ctx context.Context, send chan<- response, resp response) {
	select {
	case send <- resp:
	case <-ctx.Done():
	}
}

// evaluateFrame resolves one evaluate frame to a response.
func (h *Handler) evaluateFrame(ctx context.Context, f frame) response {
	if len(f.Payload) == 0 {
		return response{
			ID:    f.ID,
			OK:    false,
			Error: &frameError{Code: string(decision.CodeValidation), Message: "payload is required"},
		}
	}

	var req request.ToolRequest
	if err := json.Unmarshal(f.Payload, &req); err != nil {
		return response{
			ID:    f.ID,
			OK:    false,
			Error: &frameError{Code: string(decision.CodeValidation), Message: "payload is not a valid tool request"},
		}
	}

	dec, err := h.evaluator.Evaluate(ctx, &req, audit.TransportWebSocket)
	if err != nil {
		return response{ID: f.ID, OK: false, Error: mapFrameError(err)}
	}

	// Single canonical marshal, byte-identical across transports.
	payload, err := json.Marshal(dec)
	if err != nil {
		h.logger.Error("decision marshal failed", "error", err)
		return response{
			ID:    f.ID,
			OK:    false,
			Error: &frameError{Code: string(decision.CodeInternal), Message: "internal error"},
		}
	}

	return response{ID: f.ID, OK: true, Result: payload}
}

// mapFrameError translates engine errors into outbound error frames.
// Internal reasons are redacted; validation messages pass through.
func mapFrameError(err error) *frameError {
	var decErr *decision.Error
	if !errors.As(err, &decErr) {
		return &frameError{Code: string(decision.CodeInternal), Message: "internal error"}
	}

	switch decErr.Code {
	case decision.CodeValidation, decision.CodeAdvisorUnavailable:
		return &frameError{Code: string(decErr.Code), Message: decErr.Message}
	default:
		return &frameError{Code: string(decision.CodeInternal), Message: "internal error"}
	}
}

// track registers a live connection. It reports false once the handler
// has been closed.
func (h *Handler) track(conn *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.conns[conn] = struct{}{}
	return true
}

func (h *Handler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

// Close drops every live connection. The HTTP server's graceful shutdown
// does not reach hijacked connections, so the assembly calls this after
// the listener stops.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for conn := range h.conns {
		_ = conn.Close()
	}
	h.conns = make(map[*websocket.Conn]struct{})
	return nil
}
