// Package stdio implements the MCP server transport: newline-delimited
// JSON-RPC 2.0 over stdin/stdout. Logs go to stderr only; stdout carries
// nothing but responses.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/superego-ai/superego/internal/domain/audit"
	"github.com/superego-ai/superego/internal/domain/decision"
	"github.com/superego-ai/superego/internal/domain/request"
	"github.com/superego-ai/superego/internal/port/inbound"
	"github.com/superego-ai/superego/pkg/mcp"
)

// protocolVersion is the MCP protocol revision this server speaks.
const protocolVersion = "2025-06-18"

// EvaluateToolName is the single logical tool the server exposes.
const EvaluateToolName = "evaluate_tool_request"

// Server answers MCP requests on a line-oriented stream pair.
type Server struct {
	evaluator inbound.Evaluator
	health    inbound.HealthChecker
	logger    *slog.Logger
	version   string
	started   time.Time

	in  io.Reader
	out io.Writer
	mu  sync.Mutex // serializes response writes
}

var _ inbound.Transport = (*Server)(nil)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithStreams replaces stdin/stdout, for tests and embedding.
func WithStreams(in io.Reader, out io.Writer) ServerOption {
	return func(s *Server) {
		s.in = in
		s.out = out
	}
}

// NewServer creates the stdio MCP server.
func NewServer(evaluator inbound.Evaluator, health inbound.HealthChecker, version string, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		evaluator: evaluator,
		health:    health,
		logger:    logger.With("component", "stdio"),
		version:   version,
		started:   time.Now(),
		in:        os.Stdin,
		out:       os.Stdout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Serve reads newline-delimited JSON-RPC messages until EOF or context
// cancellation. One request produces exactly one response; notifications
// produce none.
func (s *Server) Serve(ctx context.Context) error {
	// MCP messages can be large; tool parameters carry file contents.
	scanner := bufio.NewScanner(s.in)
	buf := make([]byte, 0, 256*1024) // 256KB initial
	scanner.Buffer(buf, 1024*1024)   // 1MB max

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		msg, err := mcp.WrapMessage(append([]byte(nil), raw...))
		if err != nil {
			s.logger.Warn("unparseable message", "error", err)
			s.writeError(nil, mcp.CodeParseError, "parse error")
			continue
		}

		if msg.IsNotification() {
			// notifications/initialized and friends are accepted and
			// dropped; JSON-RPC forbids answering them.
			s.logger.Debug("notification ignored", "method", msg.Method())
			continue
		}
		if !msg.IsRequest() {
			s.logger.Warn("unexpected non-request message")
			continue
		}

		s.dispatch(ctx, msg)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read stdin: %w", err)
	}
	return nil
}

// Close implements inbound.Transport. Stdin is owned by the process;
// there is nothing to release.
func (s *Server) Close() error {
	return nil
}

// dispatch routes one request and writes its response.
func (s *Server) dispatch(ctx context.Context, msg *mcp.Message) {
	id := msg.RawID()

	switch msg.Method() {
	case "initialize":
		s.writeResult(id, map[string]any{
			"protocolVersion": protocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    "superego",
				"version": s.version,
			},
		})

	case "tools/list":
		s.writeResult(id, map[string]any{
			"tools": []map[string]any{evaluateToolSchema()},
		})

	case "tools/call":
		s.handleToolCall(ctx, msg)

	case "health_check":
		s.writeResult(id, s.health.Health(ctx))

	case "get_server_info":
		s.writeResult(id, map[string]any{
			"name":           "superego",
			"version":        s.version,
			"uptime_seconds": int64(time.Since(s.started).Seconds()),
			"transport":      audit.TransportStdio,
		})

	default:
		s.writeError(id, mcp.CodeMethodNotFound, fmt.Sprintf("method not found: %s", msg.Method()))
	}
}

// handleToolCall evaluates one evaluate_tool_request invocation.
func (s *Server) handleToolCall(ctx context.Context, msg *mcp.Message) {
	id := msg.RawID()

	params := msg.ParseParams()
	if params == nil {
		s.writeError(id, mcp.CodeInvalidParams, "params are required")
		return
	}

	name, _ := params["name"].(string)
	if name != EvaluateToolName {
		s.writeError(id, mcp.CodeInvalidParams, fmt.Sprintf("unknown tool: %s", name))
		return
	}

	args, err := json.Marshal(params["arguments"])
	if err != nil {
		s.writeError(id, mcp.CodeInvalidParams, "arguments must be an object")
		return
	}

	var req request.ToolRequest
	if err := json.Unmarshal(args, &req); err != nil {
		s.writeError(id, mcp.CodeInvalidParams, fmt.Sprintf("malformed arguments: %v", err))
		return
	}

	dec, err := s.evaluator.Evaluate(ctx, &req, audit.TransportStdio)
	if err != nil {
		code, message := rpcError(err)
		s.writeError(id, code, message)
		return
	}

	// The canonical decision marshal; every transport emits these bytes.
	body, err := json.Marshal(dec)
	if err != nil {
		s.writeError(id, mcp.CodeInternalError, "internal error")
		return
	}

	s.writeResult(id, map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(body)},
		},
		"structuredContent": json.RawMessage(body),
		"isError":           false,
	})
}

// rpcError maps an evaluation failure to a JSON-RPC error pair.
func rpcError(err error) (int64, string) {
	var derr *decision.Error
	if errors.As(err, &derr) {
		switch derr.Code {
		case decision.CodeValidation:
			return mcp.CodeInvalidParams, derr.Message
		default:
			return mcp.CodeInternalError, derr.Message
		}
	}
	return mcp.CodeInternalError, "internal error"
}

// evaluateToolSchema describes the single exposed tool.
func evaluateToolSchema() map[string]any {
	return map[string]any{
		"name":        EvaluateToolName,
		"description": "Evaluate a tool request against the active security policy. Returns an allow or deny decision with a reason.",
		"inputSchema": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tool_name": map[string]any{
					"type":        "string",
					"description": "Name of the tool the agent wants to invoke.",
				},
				"parameters": map[string]any{
					"type":        "object",
					"description": "Tool call parameters as a JSON object.",
				},
				"agent_id": map[string]any{
					"type":        "string",
					"description": "Opaque identifier of the calling agent.",
				},
				"session_id": map[string]any{
					"type":        "string",
					"description": "Opaque identifier of the agent session.",
				},
				"cwd": map[string]any{
					"type":        "string",
					"description": "Absolute working directory of the agent.",
				},
				"timestamp": map[string]any{
					"type":        "string",
					"format":      "date-time",
					"description": "Request time; server-assigned when omitted.",
				},
			},
			"required": []string{"tool_name", "agent_id", "session_id", "cwd"},
		},
	}
}

// writeResult writes one success response line.
func (s *Server) writeResult(id json.RawMessage, result any) {
	data, err := mcp.EncodeResult(id, result)
	if err != nil {
		s.logger.Error("encode response failed", "error", err)
		s.writeError(id, mcp.CodeInternalError, "internal error")
		return
	}
	s.writeLine(data)
}

// writeError writes one error response line.
func (s *Server) writeError(id json.RawMessage, code int64, message string) {
	data, err := mcp.EncodeError(id, code, message)
	if err != nil {
		s.logger.Error("encode error response failed", "error", err)
		return
	}
	s.writeLine(data)
}

func (s *Server) writeLine(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		s.logger.Error("write response failed", "error", err)
	}
}
