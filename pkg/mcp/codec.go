package mcp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// EncodeMessage serializes a JSON-RPC message to its wire format.
// This delegates to the MCP SDK's jsonrpc package.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes JSON-RPC wire format data into a Message.
// It returns either a *jsonrpc.Request or *jsonrpc.Response based on the message content.
// This delegates to the MCP SDK's jsonrpc package.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// WrapMessage decodes raw JSON-RPC bytes and wraps them in a Message
// struct with the current timestamp.
func WrapMessage(raw []byte) (*Message, error) {
	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}

	return &Message{
		Raw:       raw,
		Decoded:   decoded,
		Timestamp: time.Now(),
	}, nil
}

// EncodeResult builds the wire bytes for a successful response. The raw
// id from the request is spliced in directly, sidestepping the SDK ID
// marshalling quirk.
func EncodeResult(id json.RawMessage, result any) ([]byte, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return json.Marshal(map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      normalizeID(id),
		"result":  payload,
	})
}

// EncodeError builds the wire bytes for an error response.
func EncodeError(id json.RawMessage, code int64, message string) ([]byte, error) {
	errObj, err := json.Marshal(map[string]any{
		"code":    code,
		"message": message,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal error object: %w", err)
	}
	return json.Marshal(map[string]json.RawMessage{
		"jsonrpc": json.RawMessage(`"2.0"`),
		"id":      normalizeID(id),
		"error":   errObj,
	})
}

// normalizeID maps a missing id to JSON null, as required for responses
// to unparseable requests.
func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}
