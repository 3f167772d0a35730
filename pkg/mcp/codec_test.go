package mcp

import (
	"encoding/json"
	"testing"
)

func TestWrapMessage_Request(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"evaluate_tool_request"}}`)

	msg, err := WrapMessage(raw)
	if err != nil {
		t.Fatalf("WrapMessage: %v", err)
	}

	if !msg.IsRequest() {
		t.Fatal("IsRequest = false, want true")
	}
	if msg.IsResponse() {
		t.Error("IsResponse = true, want false")
	}
	if msg.IsNotification() {
		t.Error("IsNotification = true for a request with an id")
	}
	if msg.Method() != "tools/call" {
		t.Errorf("Method = %q, want tools/call", msg.Method())
	}
	if !msg.IsToolCall() {
		t.Error("IsToolCall = false, want true")
	}
	if string(msg.RawID()) != "1" {
		t.Errorf("RawID = %s, want 1", msg.RawID())
	}
}

func TestWrapMessage_Notification(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	msg, err := WrapMessage(raw)
	if err != nil {
		t.Fatalf("WrapMessage: %v", err)
	}
	if !msg.IsNotification() {
		t.Fatal("IsNotification = false, want true")
	}
	if msg.RawID() != nil {
		t.Errorf("RawID = %s, want nil", msg.RawID())
	}
}

func TestWrapMessage_StringID(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":"req-7","method":"tools/list"}`)

	msg, err := WrapMessage(raw)
	if err != nil {
		t.Fatalf("WrapMessage: %v", err)
	}
	if string(msg.RawID()) != `"req-7"` {
		t.Errorf("RawID = %s, want \"req-7\" with quotes preserved", msg.RawID())
	}
}

func TestWrapMessage_Invalid(t *testing.T) {
	if _, err := WrapMessage([]byte(`{not json`)); err == nil {
		t.Fatal("WrapMessage on malformed input should fail")
	}
}

func TestParseParams(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"evaluate_tool_request","arguments":{"tool_name":"Bash"}}}`)

	msg, err := WrapMessage(raw)
	if err != nil {
		t.Fatalf("WrapMessage: %v", err)
	}

	params := msg.ParseParams()
	if params == nil {
		t.Fatal("ParseParams = nil")
	}
	if params["name"] != "evaluate_tool_request" {
		t.Errorf("name = %v", params["name"])
	}

	// Second call reuses the parsed map.
	again := msg.ParseParams()
	if &again == &params {
		t.Log("maps are separate variables, values must match")
	}
	if again["name"] != params["name"] {
		t.Error("ParseParams not idempotent")
	}
}

func TestEncodeResult(t *testing.T) {
	data, err := EncodeResult(json.RawMessage("42"), map[string]string{"status": "healthy"})
	if err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}

	var decoded struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  map[string]any  `json:"result"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.JSONRPC != "2.0" {
		t.Errorf("jsonrpc = %q", decoded.JSONRPC)
	}
	if string(decoded.ID) != "42" {
		t.Errorf("id = %s, want 42", decoded.ID)
	}
	if decoded.Result["status"] != "healthy" {
		t.Errorf("result = %v", decoded.Result)
	}
}

func TestEncodeError(t *testing.T) {
	data, err := EncodeError(json.RawMessage(`"abc"`), CodeInvalidParams, "tool_name is required")
	if err != nil {
		t.Fatalf("EncodeError: %v", err)
	}

	var decoded struct {
		ID    json.RawMessage `json:"id"`
		Error struct {
			Code    int64  `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(decoded.ID) != `"abc"` {
		t.Errorf("id = %s", decoded.ID)
	}
	if decoded.Error.Code != -32602 {
		t.Errorf("code = %d, want -32602", decoded.Error.Code)
	}
	if decoded.Error.Message != "tool_name is required" {
		t.Errorf("message = %q", decoded.Error.Message)
	}
}

func TestEncodeError_MissingIDBecomesNull(t *testing.T) {
	data, err := EncodeError(nil, CodeParseError, "unparseable request")
	if err != nil {
		t.Fatalf("EncodeError: %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(decoded["id"]) != "null" {
		t.Errorf("id = %s, want null", decoded["id"])
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	raw := []byte(`{"jsonrpc":"2.0","id":9,"method":"health_check"}`)

	decoded, err := DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	encoded, err := EncodeMessage(decoded)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	again, err := DecodeMessage(encoded)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	msg := &Message{Raw: encoded, Decoded: again}
	if msg.Method() != "health_check" {
		t.Errorf("method after round trip = %q", msg.Method())
	}
}
