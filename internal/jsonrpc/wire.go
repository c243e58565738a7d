package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Standard JSON-RPC error codes used by this client.
const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInternalError  = -32603
)

// Error is a JSON-RPC error object. Servers send either this shape or a bare
// string; both decode into Error.
type Error struct {
	Code    int             `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "unknown error"
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s (code %d)", msg, e.Code)
	}
	return msg
}

// request is an outbound call. Params is omitted when nil.
type request struct {
	ID     int64  `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// notification is an outbound fire-and-forget message.
type notification struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// resultReply answers a server-initiated request.
type resultReply struct {
	ID     json.RawMessage `json:"id"`
	Result any             `json:"result"`
}

// errorReply answers a server-initiated request with an error.
type errorReply struct {
	ID    json.RawMessage `json:"id"`
	Error *Error          `json:"error"`
}

// parseError decodes the error member of a response.
func parseError(raw json.RawMessage) *Error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return &Error{}
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return &Error{Message: s}
		}
	case '{':
		var e Error
		if err := json.Unmarshal(raw, &e); err == nil {
			return &e
		}
		// Tolerate a non-numeric code by decoding loosely.
		var loose map[string]json.RawMessage
		if err := json.Unmarshal(raw, &loose); err == nil {
			out := &Error{Data: loose["data"]}
			_ = json.Unmarshal(loose["message"], &out.Message)
			return out
		}
	}
	return &Error{Message: string(raw)}
}

// parseID extracts a numeric request id. String ids holding a number are
// accepted since some servers echo ids as strings.
func parseID(raw json.RawMessage) (int64, bool) {
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
