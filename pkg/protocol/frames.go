package protocol

import "encoding/json"

// ProtocolVersion is bumped on breaking wire changes.
const ProtocolVersion = 1

// RequestFrame is a client-to-server RPC request.
type RequestFrame struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ResponseFrame answers one RequestFrame.
type ResponseFrame struct {
	ID     string      `json:"id"`
	OK     bool        `json:"ok"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// EventFrame is a server-pushed event.
type EventFrame struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload,omitempty"`
}

// NewEvent builds an EventFrame.
func NewEvent(name string, payload interface{}) *EventFrame {
	return &EventFrame{Event: name, Payload: payload}
}

// NewResult builds a success ResponseFrame.
func NewResult(id string, result interface{}) *ResponseFrame {
	return &ResponseFrame{ID: id, OK: true, Result: result}
}

// NewError builds a failure ResponseFrame.
func NewError(id, msg string) *ResponseFrame {
	return &ResponseFrame{ID: id, OK: false, Error: msg}
}
