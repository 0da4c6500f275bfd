// Package jsonrpc is the wire layer spec.md §1 places outside the core:
// the line-delimited-TCP-and-WebSocket JSON-RPC 2.0 framer, connection
// admission, and method dispatch table of spec.md §6, generalized from the
// teacher's `internal/server` HTTP surface (see run.go's router.Run/route
// table) to Electrum's persistent-connection, notification-bearing
// protocol, and grounded on original_source/src/rpc.rs's Connection/RPC
// actors for the request/reply and subscription-fanout shape.
package jsonrpc

import "encoding/json"

// request is a client-to-server JSON-RPC 2.0 (Electrum accepts 1.0-style
// requests without "jsonrpc" too, so that field is not required on decode).
type request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// response is a server-to-client reply or a server-initiated notification
// (notifications carry Method/Params and omit ID).
type response struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  interface{}     `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func errorResponse(id json.RawMessage, code int, message string) response {
	return response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}

func resultResponse(id json.RawMessage, result interface{}) response {
	return response{JSONRPC: "2.0", ID: id, Result: result}
}

func notification(method string, params interface{}) response {
	return response{JSONRPC: "2.0", Method: method, Params: params}
}
