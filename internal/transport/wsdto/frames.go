package wsdto

import (
	"bytes"
	"encoding/json"
	"fmt"

	dealroom_errors "dealroom-chat/pkg/errors"
)

// Calls
const (
	MethodCreateRoom     = "create_room"
	MethodSendMessage    = "send_message"
	MethodListRooms      = "list_rooms"
	MethodQueryRoom      = "query_room"
	MethodUpdateLastSeen = "update_last_seen"
)

// Notifications: no nonce, no response.
const (
	MethodCurrentlyViewing = "currently_viewing"
	MethodCurrentlyTyping  = "currently_typing"
)

func IsNotification(method string) bool {
	return method == MethodCurrentlyViewing || method == MethodCurrentlyTyping
}

// InboundFrame is either a call (nonce set) or a notification.
type InboundFrame struct {
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Nonce  *uint64         `json:"nonce,omitempty"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseFrame answers exactly one call. Either Data or Error is set.
type ResponseFrame struct {
	Method string     `json:"method"`
	Nonce  uint64     `json:"nonce"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

type EventFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// LocalErrorFrame reports a frame that could not be tied to a call.
type LocalErrorFrame struct {
	Error ErrorBody `json:"error"`
}

// DecodeFrame parses one inbound text frame. Errors wrap ErrMalformedFrame.
func DecodeFrame(raw []byte) (InboundFrame, error) {
	var frame InboundFrame
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return frame, fmt.Errorf("%w: expected a JSON object", dealroom_errors.ErrMalformedFrame)
	}
	if err := json.Unmarshal(raw, &frame); err != nil {
		return frame, fmt.Errorf("%w: %v", dealroom_errors.ErrMalformedFrame, err)
	}
	if frame.Method == "" {
		return frame, fmt.Errorf("%w: missing method", dealroom_errors.ErrMalformedFrame)
	}
	if frame.Nonce == nil && !IsNotification(frame.Method) {
		return frame, fmt.Errorf("%w: call %q without nonce", dealroom_errors.ErrMalformedFrame, frame.Method)
	}
	return frame, nil
}

// DecodeData unmarshals a call payload. Empty data decodes into the zero value.
func DecodeData(data json.RawMessage, v any) error {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", dealroom_errors.ErrInvalidInput, err)
	}
	return nil
}

func NewSuccess(method string, nonce uint64, data any) ResponseFrame {
	return ResponseFrame{Method: method, Nonce: nonce, Data: data}
}

func NewFailure(method string, nonce uint64, code, message string) ResponseFrame {
	return ResponseFrame{Method: method, Nonce: nonce, Error: &ErrorBody{Code: code, Message: message}}
}

func NewLocalError(code, message string) LocalErrorFrame {
	return LocalErrorFrame{Error: ErrorBody{Code: code, Message: message}}
}
