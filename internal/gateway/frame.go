package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Outbound events produced by the gateway itself. Bus-originated events are
// named in the bus package.
const (
	EventMessageDelivered = "message:delivered"
	EventOnlineStatus     = "online:status"
	EventError            = "error"
)

// Inbound commands.
const (
	CommandMessageSend = "message:send"
	CommandMessageRead = "message:read"
	CommandTypingStart = "typing:start"
	CommandTypingStop  = "typing:stop"
	CommandGetOnline   = "get:online"
)

var errInvalidFrame = errors.New("invalid frame")

type inFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outFrame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func decodeFrame(raw []byte) (*inFrame, error) {
	var f inFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidFrame, err)
	}
	if f.Event == "" {
		return nil, fmt.Errorf("%w: event is required", errInvalidFrame)
	}
	return &f, nil
}

func encodeFrame(event string, payload any) ([]byte, error) {
	return json.Marshal(outFrame{Event: event, Data: payload})
}

func decodeData(f *inFrame, v any) error {
	if len(f.Data) == 0 {
		return fmt.Errorf("%w: %s requires data", errInvalidFrame, f.Event)
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", errInvalidFrame, f.Event, err)
	}
	return nil
}
