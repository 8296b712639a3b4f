package broadcast

import (
	"encoding/json"
	"fmt"
)

// Frame types exchanged with WebSocket subscribers.
const (
	// UpdateFrame carries a full registry snapshot. Sent on connect and after every mutation.
	UpdateFrame = "update"
	// RequestUpdateFrame asks the server to rebroadcast the current snapshot to every subscriber.
	RequestUpdateFrame = "request_update"
	HeartbeatFrame     = "heartbeat"
	ErrorFrame         = "error"
)

// A Frame is one JSON message on the subscriber socket.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func encodeFrame(frameType string, payload any) ([]byte, error) {
	f := Frame{Type: frameType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", frameType, err)
		}
		f.Payload = data
	}
	return json.Marshal(f)
}

func mustEncodeFrame(frameType string, payload any) []byte {
	data, err := encodeFrame(frameType, payload)
	if err != nil {
		panic(err)
	}
	return data
}
