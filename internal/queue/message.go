package queue

import (
	"encoding/json"
	"errors"
	"strings"
)

// MessageVersion is the current payload version.
const MessageVersion = 1

// Message asks a worker to execute one pending analysis run.
type Message struct {
	RunID      string `json:"runId"`
	TeamID     string `json:"teamId"`
	RequestID  string `json:"requestId,omitempty"`
	EnqueuedAt string `json:"enqueuedAt"`
	Version    int    `json:"version"`
}

// ErrMissingRunID indicates a payload without a run id.
var ErrMissingRunID = errors.New("missing run id")

// EncodeMessage returns the JSON representation of a message.
func EncodeMessage(msg Message) ([]byte, error) {
	if strings.TrimSpace(msg.RunID) == "" {
		return nil, ErrMissingRunID
	}
	if msg.Version == 0 {
		msg.Version = MessageVersion
	}
	return json.Marshal(msg)
}

// DecodeMessage parses a JSON payload into a Message.
func DecodeMessage(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
