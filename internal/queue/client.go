package queue

import (
	"context"
	"time"
)

// Client hands pending analysis runs to a worker. SQSClient is the deployed
// backend; without one the engine executes runs in-process.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

// NewRunMessage builds the message asking a worker to execute runID.
func NewRunMessage(runID, teamID, requestID string, at time.Time) Message {
	return Message{
		RunID:      runID,
		TeamID:     teamID,
		RequestID:  requestID,
		EnqueuedAt: at.UTC().Format(time.RFC3339),
		Version:    MessageVersion,
	}
}
