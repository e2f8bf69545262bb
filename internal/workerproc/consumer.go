package workerproc

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"routing-backend/internal/shared/metrics"
	"routing-backend/internal/shared/telemetry"
)

const (
	DefaultVisibilitySeconds = 300
	DefaultConcurrency       = 2
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultReapInterval      = time.Minute
)

// SQSAPI is the subset of the SQS client the consumer needs.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Reaper fails runs abandoned by a crashed process.
type Reaper interface {
	ReapStale(ctx context.Context) (int, error)
}

// Consumer long-polls the analysis queue and executes runs.
type Consumer struct {
	Client            SQSAPI
	QueueURL          string
	Processor         Processor
	Reaper            Reaper
	Concurrency       int
	VisibilitySeconds int
	ShutdownTimeout   time.Duration
	ReapInterval      time.Duration
}

// Run polls until ctx is cancelled, then waits for in-flight jobs up to the
// shutdown timeout.
func (c *Consumer) Run(ctx context.Context) {
	concurrency := c.Concurrency
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	visibility := c.VisibilitySeconds
	if visibility <= 0 {
		visibility = DefaultVisibilitySeconds
	}
	shutdownTimeout := c.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	if c.Reaper != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.reapLoop(ctx)
		}()
	}

	telemetry.Info("worker.started", map[string]any{
		"queue":       c.QueueURL,
		"concurrency": concurrency,
		"visibility":  visibility,
	})

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := c.Client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.QueueURL),
			MaxNumberOfMessages: 10,
			WaitTimeSeconds:     20,
			VisibilityTimeout:   int32(visibility),
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{
				sqstypes.MessageSystemAttributeNameApproximateReceiveCount,
			},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err.Error()})
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			metrics.IncJobsReceived()
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				c.Handle(ctx, m)
			}(msg)
		}
	}

	telemetry.Info("worker.shutdown", map[string]any{"timeout": shutdownTimeout.String()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(shutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", map[string]any{"timeout": shutdownTimeout.String()})
	}
}

func (c *Consumer) reapLoop(ctx context.Context) {
	interval := c.ReapInterval
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Reaper.ReapStale(ctx); err != nil && ctx.Err() == nil {
				telemetry.Error("worker.reap_failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// Handle processes one queue message. Successful and unrecoverable messages
// are deleted; anything else is left for redelivery.
func (c *Consumer) Handle(ctx context.Context, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)
	decoded, meta, err := ParseMessage(body)
	if err != nil {
		fields := baseFields(msg, decoded.RunID, decoded.RequestID)
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()
		telemetry.Error("worker.analysis.invalid_message", fields)
		if c.deleteMessage(ctx, msg, decoded.RunID, decoded.RequestID) {
			metrics.IncJobsUnrecoverable()
		}
		return
	}

	telemetry.Info("worker.analysis.received", baseFields(msg, decoded.RunID, decoded.RequestID))

	if err := HandleMessage(ctx, c.Processor, decoded); err != nil {
		fields := baseFields(msg, decoded.RunID, decoded.RequestID)
		fields["error"] = err.Error()
		if Unrecoverable(err) {
			telemetry.Error("worker.analysis.unrecoverable", fields)
			if c.deleteMessage(ctx, msg, decoded.RunID, decoded.RequestID) {
				metrics.IncJobsUnrecoverable()
			}
			return
		}
		telemetry.Error("worker.analysis.failed", fields)
		metrics.IncJobsFailed()
		return
	}

	if c.deleteMessage(ctx, msg, decoded.RunID, decoded.RequestID) {
		telemetry.Info("worker.analysis.completed", baseFields(msg, decoded.RunID, decoded.RequestID))
		metrics.IncJobsCompleted()
	}
}

func (c *Consumer) deleteMessage(ctx context.Context, msg sqstypes.Message, runID, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg, runID, requestID)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.analysis.delete_failed", fields)
		return false
	}
	if _, err := c.Client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.QueueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg, runID, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.analysis.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message, runID, requestID string) map[string]any {
	fields := map[string]any{
		"run_id":         runID,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}
