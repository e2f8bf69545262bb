package queue

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

type recordingSender struct {
	inputs []*sqs.SendMessageInput
}

func (r *recordingSender) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	r.inputs = append(r.inputs, params)
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSClientSendSetsFifoAttributes(t *testing.T) {
	sender := &recordingSender{}
	client := &SQSClient{client: sender, queueURL: "https://sqs.us-east-1.amazonaws.com/123/analysis.fifo"}

	if err := client.Send(context.Background(), Message{RunID: "run-1", TeamID: "team-1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sender.inputs) != 1 {
		t.Fatalf("expected one send, got %d", len(sender.inputs))
	}
	in := sender.inputs[0]
	if aws.ToString(in.MessageGroupId) != "team-1" || aws.ToString(in.MessageDeduplicationId) != "run-1" {
		t.Fatalf("unexpected fifo attributes group=%q dedup=%q", aws.ToString(in.MessageGroupId), aws.ToString(in.MessageDeduplicationId))
	}
}

func TestSQSClientSendStandardQueue(t *testing.T) {
	sender := &recordingSender{}
	client := &SQSClient{client: sender, queueURL: "https://sqs.us-east-1.amazonaws.com/123/analysis"}

	if err := client.Send(context.Background(), Message{RunID: "run-1", TeamID: "team-1"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sender.inputs[0].MessageGroupId != nil {
		t.Fatalf("standard queues must not carry a group id")
	}
	if err := client.Send(context.Background(), Message{TeamID: "team-1"}); err == nil {
		t.Fatalf("expected error for missing run id")
	}
}
