package ingestion

import (
	"context"
	"errors"
	"testing"
)

func TestPeekRestoresVisibilityWithoutDeleting(t *testing.T) {
	client := newFakeSQSClient()
	client.queues["dlq"] = []Message{
		{MessageID: "m1", ReceiptHandle: "rh1", Body: `{"a":1}`},
		{MessageID: "m2", ReceiptHandle: "rh2", Body: `{"b":2}`},
	}
	messages, err := Peek(context.Background(), client, PeekConfig{QueueURL: "dlq", Limit: 10})
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Peek() = %d messages, want 2", len(messages))
	}
	if len(client.deleted["dlq"]) != 0 {
		t.Error("Peek() must never delete messages")
	}
}

func TestReplayMovesMessagesAndDeletesOriginalExactlyOnce(t *testing.T) {
	client := newFakeSQSClient()
	client.queues["dlq"] = []Message{
		{MessageID: "m1", ReceiptHandle: "rh1", Body: `{"a":1}`},
		{MessageID: "m2", ReceiptHandle: "rh2", Body: `{"b":2}`},
	}
	replayed, err := Replay(context.Background(), client, ReplayConfig{DLQUrl: "dlq", TargetQueueURL: "main"}, nil)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if replayed != 2 {
		t.Fatalf("Replay() = %d, want 2", replayed)
	}
	if len(client.sent["main"]) != 2 {
		t.Errorf("sent = %+v, want 2 messages sent to target", client.sent["main"])
	}
	if len(client.deleted["dlq"]) != 2 {
		t.Errorf("deleted = %+v, want 2 originals deleted", client.deleted["dlq"])
	}
}

func TestReplayRespectsLimit(t *testing.T) {
	client := newFakeSQSClient()
	client.queues["dlq"] = []Message{
		{MessageID: "m1", ReceiptHandle: "rh1", Body: `{}`},
		{MessageID: "m2", ReceiptHandle: "rh2", Body: `{}`},
		{MessageID: "m3", ReceiptHandle: "rh3", Body: `{}`},
	}
	replayed, err := Replay(context.Background(), client, ReplayConfig{DLQUrl: "dlq", TargetQueueURL: "main", Limit: 2}, nil)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if replayed != 2 {
		t.Errorf("Replay() = %d, want 2 (limit enforced)", replayed)
	}
}

type failingSendClient struct {
	*fakeSQSClient
}

func (f *failingSendClient) SendMessage(ctx context.Context, queueURL string, body string, attributes map[string]any) error {
	return errSendFailed
}

var errSendFailed = errors.New("send failed")

func TestReplaySkipsDeleteWhenSendFails(t *testing.T) {
	inner := newFakeSQSClient()
	inner.queues["dlq"] = []Message{{MessageID: "m1", ReceiptHandle: "rh1", Body: `{}`}}
	client := &failingSendClient{inner}

	replayed, err := Replay(context.Background(), client, ReplayConfig{DLQUrl: "dlq", TargetQueueURL: "main"}, nil)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if replayed != 0 {
		t.Errorf("Replay() = %d, want 0 on send failure", replayed)
	}
	if len(inner.deleted["dlq"]) != 0 {
		t.Error("original must not be deleted when send fails")
	}
}
