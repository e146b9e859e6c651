package ingestion

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// PeekConfig configures a non-destructive DLQ inspection.
type PeekConfig struct {
	QueueURL        string
	Limit           int
	WaitTimeSeconds int
}

// Peek receives up to Limit messages from a DLQ without consuming
// them: visibility is restored to 0 after each receive so the
// messages remain visible to the primary queue and to other
// inspectors.
func Peek(ctx context.Context, client SQSClient, cfg PeekConfig) ([]Message, error) {
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	waitTime := cfg.WaitTimeSeconds
	if waitTime == 0 {
		waitTime = 2
	}

	var messages []Message
	remaining := cfg.Limit
	for remaining > 0 {
		batchSize := remaining
		if batchSize > 10 {
			batchSize = 10
		}
		batch, err := client.ReceiveMessage(ctx, cfg.QueueURL, batchSize, waitTime, 0)
		if err != nil {
			return messages, err
		}
		if len(batch) == 0 {
			break
		}
		messages = append(messages, batch...)
		remaining -= len(batch)
		for _, msg := range batch {
			if err := client.ChangeMessageVisibility(ctx, cfg.QueueURL, msg.ReceiptHandle, 0); err != nil {
				return messages, err
			}
		}
	}
	return messages, nil
}

// ReplayConfig configures a DLQ drain into a target queue.
type ReplayConfig struct {
	DLQUrl          string
	TargetQueueURL  string
	Limit           int
	BatchSize       int
	WaitTimeSeconds int
	ThrottleSeconds float64
}

// Replay drains a DLQ into the target queue: receive, send to target,
// delete the original, repeating until the queue is empty or Limit is
// reached. A send failure logs and continues without deleting the
// original — at-least-once replay, deliberately not an outbox/2PC
// pattern (Open Question (a)).
func Replay(ctx context.Context, client SQSClient, cfg ReplayConfig, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > 10 {
		batchSize = 10
	}
	waitTime := cfg.WaitTimeSeconds
	if waitTime == 0 {
		waitTime = 2
	}

	replayed := 0
	for {
		if cfg.Limit > 0 && replayed >= cfg.Limit {
			return replayed, nil
		}

		messages, err := client.ReceiveMessage(ctx, cfg.DLQUrl, batchSize, waitTime, 0)
		if err != nil {
			return replayed, err
		}
		if len(messages) == 0 {
			return replayed, nil
		}

		for _, msg := range messages {
			if cfg.Limit > 0 && replayed >= cfg.Limit {
				return replayed, nil
			}

			if err := client.SendMessage(ctx, cfg.TargetQueueURL, msg.Body, msg.MessageAttributes); err != nil {
				logger.Error("failed to replay DLQ message", zap.String("message_id", msg.MessageID), zap.Error(err))
				continue
			}

			if err := client.DeleteMessage(ctx, cfg.DLQUrl, msg.ReceiptHandle); err != nil {
				logger.Error("failed to delete replayed DLQ message", zap.String("message_id", msg.MessageID), zap.Error(err))
				continue
			}

			replayed++
			if cfg.ThrottleSeconds > 0 {
				select {
				case <-ctx.Done():
					return replayed, nil
				case <-time.After(time.Duration(cfg.ThrottleSeconds * float64(time.Second))):
				}
			}
		}
	}
}
