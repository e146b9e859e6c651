// Package external adapts aws-sdk-go-v2 and plain HTTP clients to the
// capability interfaces the rest of the module depends on: SQS for
// ingestion, Secrets Manager for override configuration, and HTTP for
// the document-intelligence vendor call and the summarisation chat
// completion.
package external

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"docrouter/ingestion"
)

// SQSClient wraps an aws-sdk-go-v2 SQS client to satisfy
// ingestion.SQSClient.
type SQSClient struct {
	client *sqs.Client
}

// NewSQSClient builds an SQSClient over an already-configured
// aws-sdk-go-v2 SQS client.
func NewSQSClient(client *sqs.Client) *SQSClient {
	return &SQSClient{client: client}
}

// ReceiveMessage implements ingestion.SQSClient.
func (s *SQSClient) ReceiveMessage(ctx context.Context, queueURL string, maxMessages int, waitTimeSeconds, visibilityTimeout int) ([]ingestion.Message, error) {
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(queueURL),
		MaxNumberOfMessages:   int32(maxMessages),
		WaitTimeSeconds:       int32(waitTimeSeconds),
		VisibilityTimeout:     int32(visibilityTimeout),
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("sqs receive_message: %w", err)
	}

	messages := make([]ingestion.Message, 0, len(out.Messages))
	for _, m := range out.Messages {
		attrs := make(map[string]any, len(m.MessageAttributes))
		for k, v := range m.MessageAttributes {
			if v.StringValue != nil {
				attrs[k] = *v.StringValue
			}
		}
		messages = append(messages, ingestion.Message{
			MessageID:         aws.ToString(m.MessageId),
			Body:              aws.ToString(m.Body),
			ReceiptHandle:     aws.ToString(m.ReceiptHandle),
			MessageAttributes: attrs,
		})
	}
	return messages, nil
}

// DeleteMessageBatch implements ingestion.SQSClient.
func (s *SQSClient) DeleteMessageBatch(ctx context.Context, queueURL string, receiptHandles []string) error {
	if len(receiptHandles) == 0 {
		return nil
	}
	for start := 0; start < len(receiptHandles); start += 10 {
		end := start + 10
		if end > len(receiptHandles) {
			end = len(receiptHandles)
		}
		entries := make([]types.DeleteMessageBatchRequestEntry, 0, end-start)
		for i, rh := range receiptHandles[start:end] {
			entries = append(entries, types.DeleteMessageBatchRequestEntry{
				Id:            aws.String(fmt.Sprintf("msg-%d", start+i)),
				ReceiptHandle: aws.String(rh),
			})
		}
		if _, err := s.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(queueURL),
			Entries:  entries,
		}); err != nil {
			return fmt.Errorf("sqs delete_message_batch: %w", err)
		}
	}
	return nil
}

// DeleteMessage implements ingestion.SQSClient.
func (s *SQSClient) DeleteMessage(ctx context.Context, queueURL string, receiptHandle string) error {
	_, err := s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	})
	if err != nil {
		return fmt.Errorf("sqs delete_message: %w", err)
	}
	return nil
}

// SendMessage implements ingestion.SQSClient.
func (s *SQSClient) SendMessage(ctx context.Context, queueURL string, body string, attributes map[string]any) error {
	attrs := make(map[string]types.MessageAttributeValue, len(attributes))
	for k, v := range attributes {
		attrs[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(fmt.Sprintf("%v", v)),
		}
	}
	_, err := s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:          aws.String(queueURL),
		MessageBody:       aws.String(body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return fmt.Errorf("sqs send_message: %w", err)
	}
	return nil
}

// ChangeMessageVisibility implements ingestion.SQSClient.
func (s *SQSClient) ChangeMessageVisibility(ctx context.Context, queueURL string, receiptHandle string, visibilityTimeout int) error {
	_, err := s.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(queueURL),
		ReceiptHandle:     aws.String(receiptHandle),
		VisibilityTimeout: int32(visibilityTimeout),
	})
	if err != nil {
		return fmt.Errorf("sqs change_message_visibility: %w", err)
	}
	return nil
}
