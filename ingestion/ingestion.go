// Package ingestion runs the SQS batch-ingestion loop: long-poll,
// route, persist metadata, fan out to workers, and acknowledge.
package ingestion

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"docrouter/jsonval"
	"docrouter/override"
	"docrouter/router"
)

// Message is the narrow shape the loop needs out of a received SQS message.
type Message struct {
	MessageID        string
	Body             string
	ReceiptHandle    string
	MessageAttributes map[string]any
}

// SQSClient is the narrow SQS capability the loop and DLQ replay need,
// so a production aws-sdk-go-v2 client and a test fake share one seam.
type SQSClient interface {
	ReceiveMessage(ctx context.Context, queueURL string, maxMessages int, waitTimeSeconds, visibilityTimeout int) ([]Message, error)
	DeleteMessageBatch(ctx context.Context, queueURL string, receiptHandles []string) error
	DeleteMessage(ctx context.Context, queueURL string, receiptHandle string) error
	SendMessage(ctx context.Context, queueURL string, body string, attributes map[string]any) error
	ChangeMessageVisibility(ctx context.Context, queueURL string, receiptHandle string, visibilityTimeout int) error
}

// MetadataSink abstracts the original's Spark/Delta persist_metadata
// call; the production implementation is database.MetadataStore, an
// append-only Postgres JSONB table.
type MetadataSink interface {
	Append(ctx context.Context, table string, records []map[string]any) error
}

// WorkerDispatcher submits a batch of payloads to an external job
// runner. A true external collaborator; interface only, per Non-goals.
type WorkerDispatcher interface {
	DispatchJob(ctx context.Context, jobID string, payload []map[string]any, params map[string]any) error
}

// MessageProcessor processes one routed, persisted payload inline
// when no external WorkerDispatcher is configured.
type MessageProcessor interface {
	Process(ctx context.Context, payload map[string]any, analysis router.Analysis) error
}

// Config mirrors the original IngestionConfig dataclass field-for-field.
type Config struct {
	QueueURL                string
	Region                  string
	MaxBatchSize            int
	VisibilityTimeoutBuffer int
	WaitTimeSeconds         int
	PollIntervalSeconds     int
	MaxBatches              int
	DispatchJobID           string
	WorkerTaskParameters    map[string]any
	MetadataTable           string
	RoutingMetadataTable    string
	WorkerConcurrency       int
}

// WithDefaults fills unset fields with the original dataclass defaults.
func (c Config) WithDefaults() Config {
	if c.MaxBatchSize == 0 {
		c.MaxBatchSize = 50
	}
	if c.VisibilityTimeoutBuffer == 0 {
		c.VisibilityTimeoutBuffer = 30
	}
	if c.WaitTimeSeconds == 0 {
		c.WaitTimeSeconds = 20
	}
	if c.PollIntervalSeconds == 0 {
		c.PollIntervalSeconds = 5
	}
	if c.MetadataTable == "" {
		c.MetadataTable = "raw_ingestion_metadata"
	}
	if c.RoutingMetadataTable == "" {
		c.RoutingMetadataTable = c.MetadataTable + "_routing"
	}
	if c.WorkerConcurrency == 0 {
		c.WorkerConcurrency = 8
	}
	return c
}

// Loop runs the SQS batch-ingestion cycle.
type Loop struct {
	client     SQSClient
	overrides  override.Provider
	router     *router.Router
	metadata   MetadataSink
	dispatcher WorkerDispatcher
	processor  MessageProcessor
	config     Config
	logger     *zap.Logger
}

// New builds a Loop.
func New(client SQSClient, overridesProvider override.Provider, r *router.Router, metadata MetadataSink, dispatcher WorkerDispatcher, processor MessageProcessor, config Config, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		client: client, overrides: overridesProvider, router: r,
		metadata: metadata, dispatcher: dispatcher, processor: processor,
		config: config.WithDefaults(), logger: logger,
	}
}

// Run executes cycles until ctx is cancelled or MaxBatches is reached.
func (l *Loop) Run(ctx context.Context) (messages, batches int, err error) {
	for {
		select {
		case <-ctx.Done():
			return messages, batches, nil
		default:
		}

		n, err := l.Cycle(ctx)
		if err != nil {
			return messages, batches, err
		}
		if n == 0 {
			select {
			case <-ctx.Done():
				return messages, batches, nil
			case <-time.After(time.Duration(l.config.PollIntervalSeconds) * time.Second):
			}
			continue
		}

		messages += n
		batches++
		if l.config.MaxBatches > 0 && batches >= l.config.MaxBatches {
			return messages, batches, nil
		}
	}
}

// Cycle runs exactly one ingestion cycle and returns the number of
// messages received (0 when the queue was empty). A message whose inline
// processing fails is left un-deleted, and the cycle returns an error
// once the other messages have been acknowledged.
func (l *Loop) Cycle(ctx context.Context) (int, error) {
	overrideSet, err := l.overrides.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading overrides: %w", err)
	}

	maxMessages := l.config.MaxBatchSize
	if maxMessages > 10 {
		maxMessages = 10
	}
	visibilityTimeout := l.config.VisibilityTimeoutBuffer

	messages, err := l.client.ReceiveMessage(ctx, l.config.QueueURL, maxMessages, l.config.WaitTimeSeconds, visibilityTimeout)
	if err != nil {
		return 0, fmt.Errorf("receiving messages: %w", err)
	}
	if len(messages) == 0 {
		return 0, nil
	}

	type routed struct {
		message  Message
		body     jsonval.Map
		analysis router.Analysis
	}

	var acked []string
	var routedMessages []routed
	var metadataRecords []map[string]any
	var routingRecords []map[string]any

	for _, msg := range messages {
		var body jsonval.Map
		if err := json.Unmarshal([]byte(msg.Body), &body); err != nil {
			l.logger.Warn("malformed message body, leaving for DLQ", zap.String("message_id", msg.MessageID), zap.Error(err))
			continue
		}

		objectKey := resolveObjectKey(body)
		if objectKey == "" {
			l.logger.Warn("message missing object key, leaving for DLQ", zap.String("message_id", msg.MessageID))
			continue
		}

		analysis, err := l.router.Route(ctx, body, objectKey, overrideSet)
		if err != nil {
			l.logger.Warn("routing failed, leaving message un-deleted", zap.String("message_id", msg.MessageID), zap.Error(err))
			continue
		}

		metadataRecords = append(metadataRecords, metadataRecord(msg, body, objectKey, l.config.QueueURL))
		routingRecords = append(routingRecords, routingRecord(objectKey, analysis))
		routedMessages = append(routedMessages, routed{message: msg, body: body, analysis: analysis})
	}

	if l.metadata != nil {
		if err := l.metadata.Append(ctx, l.config.MetadataTable, metadataRecords); err != nil {
			return 0, fmt.Errorf("persisting metadata: %w", err)
		}
		if err := l.metadata.Append(ctx, l.config.RoutingMetadataTable, routingRecords); err != nil {
			return 0, fmt.Errorf("persisting routing metadata: %w", err)
		}
	}

	processErrs := make([]error, len(routedMessages))
	if l.config.DispatchJobID != "" && l.dispatcher != nil {
		payloads := make([]map[string]any, len(routedMessages))
		for i, r := range routedMessages {
			payloads[i] = r.body
		}
		if err := l.dispatcher.DispatchJob(ctx, l.config.DispatchJobID, payloads, l.config.WorkerTaskParameters); err != nil {
			return 0, fmt.Errorf("dispatching to worker: %w", err)
		}
	} else if l.processor != nil {
		p := pool.New().WithMaxGoroutines(l.config.WorkerConcurrency)
		for i, r := range routedMessages {
			i, r := i, r
			p.Go(func() {
				if err := l.processor.Process(ctx, r.body, r.analysis); err != nil {
					l.logger.Warn("inline processing failed, leaving message un-deleted", zap.String("message_id", r.message.MessageID), zap.Error(err))
					processErrs[i] = fmt.Errorf("processing message %s: %w", r.message.MessageID, err)
				}
			})
		}
		p.Wait()
	}

	for i, r := range routedMessages {
		if processErrs[i] == nil {
			acked = append(acked, r.message.ReceiptHandle)
		}
	}
	if len(acked) > 0 {
		if err := l.client.DeleteMessageBatch(ctx, l.config.QueueURL, acked); err != nil {
			return 0, fmt.Errorf("acknowledging messages: %w", err)
		}
	}
	if err := errors.Join(processErrs...); err != nil {
		return 0, err
	}

	return len(messages), nil
}

// resolveObjectKey extracts the object key from any of the shapes the
// queue protocol allows.
func resolveObjectKey(body jsonval.Map) string {
	if key, ok := jsonval.String(jsonval.AsMap(jsonval.GetPath(body, "s3", "object")), "key"); ok && key != "" {
		return key
	}
	for _, name := range []string{"object_key", "objectKey", "source_path"} {
		if key, ok := jsonval.String(body, name); ok && key != "" {
			return key
		}
	}
	return ""
}

func metadataRecord(msg Message, body jsonval.Map, objectKey, queueURL string) map[string]any {
	bucket, _ := jsonval.String(jsonval.AsMap(jsonval.GetPath(body, "s3", "bucket")), "name")
	fileType := strings.TrimPrefix(filepath.Ext(objectKey), ".")
	topic, _ := jsonval.String(body, "TopicArn")
	return map[string]any{
		"source_path": objectKey,
		"file_type":   fileType,
		"message_id":  msg.MessageID,
		"sns_topic":   topic,
		"queue_url":   queueURL,
		"bucket":      bucket,
	}
}

func routingRecord(objectKey string, analysis router.Analysis) map[string]any {
	return map[string]any{
		"source_path": objectKey,
		"routing":     analysis,
	}
}

// DecodeInlineContent decodes a message's inline document bytes, if
// present, from base64 or utf-8 text. Used by a MessageProcessor
// implementation that needs the raw bytes to hand to workflow.Process.
func DecodeInlineContent(body jsonval.Map) ([]byte, bool) {
	for _, name := range []string{"documentBytes", "document_bytes", "documentContent", "document_content", "payload"} {
		s, ok := jsonval.String(body, name)
		if !ok || s == "" {
			continue
		}
		if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
			return decoded, true
		}
		return []byte(s), true
	}
	if inline, ok := jsonval.String(jsonval.AsMap(jsonval.Get(body, "documentMetadata")), "inlineContent"); ok && inline != "" {
		if decoded, err := base64.StdEncoding.DecodeString(inline); err == nil {
			return decoded, true
		}
		return []byte(inline), true
	}
	return nil, false
}
