// Package workflow implements the idempotent document-processing
// pipeline: vendor analyse (with retry), adapter transform, recursive
// email-attachment handling, summarisation, enrichment, and
// checksum-keyed persistence.
package workflow

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"docrouter/adapters"
	"docrouter/enrichment"
	"docrouter/jsonval"
	"docrouter/schema"
	"docrouter/summarize"
)

// MaxAttachmentDepth bounds recursive email-attachment expansion.
const MaxAttachmentDepth = 3

// AnalyzeClient is the vendor analyse capability (Azure Document
// Intelligence or an equivalent), returning the raw provider result
// that an adapters.Adapter knows how to transform.
type AnalyzeClient interface {
	Analyze(ctx context.Context, documentBytes []byte, contentType string) (any, error)
}

// DocumentResultStore provides idempotent persistence keyed by
// (document_id, checksum).
type DocumentResultStore interface {
	HasRecord(ctx context.Context, documentID, checksum string) (bool, error)
	Save(ctx context.Context, doc schema.CanonicalDocument) error
}

// Config configures a DocumentWorkflow.
type Config struct {
	MaxRetries           int
	RetryBackoffSeconds  float64
	Adapter              adapters.Adapter
	Summarizer           summarize.Summarizer
	EnrichmentDispatcher *enrichment.Dispatcher
}

// WithDefaults fills unset retry fields with the teacher-aligned
// defaults (3 retries, 5s linear backoff).
func (c Config) WithDefaults() Config {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoffSeconds == 0 {
		c.RetryBackoffSeconds = 5.0
	}
	return c
}

// Result is the outcome of processing one document.
type Result struct {
	Document *schema.CanonicalDocument
	Skipped  bool
}

// DocumentWorkflow is an idempotent document processing pipeline: one
// call to Process performs vendor analyse, canonicalisation, recursive
// attachment handling, summarisation, enrichment, and persistence.
type DocumentWorkflow struct {
	client AnalyzeClient
	store  DocumentResultStore
	config Config
	logger *zap.Logger
}

// New builds a DocumentWorkflow.
func New(client AnalyzeClient, store DocumentResultStore, config Config, logger *zap.Logger) *DocumentWorkflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentWorkflow{client: client, store: store, config: config.WithDefaults(), logger: logger}
}

// ProcessInput carries everything Process needs for a single document.
type ProcessInput struct {
	DocumentID  string
	Bytes       []byte
	SourceURI   string
	Metadata    jsonval.Map
	ContentType string
	Force       bool
	EnrichWith  []string
}

// Process runs the 8-step idempotent workflow for one document.
func (w *DocumentWorkflow) Process(ctx context.Context, in ProcessInput) (Result, error) {
	checksum := checksumOf(in.Bytes)
	metadata := in.Metadata
	if metadata == nil {
		metadata = jsonval.Map{}
	}

	if !in.Force {
		exists, err := w.store.HasRecord(ctx, in.DocumentID, checksum)
		if err != nil {
			return Result{}, fmt.Errorf("checking existing record: %w", err)
		}
		if exists {
			w.logger.Info("skipping document, identical payload already processed",
				zap.String("document_id", in.DocumentID))
			return Result{Skipped: true}, nil
		}
	}

	analyzeResult, err := w.analyzeWithRetry(ctx, in.Bytes, in.ContentType)
	if err != nil {
		return Result{}, fmt.Errorf("vendor analyse failed after retries: %w", err)
	}

	canonical, err := w.config.Adapter.Transform(ctx, analyzeResult, in.DocumentID, in.SourceURI, checksum, metadata)
	if err != nil {
		return Result{}, fmt.Errorf("transforming analyse result: %w", err)
	}

	canonical = w.attachEmailChildren(ctx, canonical, in.Bytes, in.SourceURI, metadata, 0)

	if w.config.Summarizer != nil {
		summaries, err := w.config.Summarizer.Summarise(ctx, canonical)
		if err != nil {
			w.logger.Warn("summarisation failed", zap.String("document_id", in.DocumentID), zap.Error(err))
		} else if len(summaries) > 0 {
			canonical = canonical.WithSummaries(summaries...)
		}
	}

	if w.config.EnrichmentDispatcher != nil && len(in.EnrichWith) > 0 {
		enrichmentMap, err := w.config.EnrichmentDispatcher.Dispatch(ctx, []schema.CanonicalDocument{canonical}, in.EnrichWith)
		if err != nil {
			w.logger.Warn("enrichment dispatch failed", zap.String("document_id", in.DocumentID), zap.Error(err))
		} else if results := enrichmentMap[canonical.DocumentID]; len(results) > 0 {
			canonical = canonical.WithEnrichments(results...)
		}
	}

	if err := w.store.Save(ctx, canonical); err != nil {
		return Result{}, fmt.Errorf("persisting canonical document: %w", err)
	}

	return Result{Document: &canonical}, nil
}

// analyzeWithRetry calls the vendor client with linear backoff, matching
// the original's `attempt > max_retries` exit condition: attempts run
// 1..max_retries+1, sleeping backoff*attempt between failures.
func (w *DocumentWorkflow) analyzeWithRetry(ctx context.Context, documentBytes []byte, contentType string) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= w.config.MaxRetries+1; attempt++ {
		result, err := w.client.Analyze(ctx, documentBytes, contentType)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt > w.config.MaxRetries {
			w.logger.Error("vendor analyse failed, retries exhausted", zap.Int("attempt", attempt), zap.Error(err))
			break
		}
		backoff := time.Duration(w.config.RetryBackoffSeconds * float64(attempt) * float64(time.Second))
		w.logger.Warn("vendor analyse call failed, retrying", zap.Int("attempt", attempt), zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

// attachEmailChildren walks a message/* document's MIME parts and
// recursively analyses+transforms each attachment, stopping once
// canonical already carries attachments or depth exceeds
// MaxAttachmentDepth.
func (w *DocumentWorkflow) attachEmailChildren(ctx context.Context, canonical schema.CanonicalDocument, documentBytes []byte, sourceURI string, metadata jsonval.Map, depth int) schema.CanonicalDocument {
	if len(canonical.Attachments) > 0 || depth > MaxAttachmentDepth {
		return canonical
	}

	mimeType := strings.ToLower(jsonval.StringOr(metadata, "", "mime_type"))
	if mimeType == "" && canonical.MimeType != nil {
		mimeType = strings.ToLower(*canonical.MimeType)
	}
	if !strings.HasPrefix(mimeType, "message/") {
		return canonical
	}

	parts, err := extractMIMEParts(documentBytes)
	if err != nil {
		w.logger.Warn("unable to parse email payload for attachments", zap.String("document_id", canonical.DocumentID), zap.Error(err))
		return canonical
	}

	var attachments []schema.DocumentAttachment
	for index, part := range parts {
		if len(part.Data) == 0 {
			continue
		}
		attachmentID := fmt.Sprintf("%s::attachment-%d", canonical.DocumentID, index+1)
		attachmentSource := fmt.Sprintf("%s#attachment/%s", sourceURI, part.FileName)
		attachmentChecksum := checksumOf(part.Data)

		attachmentMetadata := jsonval.Map{
			"mime_type":            part.MimeType,
			"parent_document_id":   canonical.DocumentID,
			"attachment_file_name": part.FileName,
		}
		if part.ContentID != "" {
			attachmentMetadata["content_id"] = part.ContentID
		}

		analyzeResult, err := w.client.Analyze(ctx, part.Data, part.MimeType)
		if err != nil {
			w.logger.Warn("vendor analyse of attachment failed", zap.String("document_id", canonical.DocumentID), zap.String("attachment_id", attachmentID), zap.Error(err))
			continue
		}
		attachmentDoc, err := w.config.Adapter.Transform(ctx, analyzeResult, attachmentID, attachmentSource, attachmentChecksum, attachmentMetadata)
		if err != nil {
			w.logger.Warn("transforming attachment failed", zap.String("document_id", canonical.DocumentID), zap.String("attachment_id", attachmentID), zap.Error(err))
			continue
		}

		if strings.HasPrefix(strings.ToLower(part.MimeType), "message/") {
			attachmentDoc = w.attachEmailChildren(ctx, attachmentDoc, part.Data, attachmentSource, attachmentMetadata, depth+1)
		}

		attachments = append(attachments, schema.DocumentAttachment{
			AttachmentID: attachmentID,
			FileName:     part.FileName,
			MimeType:     part.MimeType,
			Checksum:     &attachmentChecksum,
			SourceURI:    &attachmentSource,
			Document:     &attachmentDoc,
		})
	}

	if len(attachments) == 0 {
		return canonical
	}
	return canonical.WithAttachments(attachments...)
}

type mimePart struct {
	FileName  string
	MimeType  string
	ContentID string
	Data      []byte
}

// extractMIMEParts parses an RFC822 message and returns every
// attachment-disposed part, recursing into nested multipart bodies.
func extractMIMEParts(content []byte) ([]mimePart, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(content))
	if err != nil {
		return nil, err
	}
	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return nil, err
	}
	return walkMIMEParts(msg.Header.Get("Content-Type"), body)
}

func walkMIMEParts(contentTypeHeader string, body []byte) ([]mimePart, error) {
	mediaType, params, err := mime.ParseMediaType(contentTypeHeader)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, nil
	}

	var parts []mimePart
	mr := multipart.NewReader(bytes.NewReader(body), params["boundary"])
	index := 0
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		index++

		partContentType := part.Header.Get("Content-Type")
		partMediaType, _, _ := mime.ParseMediaType(partContentType)
		data, err := io.ReadAll(part)
		if err != nil {
			continue
		}

		if strings.HasPrefix(partMediaType, "multipart/") {
			nested, err := walkMIMEParts(partContentType, data)
			if err == nil {
				parts = append(parts, nested...)
			}
			continue
		}

		disposition, dispParams, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		if disposition != "attachment" {
			continue
		}

		fileName := dispParams["filename"]
		if fileName == "" {
			fileName = part.FileName()
		}
		if fileName == "" {
			fileName = fmt.Sprintf("attachment-%d", index)
		}
		if partMediaType == "" {
			partMediaType = "application/octet-stream"
		}

		parts = append(parts, mimePart{
			FileName:  fileName,
			MimeType:  partMediaType,
			ContentID: strings.Trim(part.Header.Get("Content-Id"), "<>"),
			Data:      data,
		})
	}
	return parts, nil
}

func checksumOf(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
