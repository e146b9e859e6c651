package external

import (
	"context"
	"fmt"

	"docrouter/ingestion"
	"docrouter/jsonval"
	"docrouter/resolve"
	"docrouter/router"
	"docrouter/workflow"
)

// DocumentProcessor bridges a routed ingestion message to
// workflow.DocumentWorkflow: it resolves the document's bytes (inline
// in the message, or by range-getting the source object) and hands
// them to the workflow. Implements ingestion.MessageProcessor.
type DocumentProcessor struct {
	Workflow *workflow.DocumentWorkflow
	Objects  resolve.ObjectStore
}

// NewDocumentProcessor builds a DocumentProcessor.
func NewDocumentProcessor(wf *workflow.DocumentWorkflow, objects resolve.ObjectStore) *DocumentProcessor {
	if objects == nil {
		objects = resolve.NullObjectStore{}
	}
	return &DocumentProcessor{Workflow: wf, Objects: objects}
}

// Process implements ingestion.MessageProcessor.
func (p *DocumentProcessor) Process(ctx context.Context, payload map[string]any, analysis router.Analysis) error {
	content, ok := ingestion.DecodeInlineContent(payload)
	if !ok {
		bucket, _ := jsonval.String(jsonval.AsMap(jsonval.GetPath(payload, "s3", "bucket")), "name")
		if bucket == "" || analysis.ObjectKey == "" {
			return fmt.Errorf("no inline content and no s3 bucket to fetch %s", analysis.ObjectKey)
		}
		fetched, err := p.Objects.RangeGet(ctx, bucket, analysis.ObjectKey, 0)
		if err != nil {
			return fmt.Errorf("fetching document bytes for %s: %w", analysis.ObjectKey, err)
		}
		content = fetched
	}

	sourceURI := fmt.Sprintf("s3://%s/%s", bucketFromPayload(payload), analysis.ObjectKey)

	_, err := p.Workflow.Process(ctx, workflow.ProcessInput{
		DocumentID:  analysis.ObjectKey,
		Bytes:       content,
		SourceURI:   sourceURI,
		Metadata:    payload,
		ContentType: analysis.MimeType,
	})
	return err
}

func bucketFromPayload(payload map[string]any) string {
	bucket, _ := jsonval.String(jsonval.AsMap(jsonval.GetPath(payload, "s3", "bucket")), "name")
	return bucket
}
