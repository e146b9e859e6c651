package adapters

import (
	"context"

	"docrouter/jsonval"
	"docrouter/schema"
)

// EnsembleAdapter invokes multiple registered adapters and merges their
// canonical outputs in encounter order into a single document.
type EnsembleAdapter struct {
	registry map[string]Adapter
}

// NewEnsembleAdapter builds an EnsembleAdapter over the given registry
// of parser-name -> Adapter. Panics if the registry is empty, mirroring
// the original's eager construction-time validation.
func NewEnsembleAdapter(registry map[string]Adapter) *EnsembleAdapter {
	if len(registry) == 0 {
		panic("adapters: EnsembleAdapter requires at least one registered adapter")
	}
	cp := make(map[string]Adapter, len(registry))
	for k, v := range registry {
		cp[k] = v
	}
	return &EnsembleAdapter{registry: cp}
}

// Transform implements Adapter.
func (e *EnsembleAdapter) Transform(ctx context.Context, payload any, documentID, sourceURI, checksum string, metadata jsonval.Map) (schema.CanonicalDocument, error) {
	root, err := asPayloadMap(payload)
	if err != nil {
		return schema.CanonicalDocument{}, err
	}
	parserPayloads := jsonval.List(root, "parsers")
	if len(parserPayloads) == 0 {
		return schema.CanonicalDocument{}, NewAdapterError("ensemble payload must contain a non-empty 'parsers' list")
	}

	sharedMetadata := jsonval.Map{}
	for k, v := range jsonval.AsMap(jsonval.Get(root, "document_metadata")) {
		sharedMetadata[k] = v
	}
	for k, v := range metadata {
		sharedMetadata[k] = v
	}

	var documentType, mimeType *string
	if s, ok := jsonval.String(sharedMetadata, "document_type"); ok {
		documentType = &s
	}
	if s, ok := jsonval.String(sharedMetadata, "mime_type"); ok {
		mimeType = &s
	}

	doc := schema.New(documentID, sourceURI, checksum)
	var parsersUsed []string

	for _, entry := range parserPayloads {
		em := jsonval.AsMap(entry)
		if em == nil {
			continue
		}
		name, ok := jsonval.String(em, "name")
		if !ok || name == "" {
			return schema.CanonicalDocument{}, NewAdapterError("each ensemble parser entry must include a 'name'")
		}
		adapter, ok := e.registry[name]
		if !ok {
			return schema.CanonicalDocument{}, NewAdapterError("no adapter registered for parser %q", name)
		}

		entryPayload := jsonval.Get(em, "payload")
		subMetadata := jsonval.Map{}
		for k, v := range sharedMetadata {
			subMetadata[k] = v
		}
		for k, v := range jsonval.AsMap(jsonval.Get(em, "metadata")) {
			subMetadata[k] = v
		}

		canonical, err := adapter.Transform(ctx, entryPayload, documentID, sourceURI, checksum, subMetadata)
		if err != nil {
			return schema.CanonicalDocument{}, err
		}

		doc.TextSpans = append(doc.TextSpans, canonical.TextSpans...)
		doc.Tables = append(doc.Tables, canonical.Tables...)
		doc.Fields = append(doc.Fields, canonical.Fields...)
		doc.VisualDescriptions = append(doc.VisualDescriptions, canonical.VisualDescriptions...)
		doc.PageSegments = append(doc.PageSegments, canonical.PageSegments...)
		doc.Attachments = append(doc.Attachments, canonical.Attachments...)
		doc.Summaries = append(doc.Summaries, canonical.Summaries...)

		if documentType == nil && canonical.DocumentType != nil {
			documentType = canonical.DocumentType
		}
		if mimeType == nil && canonical.MimeType != nil {
			mimeType = canonical.MimeType
		}

		provider := name
		if p, ok := jsonval.String(canonical.Metadata, "provider"); ok && p != "" {
			provider = p
		}
		parsersUsed = append(parsersUsed, provider)
	}

	doc.Attachments = append(doc.Attachments, ensembleAdditionalAttachments(jsonval.List(root, "attachments"))...)

	metadataPayload := jsonval.Map{"provider": "multi_parser"}
	for k, v := range sharedMetadata {
		metadataPayload[k] = v
	}
	if len(parsersUsed) > 0 {
		metadataPayload["parsers_used"] = parsersUsed
	}

	doc.DocumentType = documentType
	doc.MimeType = mimeType
	doc.Metadata = metadataPayload
	return doc, nil
}

func ensembleAdditionalAttachments(raw []any) []schema.DocumentAttachment {
	var out []schema.DocumentAttachment
	for _, item := range raw {
		am := jsonval.AsMap(item)
		if am == nil {
			continue
		}
		attachmentID, hasID := jsonval.String(am, "attachment_id", "id")
		fileName, hasName := jsonval.String(am, "file_name", "name")
		mimeType, hasMime := jsonval.String(am, "mime_type", "content_type")
		if !hasID || !hasName || !hasMime {
			continue
		}
		var checksum, sourceURI *string
		if s, ok := jsonval.String(am, "checksum"); ok {
			checksum = &s
		}
		if s, ok := jsonval.String(am, "source_uri"); ok {
			sourceURI = &s
		}
		attachmentMetadata := jsonval.Map{}
		for k, v := range jsonval.AsMap(jsonval.Get(am, "metadata")) {
			attachmentMetadata[k] = v
		}
		out = append(out, schema.DocumentAttachment{
			AttachmentID: attachmentID,
			FileName:     fileName,
			MimeType:     mimeType,
			Checksum:     checksum,
			SourceURI:    sourceURI,
			Metadata:     attachmentMetadata,
		})
	}
	return out
}
