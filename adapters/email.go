package adapters

import (
	"context"
	"fmt"

	"docrouter/jsonval"
	"docrouter/schema"
)

// EmailAdapter normalises parsed email data structures (body text,
// headers, entities, attachments) into the canonical schema.
type EmailAdapter struct{}

const emailProvider = "email_parser"

// Transform implements Adapter.
func (EmailAdapter) Transform(_ context.Context, payload any, documentID, sourceURI, checksum string, metadata jsonval.Map) (schema.CanonicalDocument, error) {
	root, err := asPayloadMap(payload)
	if err != nil {
		return schema.CanonicalDocument{}, err
	}

	metadataPayload := jsonval.Map{"provider": emailProvider}
	for k, v := range jsonval.AsMap(jsonval.Get(root, "metadata")) {
		metadataPayload[k] = v
	}
	for k, v := range metadata {
		metadataPayload[k] = v
	}
	for _, key := range []string{"subject", "from", "to", "cc", "bcc", "sent_at"} {
		if v, present := root[key]; present {
			if _, exists := metadataPayload[key]; !exists {
				metadataPayload[key] = v
			}
		}
	}

	textSpans := emailTextSpans(root)
	fields := emailHeaderFields(root)
	attachments := emailAttachments(jsonval.List(root, "attachments"))

	documentType := jsonval.StringOr(metadataPayload, "email", "document_type")
	mimeType := jsonval.StringOr(metadataPayload, "message/rfc822", "mime_type")

	doc := schema.New(documentID, sourceURI, checksum)
	doc.TextSpans = textSpans
	doc.Tables = []schema.CanonicalTable{}
	doc.Fields = fields
	doc.PageSegments = []schema.PageSegment{{PageNumber: 1, Parser: emailProvider, Method: "message"}}
	doc.Attachments = attachments
	doc.DocumentType = &documentType
	doc.MimeType = &mimeType
	doc.Metadata = metadataPayload
	return doc, nil
}

func emailTextSpans(root jsonval.Map) []schema.CanonicalTextSpan {
	var spans []schema.CanonicalTextSpan

	bodyText := jsonval.StringOr(root, "", "body_text", "text")
	if bodyText != "" {
		spans = append(spans, emailSpanFromText(bodyText, "body_text", "body-text"))
	}

	for idx, raw := range jsonval.List(root, "text_spans") {
		sm := jsonval.AsMap(raw)
		if sm == nil {
			continue
		}
		content := jsonval.StringOr(sm, "", "content", "text")
		if content == "" {
			continue
		}
		confidence := normaliseConfidence(sm, "confidence")
		method := jsonval.StringOr(sm, "body_segment", "method")
		spanID := jsonval.StringOr(sm, fmt.Sprintf("email-span-%d", idx), "id")
		spans = append(spans, schema.CanonicalTextSpan{
			Content:    content,
			Confidence: confidence,
			SpanID:     spanID,
			Provenance: schema.ExtractionProvenance{Parser: emailProvider, Method: method},
			ConfidenceSignals: []schema.ConfidenceSignal{
				{Source: emailProvider, Confidence: confidence, Method: method},
			},
		})
	}
	return spans
}

func emailSpanFromText(text, method, spanID string) schema.CanonicalTextSpan {
	return schema.CanonicalTextSpan{
		Content:    text,
		Confidence: 1.0,
		SpanID:     spanID,
		Provenance: schema.ExtractionProvenance{Parser: emailProvider, Method: method},
		ConfidenceSignals: []schema.ConfidenceSignal{
			{Source: emailProvider, Confidence: 1.0, Method: method},
		},
	}
}

func emailHeaderFields(root jsonval.Map) []schema.StructuredField {
	var fields []schema.StructuredField

	headers := jsonval.AsMap(jsonval.Get(root, "headers"))
	for name, raw := range headers {
		var value *string
		if s, ok := raw.(string); ok {
			value = &s
		} else if raw != nil {
			s := fmt.Sprintf("%v", raw)
			value = &s
		}
		valueType := "header"
		fields = append(fields, schema.StructuredField{
			Name:       name,
			Value:      value,
			Confidence: 1.0,
			ValueType:  &valueType,
			Provenance: schema.ExtractionProvenance{Parser: emailProvider, Method: "header"},
			ConfidenceSignals: []schema.ConfidenceSignal{
				{Source: emailProvider, Confidence: 1.0, Method: "header"},
			},
		})
	}

	for idx, raw := range jsonval.List(root, "entities") {
		em := jsonval.AsMap(raw)
		if em == nil {
			continue
		}
		name := jsonval.StringOr(em, fmt.Sprintf("entity-%d", idx), "name", "label")
		var value *string
		if s, ok := jsonval.String(em, "value", "text"); ok {
			value = &s
		}
		confidence := normaliseConfidence(em, "confidence")
		method := jsonval.StringOr(em, "entity", "method")
		valueType := jsonval.StringOr(em, "entity", "type")
		fields = append(fields, schema.StructuredField{
			Name:       name,
			Value:      value,
			Confidence: confidence,
			ValueType:  &valueType,
			Provenance: schema.ExtractionProvenance{Parser: emailProvider, Method: method},
			ConfidenceSignals: []schema.ConfidenceSignal{
				{Source: emailProvider, Confidence: confidence, Method: method},
			},
		})
	}
	return fields
}

func emailAttachments(raw []any) []schema.DocumentAttachment {
	var out []schema.DocumentAttachment
	for idx, item := range raw {
		am := jsonval.AsMap(item)
		if am == nil {
			continue
		}
		attachmentID := jsonval.StringOr(am, fmt.Sprintf("attachment-%d", idx), "attachment_id", "id")
		fileName, hasName := jsonval.String(am, "file_name", "name")
		mimeType, hasMime := jsonval.String(am, "mime_type", "content_type")
		if !hasName || !hasMime {
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
