package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"docrouter/jsonval"
	"docrouter/schema"
)

// VisionAdapter normalises LLM-based image/vision parsing responses
// (text spans, key/value fields, visual descriptions) into the
// canonical schema. Registry name: "llm" or "vision".
type VisionAdapter struct{}

const visionProvider = "databricks_llm_image"

// Transform implements Adapter.
func (VisionAdapter) Transform(_ context.Context, payload any, documentID, sourceURI, checksum string, metadata jsonval.Map) (schema.CanonicalDocument, error) {
	root, err := visionCoercePayload(payload)
	if err != nil {
		return schema.CanonicalDocument{}, err
	}

	textSpans := visionTextSpans(root)
	fields := visionFields(root)
	visuals := visionVisuals(root)
	pageSegments := visionPageSegments(textSpans, root)

	metadataPayload := jsonval.Map{"provider": visionProvider}
	for k, v := range metadata {
		metadataPayload[k] = v
	}
	overall := jsonval.StringOr(root, "", "overall_description", "summary")
	if overall != "" {
		if _, exists := metadataPayload["overall_description"]; !exists {
			metadataPayload["overall_description"] = overall
		}
	}

	documentType := jsonval.StringOr(metadataPayload, "image", "document_type")
	mimeType := jsonval.StringOr(metadataPayload, "image", "mime_type", "content_type")

	doc := schema.New(documentID, sourceURI, checksum)
	doc.TextSpans = textSpans
	doc.Tables = []schema.CanonicalTable{}
	doc.Fields = fields
	doc.VisualDescriptions = visuals
	doc.PageSegments = pageSegments
	doc.DocumentType = &documentType
	doc.MimeType = &mimeType
	doc.Metadata = metadataPayload
	return doc, nil
}

func visionCoercePayload(payload any) (jsonval.Map, error) {
	switch p := payload.(type) {
	case string:
		var decoded jsonval.Map
		if err := json.Unmarshal([]byte(p), &decoded); err != nil {
			return nil, NewAdapterError("vision payload must be JSON serialisable: %v", err)
		}
		return decoded, nil
	default:
		return asPayloadMap(payload)
	}
}

func visionTextSpans(root jsonval.Map) []schema.CanonicalTextSpan {
	var spans []schema.CanonicalTextSpan
	items := jsonval.List(root, "text_spans", "textSegments")
	for idx, item := range items {
		im := jsonval.AsMap(item)
		if im == nil {
			continue
		}
		content := jsonval.StringOr(im, "", "content", "text")
		if content == "" {
			continue
		}
		confidence := normaliseConfidence(im, "confidence")
		spanID := jsonval.StringOr(im, fmt.Sprintf("span-%d", idx), "id", "span_id")
		region := buildRegion(im, 0)
		var pageSpan []int
		if region != nil {
			pageSpan = []int{region.Page}
		}
		spans = append(spans, schema.CanonicalTextSpan{
			Content:    content,
			Confidence: confidence,
			Region:     region,
			SpanID:     spanID,
			Provenance: schema.ExtractionProvenance{Parser: visionProvider, Method: "llm_text", PageSpan: pageSpan},
			ConfidenceSignals: []schema.ConfidenceSignal{
				{Source: visionProvider, Confidence: confidence, Method: "llm_text"},
			},
		})
	}
	return spans
}

func visionFields(root jsonval.Map) []schema.StructuredField {
	var fields []schema.StructuredField
	for _, item := range jsonval.List(root, "fields") {
		im := jsonval.AsMap(item)
		if im == nil {
			continue
		}
		name, ok := jsonval.String(im, "name")
		if !ok || name == "" {
			continue
		}
		var value *string
		if s, ok := jsonval.String(im, "value"); ok {
			value = &s
		}
		confidence := normaliseConfidence(im, "confidence")
		var valueType *string
		if s, ok := jsonval.String(im, "value_type", "type"); ok {
			valueType = &s
		}
		region := buildRegion(im, 0)
		var pageSpan []int
		if region != nil {
			pageSpan = []int{region.Page}
		}
		fields = append(fields, schema.StructuredField{
			Name:       name,
			Value:      value,
			Confidence: confidence,
			ValueType:  valueType,
			Region:     region,
			Provenance: schema.ExtractionProvenance{Parser: visionProvider, Method: "llm_field", PageSpan: pageSpan},
			ConfidenceSignals: []schema.ConfidenceSignal{
				{Source: visionProvider, Confidence: confidence, Method: "llm_field"},
			},
		})
	}
	return fields
}

func visionVisuals(root jsonval.Map) []schema.VisualDescription {
	var visuals []schema.VisualDescription
	items := jsonval.List(root, "visual_descriptions", "visualDescriptions")
	for _, item := range items {
		im := jsonval.AsMap(item)
		if im == nil {
			continue
		}
		description := jsonval.StringOr(im, "", "description", "content")
		if description == "" {
			continue
		}
		confidence := normaliseConfidence(im, "confidence")
		region := buildRegion(im, 0)
		visuals = append(visuals, schema.VisualDescription{
			Description: description,
			Confidence:  confidence,
			Region:      region,
			Provenance:  schema.ExtractionProvenance{Parser: visionProvider, Method: "vision_description"},
		})
	}
	if len(items) == 0 {
		overall := jsonval.StringOr(root, "", "overall_description", "summary")
		if overall != "" {
			visuals = append(visuals, schema.VisualDescription{
				Description: overall,
				Confidence:  1.0,
				Provenance:  schema.ExtractionProvenance{Parser: visionProvider, Method: "vision_description"},
			})
		}
	}
	return visuals
}

func visionPageSegments(spans []schema.CanonicalTextSpan, root jsonval.Map) []schema.PageSegment {
	seen := map[int]bool{}
	var out []schema.PageSegment
	for _, s := range spans {
		if s.Region == nil || seen[s.Region.Page] {
			continue
		}
		seen[s.Region.Page] = true
		out = append(out, schema.PageSegment{PageNumber: s.Region.Page, Parser: visionProvider, Method: "vision"})
	}
	if len(out) == 0 {
		defaultPage := jsonval.IntOr(root, 1, "page")
		out = append(out, schema.PageSegment{PageNumber: defaultPage, Parser: visionProvider, Method: "vision"})
	}
	return out
}
