package adapters

import (
	"context"
	"fmt"
	"strconv"

	"docrouter/jsonval"
	"docrouter/schema"
)

// AzureAdapter transforms Azure Document Intelligence analyze-result
// payloads (paragraphs/pages/tables/documents.fields) into the
// canonical schema.
type AzureAdapter struct{}

const azureProvider = "azure_document_intelligence"

// Transform implements Adapter.
func (AzureAdapter) Transform(_ context.Context, payload any, documentID, sourceURI, checksum string, metadata jsonval.Map) (schema.CanonicalDocument, error) {
	root, err := asPayloadMap(payload)
	if err != nil {
		return schema.CanonicalDocument{}, err
	}
	analyzeResult := jsonval.AsMap(jsonval.Get(root, "analyzeResult", "analyze_result"))
	if analyzeResult == nil {
		analyzeResult = root
	}

	textSpans := azureTextSpans(analyzeResult)
	tables := azureTables(analyzeResult)
	fields := azureFields(analyzeResult)
	pageSegments := azurePageSegments(analyzeResult)
	if len(pageSegments) == 0 {
		pageSegments = inferPageSegmentsFromSpans(textSpans, azureProvider)
	}

	metadataPayload := jsonval.Map{"provider": azureProvider}
	for k, v := range metadata {
		metadataPayload[k] = v
	}
	var documentType, mimeType *string
	if s, ok := jsonval.String(metadataPayload, "document_type"); ok {
		documentType = &s
	}
	if s, ok := jsonval.String(metadataPayload, "mime_type", "content_type"); ok {
		mimeType = &s
	}

	doc := schema.New(documentID, sourceURI, checksum)
	doc.TextSpans = textSpans
	doc.Tables = tables
	doc.Fields = fields
	doc.PageSegments = pageSegments
	doc.DocumentType = documentType
	doc.MimeType = mimeType
	doc.Metadata = metadataPayload
	return doc, nil
}

func azureTextSpans(analyzeResult jsonval.Map) []schema.CanonicalTextSpan {
	var spans []schema.CanonicalTextSpan
	paragraphs := jsonval.List(analyzeResult, "paragraphs")
	for idx, p := range paragraphs {
		pm := jsonval.AsMap(p)
		content, ok := jsonval.String(pm, "content")
		if !ok || content == "" {
			continue
		}
		region := azureFirstRegion(pm, 0, false)
		confidence := normaliseConfidence(pm, "confidence")
		spanID := jsonval.StringOr(pm, strconv.Itoa(idx), "id")
		spans = append(spans, schema.CanonicalTextSpan{
			Content:    content,
			Confidence: confidence,
			Region:     region,
			SpanID:     spanID,
			Provenance: schema.ExtractionProvenance{Parser: azureProvider, Method: "paragraph", PageSpan: pageSpanOf(region)},
			ConfidenceSignals: []schema.ConfidenceSignal{
				{Source: azureProvider, Confidence: confidence, Method: "paragraph"},
			},
		})
	}
	if len(spans) > 0 {
		return spans
	}

	for _, pg := range jsonval.List(analyzeResult, "pages") {
		pm := jsonval.AsMap(pg)
		pageNumber := jsonval.IntOr(pm, 1, "page_number", "pageNumber")
		for idx, ln := range jsonval.List(pm, "lines") {
			lm := jsonval.AsMap(ln)
			content, ok := jsonval.String(lm, "content")
			if !ok || content == "" {
				continue
			}
			region := azureFirstRegion(lm, pageNumber, false)
			confidence := normaliseConfidence(lm, "confidence")
			spanID := jsonval.StringOr(lm, fmt.Sprintf("page-%d-line-%d", pageNumber, idx), "id")
			spans = append(spans, schema.CanonicalTextSpan{
				Content:    content,
				Confidence: confidence,
				Region:     region,
				SpanID:     spanID,
				Provenance: schema.ExtractionProvenance{Parser: azureProvider, Method: "line", PageSpan: []int{pageNumber}},
				ConfidenceSignals: []schema.ConfidenceSignal{
					{Source: azureProvider, Confidence: confidence, Method: "line"},
				},
			})
		}
	}
	return spans
}

func azureTables(analyzeResult jsonval.Map) []schema.CanonicalTable {
	var tables []schema.CanonicalTable
	for idx, t := range jsonval.List(analyzeResult, "tables") {
		tm := jsonval.AsMap(t)
		tableID := jsonval.StringOr(tm, fmt.Sprintf("table-%d", idx), "id")
		confidence := normaliseConfidence(tm, "confidence")

		var cells []schema.CanonicalTableCell
		for _, c := range jsonval.List(tm, "cells") {
			cm := jsonval.AsMap(c)
			region := azureFirstRegion(cm, 0, false)
			cellConfidence := normaliseConfidence(cm, "confidence")
			cells = append(cells, schema.CanonicalTableCell{
				RowIndex:    jsonval.IntOr(cm, 0, "row_index", "rowIndex"),
				ColumnIndex: jsonval.IntOr(cm, 0, "column_index", "columnIndex"),
				Content:     jsonval.StringOr(cm, "", "content"),
				Confidence:  cellConfidence,
				Region:      region,
				RowSpan:     jsonval.IntOr(cm, 1, "row_span", "rowSpan"),
				ColumnSpan:  jsonval.IntOr(cm, 1, "column_span", "columnSpan"),
				Provenance:  schema.ExtractionProvenance{Parser: azureProvider, Method: "table_cell", PageSpan: pageSpanOf(region)},
				ConfidenceSignals: []schema.ConfidenceSignal{
					{Source: azureProvider, Confidence: cellConfidence, Method: "table_cell"},
				},
			})
		}

		var caption *string
		if s, ok := jsonval.String(tm, "caption"); ok {
			caption = &s
		}
		var footnotes []string
		for _, f := range jsonval.List(tm, "footnotes") {
			if s, ok := f.(string); ok {
				footnotes = append(footnotes, s)
			}
		}

		tables = append(tables, schema.CanonicalTable{
			TableID:    tableID,
			Confidence: confidence,
			Cells:      cells,
			Caption:    caption,
			Footnotes:  footnotes,
			Provenance: schema.ExtractionProvenance{Parser: azureProvider, Method: "table"},
		})
	}
	return tables
}

func azureFields(analyzeResult jsonval.Map) []schema.StructuredField {
	var fields []schema.StructuredField
	for _, d := range jsonval.List(analyzeResult, "documents") {
		dm := jsonval.AsMap(d)
		fieldMap := jsonval.AsMap(jsonval.Get(dm, "fields"))
		for name, raw := range fieldMap {
			fm := jsonval.AsMap(raw)
			if fm == nil {
				continue
			}
			var value *string
			if s, ok := jsonval.String(fm, "value", "content"); ok {
				value = &s
			}
			var valueType *string
			if s, ok := jsonval.String(fm, "type", "value_type"); ok {
				valueType = &s
			}
			confidence := normaliseConfidence(fm, "confidence")
			region := azureFirstRegion(fm, 0, true)
			fields = append(fields, schema.StructuredField{
				Name:       name,
				Value:      value,
				Confidence: confidence,
				ValueType:  valueType,
				Region:     region,
				Provenance: schema.ExtractionProvenance{Parser: azureProvider, Method: "field", PageSpan: pageSpanOf(region)},
				ConfidenceSignals: []schema.ConfidenceSignal{
					{Source: azureProvider, Confidence: confidence, Method: "field"},
				},
			})
		}
	}
	return fields
}

func azurePageSegments(analyzeResult jsonval.Map) []schema.PageSegment {
	var segments []schema.PageSegment
	for _, pg := range jsonval.List(analyzeResult, "pages") {
		pm := jsonval.AsMap(pg)
		pageNumber := jsonval.IntOr(pm, 1, "page_number", "pageNumber")
		segments = append(segments, schema.PageSegment{
			PageNumber: pageNumber,
			Parser:     azureProvider,
			Method:     "layout",
			Confidence: normaliseConfidence(pm, "confidence"),
		})
	}
	return segments
}

func azureFirstRegion(obj jsonval.Map, defaultPage int, optional bool) *schema.BoundingRegion {
	regions := jsonval.List(obj, "bounding_regions", "regions")
	if len(regions) == 0 {
		if optional {
			return nil
		}
		page := defaultPage
		if page == 0 {
			page = 1
		}
		return &schema.BoundingRegion{Page: page}
	}
	rm := jsonval.AsMap(regions[0])
	page := jsonval.IntOr(rm, defaultPage, "page_number", "pageNumber")
	if page == 0 {
		page = 1
	}
	return &schema.BoundingRegion{
		Page:        page,
		Polygon:     jsonval.FloatSlice(jsonval.Get(rm, "polygon")),
		BoundingBox: jsonval.FloatSlice(jsonval.Get(rm, "bounding_box", "boundingBox")),
	}
}

func pageSpanOf(region *schema.BoundingRegion) []int {
	if region == nil {
		return nil
	}
	return []int{region.Page}
}

func inferPageSegmentsFromSpans(spans []schema.CanonicalTextSpan, provider string) []schema.PageSegment {
	seen := map[int]bool{}
	var out []schema.PageSegment
	for _, s := range spans {
		if s.Region == nil || seen[s.Region.Page] {
			continue
		}
		seen[s.Region.Page] = true
		out = append(out, schema.PageSegment{PageNumber: s.Region.Page, Parser: provider, Method: "inferred"})
	}
	if len(out) == 0 {
		out = append(out, schema.PageSegment{PageNumber: 1, Parser: provider, Method: "analysis"})
	}
	return out
}
