package adapters

import (
	"context"
	"fmt"

	"docrouter/jsonval"
	"docrouter/schema"
)

// StructuralPDFAdapter normalises structural PDF extraction payloads
// (the shape produced by a PyMuPDF-style text/table/field extractor)
// into the canonical schema. Registry name: "pdf".
type StructuralPDFAdapter struct{}

const structuralPDFProvider = "pymupdf"

// Transform implements Adapter.
func (StructuralPDFAdapter) Transform(_ context.Context, payload any, documentID, sourceURI, checksum string, metadata jsonval.Map) (schema.CanonicalDocument, error) {
	root, err := asPayloadMap(payload)
	if err != nil {
		return schema.CanonicalDocument{}, err
	}
	pages := jsonval.List(root, "pages")
	if len(pages) == 0 {
		return schema.CanonicalDocument{}, NewAdapterError("pdf adapter payload must include a non-empty 'pages' list")
	}

	var textSpans []schema.CanonicalTextSpan
	var tables []schema.CanonicalTable
	var fields []schema.StructuredField
	var pageSegments []schema.PageSegment

	for _, p := range pages {
		page := jsonval.AsMap(p)
		if page == nil {
			continue
		}
		pageNumber := jsonval.IntOr(page, 1, "page_number", "number", "index")
		pageConfidence := normaliseConfidence(page, "confidence")

		segMeta := map[string]any{}
		if rotation := jsonval.Get(page, "rotation"); rotation != nil {
			segMeta["rotation"] = rotation
		}
		pageSegments = append(pageSegments, schema.PageSegment{
			PageNumber: pageNumber,
			Parser:     structuralPDFProvider,
			Method:     jsonval.StringOr(page, "text", "method"),
			Confidence: pageConfidence,
			Metadata:   segMeta,
		})

		textSpans = append(textSpans, pdfPageTextSpans(page, pageNumber)...)
		tables = append(tables, pdfPageTables(page, pageNumber)...)
		fields = append(fields, pdfStructuredFields(jsonval.Get(page, "fields"), &pageNumber)...)
	}

	fields = append(fields, pdfStructuredFields(jsonval.Get(root, "fields"), nil)...)

	metadataPayload := jsonval.Map{"provider": structuralPDFProvider}
	for k, v := range jsonval.AsMap(jsonval.Get(root, "metadata")) {
		metadataPayload[k] = v
	}
	for k, v := range metadata {
		metadataPayload[k] = v
	}
	documentType := jsonval.StringOr(metadataPayload, jsonval.StringOr(root, "document", "document_type"), "document_type")
	var mimeType *string
	if s, ok := jsonval.String(metadataPayload, "mime_type"); ok {
		mimeType = &s
	} else if s, ok := jsonval.String(root, "mime_type"); ok {
		mimeType = &s
	}

	doc := schema.New(documentID, sourceURI, checksum)
	doc.TextSpans = textSpans
	doc.Tables = tables
	doc.Fields = fields
	doc.PageSegments = pageSegments
	doc.DocumentType = &documentType
	doc.MimeType = mimeType
	doc.Metadata = metadataPayload
	return doc, nil
}

// pdfBuildRegion always returns a region (unlike the shared optional
// buildRegion helper): PyMuPDF-style payloads carry an implicit page
// for every extracted item, even when no explicit bounds are present.
func pdfBuildRegion(entry jsonval.Map, defaultPage int) *schema.BoundingRegion {
	if defaultPage == 0 {
		defaultPage = 1
	}
	if entry == nil {
		return &schema.BoundingRegion{Page: defaultPage}
	}
	page := jsonval.IntOr(entry, defaultPage, "page", "page_number", "pageNumber")
	return &schema.BoundingRegion{
		Page:        page,
		Polygon:     jsonval.FloatSlice(jsonval.Get(entry, "polygon")),
		BoundingBox: jsonval.FloatSlice(jsonval.Get(entry, "bounding_box", "boundingBox", "bbox", "rect")),
	}
}

func pdfCollectTextItems(page jsonval.Map) []any {
	for _, key := range []string{"text_spans", "spans", "text_blocks", "blocks", "lines"} {
		if items := jsonval.List(page, key); items != nil {
			return items
		}
	}
	if text, ok := jsonval.String(page, "text"); ok && text != "" {
		return []any{jsonval.Map{"content": text, "confidence": jsonval.Get(page, "confidence")}}
	}
	return nil
}

func pdfPageTextSpans(page jsonval.Map, pageNumber int) []schema.CanonicalTextSpan {
	var spans []schema.CanonicalTextSpan
	for idx, item := range pdfCollectTextItems(page) {
		im := jsonval.AsMap(item)
		if im == nil {
			continue
		}
		content := jsonval.StringOr(im, "", "content", "text")
		if content == "" {
			continue
		}
		confidence := normaliseConfidence(im, "confidence")
		spanID := jsonval.StringOr(im, fmt.Sprintf("p%d-span-%d", pageNumber, idx), "id")
		region := pdfBuildRegion(im, pageNumber)
		method := jsonval.StringOr(im, "text_block", "method")
		spans = append(spans, schema.CanonicalTextSpan{
			Content:    content,
			Confidence: confidence,
			Region:     region,
			SpanID:     spanID,
			Provenance: schema.ExtractionProvenance{Parser: structuralPDFProvider, Method: method, PageSpan: []int{region.Page}},
			ConfidenceSignals: []schema.ConfidenceSignal{
				{Source: structuralPDFProvider, Confidence: confidence, Method: method},
			},
		})
	}
	return spans
}

func pdfPageTables(page jsonval.Map, pageNumber int) []schema.CanonicalTable {
	var tables []schema.CanonicalTable
	for idx, t := range jsonval.List(page, "tables") {
		tm := jsonval.AsMap(t)
		if tm == nil {
			continue
		}
		tableID := jsonval.StringOr(tm, fmt.Sprintf("p%d-table-%d", pageNumber, idx), "id")
		tableConfidence := normaliseConfidence(tm, "confidence")

		var cells []schema.CanonicalTableCell
		for _, c := range jsonval.List(tm, "cells") {
			cm := jsonval.AsMap(c)
			if cm == nil {
				continue
			}
			region := pdfBuildRegion(cm, pageNumber)
			cellConfidence := normaliseConfidence(cm, "confidence")
			cells = append(cells, schema.CanonicalTableCell{
				RowIndex:    jsonval.IntOr(cm, 0, "row_index", "row"),
				ColumnIndex: jsonval.IntOr(cm, 0, "column_index", "column"),
				Content:     jsonval.StringOr(cm, "", "content", "text"),
				Confidence:  cellConfidence,
				Region:      region,
				RowSpan:     jsonval.IntOr(cm, 1, "row_span", "rowSpan"),
				ColumnSpan:  jsonval.IntOr(cm, 1, "column_span", "col_span", "columnSpan"),
				Provenance:  schema.ExtractionProvenance{Parser: structuralPDFProvider, Method: "table_cell", PageSpan: []int{region.Page}},
				ConfidenceSignals: []schema.ConfidenceSignal{
					{Source: structuralPDFProvider, Confidence: cellConfidence, Method: "table_cell"},
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
			Confidence: tableConfidence,
			Cells:      cells,
			Caption:    caption,
			Footnotes:  footnotes,
			Provenance: schema.ExtractionProvenance{Parser: structuralPDFProvider, Method: "table", PageSpan: []int{pageNumber}},
		})
	}
	return tables
}

func pdfStructuredFields(raw any, pageHint *int) []schema.StructuredField {
	var fields []schema.StructuredField
	switch v := raw.(type) {
	case jsonval.Map:
		for name, item := range v {
			if f, ok := pdfBuildField(name, item, pageHint); ok {
				fields = append(fields, f)
			}
		}
	case []any:
		for idx, item := range v {
			if f, ok := pdfBuildField(fmt.Sprintf("%d", idx), item, pageHint); ok {
				fields = append(fields, f)
			}
		}
	}
	return fields
}

func pdfBuildField(name string, raw any, pageHint *int) (schema.StructuredField, bool) {
	fm := jsonval.AsMap(raw)
	if fm == nil {
		return schema.StructuredField{}, false
	}
	var value *string
	if s, ok := jsonval.String(fm, "value", "text"); ok {
		value = &s
	}
	confidence := normaliseConfidence(fm, "confidence")
	defaultPage := 1
	if pageHint != nil {
		defaultPage = *pageHint
	}
	region := pdfBuildRegion(fm, defaultPage)

	method := jsonval.StringOr(fm, "field", "method")
	var valueType *string
	if s, ok := jsonval.String(fm, "value_type", "type"); ok {
		valueType = &s
	}
	return schema.StructuredField{
		Name:       name,
		Value:      value,
		Confidence: confidence,
		ValueType:  valueType,
		Region:     region,
		Provenance: schema.ExtractionProvenance{Parser: structuralPDFProvider, Method: method, PageSpan: []int{region.Page}},
		ConfidenceSignals: []schema.ConfidenceSignal{
			{Source: structuralPDFProvider, Confidence: confidence, Method: method},
		},
	}, true
}
