package adapters

import (
	"context"
	"testing"

	"docrouter/jsonval"
)

func TestStructuralPDFAdapterRejectsMissingPages(t *testing.T) {
	_, err := StructuralPDFAdapter{}.Transform(context.Background(), jsonval.Map{}, "doc-1", "s3://b/k", "sum", nil)
	if !IsAdapterError(err) {
		t.Fatalf("expected AdapterError, got %v", err)
	}
}

func TestStructuralPDFAdapterParsesPagesTablesFields(t *testing.T) {
	payload := jsonval.Map{
		"pages": []any{
			jsonval.Map{
				"page_number": 1,
				"text_spans":  []any{jsonval.Map{"content": "Invoice #123"}},
				"tables": []any{
					jsonval.Map{
						"cells": []any{
							jsonval.Map{"row_index": 0, "column_index": 0, "content": "Qty"},
						},
					},
				},
				"fields": jsonval.Map{
					"total": jsonval.Map{"value": "100.00"},
				},
			},
		},
	}

	doc, err := StructuralPDFAdapter{}.Transform(context.Background(), payload, "doc-1", "s3://b/k", "sum", nil)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if len(doc.TextSpans) != 1 || doc.TextSpans[0].Content != "Invoice #123" {
		t.Errorf("TextSpans = %+v", doc.TextSpans)
	}
	if len(doc.Tables) != 1 || len(doc.Tables[0].Cells) != 1 {
		t.Errorf("Tables = %+v", doc.Tables)
	}
	if len(doc.Fields) != 1 || doc.Fields[0].Name != "total" || *doc.Fields[0].Value != "100.00" {
		t.Errorf("Fields = %+v", doc.Fields)
	}
	if len(doc.PageSegments) != 1 || doc.PageSegments[0].PageNumber != 1 {
		t.Errorf("PageSegments = %+v", doc.PageSegments)
	}
}

func TestStructuralPDFAdapterFallsBackToPlainText(t *testing.T) {
	payload := jsonval.Map{
		"pages": []any{
			jsonval.Map{"page_number": 2, "text": "plain body"},
		},
	}
	doc, err := StructuralPDFAdapter{}.Transform(context.Background(), payload, "doc-2", "s3://b/k", "sum", nil)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if len(doc.TextSpans) != 1 || doc.TextSpans[0].Content != "plain body" {
		t.Errorf("TextSpans = %+v", doc.TextSpans)
	}
	if doc.TextSpans[0].Region == nil || doc.TextSpans[0].Region.Page != 2 {
		t.Errorf("Region = %+v, want page 2", doc.TextSpans[0].Region)
	}
}
