package adapters

import (
	"context"
	"testing"

	"docrouter/jsonval"
)

func TestAzureAdapterPrefersParagraphsOverLines(t *testing.T) {
	payload := jsonval.Map{
		"analyzeResult": jsonval.Map{
			"paragraphs": []any{jsonval.Map{"content": "Paragraph one"}},
			"pages":      []any{jsonval.Map{"page_number": 1, "lines": []any{jsonval.Map{"content": "Line one"}}}},
		},
	}
	doc, err := AzureAdapter{}.Transform(context.Background(), payload, "doc-1", "s3://b/k", "sum", nil)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if len(doc.TextSpans) != 1 || doc.TextSpans[0].Content != "Paragraph one" {
		t.Errorf("TextSpans = %+v, want paragraph-only", doc.TextSpans)
	}
}

func TestAzureAdapterFallsBackToLinesWhenNoParagraphs(t *testing.T) {
	payload := jsonval.Map{
		"pages": []any{jsonval.Map{"page_number": 3, "lines": []any{jsonval.Map{"content": "Line one"}}}},
	}
	doc, err := AzureAdapter{}.Transform(context.Background(), payload, "doc-1", "s3://b/k", "sum", nil)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if len(doc.TextSpans) != 1 || doc.TextSpans[0].Content != "Line one" {
		t.Errorf("TextSpans = %+v", doc.TextSpans)
	}
	if doc.TextSpans[0].Region == nil || doc.TextSpans[0].Region.Page != 3 {
		t.Errorf("Region = %+v, want page 3", doc.TextSpans[0].Region)
	}
}

func TestAzureAdapterParsesDocumentFields(t *testing.T) {
	payload := jsonval.Map{
		"documents": []any{
			jsonval.Map{"fields": jsonval.Map{"invoice_total": jsonval.Map{"value": "500.00", "confidence": 0.9}}},
		},
	}
	doc, err := AzureAdapter{}.Transform(context.Background(), payload, "doc-1", "s3://b/k", "sum", nil)
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if len(doc.Fields) != 1 || doc.Fields[0].Name != "invoice_total" || *doc.Fields[0].Value != "500.00" {
		t.Errorf("Fields = %+v", doc.Fields)
	}
	if doc.Fields[0].Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", doc.Fields[0].Confidence)
	}
}

func TestAzureAdapterRejectsNonMapping(t *testing.T) {
	_, err := AzureAdapter{}.Transform(context.Background(), 42, "doc-1", "s3://b/k", "sum", nil)
	if !IsAdapterError(err) {
		t.Fatalf("expected AdapterError, got %v", err)
	}
}
