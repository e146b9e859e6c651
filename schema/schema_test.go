package schema

import (
	"encoding/json"
	"testing"
)

func TestStructuredFieldMarshalAlwaysIncludesValue(t *testing.T) {
	tests := []struct {
		name  string
		value *string
	}{
		{"nil value", nil},
		{"present value", strPtr("42")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field := StructuredField{
				Name:       "amount",
				Value:      tt.value,
				Confidence: 0.9,
				Provenance: ExtractionProvenance{Parser: "test", Method: "field"},
			}
			raw, err := json.Marshal(field)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			var decoded map[string]any
			if err := json.Unmarshal(raw, &decoded); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			v, ok := decoded["value"]
			if !ok {
				t.Fatalf("expected \"value\" key to be present, got %s", raw)
			}
			if tt.value == nil && v != nil {
				t.Errorf("expected value to serialise as null, got %v", v)
			}
			if tt.value != nil && v != *tt.value {
				t.Errorf("value = %v, want %v", v, *tt.value)
			}
		})
	}
}

func TestNewDocumentAlwaysSerialisesCoreCollections(t *testing.T) {
	doc := New("doc-1", "s3://bucket/key", "deadbeef")
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	for _, key := range []string{"text_spans", "tables", "fields"} {
		v, ok := decoded[key]
		if !ok {
			t.Errorf("expected %q to always be present", key)
			continue
		}
		if string(v) != "[]" {
			t.Errorf("%q = %s, want []", key, v)
		}
	}

	for _, key := range []string{"attachments", "summaries", "enrichments", "visual_descriptions", "page_segments"} {
		if _, ok := decoded[key]; ok {
			t.Errorf("expected empty collection %q to be omitted", key)
		}
	}

	if doc.SchemaVersion != "1.1" {
		t.Errorf("SchemaVersion = %q, want 1.1", doc.SchemaVersion)
	}
}

func TestCanonicalTableExtent(t *testing.T) {
	table := CanonicalTable{
		Cells: []CanonicalTableCell{
			{RowIndex: 0, ColumnIndex: 0, RowSpan: 1, ColumnSpan: 1},
			{RowIndex: 2, ColumnIndex: 1, RowSpan: 2, ColumnSpan: 1},
		},
	}
	rows, cols := table.Extent()
	if rows != 4 || cols != 2 {
		t.Errorf("Extent() = (%d, %d), want (4, 2)", rows, cols)
	}
}

func TestWithAttachmentsCopiesRatherThanMutates(t *testing.T) {
	base := New("doc-1", "uri", "sum")
	extended := base.WithAttachments(DocumentAttachment{AttachmentID: "1", FileName: "a.txt", MimeType: "text/plain"})

	if len(base.Attachments) != 0 {
		t.Errorf("base.Attachments mutated: len=%d", len(base.Attachments))
	}
	if len(extended.Attachments) != 1 {
		t.Errorf("extended.Attachments len = %d, want 1", len(extended.Attachments))
	}
}

func TestFlattenTablesPreservesRowMajorOrder(t *testing.T) {
	doc := New("doc-1", "uri", "sum")
	doc.Tables = []CanonicalTable{
		{
			TableID: "t1",
			Cells: []CanonicalTableCell{
				{RowIndex: 0, ColumnIndex: 0, Content: "a"},
				{RowIndex: 0, ColumnIndex: 1, Content: "b"},
			},
		},
		{
			TableID: "t2",
			Cells: []CanonicalTableCell{
				{RowIndex: 0, ColumnIndex: 0, Content: "c"},
			},
		},
	}

	flat := FlattenTables(doc)
	if len(flat) != 3 {
		t.Fatalf("len(flat) = %d, want 3", len(flat))
	}
	want := []string{"a", "b", "c"}
	for i, w := range want {
		if flat[i].Content != w {
			t.Errorf("flat[%d].Content = %q, want %q", i, flat[i].Content, w)
		}
	}
	if flat[2].TableID != "t2" {
		t.Errorf("flat[2].TableID = %q, want t2", flat[2].TableID)
	}
}

func strPtr(s string) *string { return &s }
