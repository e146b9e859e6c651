// Package schema defines the canonical, provider-agnostic document
// model produced by every parser adapter. Every type here is an
// immutable value: constructors return populated structs, and no
// method ever mutates a receiver's collections in place.
package schema

import "encoding/json"

// SchemaVersion is stamped onto every canonical document this module emits.
const SchemaVersion = "1.1"

// BoundingRegion locates a span, cell, or field on a page.
type BoundingRegion struct {
	Page        int       `json:"page"`
	Polygon     []float64 `json:"polygon,omitempty"`
	BoundingBox []float64 `json:"bounding_box,omitempty"`
}

// ConfidenceSignal records one contributing confidence observation.
type ConfidenceSignal struct {
	Source     string  `json:"source"`
	Confidence float64 `json:"confidence"`
	Method     string  `json:"method,omitempty"`
}

// ExtractionProvenance stamps the parser and method that produced a node.
type ExtractionProvenance struct {
	Parser   string `json:"parser"`
	Method   string `json:"method"`
	PageSpan []int  `json:"page_span,omitempty"`
}

// CanonicalTextSpan is a single unit of extracted text.
type CanonicalTextSpan struct {
	Content           string                `json:"content"`
	Confidence        float64               `json:"confidence"`
	Region            *BoundingRegion       `json:"region,omitempty"`
	SpanID            string                `json:"span_id"`
	Provenance        ExtractionProvenance  `json:"provenance"`
	ConfidenceSignals []ConfidenceSignal    `json:"confidence_signals,omitempty"`
}

// CanonicalTableCell is one cell of a CanonicalTable.
type CanonicalTableCell struct {
	RowIndex          int                  `json:"row_index"`
	ColumnIndex       int                  `json:"column_index"`
	Content           string               `json:"content"`
	Confidence        float64              `json:"confidence"`
	Region            *BoundingRegion      `json:"region,omitempty"`
	RowSpan           int                  `json:"row_span"`
	ColumnSpan        int                  `json:"column_span"`
	Provenance        ExtractionProvenance `json:"provenance"`
	ConfidenceSignals []ConfidenceSignal   `json:"confidence_signals,omitempty"`
}

// CanonicalTable is a parsed table with its cells in row/column order.
type CanonicalTable struct {
	TableID    string               `json:"table_id"`
	Confidence float64              `json:"confidence"`
	Cells      []CanonicalTableCell `json:"cells"`
	Caption    *string              `json:"caption,omitempty"`
	Footnotes  []string             `json:"footnotes,omitempty"`
	Provenance ExtractionProvenance `json:"provenance"`
}

// Extent returns the table's (rows, columns) extent derived from its
// cells' row_index+row_span and column_index+column_span maxima.
func (t CanonicalTable) Extent() (rows, cols int) {
	for _, cell := range t.Cells {
		if r := cell.RowIndex + cell.RowSpan; r > rows {
			rows = r
		}
		if c := cell.ColumnIndex + cell.ColumnSpan; c > cols {
			cols = c
		}
	}
	return rows, cols
}

// StructuredField is a named extracted value, e.g. an Azure DI field
// or an email header. Value is nullable but always serialised: unlike
// every other optional field, an absent value must round-trip as an
// explicit JSON null rather than being omitted, so StructuredField
// implements its own MarshalJSON.
type StructuredField struct {
	Name              string               `json:"name"`
	Value             *string              `json:"-"`
	Confidence        float64              `json:"confidence"`
	ValueType         *string              `json:"value_type,omitempty"`
	Region            *BoundingRegion      `json:"region,omitempty"`
	Provenance        ExtractionProvenance `json:"provenance"`
	ConfidenceSignals []ConfidenceSignal   `json:"confidence_signals,omitempty"`
}

// MarshalJSON emits StructuredField with an always-present "value" key.
func (f StructuredField) MarshalJSON() ([]byte, error) {
	type alias StructuredField
	return json.Marshal(struct {
		Value *string `json:"value"`
		alias
	}{
		Value: f.Value,
		alias: alias(f),
	})
}

// VisualDescription describes a non-textual region (figure, photo, chart).
type VisualDescription struct {
	Description string               `json:"description"`
	Confidence  float64              `json:"confidence"`
	Region      *BoundingRegion      `json:"region,omitempty"`
	Provenance  ExtractionProvenance `json:"provenance"`
}

// PageSegment records a single page's contribution summary.
type PageSegment struct {
	PageNumber int            `json:"page_number"`
	Parser     string         `json:"parser"`
	Method     string         `json:"method"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// DocumentSummary is a generated (or heuristic) document-level summary.
type DocumentSummary struct {
	Summary       string         `json:"summary"`
	Title         *string        `json:"title,omitempty"`
	Confidence    float64        `json:"confidence"`
	Method        string         `json:"method"`
	Model         *string        `json:"model,omitempty"`
	Justification *string        `json:"justification,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// DocumentEnrichment is one enrichment-provider result attached to a document.
type DocumentEnrichment struct {
	EnrichmentType string         `json:"enrichment_type"`
	Provider       string         `json:"provider"`
	Content        map[string]any `json:"content,omitempty"`
	Confidence     *float64       `json:"confidence,omitempty"`
	Model          *string        `json:"model,omitempty"`
	DurationMS     *int           `json:"duration_ms,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// DocumentAttachment is a child document embedded in (or attached to)
// a parent CanonicalDocument, e.g. an email attachment. The attachment
// tree is finite: recursion depth is bounded by the document workflow
// (see workflow.MaxAttachmentDepth); this type itself places no limit
// and must never be built into a cycle.
type DocumentAttachment struct {
	AttachmentID string             `json:"attachment_id"`
	FileName     string             `json:"file_name"`
	MimeType     string             `json:"mime_type"`
	Checksum     *string            `json:"checksum,omitempty"`
	SourceURI    *string            `json:"source_uri,omitempty"`
	Document     *CanonicalDocument `json:"document,omitempty"`
	Metadata     map[string]any     `json:"metadata,omitempty"`
}

// CanonicalDocument is the schema-versioned, vendor-neutral representation
// emitted by every parser adapter and persisted exactly once per
// (document_id, checksum) pair. TextSpans, Tables, and Fields are always
// present in serialised output, even when empty, so downstream consumers
// can rely on their shape without a presence check; every other
// collection is omitted entirely when empty.
type CanonicalDocument struct {
	DocumentID         string                `json:"document_id"`
	SourceURI          string                `json:"source_uri"`
	Checksum           string                `json:"checksum"`
	SchemaVersion      string                `json:"schema_version"`
	TextSpans          []CanonicalTextSpan   `json:"text_spans"`
	Tables             []CanonicalTable      `json:"tables"`
	Fields             []StructuredField     `json:"fields"`
	VisualDescriptions []VisualDescription   `json:"visual_descriptions,omitempty"`
	PageSegments       []PageSegment         `json:"page_segments,omitempty"`
	Attachments        []DocumentAttachment  `json:"attachments,omitempty"`
	Summaries          []DocumentSummary     `json:"summaries,omitempty"`
	Enrichments        []DocumentEnrichment  `json:"enrichments,omitempty"`
	DocumentType       *string               `json:"document_type,omitempty"`
	MimeType           *string               `json:"mime_type,omitempty"`
	Metadata           map[string]any        `json:"metadata,omitempty"`
}

// New constructs a CanonicalDocument, stamping the current schema
// version. TextSpans/Tables/Fields start as empty (never nil) slices so
// they serialise as `[]`, not `null`.
func New(documentID, sourceURI, checksum string) CanonicalDocument {
	return CanonicalDocument{
		DocumentID:    documentID,
		SourceURI:     sourceURI,
		Checksum:      checksum,
		SchemaVersion: SchemaVersion,
		TextSpans:     []CanonicalTextSpan{},
		Tables:        []CanonicalTable{},
		Fields:        []StructuredField{},
	}
}

// WithAttachments returns a copy of d with attachments appended.
func (d CanonicalDocument) WithAttachments(extra ...DocumentAttachment) CanonicalDocument {
	if len(extra) == 0 {
		return d
	}
	d.Attachments = append(append([]DocumentAttachment{}, d.Attachments...), extra...)
	return d
}

// WithSummaries returns a copy of d with summaries appended.
func (d CanonicalDocument) WithSummaries(extra ...DocumentSummary) CanonicalDocument {
	if len(extra) == 0 {
		return d
	}
	d.Summaries = append(append([]DocumentSummary{}, d.Summaries...), extra...)
	return d
}

// WithEnrichments returns a copy of d with enrichments appended.
func (d CanonicalDocument) WithEnrichments(extra ...DocumentEnrichment) CanonicalDocument {
	if len(extra) == 0 {
		return d
	}
	d.Enrichments = append(append([]DocumentEnrichment{}, d.Enrichments...), extra...)
	return d
}

// FlatCell is one table cell with its owning table ID attached, as
// returned by FlattenTables.
type FlatCell struct {
	TableID string
	CanonicalTableCell
}

// FlattenTables flattens d's tables into a single row-major cell slice.
func FlattenTables(d CanonicalDocument) []FlatCell {
	var out []FlatCell
	for _, table := range d.Tables {
		for _, cell := range table.Cells {
			out = append(out, FlatCell{TableID: table.TableID, CanonicalTableCell: cell})
		}
	}
	return out
}
