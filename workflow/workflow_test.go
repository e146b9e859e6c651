package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	"docrouter/jsonval"
	"docrouter/schema"
)

type fakeAnalyzeClient struct {
	mu         sync.Mutex
	calls      int
	failFirstN int
	err        error
	result     any
}

func (f *fakeAnalyzeClient) Analyze(ctx context.Context, documentBytes []byte, contentType string) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirstN {
		return nil, errors.New("vendor unavailable")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeAdapter struct {
	transform func(ctx context.Context, payload any, documentID, sourceURI, checksum string, metadata jsonval.Map) (schema.CanonicalDocument, error)
}

func (f fakeAdapter) Transform(ctx context.Context, payload any, documentID, sourceURI, checksum string, metadata jsonval.Map) (schema.CanonicalDocument, error) {
	if f.transform != nil {
		return f.transform(ctx, payload, documentID, sourceURI, checksum, metadata)
	}
	return schema.New(documentID, sourceURI, checksum), nil
}

type fakeStore struct {
	mu      sync.Mutex
	records map[string]string
	saved   []schema.CanonicalDocument
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: map[string]string{}}
}

func (s *fakeStore) HasRecord(ctx context.Context, documentID, checksum string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[documentID] == checksum, nil
}

func (s *fakeStore) Save(ctx context.Context, doc schema.CanonicalDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[doc.DocumentID] = doc.Checksum
	s.saved = append(s.saved, doc)
	return nil
}

func TestProcessPersistsNewDocument(t *testing.T) {
	client := &fakeAnalyzeClient{result: jsonval.Map{"ok": true}}
	store := newFakeStore()
	wf := New(client, store, Config{Adapter: fakeAdapter{}}, nil)

	result, err := wf.Process(context.Background(), ProcessInput{
		DocumentID: "doc-1", Bytes: []byte("hello"), SourceURI: "s3://b/k",
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Skipped || result.Document == nil {
		t.Fatalf("result = %+v, want persisted document", result)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved = %d documents, want 1", len(store.saved))
	}
}

func TestProcessSkipsIdenticalChecksumUnlessForced(t *testing.T) {
	client := &fakeAnalyzeClient{result: jsonval.Map{}}
	store := newFakeStore()
	wf := New(client, store, Config{Adapter: fakeAdapter{}}, nil)

	first, err := wf.Process(context.Background(), ProcessInput{DocumentID: "doc-1", Bytes: []byte("same"), SourceURI: "s3://b/k"})
	if err != nil || first.Skipped {
		t.Fatalf("first Process() = %+v, err = %v", first, err)
	}

	second, err := wf.Process(context.Background(), ProcessInput{DocumentID: "doc-1", Bytes: []byte("same"), SourceURI: "s3://b/k"})
	if err != nil {
		t.Fatalf("second Process() error = %v", err)
	}
	if !second.Skipped {
		t.Errorf("second Process() = %+v, want skipped", second)
	}

	forced, err := wf.Process(context.Background(), ProcessInput{DocumentID: "doc-1", Bytes: []byte("same"), SourceURI: "s3://b/k", Force: true})
	if err != nil || forced.Skipped {
		t.Fatalf("forced Process() = %+v, err = %v, want not skipped", forced, err)
	}
}

func TestProcessRetriesVendorAnalyzeThenSucceeds(t *testing.T) {
	client := &fakeAnalyzeClient{failFirstN: 2, result: jsonval.Map{}}
	store := newFakeStore()
	wf := New(client, store, Config{MaxRetries: 3, RetryBackoffSeconds: 0.001, Adapter: fakeAdapter{}}, nil)

	result, err := wf.Process(context.Background(), ProcessInput{DocumentID: "doc-1", Bytes: []byte("x"), SourceURI: "s3://b/k"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Skipped {
		t.Fatalf("result = %+v, want not skipped", result)
	}
	if client.calls != 3 {
		t.Errorf("calls = %d, want 3 (2 failures + 1 success)", client.calls)
	}
}

func TestProcessFailsAfterExhaustingRetries(t *testing.T) {
	client := &fakeAnalyzeClient{failFirstN: 100}
	store := newFakeStore()
	wf := New(client, store, Config{MaxRetries: 2, RetryBackoffSeconds: 0.001, Adapter: fakeAdapter{}}, nil)

	_, err := wf.Process(context.Background(), ProcessInput{DocumentID: "doc-1", Bytes: []byte("x"), SourceURI: "s3://b/k"})
	if err == nil {
		t.Fatal("Process() error = nil, want vendor analyse failure")
	}
	if client.calls != 3 {
		t.Errorf("calls = %d, want 3 (maxRetries+1)", client.calls)
	}
	if len(store.saved) != 0 {
		t.Errorf("saved = %d documents, want 0 on permanent failure", len(store.saved))
	}
}

func TestProcessAttachesEmailChildrenRecursively(t *testing.T) {
	raw := "Content-Type: multipart/mixed; boundary=BOUNDARY\r\n\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain\r\n\r\n" +
		"body text\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n\r\n" +
		"%PDF-1.4 fake content\r\n" +
		"--BOUNDARY--\r\n"

	client := &fakeAnalyzeClient{result: jsonval.Map{}}
	store := newFakeStore()
	adapter := fakeAdapter{transform: func(ctx context.Context, payload any, documentID, sourceURI, checksum string, metadata jsonval.Map) (schema.CanonicalDocument, error) {
		return schema.New(documentID, sourceURI, checksum), nil
	}}
	wf := New(client, store, Config{Adapter: adapter}, nil)

	result, err := wf.Process(context.Background(), ProcessInput{
		DocumentID: "doc-1", Bytes: []byte(raw), SourceURI: "s3://b/k",
		Metadata: jsonval.Map{"mime_type": "message/rfc822"},
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(result.Document.Attachments) != 1 {
		t.Fatalf("Attachments = %+v, want 1", result.Document.Attachments)
	}
	att := result.Document.Attachments[0]
	if att.FileName != "report.pdf" || att.MimeType != "application/pdf" {
		t.Errorf("attachment = %+v", att)
	}
	if att.Document == nil || att.Document.DocumentID != "doc-1::attachment-1" {
		t.Errorf("attachment document = %+v", att.Document)
	}
}

func TestProcessStopsAttachmentRecursionWhenAlreadyPresent(t *testing.T) {
	existing := schema.DocumentAttachment{AttachmentID: "pre-existing", FileName: "x", MimeType: "text/plain"}
	client := &fakeAnalyzeClient{result: jsonval.Map{}}
	store := newFakeStore()
	adapter := fakeAdapter{transform: func(ctx context.Context, payload any, documentID, sourceURI, checksum string, metadata jsonval.Map) (schema.CanonicalDocument, error) {
		doc := schema.New(documentID, sourceURI, checksum)
		doc = doc.WithAttachments(existing)
		mt := "message/rfc822"
		doc.MimeType = &mt
		return doc, nil
	}}
	wf := New(client, store, Config{Adapter: adapter}, nil)

	result, err := wf.Process(context.Background(), ProcessInput{DocumentID: "doc-1", Bytes: []byte("raw"), SourceURI: "s3://b/k"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(result.Document.Attachments) != 1 || result.Document.Attachments[0].AttachmentID != "pre-existing" {
		t.Errorf("Attachments = %+v, want only the pre-existing one", result.Document.Attachments)
	}
}
