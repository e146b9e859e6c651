package summarize

import (
	"context"
	"errors"
	"testing"

	"docrouter/schema"
)

type fakeChatClient struct {
	response string
	err      error
}

func (f fakeChatClient) Chat(context.Context, []ChatMessage) (string, error) {
	return f.response, f.err
}

func docWithSpans(contents ...string) schema.CanonicalDocument {
	doc := schema.New("doc-1", "s3://b/k", "sum")
	for _, c := range contents {
		doc.TextSpans = append(doc.TextSpans, schema.CanonicalTextSpan{Content: c})
	}
	return doc
}

func TestSummariseReturnsNilForEmptyDocument(t *testing.T) {
	s := NewDefaultSummarizer(nil, "", nil)
	summaries, err := s.Summarise(context.Background(), schema.New("doc-1", "s3://b/k", "sum"))
	if err != nil {
		t.Fatalf("Summarise() error = %v", err)
	}
	if summaries != nil {
		t.Errorf("summaries = %+v, want nil", summaries)
	}
}

func TestSummariseUsesLLMWhenConfigured(t *testing.T) {
	client := fakeChatClient{response: `{"summary":"A short summary.","title":"Doc Title","confidence":0.9}`}
	s := NewDefaultSummarizer(client, "gpt", nil)
	doc := docWithSpans("This is the first sentence. This is the second.")
	summaries, err := s.Summarise(context.Background(), doc)
	if err != nil {
		t.Fatalf("Summarise() error = %v", err)
	}
	if len(summaries) != 1 || summaries[0].Method != "llm" {
		t.Fatalf("summaries = %+v", summaries)
	}
	if summaries[0].Summary != "A short summary." || summaries[0].Confidence != 0.9 {
		t.Errorf("summary = %+v", summaries[0])
	}
}

func TestSummariseFallsBackToHeuristicOnLLMError(t *testing.T) {
	client := fakeChatClient{err: errors.New("connection refused")}
	s := NewDefaultSummarizer(client, "gpt", nil)
	doc := docWithSpans("Sentence one is here. Sentence two is here. Sentence three should be dropped.")
	summaries, err := s.Summarise(context.Background(), doc)
	if err != nil {
		t.Fatalf("Summarise() error = %v", err)
	}
	if len(summaries) != 1 || summaries[0].Method != "heuristic_leading_sentences" {
		t.Fatalf("summaries = %+v", summaries)
	}
	if summaries[0].Confidence != heuristicConfidence {
		t.Errorf("Confidence = %v, want %v", summaries[0].Confidence, heuristicConfidence)
	}
}

func TestSummariseFallsBackToHeuristicWhenNoClientConfigured(t *testing.T) {
	s := NewDefaultSummarizer(nil, "", nil)
	doc := docWithSpans("Short title line.", "Body text goes here and is longer.")
	summaries, err := s.Summarise(context.Background(), doc)
	if err != nil {
		t.Fatalf("Summarise() error = %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("summaries = %+v", summaries)
	}
	if summaries[0].Title == nil || *summaries[0].Title != "Short title line." {
		t.Errorf("Title = %v, want 'Short title line.'", summaries[0].Title)
	}
}

func TestSummariseDeduplicatesRepeatedSpans(t *testing.T) {
	s := NewDefaultSummarizer(nil, "", nil)
	doc := docWithSpans("Repeated line.", "Repeated line.", "Unique line here.")
	text := s.normalisedText(doc.TextSpans)
	if text != "Repeated line.\nUnique line here." {
		t.Errorf("normalisedText() = %q", text)
	}
}

func TestInferTitleSkipsOverlyLongOrWordyFirstSpan(t *testing.T) {
	spans := []schema.CanonicalTextSpan{
		{Content: "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen sixteen seventeen"},
		{Content: "Short Title"},
	}
	title := inferTitle(spans)
	if title == nil || *title != "Short Title" {
		t.Errorf("inferTitle() = %v, want 'Short Title'", title)
	}
}
