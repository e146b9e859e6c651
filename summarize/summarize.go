// Package summarize produces document-level summaries for canonical
// documents, preferring an LLM-backed chat completion and falling back
// to a deterministic leading-sentence heuristic when no client is
// configured or the call fails.
package summarize

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"docrouter/schema"
)

// Summarizer produces summaries for a canonical document.
type Summarizer interface {
	Summarise(ctx context.Context, doc schema.CanonicalDocument) ([]schema.DocumentSummary, error)
}

// ChatMessage is a single chat-completion turn.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatClient performs a single non-streaming chat completion call and
// returns the assistant's raw message content. Adapted from the
// teacher's llmclient.Client.Chat, trimmed to the single call shape
// summarisation needs (no streaming, no stop sequences).
type ChatClient interface {
	Chat(ctx context.Context, messages []ChatMessage) (string, error)
}

const (
	maxInputCharactersDefault = 6000
	heuristicConfidence       = 0.3
	llmConfidenceDefault      = 0.7
	summaryTruncateLength     = 512
)

var sentenceSplit = regexp.MustCompile(`(?:[.!?])\s+`)

// DefaultSummarizer summarises via an injected chat client, falling
// back to a deterministic leading-two-sentences heuristic.
type DefaultSummarizer struct {
	Client             ChatClient
	Model              string
	MaxInputCharacters int
	Logger             *zap.Logger
}

// NewDefaultSummarizer builds a DefaultSummarizer with the teacher's
// default input-truncation size.
func NewDefaultSummarizer(client ChatClient, model string, logger *zap.Logger) *DefaultSummarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultSummarizer{
		Client:             client,
		Model:              model,
		MaxInputCharacters: maxInputCharactersDefault,
		Logger:             logger,
	}
}

// Summarise implements Summarizer.
func (s *DefaultSummarizer) Summarise(ctx context.Context, doc schema.CanonicalDocument) ([]schema.DocumentSummary, error) {
	text := s.normalisedText(doc.TextSpans)
	if text == "" {
		return nil, nil
	}

	if summary := s.summariseWithLLM(ctx, text); summary != nil {
		return []schema.DocumentSummary{*summary}, nil
	}

	if fallback := s.heuristicSummary(doc, text); fallback != nil {
		return []schema.DocumentSummary{*fallback}, nil
	}
	return nil, nil
}

type llmSummaryPayload struct {
	Summary       string         `json:"summary"`
	Title         string         `json:"title"`
	Confidence    *float64       `json:"confidence"`
	Justification string         `json:"justification"`
	Reasoning     string         `json:"reasoning"`
	Model         string         `json:"model"`
	Metadata      map[string]any `json:"metadata"`
}

func (s *DefaultSummarizer) summariseWithLLM(ctx context.Context, text string) *schema.DocumentSummary {
	if s.Client == nil || s.Model == "" {
		return nil
	}

	content, err := s.Client.Chat(ctx, []ChatMessage{
		{Role: "system", Content: "You are an assistant that produces short factual summaries and titles for enterprise documents. Respond with JSON containing 'summary', 'title', 'confidence', and 'justification'."},
		{Role: "user", Content: text},
	})
	if err != nil {
		s.Logger.Warn("llm summarisation failed", zap.Error(err))
		return nil
	}
	if content == "" {
		return nil
	}

	var payload llmSummaryPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		s.Logger.Warn("unable to parse llm summarisation response", zap.Error(err))
		return nil
	}

	summaryText := strings.TrimSpace(payload.Summary)
	if summaryText == "" {
		return nil
	}

	confidence := llmConfidenceDefault
	if payload.Confidence != nil {
		confidence = *payload.Confidence
	}
	modelName := strings.TrimSpace(payload.Model)
	if modelName == "" {
		modelName = s.Model
	}
	justification := strings.TrimSpace(payload.Justification)
	if justification == "" {
		justification = strings.TrimSpace(payload.Reasoning)
	}

	var title *string
	if t := strings.TrimSpace(payload.Title); t != "" {
		title = &t
	}
	var justificationPtr *string
	if justification != "" {
		justificationPtr = &justification
	}

	return &schema.DocumentSummary{
		Summary:       summaryText,
		Title:         title,
		Confidence:    confidence,
		Method:        "llm",
		Model:         &modelName,
		Justification: justificationPtr,
		Metadata:      payload.Metadata,
	}
}

func (s *DefaultSummarizer) heuristicSummary(doc schema.CanonicalDocument, text string) *schema.DocumentSummary {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}
	n := 2
	if n > len(sentences) {
		n = len(sentences)
	}
	summaryText := strings.Join(sentences[:n], " ")
	if len(summaryText) > summaryTruncateLength {
		truncated := summaryText[:summaryTruncateLength]
		if idx := strings.LastIndex(truncated, " "); idx > 0 {
			truncated = truncated[:idx]
		}
		summaryText = truncated
	}

	title := inferTitle(doc.TextSpans)
	justification := "Generated via deterministic leading-sentence heuristic fallback."

	return &schema.DocumentSummary{
		Summary:       summaryText,
		Title:         title,
		Confidence:    heuristicConfidence,
		Method:        "heuristic_leading_sentences",
		Justification: &justification,
	}
}

func (s *DefaultSummarizer) normalisedText(spans []schema.CanonicalTextSpan) string {
	maxChars := s.MaxInputCharacters
	if maxChars <= 0 {
		maxChars = maxInputCharactersDefault
	}

	seen := map[string]bool{}
	var contents []string
	for _, span := range spans {
		content := strings.TrimSpace(span.Content)
		if content == "" || seen[content] {
			continue
		}
		seen[content] = true
		contents = append(contents, content)
	}
	if len(contents) == 0 {
		return ""
	}

	normalised := strings.Join(contents, "\n")
	if len(normalised) > maxChars {
		normalised = normalised[:maxChars]
	}
	return normalised
}

func splitSentences(text string) []string {
	if text == "" {
		return nil
	}
	var sentences []string
	for _, segment := range sentenceSplit.Split(text, -1) {
		trimmed := strings.TrimSpace(segment)
		if trimmed != "" {
			sentences = append(sentences, trimmed)
		}
	}
	if len(sentences) == 0 {
		sentences = []string{strings.TrimSpace(text)}
	}
	return sentences
}

func inferTitle(spans []schema.CanonicalTextSpan) *string {
	for _, span := range spans {
		content := strings.TrimSpace(span.Content)
		if content == "" {
			continue
		}
		if len(content) <= 120 && strings.Count(content, " ") <= 15 {
			return &content
		}
	}
	return nil
}
