// Package enrichment coordinates calls to pluggable enrichment
// providers (entity extraction, classification, PII detection, ...)
// and normalises their responses onto schema.DocumentEnrichment.
package enrichment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"docrouter/jsonval"
	"docrouter/schema"
)

// EnrichmentRequest is the normalised request payload handed to a
// provider for one document.
type EnrichmentRequest struct {
	DocumentID     string
	Document       schema.CanonicalDocument
	TimeoutSeconds float64
}

// EnrichmentResponse is what a provider returns for one document
// within a batch call.
type EnrichmentResponse struct {
	DocumentID  string
	Enrichments []jsonval.Map
	RawResponse any
	DurationMS  *int
	Metadata    jsonval.Map
}

// Provider is a pluggable enrichment backend. Every production
// implementation is a true external collaborator (a model endpoint, a
// classification API) and is out of scope here; only the dispatch
// plumbing is implemented and tested.
type Provider interface {
	Name() string
	MaxBatchSize() int
	TimeoutSeconds() float64
	Enrich(ctx context.Context, requests []EnrichmentRequest) ([]EnrichmentResponse, error)
}

// Dispatcher coordinates enrichment calls across configured providers.
type Dispatcher struct {
	providers map[string]Provider
	logger    *zap.Logger
}

// NewDispatcher builds a Dispatcher over the given providers, keyed by
// provider.Name().
func NewDispatcher(providers []Provider, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &Dispatcher{providers: byName, logger: logger}
}

// Dispatch calls each named provider (in order) over every document,
// batching requests per provider.MaxBatchSize and bounding each batch
// call to provider.TimeoutSeconds. A provider name that isn't
// registered, a provider call that errors, or a call that exceeds its
// timeout logs a warning and contributes no enrichments — it never
// fails the overall dispatch.
func (d *Dispatcher) Dispatch(ctx context.Context, documents []schema.CanonicalDocument, providerNames []string) (map[string][]schema.DocumentEnrichment, error) {
	if len(documents) == 0 {
		return map[string][]schema.DocumentEnrichment{}, nil
	}

	results := make(map[string][]schema.DocumentEnrichment, len(documents))
	for _, doc := range documents {
		results[doc.DocumentID] = nil
	}

	for _, name := range providerNames {
		provider, ok := d.providers[name]
		if !ok {
			d.logger.Warn("requested enrichment provider is not configured", zap.String("provider", name))
			continue
		}

		requests := make([]EnrichmentRequest, len(documents))
		for i, doc := range documents {
			requests[i] = EnrichmentRequest{
				DocumentID:     doc.DocumentID,
				Document:       doc,
				TimeoutSeconds: provider.TimeoutSeconds(),
			}
		}

		for _, batch := range chunk(requests, maxBatchSize(provider)) {
			responses, duration := d.invokeProvider(ctx, provider, batch)
			for _, resp := range responses {
				if _, known := results[resp.DocumentID]; !known {
					d.logger.Warn("provider returned enrichment for unknown document",
						zap.String("provider", name), zap.String("document_id", resp.DocumentID))
					continue
				}
				results[resp.DocumentID] = append(results[resp.DocumentID], coerceEnrichments(name, resp, duration, d.logger)...)
			}
		}
	}

	return results, nil
}

func (d *Dispatcher) invokeProvider(ctx context.Context, provider Provider, batch []EnrichmentRequest) ([]EnrichmentResponse, *int) {
	if len(batch) == 0 {
		return nil, nil
	}

	callCtx := ctx
	timeout := provider.TimeoutSeconds()
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(timeout*float64(time.Second)))
		defer cancel()
	}

	type result struct {
		responses []EnrichmentResponse
		err       error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		responses, err := provider.Enrich(callCtx, batch)
		done <- result{responses, err}
	}()

	select {
	case <-callCtx.Done():
		d.logger.Warn("enrichment provider timed out", zap.String("provider", provider.Name()), zap.Float64("timeout_seconds", timeout))
		return nil, nil
	case r := <-done:
		if r.err != nil {
			d.logger.Warn("enrichment provider failed", zap.String("provider", provider.Name()), zap.Error(r.err))
			return nil, nil
		}
		elapsed := int(time.Since(start).Milliseconds())
		return r.responses, &elapsed
	}
}

func coerceEnrichments(providerName string, response EnrichmentResponse, defaultDuration *int, logger *zap.Logger) []schema.DocumentEnrichment {
	var out []schema.DocumentEnrichment
	for _, entry := range response.Enrichments {
		e := normaliseEntry(providerName, entry, response.Metadata, response.RawResponse, response.DurationMS, defaultDuration, logger)
		if e != nil {
			out = append(out, *e)
		}
	}
	if len(response.Enrichments) == 0 {
		logger.Debug("provider returned no enrichment entries", zap.String("provider", providerName), zap.String("document_id", response.DocumentID))
	}
	return out
}

func normaliseEntry(providerName string, entry jsonval.Map, responseMetadata jsonval.Map, rawResponse any, explicitDuration, defaultDuration *int, logger *zap.Logger) *schema.DocumentEnrichment {
	if entry == nil {
		logger.Warn("enrichment entry is not a mapping", zap.String("provider", providerName))
		return nil
	}

	enrichmentType, ok := jsonval.String(entry, "enrichment_type", "type")
	if !ok || enrichmentType == "" {
		logger.Warn("enrichment entry missing enrichment_type", zap.String("provider", providerName))
		return nil
	}

	content := jsonval.AsMap(jsonval.Get(entry, "content", "payload", "data"))
	if content == nil && jsonval.Get(entry, "content", "payload", "data") != nil {
		logger.Warn("enrichment entry has non-mapping content", zap.String("provider", providerName))
		return nil
	}
	if content == nil {
		content = jsonval.Map{}
	}

	var model *string
	if s, ok := jsonval.String(entry, "model"); ok {
		model = &s
	}

	var confidence *float64
	if f, ok := jsonval.Float(entry, "confidence"); ok {
		confidence = &f
	}

	metadata := jsonval.AsMap(jsonval.Get(entry, "metadata"))
	if metadata == nil {
		metadata = jsonval.Map{}
	} else {
		cp := jsonval.Map{}
		for k, v := range metadata {
			cp[k] = v
		}
		metadata = cp
	}

	if len(responseMetadata) > 0 {
		if _, exists := metadata["response_metadata"]; !exists {
			metadata["response_metadata"] = responseMetadata
		}
	}
	if rawResponse != nil {
		if _, exists := metadata["raw_response"]; !exists {
			metadata["raw_response"] = rawResponse
		}
	}

	durationMS := defaultDuration
	if explicitDuration != nil {
		durationMS = explicitDuration
	}
	if durationMS != nil {
		if _, exists := metadata["duration_ms"]; !exists {
			metadata["duration_ms"] = *durationMS
		}
	}

	return &schema.DocumentEnrichment{
		EnrichmentType: enrichmentType,
		Provider:       providerName,
		Content:        content,
		Confidence:     confidence,
		Model:          model,
		DurationMS:     durationMS,
		Metadata:       metadata,
	}
}

func chunk(items []EnrichmentRequest, size int) [][]EnrichmentRequest {
	if size <= 0 {
		size = 1
	}
	var out [][]EnrichmentRequest
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}

func maxBatchSize(provider Provider) int {
	if n := provider.MaxBatchSize(); n > 0 {
		return n
	}
	return 1
}
