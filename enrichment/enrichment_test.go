package enrichment

import (
	"context"
	"errors"
	"testing"
	"time"

	"docrouter/jsonval"
	"docrouter/schema"
)

type fakeProvider struct {
	name         string
	maxBatch     int
	timeout      float64
	responder    func(requests []EnrichmentRequest) ([]EnrichmentResponse, error)
	sleepForever bool
}

func (f fakeProvider) Name() string           { return f.name }
func (f fakeProvider) MaxBatchSize() int      { return f.maxBatch }
func (f fakeProvider) TimeoutSeconds() float64 { return f.timeout }

func (f fakeProvider) Enrich(ctx context.Context, requests []EnrichmentRequest) ([]EnrichmentResponse, error) {
	if f.sleepForever {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.responder(requests)
}

func doc(id string) schema.CanonicalDocument {
	return schema.New(id, "s3://b/"+id, "sum-"+id)
}

func TestDispatchReturnsEmptyMapForNoDocuments(t *testing.T) {
	d := NewDispatcher(nil, nil)
	results, err := d.Dispatch(context.Background(), nil, []string{"x"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want empty", results)
	}
}

func TestDispatchSkipsUnconfiguredProviderWithoutFailing(t *testing.T) {
	d := NewDispatcher(nil, nil)
	results, err := d.Dispatch(context.Background(), []schema.CanonicalDocument{doc("a")}, []string{"missing"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(results["a"]) != 0 {
		t.Errorf("results[a] = %+v, want empty", results["a"])
	}
}

func TestDispatchNormalisesValidEnrichmentEntries(t *testing.T) {
	provider := fakeProvider{
		name:     "classifier",
		maxBatch: 10,
		responder: func(requests []EnrichmentRequest) ([]EnrichmentResponse, error) {
			var out []EnrichmentResponse
			for _, r := range requests {
				out = append(out, EnrichmentResponse{
					DocumentID:  r.DocumentID,
					Enrichments: []jsonval.Map{{"enrichment_type": "classification", "content": jsonval.Map{"label": "invoice"}, "confidence": 0.95}},
				})
			}
			return out, nil
		},
	}
	d := NewDispatcher([]Provider{provider}, nil)
	results, err := d.Dispatch(context.Background(), []schema.CanonicalDocument{doc("a")}, []string{"classifier"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(results["a"]) != 1 {
		t.Fatalf("results[a] = %+v, want 1 entry", results["a"])
	}
	e := results["a"][0]
	if e.EnrichmentType != "classification" || e.Provider != "classifier" || e.Content["label"] != "invoice" {
		t.Errorf("enrichment = %+v", e)
	}
	if e.Confidence == nil || *e.Confidence != 0.95 {
		t.Errorf("Confidence = %v, want 0.95", e.Confidence)
	}
}

func TestDispatchDropsEntryMissingEnrichmentType(t *testing.T) {
	provider := fakeProvider{
		name:     "classifier",
		maxBatch: 10,
		responder: func(requests []EnrichmentRequest) ([]EnrichmentResponse, error) {
			return []EnrichmentResponse{{DocumentID: requests[0].DocumentID, Enrichments: []jsonval.Map{{"content": jsonval.Map{}}}}}, nil
		},
	}
	d := NewDispatcher([]Provider{provider}, nil)
	results, err := d.Dispatch(context.Background(), []schema.CanonicalDocument{doc("a")}, []string{"classifier"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(results["a"]) != 0 {
		t.Errorf("results[a] = %+v, want empty (missing enrichment_type dropped)", results["a"])
	}
}

func TestDispatchToleratesProviderError(t *testing.T) {
	provider := fakeProvider{
		name:     "flaky",
		maxBatch: 10,
		responder: func(requests []EnrichmentRequest) ([]EnrichmentResponse, error) {
			return nil, errors.New("upstream 500")
		},
	}
	d := NewDispatcher([]Provider{provider}, nil)
	results, err := d.Dispatch(context.Background(), []schema.CanonicalDocument{doc("a")}, []string{"flaky"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v, want nil even on provider failure", err)
	}
	if len(results["a"]) != 0 {
		t.Errorf("results[a] = %+v, want empty", results["a"])
	}
}

func TestDispatchBatchesByMaxBatchSize(t *testing.T) {
	var seenBatchSizes []int
	provider := fakeProvider{
		name:     "batcher",
		maxBatch: 2,
		responder: func(requests []EnrichmentRequest) ([]EnrichmentResponse, error) {
			seenBatchSizes = append(seenBatchSizes, len(requests))
			var out []EnrichmentResponse
			for _, r := range requests {
				out = append(out, EnrichmentResponse{DocumentID: r.DocumentID})
			}
			return out, nil
		},
	}
	d := NewDispatcher([]Provider{provider}, nil)
	docs := []schema.CanonicalDocument{doc("a"), doc("b"), doc("c")}
	_, err := d.Dispatch(context.Background(), docs, []string{"batcher"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if len(seenBatchSizes) != 2 || seenBatchSizes[0] != 2 || seenBatchSizes[1] != 1 {
		t.Errorf("batch sizes = %v, want [2 1]", seenBatchSizes)
	}
}

func TestDispatchTimesOutSlowProvider(t *testing.T) {
	provider := fakeProvider{name: "slow", maxBatch: 10, timeout: 0.05, sleepForever: true}
	d := NewDispatcher([]Provider{provider}, nil)

	start := time.Now()
	results, err := d.Dispatch(context.Background(), []schema.CanonicalDocument{doc("a")}, []string{"slow"})
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Dispatch() took %v, want it to return promptly after the provider timeout", elapsed)
	}
	if len(results["a"]) != 0 {
		t.Errorf("results[a] = %+v, want empty after timeout", results["a"])
	}
}
