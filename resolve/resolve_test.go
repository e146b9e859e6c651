package resolve

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"docrouter/jsonval"
)

func TestInlineResolverFetch(t *testing.T) {
	tests := []struct {
		name string
		body jsonval.Map
		want string
		nil  bool
	}{
		{
			name: "base64 payload",
			body: jsonval.Map{"documentBytes": base64.StdEncoding.EncodeToString([]byte("%PDF-1.7"))},
			want: "%PDF-1.7",
		},
		{
			name: "raw utf-8 fallback",
			body: jsonval.Map{"document_content": "not base64 at all!!"},
			want: "not base64 at all!!",
		},
		{
			name: "inline content under documentMetadata",
			body: jsonval.Map{"documentMetadata": jsonval.Map{"inlineContent": base64.StdEncoding.EncodeToString([]byte("hi"))}},
			want: "hi",
		},
		{
			name: "absent",
			body: jsonval.Map{},
			nil:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := InlineResolver{}.Fetch(context.Background(), Descriptor{Body: tt.body})
			if err != nil {
				t.Fatalf("Fetch() error = %v", err)
			}
			if tt.nil {
				if got != nil {
					t.Errorf("got %v, want nil", got)
				}
				return
			}
			if string(got) != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

type fakeStore struct {
	content []byte
	err     error
}

func (f fakeStore) RangeGet(context.Context, string, string, int64) ([]byte, error) {
	return f.content, f.err
}

func TestObjectStoreResolverToleratesMissingObjects(t *testing.T) {
	r := NewObjectStoreResolver(fakeStore{})
	got, err := r.Fetch(context.Background(), Descriptor{Bucket: "b", Key: "k"})
	if err != nil || got != nil {
		t.Errorf("Fetch() = (%v, %v), want (nil, nil)", got, err)
	}
}

func TestChainTriesNextOnError(t *testing.T) {
	failing := objectResolverFunc(func(context.Context, Descriptor) ([]byte, error) {
		return nil, errors.New("boom")
	})
	succeeding := objectResolverFunc(func(context.Context, Descriptor) ([]byte, error) {
		return []byte("ok"), nil
	})

	chain := NewChain(nil, failing, succeeding)
	got := chain.Fetch(context.Background(), Descriptor{})
	if string(got) != "ok" {
		t.Errorf("Fetch() = %q, want %q", got, "ok")
	}
}

func TestChainStopsAtFirstNonNil(t *testing.T) {
	calledSecond := false
	first := objectResolverFunc(func(context.Context, Descriptor) ([]byte, error) {
		return []byte("first"), nil
	})
	second := objectResolverFunc(func(context.Context, Descriptor) ([]byte, error) {
		calledSecond = true
		return []byte("second"), nil
	})

	chain := NewChain(nil, first, second)
	got := chain.Fetch(context.Background(), Descriptor{})
	if string(got) != "first" {
		t.Errorf("Fetch() = %q, want first", got)
	}
	if calledSecond {
		t.Errorf("second resolver should not have been called")
	}
}

type objectResolverFunc func(ctx context.Context, d Descriptor) ([]byte, error)

func (f objectResolverFunc) Fetch(ctx context.Context, d Descriptor) ([]byte, error) { return f(ctx, d) }
