// Package resolve implements the content resolver chain: producing
// document bytes from inline message payloads or object storage, first
// successful resolver wins.
package resolve

import (
	"context"
	"encoding/base64"

	"docrouter/jsonval"

	"go.uber.org/zap"
)

// DefaultRangeGetBytes is the default object-store range-get size (20 MiB).
const DefaultRangeGetBytes int64 = 20 * 1024 * 1024

// Descriptor is the minimal view a resolver needs of an incoming message.
type Descriptor struct {
	Bucket   string
	Key      string
	MimeType string
	Body     jsonval.Map
}

// Resolver fetches document bytes for a descriptor. Returning (nil, nil)
// means "not found here" and is not an error; the chain tries the next
// resolver. A non-nil error is logged by the chain but does not abort it.
type Resolver interface {
	Fetch(ctx context.Context, d Descriptor) ([]byte, error)
}

// Chain tries its resolvers in order and returns the first non-nil result.
type Chain struct {
	resolvers []Resolver
	logger    *zap.Logger
}

// NewChain builds a Chain over resolvers, tried in the given order.
func NewChain(logger *zap.Logger, resolvers ...Resolver) *Chain {
	return &Chain{resolvers: resolvers, logger: logger}
}

// Fetch runs the chain, returning the first resolver's non-nil bytes.
func (c *Chain) Fetch(ctx context.Context, d Descriptor) []byte {
	for _, r := range c.resolvers {
		content, err := r.Fetch(ctx, d)
		if err != nil {
			if c.logger != nil {
				c.logger.Warn("content resolver failed, trying next", zap.Error(err))
			}
			continue
		}
		if content != nil {
			return content
		}
	}
	return nil
}

// inlineKeys are the message-body keys that may carry inline content,
// tried in order; base64 is attempted first, then raw UTF-8 bytes.
var inlineKeys = []string{
	"documentBytes", "document_bytes", "documentContent", "document_content", "payload",
}

// InlineResolver extracts document bytes embedded directly in the message body.
type InlineResolver struct{}

// Fetch implements Resolver.
func (InlineResolver) Fetch(_ context.Context, d Descriptor) ([]byte, error) {
	raw, ok := jsonval.String(d.Body, inlineKeys...)
	if !ok {
		if meta := jsonval.AsMap(jsonval.Get(d.Body, "documentMetadata")); meta != nil {
			raw, ok = jsonval.String(meta, "inlineContent")
		}
	}
	if !ok || raw == "" {
		return nil, nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return decoded, nil
	}
	return []byte(raw), nil
}

// ObjectStore is the capability interface for range-getting bytes from
// an external object store. A missing capability is represented by
// NullObjectStore, never a runtime presence check.
type ObjectStore interface {
	RangeGet(ctx context.Context, bucket, key string, maxBytes int64) ([]byte, error)
}

// NullObjectStore is a null-object ObjectStore: it always reports "not found".
type NullObjectStore struct{}

// RangeGet implements ObjectStore by always returning no content.
func (NullObjectStore) RangeGet(context.Context, string, string, int64) ([]byte, error) {
	return nil, nil
}

// ObjectStoreResolver resolves content from an object store by (bucket, key).
type ObjectStoreResolver struct {
	Store        ObjectStore
	MaxRangeGet  int64
}

// NewObjectStoreResolver builds a resolver over store with the default range-get size.
func NewObjectStoreResolver(store ObjectStore) *ObjectStoreResolver {
	if store == nil {
		store = NullObjectStore{}
	}
	return &ObjectStoreResolver{Store: store, MaxRangeGet: DefaultRangeGetBytes}
}

// Fetch implements Resolver. Missing objects are tolerated: a nil, nil
// result from the store is passed straight through.
func (r *ObjectStoreResolver) Fetch(ctx context.Context, d Descriptor) ([]byte, error) {
	if d.Bucket == "" || d.Key == "" {
		return nil, nil
	}
	max := r.MaxRangeGet
	if max <= 0 {
		max = DefaultRangeGetBytes
	}
	return r.Store.RangeGet(ctx, d.Bucket, d.Key, max)
}
