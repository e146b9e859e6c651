// Package adapters transforms vendor- and source-specific parser
// payloads into the canonical document schema. Every adapter takes a
// loosely typed payload (jsonval.Map, or a string for JSON-encoded
// bodies) and either returns a populated schema.CanonicalDocument or
// an AdapterError describing why the payload could not be normalised.
package adapters

import (
	"context"
	"errors"
	"fmt"

	"docrouter/jsonval"
	"docrouter/schema"
)

// AdapterError is returned when a payload cannot be transformed into
// the canonical schema: a missing required field, an unknown parser
// name, or a payload of the wrong shape.
type AdapterError struct {
	msg string
}

func (e *AdapterError) Error() string { return e.msg }

// NewAdapterError builds an AdapterError with a formatted message.
func NewAdapterError(format string, args ...any) error {
	return &AdapterError{msg: fmt.Sprintf(format, args...)}
}

// IsAdapterError reports whether err is (or wraps) an AdapterError.
func IsAdapterError(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae)
}

// Adapter transforms a single parser payload into a canonical document.
type Adapter interface {
	Transform(ctx context.Context, payload any, documentID, sourceURI, checksum string, metadata jsonval.Map) (schema.CanonicalDocument, error)
}

// normaliseConfidence mirrors the original adapters' _normalise_confidence:
// absent confidence defaults to 1.0, since vendor payloads routinely omit
// it for values they are certain about.
func normaliseConfidence(m jsonval.Map, names ...string) float64 {
	return jsonval.NormaliseConfidence(m, names...)
}

func asPayloadMap(payload any) (jsonval.Map, error) {
	switch p := payload.(type) {
	case jsonval.Map:
		return p, nil
	case nil:
		return nil, NewAdapterError("payload is empty")
	default:
		return nil, NewAdapterError("payload must be a mapping, got %T", payload)
	}
}

func buildRegion(entry jsonval.Map, defaultPage int) *schema.BoundingRegion {
	page, hasPage := jsonval.Int(entry, "page", "page_number", "pageNumber")
	polygon := jsonval.FloatSlice(jsonval.Get(entry, "polygon"))
	boundingBox := jsonval.FloatSlice(jsonval.Get(entry, "bounding_box", "boundingBox", "bbox", "rect"))
	if !hasPage && polygon == nil && boundingBox == nil {
		return nil
	}
	if !hasPage {
		page = defaultPage
	}
	return &schema.BoundingRegion{Page: page, Polygon: polygon, BoundingBox: boundingBox}
}
