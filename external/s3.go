package external

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// ObjectStore wraps an aws-sdk-go-v2 S3 client to satisfy
// resolve.ObjectStore.
type ObjectStore struct {
	client *s3.Client
}

// NewObjectStore builds an ObjectStore over an already-configured
// aws-sdk-go-v2 S3 client.
func NewObjectStore(client *s3.Client) *ObjectStore {
	return &ObjectStore{client: client}
}

// RangeGet implements resolve.ObjectStore: fetches up to maxBytes from
// the start of the object, or the whole object when maxBytes <= 0.
func (o *ObjectStore) RangeGet(ctx context.Context, bucket, key string, maxBytes int64) ([]byte, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if maxBytes > 0 {
		input.Range = aws.String(fmt.Sprintf("bytes=0-%d", maxBytes-1))
	}

	out, err := o.client.GetObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("s3 get_object s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading s3 object body: %w", err)
	}
	return data, nil
}
