package testutil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// FakeS3 is an in-memory bucket implementing the calls the syncer makes.
// PageSize limits keys per ListObjectsV2 page to exercise pagination.
type FakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	PageSize int
	Err      error
	Puts     int
	Deletes  int
}

func NewFakeS3() *FakeS3 {
	return &FakeS3{objects: make(map[string][]byte), PageSize: 2}
}

func (f *FakeS3) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (f *FakeS3) Object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	return b, ok
}

func (f *FakeS3) Seed(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

func (f *FakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = data
	f.Puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *FakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *FakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	f.Deletes++
	return &s3.DeleteObjectOutput{}, nil
}

func (f *FakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if aws.ToString(in.Bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	prefix := aws.ToString(in.Prefix)
	after := aws.ToString(in.ContinuationToken)

	var matched []string
	for _, k := range f.Keys() {
		if strings.HasPrefix(k, prefix) && k > after {
			matched = append(matched, k)
		}
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if f.PageSize > 0 && len(matched) > f.PageSize {
		matched = matched[:f.PageSize]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(matched[len(matched)-1])
	}
	for _, k := range matched {
		data, _ := f.Object(k)
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k), Size: aws.Int64(int64(len(data)))})
	}
	out.KeyCount = aws.Int32(int32(len(out.Contents)))
	return out, nil
}
