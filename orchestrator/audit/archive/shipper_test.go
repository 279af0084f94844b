// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Thomas007-creator/MET24-Production-FREE-GOLD-sub006/orchestrator/audit"
)

type memoryUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
	failN   int
}

func (m *memoryUploader) Name() string { return "mem://test" }

func (m *memoryUploader) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failN > 0 {
		m.failN--
		return errors.New("503 slow down")
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = append([]byte(nil), body...)
	return nil
}

func spoolWithEvents(t *testing.T, n int) *audit.Spool {
	t.Helper()
	spool, err := audit.NewSpool(t.TempDir())
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		e := &audit.Event{TraceID: "trace", EventType: audit.EventError, Actor: audit.ActorOrchestrator}
		require.NoError(t, e.Seal())
		require.NoError(t, spool.AppendEvent(e))
	}
	return spool
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestShipper_ShipOnce(t *testing.T) {
	spool := spoolWithEvents(t, 3)
	up := &memoryUploader{}
	shipper := NewShipper(spool, up, WithPrefix("/audit/"), WithLogger(quietLogger()))
	shipper.host = "gw-1"
	shipper.now = func() time.Time { return time.Date(2025, 4, 9, 10, 0, 0, 0, time.UTC) }

	n, err := shipper.ShipOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, up.objects, 1)
	for key, body := range up.objects {
		assert.True(t, strings.HasPrefix(key, "audit/2025/04/09/gw-1-audit-"), key)
		assert.True(t, strings.HasSuffix(key, ".jsonl"), key)
		assert.Equal(t, 3, bytes.Count(body, []byte("\n")))
	}

	ready, err := spool.Ready()
	require.NoError(t, err)
	assert.Empty(t, ready, "shipped files are removed")

	n, err = shipper.ShipOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestShipper_FailedUploadKeepsFile(t *testing.T) {
	spool := spoolWithEvents(t, 1)
	up := &memoryUploader{failN: 1}
	shipper := NewShipper(spool, up, WithLogger(quietLogger()))

	n, err := shipper.ShipOnce(context.Background())
	assert.Zero(t, n)
	assert.ErrorContains(t, err, "slow down")

	ready, err := spool.Ready()
	require.NoError(t, err)
	assert.Len(t, ready, 1, "the file stays for the next attempt")

	n, err = shipper.ShipOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestShipper_RunShipsOnShutdown(t *testing.T) {
	spool := spoolWithEvents(t, 2)
	up := &memoryUploader{}
	shipper := NewShipper(spool, up, WithInterval(time.Hour), WithLogger(quietLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		shipper.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shipper did not stop")
	}
	up.mu.Lock()
	defer up.mu.Unlock()
	assert.Len(t, up.objects, 1)
}

func TestObjectKey_NoPrefix(t *testing.T) {
	shipper := NewShipper(nil, &memoryUploader{}, WithPrefix(""))
	shipper.host = "h"
	shipper.now = func() time.Time { return time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC) }
	assert.Equal(t, "2025/01/02/h-audit-1.jsonl", shipper.ObjectKey("/var/spool/audit-1.jsonl"))
}

type mockS3 struct {
	mock.Mock
}

func (m *mockS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func TestS3Uploader(t *testing.T) {
	client := &mockS3{}
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "audit-bucket" &&
			aws.ToString(in.Key) == "k/1.jsonl" &&
			aws.ToString(in.ContentType) == "application/x-ndjson" &&
			aws.ToInt64(in.ContentLength) == 5
	})).Return(&s3.PutObjectOutput{}, nil)

	up := NewS3UploaderWithClient(client, "audit-bucket")
	assert.Equal(t, "s3://audit-bucket", up.Name())
	require.NoError(t, up.Upload(context.Background(), "k/1.jsonl", []byte("hello"), "application/x-ndjson"))
	client.AssertExpectations(t)
}

type mockAzure struct {
	mock.Mock
}

func (m *mockAzure) UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error) {
	args := m.Called(ctx, containerName, blobName, buffer, o)
	return azblob.UploadBufferResponse{}, args.Error(0)
}

func TestAzureUploader(t *testing.T) {
	client := &mockAzure{}
	client.On("UploadBuffer", mock.Anything, "audit", "k/1.jsonl", []byte("hi"), mock.MatchedBy(func(o *azblob.UploadBufferOptions) bool {
		return o.HTTPHeaders != nil && *o.HTTPHeaders.BlobContentType == "application/x-ndjson"
	})).Return(nil).Once()
	client.On("UploadBuffer", mock.Anything, "audit", "k/2.jsonl", mock.Anything, mock.Anything).Return(errors.New("AuthorizationFailure")).Once()

	up := NewAzureUploaderWithClient(client, "audit")
	assert.Equal(t, "azblob://audit", up.Name())
	require.NoError(t, up.Upload(context.Background(), "k/1.jsonl", []byte("hi"), "application/x-ndjson"))
	assert.Error(t, up.Upload(context.Background(), "k/2.jsonl", []byte("hi"), "application/x-ndjson"))
	client.AssertExpectations(t)
}

type bufferWriter struct {
	bytes.Buffer
	closeErr error
	closed   bool
}

func (b *bufferWriter) Close() error {
	b.closed = true
	return b.closeErr
}

func TestGCSUploader(t *testing.T) {
	w := &bufferWriter{}
	var gotBucket, gotKey, gotType string
	up := &GCSUploader{
		bucket: "audit",
		newWriter: func(ctx context.Context, bucket, key, contentType string) io.WriteCloser {
			gotBucket, gotKey, gotType = bucket, key, contentType
			return w
		},
	}
	assert.Equal(t, "gs://audit", up.Name())
	require.NoError(t, up.Upload(context.Background(), "k", []byte("data"), "application/x-ndjson"))
	assert.Equal(t, "audit", gotBucket)
	assert.Equal(t, "k", gotKey)
	assert.Equal(t, "application/x-ndjson", gotType)
	assert.Equal(t, "data", w.String())
	assert.True(t, w.closed)
	assert.NoError(t, up.Close())

	failing := &GCSUploader{
		bucket: "audit",
		newWriter: func(ctx context.Context, bucket, key, contentType string) io.WriteCloser {
			return &bufferWriter{closeErr: errors.New("googleapi: Error 403")}
		},
	}
	assert.ErrorContains(t, failing.Upload(context.Background(), "k", []byte("x"), ""), "finalize")
}

func TestNewUploader_Validation(t *testing.T) {
	_, err := NewUploader(context.Background(), Config{Backend: "s3"})
	assert.ErrorContains(t, err, "bucket")

	_, err = NewUploader(context.Background(), Config{Backend: "ftp", Bucket: "b"})
	assert.ErrorContains(t, err, "unsupported")

	_, err = NewUploader(context.Background(), Config{Backend: "azure", Bucket: "b"})
	assert.ErrorContains(t, err, "connection string or account URL")
}
