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
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"google.golang.org/api/option"
)

// Config selects and configures an object storage backend.
type Config struct {
	Backend string // s3, gcs or azure
	Bucket  string // bucket, or container for azure
	Prefix  string

	// S3
	Region   string
	Endpoint string

	// GCS
	CredentialsFile string

	// Azure: a connection string, or an account URL used with the default credential chain.
	AzureConnectionString string
	AzureAccountURL       string
}

// NewUploader builds the uploader for cfg.Backend.
func NewUploader(ctx context.Context, cfg Config) (Uploader, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	switch cfg.Backend {
	case "s3":
		return NewS3Uploader(ctx, cfg)
	case "gcs":
		return NewGCSUploader(ctx, cfg)
	case "azure":
		return NewAzureUploader(cfg)
	default:
		return nil, fmt.Errorf("unsupported archive backend %q", cfg.Backend)
	}
}

// S3PutAPI is the subset of *s3.Client used for uploads.
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Uploader struct {
	client S3PutAPI
	bucket string
}

func NewS3Uploader(ctx context.Context, cfg Config) (*S3Uploader, error) {
	var optFns []func(*config.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, config.WithRegion(cfg.Region))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}
	return &S3Uploader{client: s3.NewFromConfig(awsCfg, s3Opts...), bucket: cfg.Bucket}, nil
}

func NewS3UploaderWithClient(client S3PutAPI, bucket string) *S3Uploader {
	return &S3Uploader{client: client, bucket: bucket}
}

func (u *S3Uploader) Name() string { return "s3://" + u.bucket }

func (u *S3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(u.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(body))),
	})
	return err
}

// objectWriterFunc opens a writer for one GCS object.
type objectWriterFunc func(ctx context.Context, bucket, key, contentType string) io.WriteCloser

type GCSUploader struct {
	bucket    string
	newWriter objectWriterFunc
	client    *storage.Client
}

func NewGCSUploader(ctx context.Context, cfg Config) (*GCSUploader, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSUploader{
		bucket: cfg.Bucket,
		client: client,
		newWriter: func(ctx context.Context, bucket, key, contentType string) io.WriteCloser {
			w := client.Bucket(bucket).Object(key).NewWriter(ctx)
			w.ContentType = contentType
			return w
		},
	}, nil
}

func (u *GCSUploader) Name() string { return "gs://" + u.bucket }

func (u *GCSUploader) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	w := u.newWriter(ctx, u.bucket, key, contentType)
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write object: %w", err)
	}
	// The object is only committed when Close succeeds.
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize object: %w", err)
	}
	return nil
}

// Close releases the GCS client.
func (u *GCSUploader) Close() error {
	if u.client == nil {
		return nil
	}
	return u.client.Close()
}

// AzureUploadAPI is the subset of *azblob.Client used for uploads.
type AzureUploadAPI interface {
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte, o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

type AzureUploader struct {
	client    AzureUploadAPI
	container string
}

func NewAzureUploader(cfg Config) (*AzureUploader, error) {
	var (
		client *azblob.Client
		err    error
	)
	switch {
	case cfg.AzureConnectionString != "":
		client, err = azblob.NewClientFromConnectionString(cfg.AzureConnectionString, nil)
	case cfg.AzureAccountURL != "":
		cred, credErr := azidentity.NewDefaultAzureCredential(nil)
		if credErr != nil {
			return nil, fmt.Errorf("failed to create azure credential: %w", credErr)
		}
		client, err = azblob.NewClient(cfg.AzureAccountURL, cred, nil)
	default:
		return nil, fmt.Errorf("azure archive requires a connection string or account URL")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create azure blob client: %w", err)
	}
	return &AzureUploader{client: client, container: cfg.Bucket}, nil
}

func NewAzureUploaderWithClient(client AzureUploadAPI, container string) *AzureUploader {
	return &AzureUploader{client: client, container: container}
}

func (u *AzureUploader) Name() string { return "azblob://" + u.container }

func (u *AzureUploader) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := u.client.UploadBuffer(ctx, u.container, key, body, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{
			BlobContentType: &contentType,
		},
	})
	return err
}
