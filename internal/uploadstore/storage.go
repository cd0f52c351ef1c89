// Package uploadstore keeps uploaded source documents in a MinIO/S3 bucket.
// The API stores each upload under a generated object key and hands that key
// to the gateway as the task's uploaded_file_ref; the worker fetches it back
// to a temp file when the job runs.
package uploadstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrObjectMissing is returned when the referenced upload no longer exists.
var ErrObjectMissing = errors.New("uploadstore: object not found")

// Config holds the S3 connection settings.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
	Bucket    string
}

// Storage wraps MinIO interactions for uploaded source documents.
type Storage struct {
	client *minio.Client
	bucket string
	region string
}

// New creates a MinIO client for the upload bucket.
func New(cfg Config) (*Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}
	return &Storage{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// EnsureBucket makes sure the upload bucket exists before use.
func (s *Storage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
			return fmt.Errorf("make bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Put stores an uploaded document under objectKey.
func (s *Storage) Put(ctx context.Context, objectKey string, reader io.Reader, size int64, contentType string) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if _, err := s.client.PutObject(ctx, s.bucket, objectKey, reader, size, opts); err != nil {
		return fmt.Errorf("upload object: %w", err)
	}
	return nil
}

// FetchTemp downloads the object to a local temp file and returns its path
// and reported content type. The caller owns the file and must remove it.
func (s *Storage) FetchTemp(ctx context.Context, objectKey string) (string, string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return "", "", fmt.Errorf("get object %s: %w", objectKey, err)
	}
	defer obj.Close()

	stat, err := obj.Stat()
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return "", "", fmt.Errorf("%w: %s", ErrObjectMissing, objectKey)
		}
		return "", "", fmt.Errorf("stat object %s: %w", objectKey, err)
	}

	tmp, err := os.CreateTemp("", "docpipe-upload-*")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	_, err = io.Copy(tmp, obj)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return "", "", fmt.Errorf("read object %s: %w", objectKey, err)
	}
	return tmp.Name(), stat.ContentType, nil
}

// Delete removes an uploaded object once processing no longer needs it.
func (s *Storage) Delete(ctx context.Context, objectKey string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("remove object %s: %w", objectKey, err)
	}
	return nil
}
