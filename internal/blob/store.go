// Package blob stores attachment bytes in an S3-compatible bucket, keyed
// by content hash so identical uploads share a single object.
package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and makes sure the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connect blob store: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	return &Store{client: client, bucket: bucket}, nil
}

// Hash returns the content address of a byte blob.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put stores the blob under its content hash and returns the hash. A blob
// that already exists is not re-uploaded.
func (s *Store) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	hash := Hash(data)

	_, err := s.client.StatObject(ctx, s.bucket, hash, minio.StatObjectOptions{})
	if err == nil {
		return hash, nil // deduplicated
	}
	var respErr minio.ErrorResponse
	if errors.As(err, &respErr) && respErr.Code != "NoSuchKey" {
		return "", fmt.Errorf("stat blob %s: %w", hash, err)
	}

	_, err = s.client.PutObject(ctx, s.bucket, hash, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("put blob %s: %w", hash, err)
	}
	return hash, nil
}

// Get reads a blob back by its content hash.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, hash, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", hash, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("read blob %s: %w", hash, err)
	}
	return data, nil
}
