package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"imgsearch/internal/port"
)

// MinioSnapshotter keeps the snapshot as one object in S3-compatible storage.
// PutObject replaces the object whole, which gives the same all-or-nothing
// visibility as the local rename.
type MinioSnapshotter struct {
	client *minio.Client
	bucket string
	key    string
}

var _ port.Snapshotter = (*MinioSnapshotter)(nil)

// NewMinioClient connects to endpoint with static credentials.
func NewMinioClient(endpoint, accessKey, secretKey string, useSSL bool) (*minio.Client, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return client, nil
}

func NewMinioSnapshotter(client *minio.Client, bucket, key string) *MinioSnapshotter {
	return &MinioSnapshotter{client: client, bucket: bucket, key: key}
}

func (m *MinioSnapshotter) Location() string {
	return fmt.Sprintf("s3://%s/%s", m.bucket, m.key)
}

func (m *MinioSnapshotter) Read(ctx context.Context) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, m.key, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapMinioErr(err)
	}
	defer func() { _ = obj.Close() }()

	if _, err := obj.Stat(); err != nil {
		return nil, mapMinioErr(err)
	}
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapMinioErr(err)
	}
	return data, nil
}

func (m *MinioSnapshotter) Write(ctx context.Context, data []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, m.key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	return err
}

func mapMinioErr(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("minio snapshot: %w", os.ErrNotExist)
	}
	return err
}
