package store

import (
	"context"
	"os"
	"testing"

	"github.com/minio/minio-go/v7"

	"imgsearch/internal/domain"
)

// TestMinioSnapshotter_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioSnapshotter_Integration(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:9000"
	}
	bucket := "test-imgsearch"

	client, err := NewMinioClient(endpoint, "minioadmin", "minioadmin", false)
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()
	if _, err := client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		t.Fatal(err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			t.Fatal(err)
		}
	}

	snap := NewMinioSnapshotter(client, bucket, "vectors-test.json")
	_ = client.RemoveObject(ctx, bucket, "vectors-test.json", minio.RemoveObjectOptions{})

	s, err := Open(ctx, snap, JSONCodec{}, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("missing object should open empty: %v", err)
	}
	_ = s.Append(domain.VectorRecord{ID: "a", Embedding: []float32{1, 0}})
	if err := s.Checkpoint(ctx); err != nil {
		t.Fatal(err)
	}

	again, err := Open(ctx, snap, JSONCodec{}, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if again.Len() != 1 {
		t.Errorf("expected 1 record, got %d", again.Len())
	}
}
