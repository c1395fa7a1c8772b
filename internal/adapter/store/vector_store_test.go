package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"imgsearch/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTest(t *testing.T, snap *MemorySnapshotter) *VectorStore {
	t.Helper()
	s, err := Open(context.Background(), snap, JSONCodec{}, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s
}

func TestOpen_MissingSnapshot(t *testing.T) {
	s := openTest(t, NewMemorySnapshotter())

	if s.Len() != 0 || s.Resumed() != 0 {
		t.Errorf("expected empty store, got len=%d resumed=%d", s.Len(), s.Resumed())
	}
}

func TestOpen_CorruptSnapshotStartsEmpty(t *testing.T) {
	cases := map[string]string{
		"not json":        `{{{`,
		"truncated":       `[{"id":"a","embedding":[0.1,0.2]`,
		"mixed dimension": `[{"id":"a","embedding":[1,0]},{"id":"b","embedding":[1,0,0]}]`,
		"empty id":        `[{"id":"","embedding":[1,0]}]`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			s := openTest(t, NewMemorySnapshotterWith([]byte(data)))
			if s.Len() != 0 {
				t.Errorf("expected empty store for corrupt snapshot, got %d records", s.Len())
			}
		})
	}
}

func TestOpen_ReadErrorIsReturned(t *testing.T) {
	snap := failingSnapshotter{err: errors.New("permission denied")}
	if _, err := Open(context.Background(), snap, JSONCodec{}, Options{Logger: quietLogger()}); err == nil {
		t.Fatal("expected read error to surface")
	}
}

func TestOpen_DropsDuplicateIDs(t *testing.T) {
	data := `[{"id":"a","embedding":[1,0]},{"id":"a","embedding":[0,1]},{"id":"b","embedding":[0,1]}]`
	s := openTest(t, NewMemorySnapshotterWith([]byte(data)))

	recs := s.Records()
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].ID != "a" || recs[0].Embedding[0] != 1 {
		t.Errorf("expected first occurrence of a to be kept, got %+v", recs[0])
	}
}

func TestAppend_RejectsDuplicateAndMismatch(t *testing.T) {
	s := openTest(t, NewMemorySnapshotter())

	if err := s.Append(domain.VectorRecord{ID: "a", Embedding: []float32{1, 0, 0}}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Append(domain.VectorRecord{ID: "a", Embedding: []float32{0, 1, 0}}); !errors.Is(err, domain.ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
	err := s.Append(domain.VectorRecord{ID: "b", Embedding: []float32{1, 0}})
	var dimErr *domain.DimensionError
	if !errors.As(err, &dimErr) || dimErr.Expected != 3 || dimErr.Actual != 2 {
		t.Errorf("expected dimension error 3/2, got %v", err)
	}
	if s.Len() != 1 || s.Pending() != 1 {
		t.Errorf("expected 1 record and 1 pending, got %d/%d", s.Len(), s.Pending())
	}
}

func TestAppend_FixedDimension(t *testing.T) {
	s, err := Open(context.Background(), NewMemorySnapshotter(), JSONCodec{}, Options{Dimension: 4, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Append(domain.VectorRecord{ID: "a", Embedding: []float32{1, 0}}); !errors.Is(err, domain.ErrDimensionMismatch) {
		t.Errorf("expected mismatch against configured dimension, got %v", err)
	}
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	snap := NewMemorySnapshotter()
	s := openTest(t, snap)

	want := []domain.VectorRecord{
		{ID: "gid://shopify/Product/1", Embedding: []float32{0.6, 0.8}},
		{ID: "gid://shopify/Product/2", Embedding: []float32{1, 0}, Synthetic: true},
	}
	for _, r := range want {
		if err := s.Append(r); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Checkpoint(context.Background()); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if s.Pending() != 0 {
		t.Errorf("expected pending reset, got %d", s.Pending())
	}

	reopened := openTest(t, snap)
	got := reopened.Records()
	if len(got) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].ID != want[i].ID || got[i].Synthetic != want[i].Synthetic {
			t.Errorf("record %d: expected %+v, got %+v", i, want[i], got[i])
		}
		for j := range want[i].Embedding {
			if got[i].Embedding[j] != want[i].Embedding[j] {
				t.Errorf("record %d component %d differs", i, j)
			}
		}
	}
	if reopened.Resumed() != 2 || !reopened.Has("gid://shopify/Product/2") {
		t.Errorf("expected resumed state, got resumed=%d", reopened.Resumed())
	}
}

func TestCheckpoint_EmptyStoreWritesEmptyList(t *testing.T) {
	snap := NewMemorySnapshotter()
	s := openTest(t, snap)

	if err := s.Checkpoint(context.Background()); err != nil {
		t.Fatal(err)
	}
	data, err := snap.Read(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "[]" {
		t.Errorf("expected [], got %s", data)
	}
}

func TestReload(t *testing.T) {
	snap := NewMemorySnapshotter()
	writer := openTest(t, snap)
	reader := openTest(t, snap)

	if err := writer.Append(domain.VectorRecord{ID: "a", Embedding: []float32{1}}); err != nil {
		t.Fatal(err)
	}
	if err := writer.Checkpoint(context.Background()); err != nil {
		t.Fatal(err)
	}
	if reader.Len() != 0 {
		t.Fatalf("reader should not see unloaded records")
	}
	if err := reader.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	if reader.Len() != 1 {
		t.Errorf("expected 1 record after reload, got %d", reader.Len())
	}
}

func TestRecords_ReturnsCopy(t *testing.T) {
	s := openTest(t, NewMemorySnapshotter())
	_ = s.Append(domain.VectorRecord{ID: "a", Embedding: []float32{1}})

	recs := s.Records()
	recs[0] = domain.VectorRecord{ID: "z"}
	if s.Records()[0].ID != "a" {
		t.Error("mutating the returned slice changed the store")
	}
}

func TestFileSnapshotter_Persist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vectors.json")
	snap := NewFileSnapshotter(path)
	codec, err := NewCodec("json", false)
	if err != nil {
		t.Fatal(err)
	}

	s, err := Open(context.Background(), snap, codec, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"1", "2", "3"} {
		if err := s.Append(domain.VectorRecord{ID: id, Embedding: []float32{0, 1}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Checkpoint(context.Background()); err != nil {
		t.Fatal(err)
	}

	again, err := Open(context.Background(), snap, codec, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}
	if again.Len() != 3 {
		t.Errorf("expected 3 records on disk, got %d", again.Len())
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp-*"))
	if len(matches) != 0 {
		t.Errorf("temporary files left behind: %v", matches)
	}
}

type failingSnapshotter struct{ err error }

func (f failingSnapshotter) Read(context.Context) ([]byte, error) { return nil, f.err }
func (f failingSnapshotter) Write(context.Context, []byte) error  { return f.err }
func (f failingSnapshotter) Location() string                     { return "failing" }
