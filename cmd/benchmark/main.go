package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"imgsearch/config"
	"imgsearch/internal/adapter/retriever"
	"imgsearch/internal/adapter/store"
	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

// Self-retrieval benchmark: every sampled record is used as a query and
// should rank itself first. Reports latency and rank quality for the
// configured metric over the stored vectors.
func main() {
	dir := flag.String("dir", ".", "Working directory holding the config and store")
	samples := flag.Int("n", 100, "Number of records to query with")
	topK := flag.Int("k", 12, "Number of results per query")
	flag.Parse()

	cfg, err := config.LoadFromDir(*dir)
	if err == nil {
		err = cfg.ApplyEnv()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	codec, err := store.NewCodec(cfg.Store.Codec, cfg.Store.Compress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	snap, closeSnap, err := openSnapshotter(*dir, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening %s store: %v\n", cfg.Store.Backend, err)
		os.Exit(1)
	}
	defer closeSnap()

	vs, err := store.Open(context.Background(), snap, codec, store.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}

	records := vs.Records()
	if len(records) == 0 {
		fmt.Fprintf(os.Stderr, "No vectors in %s - run 'imgsearch index' first\n", vs.Location())
		return
	}

	metric, err := retriever.MetricByName(cfg.Retrieve.Metric)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	engine := retriever.NewSimilarityEngine(metric)

	fmt.Println("SIMILARITY SEARCH BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Vectors:   %d (dimension %d)\n", len(records), vs.Dimension())
	fmt.Printf("Metric:    %s\n", cfg.Retrieve.Metric)
	fmt.Printf("Synthetic: %d\n", countSynthetic(records))
	fmt.Println()

	n, step := sampleStep(len(records), *samples)

	var (
		total    time.Duration
		slowest  time.Duration
		mrr      float64
		top1     int
		selfDups int
	)
	for i := 0; i < n; i++ {
		q := records[i*step]

		start := time.Now()
		results, err := engine.Search(q.Embedding, records, *topK)
		elapsed := time.Since(start)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
			os.Exit(1)
		}

		total += elapsed
		if elapsed > slowest {
			slowest = elapsed
		}

		ids := make([]string, len(results))
		for j, r := range results {
			ids[j] = r.ID
		}
		rr := retriever.ReciprocalRank(ids, q.ID)
		mrr += rr
		if rr == 1 {
			top1++
		} else if len(results) > 0 && results[0].Score >= 0.9999 {
			selfDups++
		}
	}

	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS (%d queries, top-%d):\n", n, *topK)
	fmt.Printf("  Self top-1:       %d/%d\n", top1, n)
	fmt.Printf("  Mean recip. rank: %.3f\n", mrr/float64(n))
	if selfDups > 0 {
		fmt.Printf("  Near-duplicates:  %d queries outranked by an identical vector\n", selfDups)
	}
	fmt.Printf("LATENCY:\n")
	fmt.Printf("  Mean: %s\n", (total / time.Duration(n)).Round(time.Microsecond))
	fmt.Printf("  Max:  %s\n", slowest.Round(time.Microsecond))
}

// openSnapshotter opens the configured snapshot backend read side.
func openSnapshotter(dir string, cfg *config.Config) (port.Snapshotter, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store.Backend {
	case "bolt":
		bs, err := store.OpenBolt(config.Resolve(dir, cfg.Store.BoltPath))
		if err != nil {
			return nil, nil, err
		}
		return bs, bs.Close, nil
	case "minio":
		mc := cfg.Store.Minio
		client, err := store.NewMinioClient(mc.Endpoint, os.Getenv(mc.AccessKeyEnv), os.Getenv(mc.SecretKeyEnv), mc.UseSSL)
		if err != nil {
			return nil, nil, err
		}
		return store.NewMinioSnapshotter(client, mc.Bucket, mc.Key), noop, nil
	default:
		return store.NewFileSnapshotter(config.Resolve(dir, cfg.Store.Path)), noop, nil
	}
}

// sampleStep clamps the requested sample count to [1, total] and returns it
// with the stride that spreads the samples over the records.
func sampleStep(total, requested int) (n, step int) {
	n = requested
	if n < 1 {
		n = 1
	}
	if n > total {
		n = total
	}
	if n == 0 {
		return 0, 1
	}
	return n, total / n
}

func countSynthetic(records []domain.VectorRecord) int {
	n := 0
	for _, r := range records {
		if r.Synthetic {
			n++
		}
	}
	return n
}
