package cli

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"imgsearch/config"
	"imgsearch/internal/adapter/catalog"
	"imgsearch/internal/domain"
	"imgsearch/internal/usecase"
)

var (
	indexProducts   string
	indexNoProgress bool
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Embed product images into the vector store",
	Long: `Download every product image, embed it and append the vector to the store.

Products already in the store are skipped, so an interrupted run resumes where
it stopped. The store is checkpointed every index.checkpoint_every vectors
(WRITE_EVERY), at the end of the run and on SIGINT/SIGTERM.

Examples:
  imgsearch index
  MAX_ITEMS=50 imgsearch index --mock
  imgsearch index --products my-products.json`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().StringVarP(&indexProducts, "products", "p", "", "product list (default: fetched list, then products.json)")
	indexCmd.Flags().BoolVar(&indexNoProgress, "no-progress", false, "disable the progress bar")
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	dir := GetRootDir()
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths := []string{
		config.Resolve(dir, cfg.Index.ProductsFile),
		config.Resolve(dir, cfg.Index.FallbackProductsFile),
	}
	if indexProducts != "" {
		paths = []string{config.Resolve(dir, indexProducts)}
	}
	products, source, err := catalog.LoadProducts(paths...)
	if err != nil {
		return fmt.Errorf("failed to load products: %w", err)
	}
	fmt.Printf("Loaded %d products from %s\n", len(products), source)

	vs, closeStore, err := openStore(ctx, cfg, dir, logger)
	if err != nil {
		return fmt.Errorf("failed to open vector store: %w", err)
	}
	defer closeStore()

	adapter, err := newAdapter(cfg, logger)
	if err != nil {
		return err
	}

	resolver := catalog.NewCDNResolver(cfg.Index.StoreDomain)
	hook := usecase.NewShutdownHook(vs.Checkpoint, logger)
	indexUC := usecase.NewIndexUseCase(vs, newFetcher(cfg, logger), resolver, adapter, hook, usecase.IndexOptions{
		Dimension:       cfg.Embedding.Dimension,
		CheckpointEvery: cfg.Index.CheckpointEvery,
		ProgressEvery:   cfg.Index.ProgressEvery,
		MaxItems:        cfg.Index.MaxItems,
		PseudoFallback:  cfg.Index.PseudoFallback,
	}, logger)

	var onProgress usecase.ProgressFunc
	if !indexNoProgress {
		onProgress = newProgressBar(len(products), cfg.Index.MaxItems)
	}

	progress, err := indexUC.Run(ctx, products, onProgress)
	if err != nil {
		fmt.Printf("\nIndexing stopped: %v\n", err)
		printIndexSummary(progress, vs.Len(), vs.Location())
		return err
	}

	printIndexSummary(progress, vs.Len(), vs.Location())
	return nil
}

func newProgressBar(total, maxItems int) usecase.ProgressFunc {
	if maxItems > 0 && total > maxItems {
		total = maxItems
	}

	var (
		bar       *progressbar.ProgressBar
		barMu     sync.Mutex
		startTime time.Time
	)
	return func(processed int, _ domain.IndexProgress) {
		barMu.Lock()
		defer barMu.Unlock()

		if bar == nil {
			startTime = time.Now()
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Indexing[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}

		bar.Set(processed)

		elapsed := time.Since(startTime)
		if processed > 0 && elapsed > 0 {
			rate := float64(processed) / elapsed.Seconds()
			eta := time.Duration(float64(total-processed)/rate) * time.Second
			bar.Describe(fmt.Sprintf("[cyan]Indexing[reset] ETA: %s", formatDuration(eta)))
		}
	}
}

func printIndexSummary(p domain.IndexProgress, stored int, location string) {
	fmt.Printf("\nIndexing summary:\n")
	fmt.Printf("  Products:  %d\n", p.Total)
	fmt.Printf("  Indexed:   %d (including resumed)\n", p.Indexed)
	fmt.Printf("  Skipped:   %d (already indexed)\n", p.Skipped)
	fmt.Printf("  Failed:    %d\n", p.Failed)
	if p.Synthetic > 0 {
		fmt.Printf("  Synthetic: %d (pseudo-embedding fallback)\n", p.Synthetic)
	}
	fmt.Printf("\nVectors stored: %d at %s\n", stored, location)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return "<1s"
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", h, m)
}
