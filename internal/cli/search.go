package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"imgsearch/config"
	"imgsearch/internal/adapter/cache"
	"imgsearch/internal/adapter/retriever"
	"imgsearch/internal/usecase"
)

var (
	searchImage string
	searchURL   string
	searchTopK  int
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Find products that look like an image",
	Long: `Embed a query image and rank stored products by cosine similarity.

Examples:
  imgsearch search --image ./shoe.jpg
  imgsearch search --url https://cdn.shopify.com/s/files/1/products/shoe.jpg -k 5 --json`,
	Args: cobra.NoArgs,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchImage, "image", "i", "", "query image file")
	searchCmd.Flags().StringVarP(&searchURL, "url", "u", "", "query image URL")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of results (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
	searchCmd.MarkFlagsOneRequired("image", "url")
	searchCmd.MarkFlagsMutuallyExclusive("image", "url")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	dir := GetRootDir()
	logger := slog.Default()
	ctx := cmd.Context()

	q := usecase.Query{URL: searchURL}
	if searchImage != "" {
		data, err := os.ReadFile(searchImage)
		if err != nil {
			return fmt.Errorf("failed to read image: %w", err)
		}
		q = usecase.Query{Bytes: data}
	}

	searchUC, closeStore, err := newSearchUseCase(ctx, cfg, dir, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if searchUC.Len() == 0 {
		return fmt.Errorf("no vectors found. Run 'imgsearch index' first")
	}

	results, err := searchUC.Search(ctx, q, searchTopK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"products": usecase.IDs(results),
			"results":  results,
		})
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results:\n\n", len(results))
	for i, r := range results {
		fmt.Printf("%2d. %s (score: %.4f)\n", i+1, r.ID, r.Score)
	}
	return nil
}

func newSearchUseCase(ctx context.Context, cfg *config.Config, dir string, logger *slog.Logger) (*usecase.SearchUseCase, func() error, error) {
	vs, closeStore, err := openStore(ctx, cfg, dir, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	adapter, err := newAdapter(cfg, logger)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	metric, err := retriever.MetricByName(cfg.Retrieve.Metric)
	if err != nil {
		closeStore()
		return nil, nil, err
	}

	var qc *cache.QueryCache
	if cfg.Retrieve.CacheSize > 0 {
		qc = cache.NewQueryCache(cfg.Retrieve.CacheSize, cfg.Retrieve.CacheTTL)
	}

	uc := usecase.NewSearchUseCase(vs, adapter, retriever.NewSimilarityEngine(metric), qc, cfg.Retrieve.TopK, logger)
	if cfg.Retrieve.MMRLambda > 0 {
		uc.WithDiversity(retriever.NewMMRReranker(cfg.Retrieve.MMRLambda, cfg.Retrieve.DedupSimilarity))
	}
	return uc, closeStore, nil
}
