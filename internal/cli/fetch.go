package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"imgsearch/config"
	"imgsearch/internal/adapter/catalog"
	"imgsearch/internal/domain"
)

var fetchOutput string

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch product images from the Shopify catalog",
	Long: `Page through the store's products over the GraphQL API and write one
{id, handle, image} entry per product image to products.fetched.json.

The Storefront API is used with $TOKEN; when $ADMIN_TOKEN is set the Admin API
is used instead (disable with USE_ADMIN=0). In mock mode the existing
products.json is copied, or a one-item sample is written.

Examples:
  SHOP=my-store.myshopify.com TOKEN=... imgsearch fetch
  imgsearch fetch --mock`,
	Args: cobra.NoArgs,
	RunE: runFetch,
}

func init() {
	rootCmd.AddCommand(fetchCmd)
	fetchCmd.Flags().StringVarP(&fetchOutput, "output", "o", "", "output file (default from config)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	dir := GetRootDir()
	logger := slog.Default()

	output := cfg.Catalog.Output
	if fetchOutput != "" {
		output = fetchOutput
	}
	output = config.Resolve(dir, output)

	var (
		products []domain.Product
		err      error
	)
	if cfg.Catalog.Mock || cfg.Catalog.Shop == "" {
		fmt.Println("MOCK mode: skipping catalog fetch")
		products, err = catalog.MockProducts(config.Resolve(dir, cfg.Index.FallbackProductsFile))
	} else {
		products, err = fetchCatalog(cmd, cfg, logger)
	}
	if err != nil {
		return err
	}

	if err := catalog.WriteProducts(output, products); err != nil {
		return fmt.Errorf("failed to write %s: %w", output, err)
	}

	fmt.Printf("Total product images: %d\n", len(products))
	fmt.Printf("Written to: %s\n", output)
	return nil
}

func fetchCatalog(cmd *cobra.Command, cfg *config.Config, logger *slog.Logger) ([]domain.Product, error) {
	cc := cfg.Catalog
	client, err := catalog.NewShopifyClient(catalog.ShopifyConfig{
		Shop:              cc.Shop,
		Token:             os.Getenv(cc.TokenEnv),
		AdminToken:        os.Getenv(cc.AdminTokenEnv),
		UseAdmin:          cc.UseAdmin,
		APIVersion:        cc.APIVersion,
		PageSize:          cc.PageSize,
		ImagesPerProduct:  cc.ImagesPerProduct,
		MaxPages:          cc.MaxPages,
		IncludePaths:      cc.IncludePaths,
		Attempts:          cfg.Fetch.Attempts,
		Backoff:           cfg.Fetch.Backoff,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
	}, logger)
	if err != nil {
		return nil, err
	}

	fmt.Printf("Fetching product images from %s...\n", cc.Shop)
	products, err := client.FetchProducts(cmd.Context())
	if err != nil {
		return nil, fmt.Errorf("catalog fetch failed: %w", err)
	}
	return products, nil
}
