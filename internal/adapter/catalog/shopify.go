package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/time/rate"

	"imgsearch/internal/adapter/httpx"
	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

const productsQuery = `query Products($first: Int!, $images: Int!, $after: String) {
  products(first: $first, after: $after) {
    edges {
      cursor
      node {
        id
        handle
        images(first: $images) {
          edges {
            node {
              url
            }
          }
        }
      }
    }
    pageInfo {
      hasNextPage
    }
  }
}`

const adminProductsQuery = `query Products($first: Int!, $images: Int!, $after: String) {
  products(first: $first, after: $after) {
    edges {
      cursor
      node {
        id
        handle
        images(first: $images) {
          edges {
            node {
              src
              originalSrc
            }
          }
        }
      }
    }
    pageInfo {
      hasNextPage
    }
  }
}`

// ShopifyConfig configures a ShopifyClient.
type ShopifyConfig struct {
	Shop             string
	Token            string
	AdminToken       string
	UseAdmin         bool
	APIVersion       string
	PageSize         int
	ImagesPerProduct int
	MaxPages         int
	IncludePaths     []string
	Attempts         int
	Backoff          time.Duration
	Timeout          time.Duration

	// RequestsPerSecond caps page requests. Zero disables the limit.
	RequestsPerSecond float64

	// BaseURL overrides "https://{Shop}".
	BaseURL string
}

// ShopifyClient pages through the catalog over the GraphQL API.
type ShopifyClient struct {
	cfg     ShopifyConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ port.CatalogSource = (*ShopifyClient)(nil)

// NewShopifyClient validates cfg and fills defaults.
func NewShopifyClient(cfg ShopifyConfig, logger *slog.Logger) (*ShopifyClient, error) {
	if cfg.Shop == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("shop domain is required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-01"
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 250
	}
	if cfg.ImagesPerProduct <= 0 {
		cfg.ImagesPerProduct = 5
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 200
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	for _, p := range cfg.IncludePaths {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid include pattern: %s", p)
		}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ShopifyClient{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: httpx.NewLimiter(cfg.RequestsPerSecond),
		logger:  logger,
	}, nil
}

// Admin reports whether requests go to the Admin API.
func (c *ShopifyClient) Admin() bool {
	return c.cfg.UseAdmin && c.cfg.AdminToken != ""
}

func (c *ShopifyClient) endpoint() string {
	base := c.cfg.BaseURL
	if base == "" {
		base = "https://" + c.cfg.Shop
	}
	base = strings.TrimRight(base, "/")
	if c.Admin() {
		return fmt.Sprintf("%s/admin/api/%s/graphql.json", base, c.cfg.APIVersion)
	}
	return fmt.Sprintf("%s/api/%s/graphql.json", base, c.cfg.APIVersion)
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type productsPage struct {
	Errors json.RawMessage `json:"errors"`
	Data   *struct {
		Products *struct {
			Edges []struct {
				Cursor string `json:"cursor"`
				Node   struct {
					ID     string `json:"id"`
					Handle string `json:"handle"`
					Images struct {
						Edges []struct {
							Node imageNode `json:"node"`
						} `json:"edges"`
					} `json:"images"`
				} `json:"node"`
			} `json:"edges"`
			PageInfo struct {
				HasNextPage bool `json:"hasNextPage"`
			} `json:"pageInfo"`
		} `json:"products"`
	} `json:"data"`
}

// imageNode accepts both Storefront (url) and Admin (src, originalSrc) fields.
type imageNode struct {
	URL         string `json:"url"`
	Src         string `json:"src"`
	OriginalSrc string `json:"originalSrc"`
}

func (n imageNode) location() string {
	switch {
	case n.URL != "":
		return n.URL
	case n.Src != "":
		return n.Src
	default:
		return n.OriginalSrc
	}
}

// FetchProducts returns one Product per kept image, in catalog order. A
// product with several matching images appears once per image.
func (c *ShopifyClient) FetchProducts(ctx context.Context) ([]domain.Product, error) {
	api := "Storefront API"
	if c.Admin() {
		api = "Admin API"
	}
	c.logger.Info("querying catalog", "api", api, "endpoint", c.endpoint())

	var (
		products []domain.Product
		cursor   string
	)
	for page := 1; page <= c.cfg.MaxPages; page++ {
		c.logger.Debug("fetching page", "page", page)

		resp, err := c.fetchPage(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		edges := resp.Data.Products.Edges
		if len(edges) == 0 {
			c.logger.Info("no edges returned, stopping", "page", page)
			break
		}

		for _, edge := range edges {
			for _, img := range edge.Node.Images.Edges {
				loc := img.Node.location()
				if loc == "" || !c.included(loc) {
					continue
				}
				products = append(products, domain.Product{
					ID:     edge.Node.ID,
					Handle: edge.Node.Handle,
					Image:  loc,
				})
			}
		}

		if !resp.Data.Products.PageInfo.HasNextPage {
			break
		}
		cursor = edges[len(edges)-1].Cursor
		if page == c.cfg.MaxPages {
			c.logger.Warn("max pages reached, catalog truncated", "max_pages", c.cfg.MaxPages)
		}
	}

	c.logger.Info("catalog fetched", "images", len(products))
	return products, nil
}

// included matches the URL path against the include patterns. No patterns keeps everything.
func (c *ShopifyClient) included(raw string) bool {
	if len(c.cfg.IncludePaths) == 0 {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	p := strings.TrimPrefix(u.Path, "/")
	for _, pattern := range c.cfg.IncludePaths {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

func (c *ShopifyClient) fetchPage(ctx context.Context, cursor string) (*productsPage, error) {
	query := productsQuery
	if c.Admin() {
		query = adminProductsQuery
	}
	vars := map[string]any{
		"first":  c.cfg.PageSize,
		"images": c.cfg.ImagesPerProduct,
	}
	if cursor != "" {
		vars["after"] = cursor
	}
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var page *productsPage
	err = httpx.Retry(ctx, c.cfg.Attempts, c.cfg.Backoff, func(attempt int) error {
		if err := httpx.Wait(ctx, c.limiter); err != nil {
			return err
		}
		p, err := c.post(ctx, body)
		if err != nil {
			c.logger.Warn("catalog request failed", "attempt", attempt, "attempts", c.cfg.Attempts, "error", err)
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (c *ShopifyClient) post(ctx context.Context, body []byte) (*productsPage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Admin() {
		req.Header.Set("X-Shopify-Access-Token", c.cfg.AdminToken)
	} else {
		req.Header.Set("X-Shopify-Storefront-Access-Token", c.cfg.Token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, httpx.TransportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, httpx.TransportError(ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", httpx.StatusError(resp), preview(data))
	}

	var page productsPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCatalogShape, err)
	}
	if len(page.Errors) > 0 && string(page.Errors) != "null" {
		return nil, fmt.Errorf("%w: graphql errors: %s", domain.ErrCatalogShape, preview(page.Errors))
	}
	if page.Data == nil || page.Data.Products == nil {
		return nil, fmt.Errorf("%w: missing data.products: %s", domain.ErrCatalogShape, preview(data))
	}
	return &page, nil
}

func preview(b []byte) string {
	const limit = 300
	s := strings.TrimSpace(string(b))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
