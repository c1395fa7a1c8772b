package catalog

import (
	"fmt"
	"regexp"
	"strings"

	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

var productPathRe = regexp.MustCompile(`/products/(.+)$`)

// CDNResolver maps catalog image URLs to the storefront's public CDN.
// URLs already on cdn.shopify.com are returned untouched, query string included.
type CDNResolver struct {
	domain string
}

var _ port.URLResolver = (*CDNResolver)(nil)

func NewCDNResolver(storeDomain string) *CDNResolver {
	return &CDNResolver{domain: storeDomain}
}

func (r *CDNResolver) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty image url", domain.ErrPermanentInput)
	}
	if strings.Contains(ref, "cdn.shopify.com") {
		return ref, nil
	}

	clean, _, _ := strings.Cut(ref, "?")
	m := productPathRe.FindStringSubmatch(clean)
	if m == nil {
		return "", fmt.Errorf("%w: invalid product image url %q", domain.ErrPermanentInput, ref)
	}
	return fmt.Sprintf("https://%s/cdn/shop/products/%s", r.domain, m[1]), nil
}

// PassthroughResolver returns every non-empty reference unchanged.
type PassthroughResolver struct{}

func (PassthroughResolver) Resolve(ref string) (string, error) {
	if ref == "" {
		return "", fmt.Errorf("%w: empty image url", domain.ErrPermanentInput)
	}
	return ref, nil
}
