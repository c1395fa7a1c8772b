package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"imgsearch/internal/adapter/httpx"
	"imgsearch/internal/port"
)

// HTTPExtractor calls an image embedding service (for example a CLIP
// sidecar) over HTTP. The service may reject encodings it does not support
// with a 4xx status.
type HTTPExtractor struct {
	baseURL string
	model   string
	client  *http.Client
}

var _ port.Extractor = (*HTTPExtractor)(nil)

type extractRequest struct {
	Model   string          `json:"model,omitempty"`
	Kind    string          `json:"kind"`
	URL     string          `json:"url,omitempty"`
	Image   string          `json:"image,omitempty"`
	Bytes   []byte          `json:"bytes,omitempty"`
	Options *extractOptions `json:"options,omitempty"`
}

type extractOptions struct {
	Pooling   string `json:"pooling,omitempty"`
	Normalize bool   `json:"normalize"`
}

type extractResponse struct {
	Data  []float32 `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewHTTPExtractor creates an extractor posting to baseURL + "/extract".
func NewHTTPExtractor(baseURL, model string, timeout time.Duration) *HTTPExtractor {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPExtractor{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (e *HTTPExtractor) Extract(ctx context.Context, input port.ExtractInput, opts *port.ExtractOptions) ([]float32, error) {
	reqBody := extractRequest{
		Model: e.model,
		Kind:  input.Kind.String(),
	}
	switch input.Kind {
	case port.InputURL:
		reqBody.URL = input.URL
	case port.InputObject:
		reqBody.Image = input.URL
	default:
		reqBody.Bytes = input.Bytes
	}
	if opts != nil {
		reqBody.Options = &extractOptions{Pooling: opts.Pooling, Normalize: opts.Normalize}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/extract", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, httpx.TransportError(ctx, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extractor returned %w: %s", httpx.StatusError(resp), preview(body))
	}

	var extResp extractResponse
	if err := json.Unmarshal(body, &extResp); err != nil {
		return nil, fmt.Errorf("failed to parse response (body: %s): %w", preview(body), err)
	}
	if extResp.Error != nil {
		return nil, fmt.Errorf("extractor error: %s", extResp.Error.Message)
	}

	return extResp.Data, nil
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// MockExtractor returns deterministic vectors derived from the input, so
// runs without a model service still produce comparable embeddings.
type MockExtractor struct {
	dimension int
}

var _ port.Extractor = (*MockExtractor)(nil)

func NewMockExtractor(dimension int) *MockExtractor {
	return &MockExtractor{dimension: dimension}
}

func (e *MockExtractor) Extract(_ context.Context, input port.ExtractInput, _ *port.ExtractOptions) ([]float32, error) {
	if len(input.Bytes) > 0 {
		return PseudoEmbedding(input.Bytes, e.dimension), nil
	}
	return PseudoEmbedding([]byte(input.URL), e.dimension), nil
}
