package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"imgsearch/internal/domain"
	"imgsearch/internal/port"
)

// Strategy is one input encoding tried by the Adapter.
type Strategy struct {
	Name        string
	Kind        port.InputKind
	WithOptions bool
}

// DefaultStrategies is the fixed encoding order: URL forms first, then the
// raw bytes in progressively more generic shapes.
var DefaultStrategies = []Strategy{
	{Name: "url", Kind: port.InputURL, WithOptions: true},
	{Name: "object-url", Kind: port.InputObject, WithOptions: true},
	{Name: "bytes", Kind: port.InputBytes, WithOptions: false},
	{Name: "bytes-options", Kind: port.InputBytes, WithOptions: true},
	{Name: "binary", Kind: port.InputBinary, WithOptions: true},
}

// Source is the image to embed. Either field may be empty; strategies that
// need a missing field are not attempted.
type Source struct {
	URL   string
	Bytes []byte
}

// Result is a successful embedding and the strategy that produced it.
type Result struct {
	Vector   []float32
	Strategy string
}

// StrategyError records why one strategy failed.
type StrategyError struct {
	Strategy string
	Err      error
}

// ExhaustedError is returned when every applicable strategy failed.
// It matches domain.ErrExtractionExhausted.
type ExhaustedError struct {
	Attempts []StrategyError
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return "embedding extraction exhausted: no usable input"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Strategy, a.Err)
	}
	return "embedding extraction exhausted: " + strings.Join(parts, "; ")
}

func (e *ExhaustedError) Is(target error) bool {
	return target == domain.ErrExtractionExhausted
}

// Adapter turns a Source into one embedding by trying each strategy in order
// against the underlying Extractor. Each strategy is tried at most once.
type Adapter struct {
	extractor  port.Extractor
	strategies []Strategy
	options    port.ExtractOptions
	dimension  int
	logger     *slog.Logger
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithDimension rejects vectors whose length is not dim. Zero accepts any length.
func WithDimension(dim int) AdapterOption {
	return func(a *Adapter) { a.dimension = dim }
}

// WithPooling sets the pooling option sent with option-bearing strategies.
func WithPooling(pooling string) AdapterOption {
	return func(a *Adapter) { a.options.Pooling = pooling }
}

// WithNormalize sets the normalize option sent with option-bearing strategies.
func WithNormalize(normalize bool) AdapterOption {
	return func(a *Adapter) { a.options.Normalize = normalize }
}

// WithStrategies replaces the strategy order.
func WithStrategies(s []Strategy) AdapterOption {
	return func(a *Adapter) { a.strategies = slices.Clone(s) }
}

// WithAdapterLogger sets the logger.
func WithAdapterLogger(l *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = l }
}

// NewAdapter wraps an Extractor.
func NewAdapter(extractor port.Extractor, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		extractor:  extractor,
		strategies: slices.Clone(DefaultStrategies),
		options:    port.ExtractOptions{Pooling: "mean", Normalize: true},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Dimension returns the enforced vector dimension (0 if unchecked).
func (a *Adapter) Dimension() int {
	return a.dimension
}

// Embed returns the first successful embedding. When every strategy fails the
// error is an *ExhaustedError; substituting a fallback is the caller's call.
// Context cancellation stops the chain and is returned unwrapped.
func (a *Adapter) Embed(ctx context.Context, src Source) (Result, error) {
	exhausted := &ExhaustedError{}

	for _, s := range a.strategies {
		input, ok := inputFor(s.Kind, src)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		var opts *port.ExtractOptions
		if s.WithOptions {
			o := a.options
			opts = &o
		}

		vec, err := a.extractor.Extract(ctx, input, opts)
		if err == nil {
			vec, err = a.check(vec, opts)
		}
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			a.logger.Debug("extractor strategy failed", "strategy", s.Name, "error", err)
			exhausted.Attempts = append(exhausted.Attempts, StrategyError{Strategy: s.Name, Err: err})
			continue
		}

		if len(exhausted.Attempts) > 0 {
			a.logger.Info("extractor fell back", "strategy", s.Name, "failed", len(exhausted.Attempts))
		}
		return Result{Vector: vec, Strategy: s.Name}, nil
	}

	return Result{}, exhausted
}

func (a *Adapter) check(vec []float32, opts *port.ExtractOptions) ([]float32, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("extractor returned empty vector")
	}
	if a.dimension > 0 && len(vec) != a.dimension {
		return nil, &domain.DimensionError{Expected: a.dimension, Actual: len(vec)}
	}
	out := slices.Clone(vec)
	if opts != nil && opts.Normalize {
		NormalizeL2(out)
	}
	return out, nil
}

func inputFor(kind port.InputKind, src Source) (port.ExtractInput, bool) {
	switch kind {
	case port.InputURL, port.InputObject:
		if src.URL == "" {
			return port.ExtractInput{}, false
		}
		return port.ExtractInput{Kind: kind, URL: src.URL}, true
	case port.InputBytes, port.InputBinary:
		if len(src.Bytes) == 0 {
			return port.ExtractInput{}, false
		}
		return port.ExtractInput{Kind: kind, Bytes: src.Bytes}, true
	default:
		return port.ExtractInput{}, false
	}
}
