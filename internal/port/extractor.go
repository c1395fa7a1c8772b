package port

import "context"

// InputKind identifies how an image is handed to an Extractor.
type InputKind int

const (
	// InputURL passes the image URL as a bare string.
	InputURL InputKind = iota
	// InputObject passes the URL wrapped as {image: url}.
	InputObject
	// InputBytes passes the raw encoded image bytes.
	InputBytes
	// InputBinary passes the bytes reinterpreted as a generic binary array.
	InputBinary
)

func (k InputKind) String() string {
	switch k {
	case InputURL:
		return "url"
	case InputObject:
		return "object"
	case InputBytes:
		return "bytes"
	case InputBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// ExtractInput is one encoding of an image for an Extractor.
type ExtractInput struct {
	Kind  InputKind
	URL   string
	Bytes []byte
}

// ExtractOptions are the pooling/normalize options of an extraction call.
// A nil *ExtractOptions means the call is made without options.
type ExtractOptions struct {
	Pooling   string
	Normalize bool
}

// Extractor computes an image embedding. Implementations may reject input
// encodings they do not understand by returning an error.
type Extractor interface {
	Extract(ctx context.Context, input ExtractInput, opts *ExtractOptions) ([]float32, error)
}
