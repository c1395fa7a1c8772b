package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"imgsearch/internal/domain"
)

// zstdMagic prefixes every zstd frame.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Codec serializes a full snapshot as one flat record list.
type Codec interface {
	Encode(records []domain.VectorRecord) ([]byte, error)
	Decode(data []byte) ([]domain.VectorRecord, error)
	Name() string
}

// NewCodec returns the codec named by the store configuration.
func NewCodec(name string, compress bool) (Codec, error) {
	var c Codec
	switch name {
	case "", "json":
		c = JSONCodec{}
	case "msgpack":
		c = MsgpackCodec{}
	default:
		return nil, fmt.Errorf("unsupported codec: %s", name)
	}
	return NewZstdCodec(c, compress)
}

// JSONCodec writes the `[{"id":..., "embedding":[...]}]` format.
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Encode(records []domain.VectorRecord) ([]byte, error) {
	if records == nil {
		records = []domain.VectorRecord{}
	}
	return json.Marshal(records)
}

func (JSONCodec) Decode(data []byte) ([]domain.VectorRecord, error) {
	var records []domain.VectorRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// MsgpackCodec is a compact binary alternative to JSON.
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Encode(records []domain.VectorRecord) ([]byte, error) {
	if records == nil {
		records = []domain.VectorRecord{}
	}
	return msgpack.Marshal(records)
}

func (MsgpackCodec) Decode(data []byte) ([]domain.VectorRecord, error) {
	var records []domain.VectorRecord
	if err := msgpack.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// ZstdCodec optionally compresses the output of an inner codec. Decode
// detects zstd frames, so toggling compression never strands a snapshot.
type ZstdCodec struct {
	inner    Codec
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// NewZstdCodec wraps inner; compress controls whether Encode compresses.
func NewZstdCodec(inner Codec, compress bool) (*ZstdCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &ZstdCodec{inner: inner, compress: compress, enc: enc, dec: dec}, nil
}

func (c *ZstdCodec) Name() string {
	if c.compress {
		return c.inner.Name() + "+zstd"
	}
	return c.inner.Name()
}

func (c *ZstdCodec) Encode(records []domain.VectorRecord) ([]byte, error) {
	raw, err := c.inner.Encode(records)
	if err != nil || !c.compress {
		return raw, err
	}
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (c *ZstdCodec) Decode(data []byte) ([]domain.VectorRecord, error) {
	if !bytes.HasPrefix(data, zstdMagic) {
		return c.inner.Decode(data)
	}
	raw, err := c.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return c.inner.Decode(raw)
}
