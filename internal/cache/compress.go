package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	// compressionThreshold skips zstd for small pages where framing costs more than it saves.
	compressionThreshold = 2048
	maxDecompressedSize  = 16 << 20

	encodingIdentity byte = 0
	encodingZstd     byte = 1
)

var errCorruptEntry = errors.New("cache: corrupt compressed entry")

// Compressed wraps a Store and zstd-encodes bodies above the threshold.
// Every stored value carries a one-byte encoding marker.
type Compressed struct {
	inner   Store
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func NewCompressed(inner Store) (*Compressed, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("cache: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecompressedSize))
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("cache: zstd decoder: %w", err)
	}
	return &Compressed{inner: inner, encoder: enc, decoder: dec}, nil
}

func (c *Compressed) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := c.inner.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	if len(raw) == 0 {
		return nil, false, errCorruptEntry
	}
	switch raw[0] {
	case encodingIdentity:
		return raw[1:], true, nil
	case encodingZstd:
		body, err := c.decoder.DecodeAll(raw[1:], nil)
		if err != nil {
			return nil, false, fmt.Errorf("cache: zstd decode: %w", err)
		}
		return body, true, nil
	default:
		return nil, false, errCorruptEntry
	}
}

func (c *Compressed) Put(ctx context.Context, key string, body []byte, ttl time.Duration) error {
	return c.inner.Put(ctx, key, c.encode(body), ttl)
}

func (c *Compressed) encode(body []byte) []byte {
	if len(body) >= compressionThreshold {
		compressed := c.encoder.EncodeAll(body, []byte{encodingZstd})
		if len(compressed) < len(body)+1 {
			return compressed
		}
	}
	out := make([]byte, 0, len(body)+1)
	out = append(out, encodingIdentity)
	return append(out, body...)
}

func (c *Compressed) Clear(ctx context.Context) error { return c.inner.Clear(ctx) }

func (c *Compressed) Size(ctx context.Context) (int64, error) { return c.inner.Size(ctx) }

func (c *Compressed) Close(ctx context.Context) error {
	c.encoder.Close()
	c.decoder.Close()
	return c.inner.Close(ctx)
}
