package storage

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic starts every zstd frame. JSON values never begin with it.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// minCompressSize keeps small values (index entries, meta) uncompressed.
const minCompressSize = 512

// codec transparently compresses stored values. Decoding accepts both
// compressed and plain values so stores written with compression disabled
// stay readable.
type codec struct {
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

func newCodec(compress bool) (*codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("storage: zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("storage: zstd decoder: %w", err)
	}
	return &codec{compress: compress, enc: enc, dec: dec}, nil
}

func (c *codec) encode(v []byte) []byte {
	if !c.compress || len(v) < minCompressSize {
		return v
	}
	return c.enc.EncodeAll(v, make([]byte, 0, len(v)/3))
}

func (c *codec) decode(v []byte) ([]byte, error) {
	if !bytes.HasPrefix(v, zstdMagic) {
		return v, nil
	}
	out, err := c.dec.DecodeAll(v, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: decompress value: %w", err)
	}
	return out, nil
}

func (c *codec) close() {
	c.enc.Close()
	c.dec.Close()
}
