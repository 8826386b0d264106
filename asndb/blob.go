package asndb

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

// maxBlobBytes bounds the decompressed size of a single table.
const maxBlobBytes = 512 << 20

func decodeBlob(name string, blob []byte, out any) error {
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(maxBlobBytes))
	if err != nil {
		return fmt.Errorf("asndb: %s: %w", name, err)
	}
	defer dec.Close()
	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return fmt.Errorf("asndb: decompress %s: %w", name, err)
	}
	if err := yaml.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("asndb: decode %s: %w", name, err)
	}
	return nil
}

func encodeBlob(name string, level zstd.EncoderLevel, in any) ([]byte, error) {
	raw, err := yaml.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("asndb: encode %s: %w", name, err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderCRC(true))
	if err != nil {
		return nil, fmt.Errorf("asndb: %s: %w", name, err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}
