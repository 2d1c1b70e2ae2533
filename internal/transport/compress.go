package transport

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// maxDecodedBytes caps decoder window memory regardless of frame limits.
const maxDecodedBytes = 64 << 20

var ErrDecompressedTooLarge = errors.New("transport: decompressed payload too large")

// zstd.Encoder and zstd.Decoder are safe for concurrent use through
// EncodeAll and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("transport: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecodedBytes))
	if err != nil {
		panic("transport: zstd decoder initialization failed: " + err.Error())
	}
}

// compressPayload returns the compressed form and true when compression
// shrank the payload.
func compressPayload(payload []byte) ([]byte, bool) {
	compressed := zstdEncoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))
	if len(compressed) >= len(payload) {
		return payload, false
	}
	return compressed, true
}

func decompressPayload(payload []byte, limit uint64) ([]byte, error) {
	out, err := zstdDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: zstd decompress: %w", err)
	}
	if uint64(len(out)) > limit {
		return nil, fmt.Errorf("%w: %d > %d", ErrDecompressedTooLarge, len(out), limit)
	}
	return out, nil
}
