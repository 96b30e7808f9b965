package store

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Codec transforms serialized snapshots on their way to and from storage.
type Codec interface {
	Name() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// JSONCodec stores the snapshot JSON unchanged.
func JSONCodec() Codec { return plainCodec{} }

// ZstdCodec compresses snapshot JSON with zstd. Long conversation histories
// compress well.
func ZstdCodec() Codec { return zstdCodec{} }

type plainCodec struct{}

func (plainCodec) Name() string                       { return "json" }
func (plainCodec) Encode(data []byte) ([]byte, error) { return data, nil }
func (plainCodec) Decode(data []byte) ([]byte, error) { return data, nil }

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// zstdCoders lazily builds a shared encoder/decoder pair. EncodeAll and
// DecodeAll are safe for concurrent use.
func zstdCoders() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Encode(data []byte) ([]byte, error) {
	enc, _, err := zstdCoders()
	if err != nil {
		return nil, err
	}
	return enc.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (zstdCodec) Decode(data []byte) ([]byte, error) {
	_, dec, err := zstdCoders()
	if err != nil {
		return nil, err
	}
	return dec.DecodeAll(data, nil)
}

func codecByName(name string) (Codec, error) {
	switch name {
	case "", "json":
		return plainCodec{}, nil
	case "zstd":
		return zstdCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown snapshot encoding %q", name)
	}
}

// Option configures SQL-backed stores.
type Option func(*sqlOptions)

type sqlOptions struct {
	codec Codec
	table string
}

func defaultSQLOptions() sqlOptions {
	return sqlOptions{codec: plainCodec{}, table: "graph_checkpoints"}
}

// WithCodec sets the payload codec used for new writes.
func WithCodec(c Codec) Option {
	return func(o *sqlOptions) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithTable overrides the checkpoint table name.
func WithTable(name string) Option {
	return func(o *sqlOptions) {
		if name != "" {
			o.table = name
		}
	}
}
