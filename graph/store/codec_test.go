package store

import (
	"bytes"
	"strings"
	"testing"
)

func TestCodecs(t *testing.T) {
	data := []byte(strings.Repeat(`{"role":"assistant","content":"BoostNutri+ is available"}`, 50))

	for _, c := range []Codec{JSONCodec(), ZstdCodec()} {
		t.Run(c.Name(), func(t *testing.T) {
			enc, err := c.Encode(data)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			dec, err := c.Decode(enc)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !bytes.Equal(dec, data) {
				t.Error("round trip changed the payload")
			}
		})
	}

	t.Run("zstd shrinks repetitive payloads", func(t *testing.T) {
		enc, _ := ZstdCodec().Encode(data)
		if len(enc) >= len(data) {
			t.Errorf("compressed %d bytes into %d", len(data), len(enc))
		}
	})
}

func TestUnmarshalSnapshot_UnknownEncoding(t *testing.T) {
	if _, err := unmarshalSnapshot("lz4", []byte("{}")); err == nil {
		t.Error("expected an error for an unknown encoding")
	}
}
