// codec.go: serialization and compression of cached payloads
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package tachys

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Serializer turns values into bytes and back.
// Unmarshal receives a pointer to a zero value of the original type.
type Serializer interface {
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

// JSONSerializer serializes with goccy/go-json. Map keys are emitted in
// sorted order, so equal values always produce equal bytes.
type JSONSerializer struct{}

// Marshal encodes v as JSON.
func (JSONSerializer) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// Unmarshal decodes JSON into v.
func (JSONSerializer) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// Codec compresses and decompresses serialized payloads.
// Implementations must be safe for concurrent use.
type Codec interface {
	Name() string
	Encode(src []byte) ([]byte, error)
	Decode(src []byte) ([]byte, error)
}

// GzipCodec compresses with klauspost's gzip implementation.
// A zero Level means gzip.DefaultCompression.
type GzipCodec struct {
	Level int
}

// Name returns "gzip".
func (GzipCodec) Name() string { return "gzip" }

// Encode compresses src.
func (c GzipCodec) Encode(src []byte) ([]byte, error) {
	level := c.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}

	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return nil, fmt.Errorf("write error: %v, close error: %v", err, closeErr)
		}
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode decompresses src.
func (GzipCodec) Decode(src []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// ZstdCodec compresses with zstd. The encoder and decoder are created once
// and shared; EncodeAll/DecodeAll are safe for concurrent use.
type ZstdCodec struct {
	once    sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	initErr error
}

// NewZstdCodec creates a zstd codec.
func NewZstdCodec() (*ZstdCodec, error) {
	c := &ZstdCodec{}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *ZstdCodec) init() error {
	c.once.Do(func() {
		c.encoder, c.initErr = zstd.NewWriter(nil)
		if c.initErr != nil {
			return
		}
		c.decoder, c.initErr = zstd.NewReader(nil)
	})
	return c.initErr
}

// Name returns "zstd".
func (c *ZstdCodec) Name() string { return "zstd" }

// Encode compresses src.
func (c *ZstdCodec) Encode(src []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	return c.encoder.EncodeAll(src, make([]byte, 0, len(src))), nil
}

// Decode decompresses src.
func (c *ZstdCodec) Decode(src []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, err
	}
	return c.decoder.DecodeAll(src, nil)
}

// Close releases the zstd decoder goroutines.
func (c *ZstdCodec) Close() {
	if c.decoder != nil {
		c.decoder.Close()
	}
}

// Frame markers prepended to every stored compressed payload.
const (
	frameRaw        byte = 0x00
	frameCompressed byte = 0x01
)

// compressFrame compresses payloads of at least MinCompressSize bytes and
// stores shorter ones raw, since the codec overhead exceeds the savings.
func compressFrame(codec Codec, payload []byte) ([]byte, error) {
	if len(payload) < MinCompressSize {
		out := make([]byte, 0, len(payload)+1)
		out = append(out, frameRaw)
		return append(out, payload...), nil
	}

	encoded, err := codec.Encode(payload)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(encoded)+1)
	out = append(out, frameCompressed)
	return append(out, encoded...), nil
}

// decompressFrame reverses compressFrame.
func decompressFrame(codec Codec, data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	switch data[0] {
	case frameRaw:
		return data[1:], nil
	case frameCompressed:
		return codec.Decode(data[1:])
	default:
		return nil, fmt.Errorf("unknown frame marker 0x%02x", data[0])
	}
}
