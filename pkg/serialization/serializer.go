// Package serialization encodes metered snapshots (workload status, queue
// stats) for HTTP clients. The codec is JSON or MessagePack and the body may
// be gzip or zstd compressed; both are chosen from the request headers.
package serialization

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Media types understood by Negotiate.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgPack = "application/msgpack"
)

// Codec interface for serialization
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
	ContentType() string
}

// CompressionType represents compression algorithms. The values double as
// Content-Encoding tokens.
type CompressionType string

const (
	CompressionNone CompressionType = ""
	CompressionGzip CompressionType = "gzip"
	CompressionZstd CompressionType = "zstd"
)

// Serializer pairs a codec with a compression algorithm.
type Serializer struct {
	Codec       Codec
	Compression CompressionType
}

// Negotiate picks a serializer for r: MessagePack when Accept names it,
// JSON otherwise; zstd preferred over gzip when Accept-Encoding allows.
func Negotiate(r *http.Request) *Serializer {
	s := &Serializer{Codec: NewJSONCodec()}
	if strings.Contains(r.Header.Get("Accept"), ContentTypeMsgPack) {
		s.Codec = NewMsgPackCodec()
	}
	enc := r.Header.Get("Accept-Encoding")
	switch {
	case acceptsEncoding(enc, "zstd"):
		s.Compression = CompressionZstd
	case acceptsEncoding(enc, "gzip"):
		s.Compression = CompressionGzip
	}
	return s
}

func acceptsEncoding(header, token string) bool {
	for _, part := range strings.Split(header, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if !strings.EqualFold(strings.TrimSpace(name), token) {
			continue
		}
		return strings.ReplaceAll(strings.TrimSpace(params), " ", "") != "q=0"
	}
	return false
}

// Write serializes v and writes it with the matching headers.
func (s *Serializer) Write(w http.ResponseWriter, status int, v interface{}) error {
	data, err := s.Serialize(v)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", s.Codec.ContentType())
	if s.Compression != CompressionNone {
		w.Header().Set("Content-Encoding", string(s.Compression))
		w.Header().Add("Vary", "Accept-Encoding")
	}
	w.WriteHeader(status)
	_, err = w.Write(data)
	return err
}

// Serialize encodes and compresses v
func (s *Serializer) Serialize(v interface{}) ([]byte, error) {
	data, err := s.Codec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("codec encoding failed: %w", err)
	}
	data, err = s.compress(data)
	if err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}
	return data, nil
}

// Deserialize decompresses and decodes data
func (s *Serializer) Deserialize(data []byte, v interface{}) error {
	data, err := s.decompress(data)
	if err != nil {
		return fmt.Errorf("decompression failed: %w", err)
	}
	if err := s.Codec.Decode(data, v); err != nil {
		return fmt.Errorf("codec decoding failed: %w", err)
	}
	return nil
}

func (s *Serializer) compress(data []byte) ([]byte, error) {
	switch s.Compression {
	case CompressionGzip:
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(data); err != nil {
			return nil, err
		}
		if err := zw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), nil
	default:
		return data, nil
	}
}

func (s *Serializer) decompress(data []byte) ([]byte, error) {
	switch s.Compression {
	case CompressionGzip:
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		return io.ReadAll(zr)
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		return dec.DecodeAll(data, nil)
	default:
		return data, nil
	}
}

// JSONCodec implements JSON serialization
type JSONCodec struct{}

func (c *JSONCodec) Encode(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (c *JSONCodec) Decode(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (c *JSONCodec) ContentType() string { return ContentTypeJSON }

// MsgPackCodec implements MessagePack serialization. Field names follow json
// tags so both codecs produce the same keys.
type MsgPackCodec struct{}

func (c *MsgPackCodec) Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *MsgPackCodec) Decode(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func (c *MsgPackCodec) ContentType() string { return ContentTypeMsgPack }

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() Codec { return &JSONCodec{} }

// NewMsgPackCodec creates a new MessagePack codec
func NewMsgPackCodec() Codec { return &MsgPackCodec{} }
