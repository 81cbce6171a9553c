// Package envelope wraps persisted payloads in a versioned header and
// reads both enveloped and bare (pre-envelope) payloads.
package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/starford/ansuz/internal/apperr"
)

// Encoding names the codec a payload was written with.
type Encoding string

const (
	// Binary is the compact msgpack codec.
	Binary Encoding = "binary"
	// Text is the human-readable JSON codec.
	Text Encoding = "text"
)

// CurrentVersion is stamped on every payload written by Encode.
const CurrentVersion uint32 = 2

// Header describes a persisted payload.
type Header struct {
	Version   uint32   `json:"version" msgpack:"version"`
	Encoding  Encoding `json:"encoding" msgpack:"encoding"`
	CreatedAt uint64   `json:"created_at" msgpack:"created_at"`
	// Format is the tag name used by version 1 headers.
	Format string `json:"format,omitempty" msgpack:"format,omitempty"`
}

// Created returns the creation time carried by the header.
func (h Header) Created() time.Time {
	return time.UnixMilli(int64(h.CreatedAt))
}

func (h *Header) normalize() error {
	if h.Encoding == "" {
		h.Encoding = Encoding(h.Format)
	}
	h.Format = ""
	switch h.Encoding {
	case Binary, "msgpack":
		h.Encoding = Binary
	case Text, "json":
		h.Encoding = Text
	default:
		return fmt.Errorf("unknown encoding tag %q", h.Encoding)
	}
	if h.Version == 0 {
		return errors.New("missing version")
	}
	return nil
}

// Payload is the on-disk envelope around Data.
type Payload[T any] struct {
	Header Header `json:"header" msgpack:"header"`
	Data   T      `json:"data" msgpack:"data"`
}

// Decoded is the result of Decode. Legacy is set when the bytes carried no
// envelope and were read as a bare payload.
type Decoded[T any] struct {
	Data   T
	Header Header
	Legacy bool
}

// ParseEncoding maps a config or request value to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	h := Header{Version: CurrentVersion, Encoding: Encoding(s)}
	if err := h.normalize(); err != nil {
		return "", err
	}
	return h.Encoding, nil
}

// Encode wraps data in a header stamped with the current time and
// serializes it with enc.
func Encode[T any](data T, enc Encoding) ([]byte, error) {
	p := Payload[T]{
		Header: Header{
			Version:   CurrentVersion,
			Encoding:  enc,
			CreatedAt: uint64(time.Now().UnixMilli()),
		},
		Data: data,
	}
	b, err := marshal(enc, p)
	if err != nil {
		return nil, fmt.Errorf("envelope: encode: %w", err)
	}
	return b, nil
}

// Decode reads b as an enveloped payload, falling back to a bare payload in
// the same codec. The codec is detected from the leading byte.
func Decode[T any](b []byte) (Decoded[T], error) {
	var out Decoded[T]
	if len(bytes.TrimSpace(b)) == 0 {
		return out, fmt.Errorf("envelope: empty payload: %w", apperr.ErrDecode)
	}
	enc := sniff(b)

	var p Payload[T]
	envErr := unmarshal(enc, b, &p)
	if envErr == nil {
		envErr = p.Header.normalize()
	}
	if envErr == nil {
		out.Data = p.Data
		out.Header = p.Header
		return out, nil
	}

	var bare T
	if err := unmarshal(enc, b, &bare); err != nil {
		return out, fmt.Errorf("envelope: decode %s payload: %w", enc, errors.Join(apperr.ErrDecode, envErr, err))
	}
	out.Data = bare
	out.Header = Header{Encoding: enc}
	out.Legacy = true
	return out, nil
}

func sniff(b []byte) Encoding {
	trimmed := bytes.TrimLeft(b, " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return Text
	}
	return Binary
}

func marshal(enc Encoding, v any) ([]byte, error) {
	switch enc {
	case Binary:
		return msgpack.Marshal(v)
	case Text:
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("unknown encoding %q", enc)
	}
}

func unmarshal(enc Encoding, b []byte, v any) error {
	if enc == Text {
		return json.Unmarshal(b, v)
	}
	return msgpack.Unmarshal(b, v)
}
