// Package codec provides the serializers used for cache partition entries
// and durable log details.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrTooLarge is returned by LimitCodec for payloads over its limit.
var ErrTooLarge = errors.New("codec: payload too large")

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// ByName returns the entry codec registered under name ("cbor", "msgpack" or
// "json"). An empty name selects CBOR.
func ByName[V any](name string) (Codec[V], error) {
	switch name {
	case "", "cbor":
		c, err := NewCBOR[V]()
		if err != nil {
			return nil, err
		}
		return c, nil
	case "msgpack":
		return Msgpack[V]{}, nil
	case "json":
		return JSON[V]{}, nil
	}
	return nil, fmt.Errorf("codec: unknown codec %q", name)
}

// JSON is the encoding/json Codec. Readable in redis-cli; bodies are base64
// so it is the largest of the three.
type JSON[V any] struct{}

var _ Codec[struct{}] = JSON[struct{}]{}

func (JSON[V]) Encode(v V) ([]byte, error) { return json.Marshal(v) }
func (JSON[V]) Decode(b []byte) (V, error) {
	var v V
	err := json.Unmarshal(b, &v)
	return v, err
}

// Msgpack uses vmihailenco/msgpack with `msgpack` struct tags. Map keys
// (response headers) are sorted, so equal snapshots encode to equal bytes.
type Msgpack[V any] struct{}

var _ Codec[struct{}] = Msgpack[struct{}]{}

func (Msgpack[V]) Encode(v V) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Msgpack[V]) Decode(b []byte) (V, error) {
	var v V
	err := msgpack.Unmarshal(b, &v)
	return v, err
}

// LimitCodec rejects payloads longer than MaxDecode before Inner sees them.
// Encode is forwarded unchanged; MaxDecode <= 0 disables the limit.
//
// cachestore wraps its entry codec with it when MaxEntryBytes is set, so a
// shared Redis cannot hand back arbitrarily large snapshots.
type LimitCodec[V any] struct {
	Inner     Codec[V]
	MaxDecode int
}

func (c LimitCodec[V]) Encode(v V) ([]byte, error) { return c.Inner.Encode(v) }
func (c LimitCodec[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}
