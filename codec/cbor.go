package codec

import (
	"github.com/fxamacker/cbor/v2"
)

// CBOR is the default entry codec. Response bodies travel as byte strings,
// so a stored snapshot is close to its raw size. Encoding is canonical
// (RFC 8949 core deterministic): the same response always yields the same
// bytes. Decoding is bounded so a damaged provider value fails fast and gets
// self-healed instead of allocating without limit.
type CBOR[V any] struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

const (
	cborMaxNesting = 16   // entry -> response -> header -> values
	cborMaxItems   = 4096 // header pairs and values per entry
)

func NewCBOR[V any]() (CBOR[V], error) {
	eo := cbor.CoreDetEncOptions()
	eo.Time = cbor.TimeRFC3339Nano
	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	dm, err := cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		MaxNestedLevels:  cborMaxNesting,
		MaxArrayElements: cborMaxItems,
		MaxMapPairs:      cborMaxItems,
	}.DecMode()
	if err != nil {
		return CBOR[V]{}, err
	}
	return CBOR[V]{enc: em, dec: dm}, nil
}

func (c CBOR[V]) Encode(v V) ([]byte, error) {
	return c.enc.Marshal(v)
}

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	if err := c.dec.Unmarshal(b, &v); err != nil {
		var zero V
		return zero, err
	}
	return v, nil
}
