// Package wire frames the values cachestore writes into a provider.
//
// Entry:  magic(4) | ver(1) | kind(1=entry) | gen(u64 be) | plen(u32 be) | payload(plen)
// Index:  magic(4) | ver(1) | kind(2=index) | n(u32 be) | { gen(u64 be) | nlen(u16 be) | name(nlen) } * n
//
// An entry's gen is the partition generation it was written under. The index
// lists every open partition with the generation it was opened at.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	version   byte = 1
	kindEntry byte = 1
	kindIndex byte = 2

	headerLen = 4 + 1 + 1
)

var (
	ErrCorrupt = errors.New("offlinecache: corrupt entry")
	magic4     = [...]byte{'O', 'F', 'L', 'C'}
)

type IndexItem struct {
	Name string
	Gen  uint64
}

func EncodeEntry(gen uint64, payload []byte) []byte {
	b := make([]byte, 0, headerLen+8+4+len(payload))
	b = appendHeader(b, kindEntry)
	b = binary.BigEndian.AppendUint64(b, gen)
	b = binary.BigEndian.AppendUint32(b, uint32(len(payload)))
	return append(b, payload...)
}

// DecodeEntry returns a payload aliasing b.
func DecodeEntry(b []byte) (gen uint64, payload []byte, err error) {
	r, err := newReader(b, kindEntry)
	if err != nil {
		return 0, nil, err
	}
	gen = r.u64()
	n := int(r.u32())
	payload = r.bytes(n)
	if !r.done() {
		return 0, nil, ErrCorrupt
	}
	return gen, payload, nil
}

func EncodeIndex(items []IndexItem) ([]byte, error) {
	size := headerLen + 4
	for _, it := range items {
		if l := len(it.Name); l == 0 || l > 0xFFFF {
			return nil, fmt.Errorf("offlinecache: invalid partition name length %d", l)
		}
		size += 8 + 2 + len(it.Name)
	}
	b := make([]byte, 0, size)
	b = appendHeader(b, kindIndex)
	b = binary.BigEndian.AppendUint32(b, uint32(len(items)))
	for _, it := range items {
		b = binary.BigEndian.AppendUint64(b, it.Gen)
		b = binary.BigEndian.AppendUint16(b, uint16(len(it.Name)))
		b = append(b, it.Name...)
	}
	return b, nil
}

func DecodeIndex(b []byte) ([]IndexItem, error) {
	r, err := newReader(b, kindIndex)
	if err != nil {
		return nil, err
	}
	n := int(r.u32())
	// smallest item is gen + nlen + 1 byte of name; don't trust n beyond that
	const minItem = 8 + 2 + 1
	if r.err != nil || n > r.remaining()/minItem {
		return nil, ErrCorrupt
	}
	items := make([]IndexItem, 0, n)
	for i := 0; i < n; i++ {
		gen := r.u64()
		nlen := int(r.u16())
		if nlen == 0 {
			return nil, ErrCorrupt
		}
		name := r.bytes(nlen)
		if r.err != nil {
			return nil, ErrCorrupt
		}
		items = append(items, IndexItem{Name: string(name), Gen: gen})
	}
	if !r.done() {
		return nil, ErrCorrupt
	}
	return items, nil
}

func appendHeader(b []byte, kind byte) []byte {
	b = append(b, magic4[:]...)
	return append(b, version, kind)
}

// reader is a bounds-checked cursor; after the first short read every
// accessor returns zero values and err stays ErrCorrupt.
type reader struct {
	b   []byte
	off int
	err error
}

func newReader(b []byte, kind byte) (*reader, error) {
	if len(b) < headerLen || !bytes.Equal(b[:4], magic4[:]) || b[4] != version || b[5] != kind {
		return nil, ErrCorrupt
	}
	return &reader{b: b, off: headerLen}, nil
}

func (r *reader) remaining() int { return len(r.b) - r.off }

func (r *reader) take(n int) []byte {
	if r.err != nil || n < 0 || n > r.remaining() {
		r.err = ErrCorrupt
		return nil
	}
	p := r.b[r.off : r.off+n : r.off+n]
	r.off += n
	return p
}

func (r *reader) u16() uint16 {
	if p := r.take(2); p != nil {
		return binary.BigEndian.Uint16(p)
	}
	return 0
}

func (r *reader) u32() uint32 {
	if p := r.take(4); p != nil {
		return binary.BigEndian.Uint32(p)
	}
	return 0
}

func (r *reader) u64() uint64 {
	if p := r.take(8); p != nil {
		return binary.BigEndian.Uint64(p)
	}
	return 0
}

func (r *reader) bytes(n int) []byte { return r.take(n) }

// done reports a clean read that consumed all of b.
func (r *reader) done() bool { return r.err == nil && r.off == len(r.b) }
