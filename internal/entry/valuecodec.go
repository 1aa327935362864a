// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package entry

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/pierrec/lz4/v4"

	"github.com/prxssh/beetle/internal/resp"
)

// tombstone is the designated sentinel value blob marking a deleted
// key (spec §3): exactly one byte, 0x00. Every real serialized value is
// at least two bytes (a compression flag byte plus a tag byte), so the
// sentinel can never collide with a legitimate encoding.
var tombstone = []byte{0x00}

const (
	tagNull byte = 1 + iota
	tagBool
	tagInt
	tagFloat
	tagBytes
	tagSeq
	tagMap
	tagSet
)

const (
	flagRaw  byte = 0
	flagLZ4  byte = 1
	lz4Floor      = 96 // below this size, compression overhead isn't worth it
)

// encodeValueBlob turns a resp.Value into the deterministic byte blob
// that is stored as the "value bytes" field of a log record. Equal
// values (irrespective of how their sequences/maps/sets were built)
// always produce the same bytes, which is what lets the CRC and merge
// treat the blob as opaque (spec §4.A).
func encodeValueBlob(v resp.Value) ([]byte, error) {
	raw, err := marshalTagged(nil, v)
	if err != nil {
		return nil, err
	}
	if len(raw) < lz4Floor {
		return append([]byte{flagRaw}, raw...), nil
	}
	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
	var c lz4.Compressor
	n, err := c.CompressBlock(raw, compressed)
	if err != nil || n == 0 || n >= len(raw) {
		// incompressible, or the compressor declined: store raw.
		return append([]byte{flagRaw}, raw...), nil
	}
	out := make([]byte, 0, 1+4+n)
	out = append(out, flagLZ4)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(raw)))
	out = append(out, lenBuf[:]...)
	out = append(out, compressed[:n]...)
	return out, nil
}

// decodeValueBlob is the inverse of encodeValueBlob.
func decodeValueBlob(blob []byte) (resp.Value, error) {
	if len(blob) == 0 {
		return resp.Value{}, ErrMalformedEntry
	}
	flag := blob[0]
	body := blob[1:]
	switch flag {
	case flagRaw:
		v, _, err := unmarshalTagged(body)
		return v, err
	case flagLZ4:
		if len(body) < 4 {
			return resp.Value{}, ErrMalformedEntry
		}
		uncompressedLen := binary.BigEndian.Uint32(body[:4])
		raw := make([]byte, uncompressedLen)
		n, err := lz4.UncompressBlock(body[4:], raw)
		if err != nil || uint32(n) != uncompressedLen {
			return resp.Value{}, ErrMalformedEntry
		}
		v, _, err := unmarshalTagged(raw)
		return v, err
	default:
		return resp.Value{}, ErrMalformedEntry
	}
}

func marshalTagged(dst []byte, v resp.Value) ([]byte, error) {
	switch v.Kind {
	case resp.KindNull, resp.KindOK:
		return append(dst, tagNull), nil
	case resp.KindBool:
		b := byte(0)
		if v.Bool {
			b = 1
		}
		return append(dst, tagBool, b), nil
	case resp.KindInt:
		dst = append(dst, tagInt)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(v.Int))
		return append(dst, buf[:]...), nil
	case resp.KindFloat:
		dst = append(dst, tagFloat)
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(v.Float))
		return append(dst, buf[:]...), nil
	case resp.KindBulkString, resp.KindError:
		dst = append(dst, tagBytes)
		return appendLenBytes(dst, v.Str), nil
	case resp.KindArray:
		dst = append(dst, tagSeq)
		dst = appendUint32(dst, uint32(len(v.Array)))
		var err error
		for _, item := range v.Array {
			dst, err = marshalTagged(dst, item)
			if err != nil {
				return nil, err
			}
		}
		return dst, nil
	case resp.KindMap:
		encoded := make([][]byte, len(v.Map))
		for i, e := range v.Map {
			kb, err := marshalTagged(nil, e.Key)
			if err != nil {
				return nil, err
			}
			vb, err := marshalTagged(nil, e.Val)
			if err != nil {
				return nil, err
			}
			pair := appendLenBytes(nil, kb)
			pair = appendLenBytes(pair, vb)
			encoded[i] = pair
		}
		sort.Slice(encoded, func(i, j int) bool { return lessBytes(encoded[i], encoded[j]) })
		dst = append(dst, tagMap)
		dst = appendUint32(dst, uint32(len(encoded)))
		for _, pair := range encoded {
			dst = append(dst, pair...)
		}
		return dst, nil
	case resp.KindSet:
		encoded := make([][]byte, len(v.Set))
		for i, item := range v.Set {
			b, err := marshalTagged(nil, item)
			if err != nil {
				return nil, err
			}
			encoded[i] = b
		}
		sort.Slice(encoded, func(i, j int) bool { return lessBytes(encoded[i], encoded[j]) })
		dst = append(dst, tagSet)
		dst = appendUint32(dst, uint32(len(encoded)))
		for _, b := range encoded {
			dst = appendLenBytes(dst, b)
		}
		return dst, nil
	default:
		return nil, &unsupportedValueError{kind: v.Kind}
	}
}

func unmarshalTagged(b []byte) (resp.Value, int, error) {
	if len(b) == 0 {
		return resp.Value{}, 0, ErrMalformedEntry
	}
	tag := b[0]
	b = b[1:]
	consumed := 1
	switch tag {
	case tagNull:
		return resp.Null(), consumed, nil
	case tagBool:
		if len(b) < 1 {
			return resp.Value{}, 0, ErrMalformedEntry
		}
		return resp.Bool(b[0] != 0), consumed + 1, nil
	case tagInt:
		if len(b) < 8 {
			return resp.Value{}, 0, ErrMalformedEntry
		}
		n := int64(binary.BigEndian.Uint64(b[:8]))
		return resp.Int(n), consumed + 8, nil
	case tagFloat:
		if len(b) < 8 {
			return resp.Value{}, 0, ErrMalformedEntry
		}
		f := math.Float64frombits(binary.BigEndian.Uint64(b[:8]))
		return resp.Float(f), consumed + 8, nil
	case tagBytes:
		payload, n, err := readLenBytes(b)
		if err != nil {
			return resp.Value{}, 0, err
		}
		return resp.BulkString(payload), consumed + n, nil
	case tagSeq:
		if len(b) < 4 {
			return resp.Value{}, 0, ErrMalformedEntry
		}
		count := binary.BigEndian.Uint32(b[:4])
		b = b[4:]
		consumed += 4
		items := make([]resp.Value, 0, count)
		for i := uint32(0); i < count; i++ {
			v, n, err := unmarshalTagged(b)
			if err != nil {
				return resp.Value{}, 0, err
			}
			items = append(items, v)
			b = b[n:]
			consumed += n
		}
		return resp.Array(items), consumed, nil
	case tagMap:
		if len(b) < 4 {
			return resp.Value{}, 0, ErrMalformedEntry
		}
		count := binary.BigEndian.Uint32(b[:4])
		b = b[4:]
		consumed += 4
		entries := make([]resp.MapEntry, 0, count)
		for i := uint32(0); i < count; i++ {
			kb, n, err := readLenBytes(b)
			if err != nil {
				return resp.Value{}, 0, err
			}
			b = b[n:]
			consumed += n
			vb, n2, err := readLenBytes(b)
			if err != nil {
				return resp.Value{}, 0, err
			}
			b = b[n2:]
			consumed += n2
			k, _, err := unmarshalTagged(kb)
			if err != nil {
				return resp.Value{}, 0, err
			}
			v, _, err := unmarshalTagged(vb)
			if err != nil {
				return resp.Value{}, 0, err
			}
			entries = append(entries, resp.MapEntry{Key: k, Val: v})
		}
		return resp.Map(entries), consumed, nil
	case tagSet:
		if len(b) < 4 {
			return resp.Value{}, 0, ErrMalformedEntry
		}
		count := binary.BigEndian.Uint32(b[:4])
		b = b[4:]
		consumed += 4
		items := make([]resp.Value, 0, count)
		for i := uint32(0); i < count; i++ {
			eb, n, err := readLenBytes(b)
			if err != nil {
				return resp.Value{}, 0, err
			}
			b = b[n:]
			consumed += n
			v, _, err := unmarshalTagged(eb)
			if err != nil {
				return resp.Value{}, 0, err
			}
			items = append(items, v)
		}
		return resp.Set(items), consumed, nil
	default:
		return resp.Value{}, 0, ErrMalformedEntry
	}
}

func appendUint32(dst []byte, n uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], n)
	return append(dst, buf[:]...)
}

func appendLenBytes(dst []byte, b []byte) []byte {
	dst = appendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

func readLenBytes(b []byte) ([]byte, int, error) {
	if len(b) < 4 {
		return nil, 0, ErrMalformedEntry
	}
	n := binary.BigEndian.Uint32(b[:4])
	if uint32(len(b)-4) < n {
		return nil, 0, ErrMalformedEntry
	}
	payload := append([]byte(nil), b[4:4+n]...)
	return payload, 4 + int(n), nil
}

func lessBytes(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

type unsupportedValueError struct {
	kind resp.Kind
}

func (e *unsupportedValueError) Error() string {
	return "entry: unsupported value kind " + e.kind.String()
}
