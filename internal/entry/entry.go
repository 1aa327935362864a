// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

// Package entry implements the Bitcask log-record codec described in
// spec §3 / §4.A: a fixed 20-byte header (CRC32, 64-bit expiration
// deadline, key length, value length) followed by the key and an
// opaque, deterministically-serialized value blob.
package entry

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/prxssh/beetle/internal/resp"
)

// HeaderSize is the fixed size of a log record header: 4 bytes of CRC
// plus 16 bytes of expiration/key-length/value-length fields.
const HeaderSize = 4 + 8 + 4 + 4

// Entry is one decoded log record. It carries the same resp.Value
// universe the wire protocol speaks (spec §9 Design Notes).
type Entry struct {
	Key          []byte
	Value        resp.Value
	ExpirationMs int64
}

// Encode serializes key/value/expiration into a full log record: the
// CRC covers everything after the CRC field itself.
func Encode(key []byte, value resp.Value, expirationMs int64) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrMalformedEntry
	}
	blob, err := encodeValueBlob(value)
	if err != nil {
		return nil, err
	}
	total := HeaderSize + len(key) + len(blob)
	buf := make([]byte, total)
	binary.BigEndian.PutUint64(buf[4:12], uint64(expirationMs))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(key)))
	binary.BigEndian.PutUint32(buf[16:20], uint32(len(blob)))
	copy(buf[HeaderSize:], key)
	copy(buf[HeaderSize+len(key):], blob)

	crc := crc32.ChecksumIEEE(buf[4:])
	binary.BigEndian.PutUint32(buf[0:4], crc)
	return buf, nil
}

// Decode parses a full log record. It does not filter expired entries
// or tombstones -- that is the caller's responsibility (spec §4.A), so
// that merge can see every entry including dead ones.
func Decode(buf []byte) (Entry, error) {
	if len(buf) < HeaderSize {
		return Entry{}, ErrMalformedEntry
	}
	storedCRC := binary.BigEndian.Uint32(buf[0:4])
	expirationMs := int64(binary.BigEndian.Uint64(buf[4:12]))
	keySize := binary.BigEndian.Uint32(buf[12:16])
	valueSize := binary.BigEndian.Uint32(buf[16:20])
	if keySize == 0 {
		return Entry{}, ErrMalformedEntry
	}
	total := HeaderSize + int(keySize) + int(valueSize)
	if len(buf) != total {
		return Entry{}, ErrMalformedEntry
	}

	computed := crc32.ChecksumIEEE(buf[4:])
	if computed != storedCRC {
		return Entry{}, ErrChecksumMismatch
	}

	key := append([]byte(nil), buf[HeaderSize:HeaderSize+int(keySize)]...)
	blob := buf[HeaderSize+int(keySize):]
	if IsTombstoneBlob(blob) {
		return Entry{Key: key, Value: resp.BulkString(append([]byte(nil), tombstone...)), ExpirationMs: expirationMs}, nil
	}
	value, err := decodeValueBlob(blob)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Key: key, Value: value, ExpirationMs: expirationMs}, nil
}

// DecodeHeader parses just the fixed header, letting a caller learn
// the total record size before reading the rest of the bytes (used by
// Datafile.Scan to size its next read).
func DecodeHeader(header []byte) (keySize, valueSize uint32, err error) {
	if len(header) != HeaderSize {
		return 0, 0, ErrMalformedEntry
	}
	keySize = binary.BigEndian.Uint32(header[12:16])
	valueSize = binary.BigEndian.Uint32(header[16:20])
	if keySize == 0 {
		return 0, 0, ErrMalformedEntry
	}
	return keySize, valueSize, nil
}

// IsExpired reports whether e carries a non-zero expiration deadline
// that has already passed at nowMs.
func IsExpired(e Entry, nowMs int64) bool {
	return e.ExpirationMs != 0 && nowMs >= e.ExpirationMs
}

// IsTombstoneBlob reports whether a raw on-disk value blob is the
// deletion sentinel, without paying for a full value decode.
func IsTombstoneBlob(blob []byte) bool {
	return len(blob) == len(tombstone) && blob[0] == tombstone[0]
}

// IsTombstone reports whether e's value is the deletion sentinel.
// Entries built through Encode/Decode never carry a literal
// tombstone-shaped application value by accident -- EncodeTombstone is
// the only path that produces one.
func IsTombstone(e Entry) bool {
	return e.Value.Kind == resp.KindBulkString && IsTombstoneBlob(e.Value.Str)
}

// EncodeTombstone builds a deletion record for key: same header shape
// as Encode, but the value blob is the single-byte sentinel rather
// than a serialized resp.Value (spec §3).
func EncodeTombstone(key []byte, expirationMs int64) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrMalformedEntry
	}
	total := HeaderSize + len(key) + len(tombstone)
	buf := make([]byte, total)
	binary.BigEndian.PutUint64(buf[4:12], uint64(expirationMs))
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(key)))
	binary.BigEndian.PutUint32(buf[16:20], uint32(len(tombstone)))
	copy(buf[HeaderSize:], key)
	copy(buf[HeaderSize+len(key):], tombstone)
	crc := crc32.ChecksumIEEE(buf[4:])
	binary.BigEndian.PutUint32(buf[0:4], crc)
	return buf, nil
}
