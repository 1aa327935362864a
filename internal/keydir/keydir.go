// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

// Package keydir implements §4.C: the in-memory index mapping a key to
// the on-disk location of its newest live record, plus persistence to
// and recovery from the hints snapshot file.
package keydir

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/ulikunitz/xz"

	"github.com/prxssh/beetle/internal/datafile"
	"github.com/prxssh/beetle/internal/entry"
)

// Entry is the location of the newest live record for a key (spec §3):
// "file_id X, byte value_position, occupying value_size bytes".
type Entry struct {
	FileID        uint32
	ValuePosition int64
	ValueSize     int32
}

// Keydir is the authoritative read index for one shard's store. A key
// is "present" iff it has an entry here and the referenced record is
// neither expired nor a tombstone -- both checks require reading the
// record itself, so they belong to the store, not to the keydir.
type Keydir struct {
	mu sync.RWMutex
	m  map[string]Entry
}

// New returns an empty keydir.
func New() *Keydir {
	return &Keydir{m: make(map[string]Entry)}
}

func (k *Keydir) Put(key []byte, e Entry) {
	k.mu.Lock()
	k.m[string(key)] = e
	k.mu.Unlock()
}

func (k *Keydir) Get(key []byte) (Entry, bool) {
	k.mu.RLock()
	e, ok := k.m[string(key)]
	k.mu.RUnlock()
	return e, ok
}

func (k *Keydir) Remove(key []byte) {
	k.mu.Lock()
	delete(k.m, string(key))
	k.mu.Unlock()
}

// Keys returns every key currently indexed, including references to
// records that may turn out to be expired once read (spec §4.D).
func (k *Keydir) Keys() [][]byte {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([][]byte, 0, len(k.m))
	for key := range k.m {
		out = append(out, []byte(key))
	}
	return out
}

// Len reports the number of indexed keys.
func (k *Keydir) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.m)
}

// BuildFromDatafiles scans every datafile in ascending file_id order,
// and within each file in ascending offset order, replaying puts and
// tombstones to reconstruct last-writer-wins state (spec §4.C). Since
// file_id only increases with rotation, this order alone reproduces
// the log's true last-writer-wins semantics without timestamps.
func BuildFromDatafiles(files map[uint32]*datafile.Datafile) (*Keydir, error) {
	ids := make([]uint32, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	kd := New()
	for _, id := range ids {
		df := files[id]
		err := df.Scan(func(e entry.Entry, pos int64, size int32) error {
			if entry.IsTombstone(e) {
				kd.Remove(e.Key)
				return nil
			}
			kd.Put(e.Key, Entry{FileID: id, ValuePosition: pos, ValueSize: size})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("keydir: build from datafile %d: %w", id, err)
		}
	}
	return kd, nil
}

// Persist writes an xz-compressed snapshot of the keydir to path,
// atomically (write to a temp file, then rename) so a crash mid-write
// never leaves a corrupt hints file behind.
func (k *Keydir) Persist(path string) error {
	k.mu.RLock()
	keys := make([]string, 0, len(k.m))
	for key := range k.m {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var raw bytes.Buffer
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(keys)))
	raw.Write(countBuf[:])
	for _, key := range keys {
		e := k.m[key]
		writeRecord(&raw, key, e)
	}
	k.mu.RUnlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("keydir: persist: %w", err)
	}
	xw, err := xz.NewWriter(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("keydir: persist: %w", err)
	}
	if _, err := xw.Write(raw.Bytes()); err != nil {
		xw.Close()
		f.Close()
		return fmt.Errorf("keydir: persist: %w", err)
	}
	if err := xw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("keydir: persist: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("keydir: persist: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("keydir: persist: %w", err)
	}
	return os.Rename(tmp, path)
}

func writeRecord(buf *bytes.Buffer, key string, e Entry) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(key)))
	buf.Write(lenBuf[:])
	buf.WriteString(key)
	var fileBuf [4]byte
	binary.BigEndian.PutUint32(fileBuf[:], e.FileID)
	buf.Write(fileBuf[:])
	var posBuf [8]byte
	binary.BigEndian.PutUint64(posBuf[:], uint64(e.ValuePosition))
	buf.Write(posBuf[:])
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(e.ValueSize))
	buf.Write(sizeBuf[:])
}

// Load reads and validates a hints snapshot written by Persist.
func Load(path string) (*Keydir, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	xr, err := xz.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	raw, err := io.ReadAll(xr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormat, err)
	}

	kd := New()
	if len(raw) < 4 {
		return nil, ErrFormat
	}
	count := binary.BigEndian.Uint32(raw[:4])
	rest := raw[4:]
	for i := uint32(0); i < count; i++ {
		if len(rest) < 4 {
			return nil, ErrFormat
		}
		keyLen := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < keyLen+4+8+4 {
			return nil, ErrFormat
		}
		key := string(rest[:keyLen])
		rest = rest[keyLen:]
		fileID := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		position := int64(binary.BigEndian.Uint64(rest[:8]))
		rest = rest[8:]
		size := int32(binary.BigEndian.Uint32(rest[:4]))
		rest = rest[4:]

		if position < 0 || size <= 0 {
			return nil, ErrFormat
		}
		kd.m[key] = Entry{FileID: fileID, ValuePosition: position, ValueSize: size}
	}
	return kd, nil
}
