// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

// Package store implements §4.D: the bitcask store, one instance per
// shard, orchestrating a set of datafiles and the keydir that indexes
// them.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/launix-de/go-mysqlstack/xlog"

	"github.com/prxssh/beetle/internal/datafile"
	"github.com/prxssh/beetle/internal/entry"
	"github.com/prxssh/beetle/internal/keydir"
	"github.com/prxssh/beetle/internal/resp"
)

// HintsFileName is the keydir snapshot sitting beside a shard's
// datafiles (spec §3, §6).
const HintsFileName = "beetle.hints"

const mergeDirName = "merge"

var datafileNamePattern = regexp.MustCompile(`^beetle_(\d+)\.db$`)

// Store is the engine's central authority for one shard (spec §4.D).
// Mutating operations (Put, Delete, Rotate, Merge, Sync, Close) are
// serialized by writeMu, matching the "logical single-writer" model
// of spec §5. Get does not take writeMu: it snapshots the keydir
// pointer and file table under filesMu.RLock, then performs the
// positioned read without holding any lock, so reads may proceed
// concurrently with a write in flight.
type Store struct {
	path string
	log  *xlog.Log

	// rotateThreshold, if non-zero, triggers an opportunistic Rotate
	// from within Put once the active file grows past it, in addition
	// to the interval-driven rotation tick owned by internal/shard.
	rotateThreshold int64

	writeMu sync.Mutex

	filesMu      sync.RWMutex
	files        map[uint32]*datafile.Datafile
	activeFileID uint32
	kd           *keydir.Keydir

	state atomic.Int32
}

// Open ensures path exists, recovers or rebuilds the keydir, and
// opens a fresh active datafile (spec §4.D "open"). rotateThresholdBytes
// of 0 disables opportunistic size-based rotation.
func Open(path string, log *xlog.Log, rotateThresholdBytes int64) (*Store, error) {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	ids, err := existingFileIDs(path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}

	files := make(map[uint32]*datafile.Datafile, len(ids))
	closeAll := func() {
		for _, df := range files {
			df.Close()
		}
	}
	for _, id := range ids {
		df, err := datafile.Open(path, id, log)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("store: open datafile %d: %w", id, err)
		}
		files[id] = df
	}

	kd, err := loadOrBuildKeydir(path, files, log)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("store: open: %w", err)
	}

	var activeID uint32
	if len(ids) > 0 {
		max := ids[0]
		for _, id := range ids[1:] {
			if id > max {
				max = id
			}
		}
		activeID = max + 1
	}
	active, err := datafile.Open(path, activeID, log)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("store: open active datafile: %w", err)
	}
	files[activeID] = active

	s := &Store{
		path:            path,
		log:             log,
		rotateThreshold: rotateThresholdBytes,
		files:           files,
		activeFileID:    activeID,
		kd:              kd,
	}
	s.setState(Ready)
	return s, nil
}

func existingFileIDs(path string) ([]uint32, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var ids []uint32
	for _, ent := range entries {
		if ent.IsDir() {
			continue
		}
		m := datafileNamePattern.FindStringSubmatch(ent.Name())
		if m == nil {
			continue
		}
		var id uint32
		if _, err := fmt.Sscanf(m[1], "%d", &id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func loadOrBuildKeydir(path string, files map[uint32]*datafile.Datafile, log *xlog.Log) (*keydir.Keydir, error) {
	hintsPath := filepath.Join(path, HintsFileName)
	if kd, err := keydir.Load(hintsPath); err == nil {
		return kd, nil
	}
	kd, err := keydir.BuildFromDatafiles(files)
	if err != nil {
		return nil, err
	}
	return kd, nil
}

func (s *Store) State() State { return State(s.state.Load()) }

func (s *Store) setState(st State) { s.state.Store(int32(st)) }

// Get returns the live, non-expired, non-tombstone entry for key, if
// any (spec §4.D "get"). A checksum failure is logged and reported as
// absent rather than propagated.
func (s *Store) Get(key []byte, nowMs int64) (entry.Entry, bool) {
	if s.State() == Closed {
		return entry.Entry{}, false
	}

	s.filesMu.RLock()
	kd := s.kd
	active := s.files
	s.filesMu.RUnlock()

	loc, ok := kd.Get(key)
	if !ok {
		return entry.Entry{}, false
	}
	df, ok := active[loc.FileID]
	if !ok {
		return entry.Entry{}, false
	}

	e, err := df.ReadAt(loc.ValuePosition, loc.ValueSize)
	if err != nil {
		if s.log != nil {
			s.log.Warning("store: read %q at file %d pos %d: %v", key, loc.FileID, loc.ValuePosition, err)
		}
		return entry.Entry{}, false
	}
	if entry.IsTombstone(e) || entry.IsExpired(e, nowMs) {
		return entry.Entry{}, false
	}
	return e, true
}

// Put encodes and appends a new record to the active datafile,
// overwriting any prior keydir mapping for key (spec §4.D "put"). An
// I/O error surfaces to the caller without touching the keydir.
func (s *Store) Put(key []byte, value resp.Value, expirationMs int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() != Ready {
		return ErrNotReady
	}

	rec, err := entry.Encode(key, value, expirationMs)
	if err != nil {
		return err
	}

	s.filesMu.RLock()
	active := s.files[s.activeFileID]
	activeID := s.activeFileID
	s.filesMu.RUnlock()

	pos, err := active.Write(rec)
	if err != nil {
		return fmt.Errorf("store: put: %w", err)
	}
	s.kd.Put(key, keydir.Entry{FileID: activeID, ValuePosition: pos, ValueSize: int32(len(rec))})

	if s.rotateThreshold > 0 && active.Size() >= s.rotateThreshold {
		if err := s.rotateLocked(); err != nil && s.log != nil {
			s.log.Warning("store: opportunistic rotate after put: %v", err)
		}
	}
	return nil
}

// Delete tombstones every key that currently has a keydir entry,
// returning the count actually removed (spec §4.D "delete").
func (s *Store) Delete(keys [][]byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() != Ready {
		return 0, ErrNotReady
	}

	s.filesMu.RLock()
	active := s.files[s.activeFileID]
	s.filesMu.RUnlock()

	removed := 0
	for _, key := range keys {
		if _, ok := s.kd.Get(key); !ok {
			continue
		}
		rec, err := entry.EncodeTombstone(key, 0)
		if err != nil {
			return removed, err
		}
		if _, err := active.Write(rec); err != nil {
			return removed, fmt.Errorf("store: delete: %w", err)
		}
		s.kd.Remove(key)
		removed++
	}
	return removed, nil
}

// Rotate opens a new active datafile with file_id = active + 1,
// demoting the previous active file to read-only (spec §4.D "rotate").
func (s *Store) Rotate() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.rotateLocked()
}

func (s *Store) rotateLocked() error {
	if s.State() != Ready {
		return ErrNotReady
	}
	s.setState(Rotating)
	defer s.setState(Ready)

	newID := s.activeFileID + 1
	df, err := datafile.Open(s.path, newID, s.log)
	if err != nil {
		return fmt.Errorf("store: rotate: %w", err)
	}

	// Publish a new file table rather than adding to the current one, so
	// a Get holding the previous table never reads a map being written.
	files := make(map[uint32]*datafile.Datafile, len(s.files)+1)
	for id, f := range s.files {
		files[id] = f
	}
	files[newID] = df

	s.filesMu.Lock()
	s.files = files
	s.activeFileID = newID
	s.filesMu.Unlock()
	return nil
}

// Merge compacts every datafile, the active one included, into a
// single fresh beetle_0.db that becomes the new active file,
// dropping expired and tombstoned records, per spec §4.D "merge". A
// single active file is a no-op. Failures before the rename step leave
// the original store untouched and remove the temporary merge dir.
func (s *Store) Merge() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() != Ready {
		return ErrNotReady
	}

	s.filesMu.RLock()
	if len(s.files) <= 1 {
		s.filesMu.RUnlock()
		return nil
	}
	snapshot := make(map[uint32]*datafile.Datafile, len(s.files))
	for id, df := range s.files {
		snapshot[id] = df
	}
	s.filesMu.RUnlock()

	s.setState(Merging)
	defer s.setState(Ready)

	mergeDir := filepath.Join(s.path, mergeDirName)
	cleanup := func() { os.RemoveAll(mergeDir) }
	if err := os.MkdirAll(mergeDir, 0o750); err != nil {
		return fmt.Errorf("store: merge: %w", err)
	}

	mergedDf, err := datafile.Open(mergeDir, 0, s.log)
	if err != nil {
		cleanup()
		return fmt.Errorf("store: merge: %w", err)
	}

	ids := make([]uint32, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	newKd := keydir.New()
	nowMs := time.Now().UnixMilli()
	for _, id := range ids {
		df := snapshot[id]
		scanErr := df.Scan(func(e entry.Entry, pos int64, size int32) error {
			if entry.IsTombstone(e) || entry.IsExpired(e, nowMs) {
				return nil
			}
			rec, err := entry.Encode(e.Key, e.Value, e.ExpirationMs)
			if err != nil {
				return err
			}
			newPos, err := mergedDf.Write(rec)
			if err != nil {
				return err
			}
			newKd.Put(e.Key, keydir.Entry{FileID: 0, ValuePosition: newPos, ValueSize: int32(len(rec))})
			return nil
		})
		if scanErr != nil {
			mergedDf.Close()
			cleanup()
			return fmt.Errorf("store: merge: scan file %d: %w", id, scanErr)
		}
	}

	if err := mergedDf.Close(); err != nil {
		cleanup()
		return fmt.Errorf("store: merge: %w", err)
	}

	// Everything from here on operates on a fully-written, durable
	// merged file. The original datafiles are left completely untouched
	// -- neither closed nor removed -- until the rename and the reopen
	// both succeed, so any failure up to that point still leaves
	// s.files/s.activeFileID/s.kd pointing at the original, fully
	// intact store (spec §4.D: "merge failures leave the original store
	// intact").
	mergedPath := filepath.Join(mergeDir, datafile.FileName(0))
	targetPath := filepath.Join(s.path, datafile.FileName(0))
	if err := os.Rename(mergedPath, targetPath); err != nil {
		cleanup()
		return fmt.Errorf("store: merge: rename merged file: %w", err)
	}

	newActive, err := datafile.Open(s.path, 0, s.log)
	if err != nil {
		return fmt.Errorf("store: merge: reopen merged file: %w", err)
	}

	if err := newKd.Persist(filepath.Join(s.path, HintsFileName)); err != nil && s.log != nil {
		s.log.Warning("store: merge: persist hints: %v", err)
	}

	// The new file table and keydir are computed entirely in local
	// variables above; only now, with both durable, do we swap them in.
	s.filesMu.Lock()
	s.files = map[uint32]*datafile.Datafile{0: newActive}
	s.activeFileID = 0
	s.kd = newKd
	s.filesMu.Unlock()

	// Only after the swap is it safe to retire the old handles: file id
	// 0's directory entry was already replaced by the rename above, so
	// its old handle is closed but not removed from disk -- doing so
	// would delete the merged file now sharing its name. Every other
	// old file is both closed and deleted.
	for id, df := range snapshot {
		if err := df.Close(); err != nil && s.log != nil {
			s.log.Warning("store: merge: close old file %d: %v", id, err)
		}
		if id == 0 {
			continue
		}
		if err := os.Remove(filepath.Join(s.path, datafile.FileName(id))); err != nil && s.log != nil {
			s.log.Warning("store: merge: remove old file %d: %v", id, err)
		}
	}
	if err := os.RemoveAll(mergeDir); err != nil && s.log != nil {
		s.log.Warning("store: merge: remove merge dir: %v", err)
	}

	return nil
}

// Sync flushes the active datafile's writer buffer and fsyncs it.
func (s *Store) Sync() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() != Ready {
		return ErrNotReady
	}
	s.setState(Syncing)
	defer s.setState(Ready)

	s.filesMu.RLock()
	active := s.files[s.activeFileID]
	s.filesMu.RUnlock()
	return active.Sync()
}

// Close persists the keydir to the hints file, syncs the active
// datafile, and closes every handle. Safe to call once.
func (s *Store) Close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() == Closed {
		return nil
	}

	if err := s.kd.Persist(filepath.Join(s.path, HintsFileName)); err != nil && s.log != nil {
		s.log.Warning("store: close: persist hints: %v", err)
	}

	s.filesMu.Lock()
	defer s.filesMu.Unlock()

	var firstErr error
	for _, df := range s.files {
		if err := df.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("store: close: %w", err)
		}
	}
	s.files = nil
	s.setState(Closed)
	return firstErr
}

// Keys returns every key currently indexed by the keydir, which may
// include references to records that have since expired.
func (s *Store) Keys() [][]byte {
	s.filesMu.RLock()
	kd := s.kd
	s.filesMu.RUnlock()
	return kd.Keys()
}
