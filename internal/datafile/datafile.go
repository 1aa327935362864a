// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

// Package datafile implements §4.B: a single append-only log file with
// a buffered writer and an independent reader, used both as the
// active (appendable) file and as stale (read-only) files of a shard.
package datafile

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/launix-de/go-mysqlstack/xlog"

	"github.com/prxssh/beetle/internal/entry"
)

const (
	writerBufferSize = 128 * 1024
	readerBufferSize = 128 * 1024
	flushInterval    = 2 * time.Second
)

// FileName returns the on-disk name of a shard datafile with the given
// id, as named in spec §6: "beetle_<file_id>.db".
func FileName(fileID uint32) string {
	return fmt.Sprintf("beetle_%d.db", fileID)
}

// Datafile is one logical {file_id, writer, reader, offset} object
// (spec §3). Writes are serialized by wmu; positioned reads may run
// concurrently with writes because they only ever see bytes already
// flushed through the kernel page cache.
type Datafile struct {
	FileID uint32

	path string
	log  *xlog.Log

	wmu    sync.Mutex
	wf     *os.File
	w      *bufio.Writer
	offset atomic.Int64

	rf *os.File

	closed    atomic.Bool
	stopFlush chan struct{}
	flushDone chan struct{}
}

// Open opens (or creates) the datafile with the given id inside dir,
// establishing independent writer and reader handles (spec §4.B).
func Open(dir string, fileID uint32, log *xlog.Log) (*Datafile, error) {
	path := filepath.Join(dir, FileName(fileID))

	wf, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("datafile: open writer: %w", err)
	}
	rf, err := os.Open(path)
	if err != nil {
		wf.Close()
		return nil, fmt.Errorf("datafile: open reader: %w", err)
	}
	info, err := wf.Stat()
	if err != nil {
		wf.Close()
		rf.Close()
		return nil, fmt.Errorf("datafile: stat: %w", err)
	}

	df := &Datafile{
		FileID:    fileID,
		path:      path,
		log:       log,
		wf:        wf,
		w:         bufio.NewWriterSize(wf, writerBufferSize),
		rf:        rf,
		stopFlush: make(chan struct{}),
		flushDone: make(chan struct{}),
	}
	df.offset.Store(info.Size())

	go df.flushLoop()
	return df, nil
}

func (df *Datafile) flushLoop() {
	defer close(df.flushDone)
	t := time.NewTicker(flushInterval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			df.wmu.Lock()
			df.w.Flush()
			df.wmu.Unlock()
		case <-df.stopFlush:
			return
		}
	}
}

// Size returns the current length of the file in bytes.
func (df *Datafile) Size() int64 {
	return df.offset.Load()
}

// Write appends entryBytes to the active file, returning the byte
// offset it was written at. The caller must capture
// (returned offset, len(entryBytes)) to index the record (spec §4.B).
func (df *Datafile) Write(entryBytes []byte) (int64, error) {
	if df.closed.Load() {
		return 0, ErrClosed
	}
	df.wmu.Lock()
	defer df.wmu.Unlock()
	pos := df.offset.Load()
	if _, err := df.w.Write(entryBytes); err != nil {
		return 0, fmt.Errorf("datafile: write: %w", err)
	}
	df.offset.Add(int64(len(entryBytes)))
	return pos, nil
}

// ReadAt performs a single positioned read of exactly size bytes
// starting at position, then decodes the resulting record. Filtering
// expired/tombstone records is the caller's responsibility.
func (df *Datafile) ReadAt(position int64, size int32) (entry.Entry, error) {
	if df.closed.Load() {
		return entry.Entry{}, ErrClosed
	}
	buf := make([]byte, size)
	if _, err := df.rf.ReadAt(buf, position); err != nil {
		return entry.Entry{}, fmt.Errorf("datafile: read at %d: %w", position, err)
	}
	return entry.Decode(buf)
}

// Scan streams every record in the file from offset 0 to EOF in
// ascending order, invoking fn with the decoded entry and its
// (position, size). A checksum failure on one record is logged and
// skipped -- the scan continues with the next record, per spec §7
// ("treat as skip on scan/merge") -- while a clean, genuinely
// truncated tail (a partial header or partial body at EOF, as a crash
// mid-write would leave) stops the scan without error.
func (df *Datafile) Scan(fn func(e entry.Entry, pos int64, size int32) error) error {
	r := bufio.NewReaderSize(io.NewSectionReader(df.rf, 0, df.Size()), readerBufferSize)
	var pos int64
	header := make([]byte, entry.HeaderSize)
	for {
		n, err := io.ReadFull(r, header)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if n > 0 && df.log != nil {
					df.log.Warning("datafile %s: truncated header at offset %d, stopping scan", df.path, pos)
				}
				return nil
			}
			return fmt.Errorf("datafile: scan header: %w", err)
		}
		keySize, valueSize, herr := entry.DecodeHeader(header)
		if herr != nil {
			if df.log != nil {
				df.log.Warning("datafile %s: malformed header at offset %d, stopping scan", df.path, pos)
			}
			return nil
		}
		total := entry.HeaderSize + int(keySize) + int(valueSize)
		body := make([]byte, total)
		copy(body, header)
		if _, err := io.ReadFull(r, body[entry.HeaderSize:]); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if df.log != nil {
					df.log.Warning("datafile %s: truncated record at offset %d, stopping scan", df.path, pos)
				}
				return nil
			}
			return fmt.Errorf("datafile: scan body: %w", err)
		}

		e, derr := entry.Decode(body)
		if derr != nil {
			if df.log != nil {
				df.log.Warning("datafile %s: %v at offset %d, skipping record", df.path, derr, pos)
			}
			pos += int64(total)
			continue
		}
		if err := fn(e, pos, int32(total)); err != nil {
			return err
		}
		pos += int64(total)
	}
}

// Sync flushes the writer's buffer and fsyncs the underlying file.
func (df *Datafile) Sync() error {
	if df.closed.Load() {
		return ErrClosed
	}
	df.wmu.Lock()
	defer df.wmu.Unlock()
	if err := df.w.Flush(); err != nil {
		return fmt.Errorf("datafile: flush: %w", err)
	}
	return df.wf.Sync()
}

// Close syncs then closes both handles. Safe to call once.
func (df *Datafile) Close() error {
	if !df.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(df.stopFlush)
	<-df.flushDone

	df.wmu.Lock()
	flushErr := df.w.Flush()
	syncErr := df.wf.Sync()
	df.wmu.Unlock()

	closeWErr := df.wf.Close()
	closeRErr := df.rf.Close()

	for _, err := range []error{flushErr, syncErr, closeWErr, closeRErr} {
		if err != nil {
			return fmt.Errorf("datafile: close: %w", err)
		}
	}
	return nil
}
