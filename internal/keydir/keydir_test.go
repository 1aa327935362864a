// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package keydir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prxssh/beetle/internal/datafile"
	"github.com/prxssh/beetle/internal/entry"
	"github.com/prxssh/beetle/internal/resp"
)

func TestPutGetRemove(t *testing.T) {
	kd := New()
	kd.Put([]byte("a"), Entry{FileID: 1, ValuePosition: 10, ValueSize: 5})

	e, ok := kd.Get([]byte("a"))
	if !ok || e.FileID != 1 || e.ValuePosition != 10 || e.ValueSize != 5 {
		t.Fatalf("got %+v, %v", e, ok)
	}

	kd.Remove([]byte("a"))
	if _, ok := kd.Get([]byte("a")); ok {
		t.Fatal("expected key removed")
	}
}

func TestPersistLoadRoundTrip(t *testing.T) {
	kd := New()
	kd.Put([]byte("alpha"), Entry{FileID: 0, ValuePosition: 0, ValueSize: 12})
	kd.Put([]byte("beta"), Entry{FileID: 2, ValuePosition: 128, ValueSize: 40})

	dir := t.TempDir()
	path := filepath.Join(dir, "beetle.hints")
	if err := kd.Persist(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Len() != 2 {
		t.Fatalf("got %d entries, want 2", loaded.Len())
	}
	for _, key := range [][]byte{[]byte("alpha"), []byte("beta")} {
		want, _ := kd.Get(key)
		got, ok := loaded.Get(key)
		if !ok || got != want {
			t.Fatalf("key %q: got %+v, want %+v", key, got, want)
		}
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "beetle.hints")
	if err := os.WriteFile(path, []byte("not xz data at all"), 0o640); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error loading malformed hints file")
	}
}

func TestBuildFromDatafilesLastWriterWinsAndTombstones(t *testing.T) {
	dir := t.TempDir()
	df0, err := datafile.Open(dir, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	df1, err := datafile.Open(dir, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer df0.Close()
	defer df1.Close()

	rec, _ := entry.Encode([]byte("k1"), resp.BulkStringS("v1"), 0)
	if _, err := df0.Write(rec); err != nil {
		t.Fatal(err)
	}
	rec2, _ := entry.Encode([]byte("k2"), resp.BulkStringS("v2"), 0)
	if _, err := df0.Write(rec2); err != nil {
		t.Fatal(err)
	}

	// file 1 overwrites k1 and tombstones k2.
	rec1b, _ := entry.Encode([]byte("k1"), resp.BulkStringS("v1b"), 0)
	if _, err := df1.Write(rec1b); err != nil {
		t.Fatal(err)
	}
	tomb, _ := entry.EncodeTombstone([]byte("k2"), 0)
	if _, err := df1.Write(tomb); err != nil {
		t.Fatal(err)
	}
	if err := df0.Sync(); err != nil {
		t.Fatal(err)
	}
	if err := df1.Sync(); err != nil {
		t.Fatal(err)
	}

	kd, err := BuildFromDatafiles(map[uint32]*datafile.Datafile{0: df0, 1: df1})
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := kd.Get([]byte("k2")); ok {
		t.Fatal("expected k2 removed by tombstone")
	}
	e, ok := kd.Get([]byte("k1"))
	if !ok || e.FileID != 1 {
		t.Fatalf("expected k1 to point at file 1, got %+v ok=%v", e, ok)
	}
}
