// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package shard

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prxssh/beetle/internal/archive"
	"github.com/prxssh/beetle/internal/resp"
	"github.com/prxssh/beetle/internal/store"
)

// memoryArchive is a test double standing in for S3Backend/CephBackend:
// it keeps each shard's hints snapshot in a map instead of a remote
// store.
type memoryArchive struct {
	mu   sync.Mutex
	data map[uint32][]byte
}

func newMemoryArchive() *memoryArchive {
	return &memoryArchive{data: make(map[uint32][]byte)}
}

func (m *memoryArchive) PutHints(ctx context.Context, shard uint32, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), data...)
	m.data[shard] = cp
	return nil
}

func (m *memoryArchive) GetHints(ctx context.Context, shard uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.data[shard]
	if !ok {
		return nil, archive.ErrNotFound
	}
	return d, nil
}

func TestOpenCreatesOneDirPerShard(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, 4, 0, 0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	for i := 0; i < 4; i++ {
		if _, err := os.Stat(dir + "/" + shardDirName(i)); err != nil {
			t.Fatalf("expected shard dir %d: %v", i, err)
		}
	}
}

func TestRoutingIsStable(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, 8, 0, 0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	key := []byte("stable-key")
	first := e.indexFor(key)
	for i := 0; i < 100; i++ {
		if got := e.indexFor(key); got != first {
			t.Fatalf("routing changed: got %d, want %d", got, first)
		}
	}
}

func TestPutGetAcrossShards(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, 4, 0, 0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	keys := []string{"alpha", "beta", "gamma", "delta", "epsilon"}
	for _, k := range keys {
		if err := e.Put([]byte(k), resp.BulkStringS(k), 0); err != nil {
			t.Fatal(err)
		}
	}
	for _, k := range keys {
		v, ok := e.Get([]byte(k), 0)
		if !ok || string(v.Value.Str) != k {
			t.Fatalf("key %q: got %+v, ok=%v", k, v, ok)
		}
	}
}

func TestDeleteGroupsByShardAndSums(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, 4, 0, 0, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}
	for _, k := range keys {
		if err := e.Put(k, resp.BulkStringS("v"), 0); err != nil {
			t.Fatal(err)
		}
	}
	n, err := e.Delete(append(keys, []byte("missing")))
	if err != nil {
		t.Fatal(err)
	}
	if n != len(keys) {
		t.Fatalf("got %d deleted, want %d", n, len(keys))
	}
}

func TestOpenWithArchiveRestoresMissingHints(t *testing.T) {
	backend := newMemoryArchive()

	dir1 := t.TempDir()
	e1, err := OpenWithArchive(dir1, 2, 0, 0, 0, nil, backend)
	if err != nil {
		t.Fatal(err)
	}
	if err := e1.Put([]byte("archived-key"), resp.BulkStringS("archived-value"), 0); err != nil {
		t.Fatal(err)
	}
	if err := e1.Close(); err != nil {
		t.Fatal(err)
	}

	// With the datafiles still on disk but every local hints file gone,
	// reopening pulls each shard's snapshot back from the archive.
	for i := 0; i < 2; i++ {
		if err := os.Remove(filepath.Join(dir1, shardDirName(i), store.HintsFileName)); err != nil {
			t.Fatal(err)
		}
	}
	e2, err := OpenWithArchive(dir1, 2, 0, 0, 0, nil, backend)
	if err != nil {
		t.Fatal(err)
	}
	defer e2.Close()

	for i := 0; i < 2; i++ {
		if _, err := os.Stat(filepath.Join(dir1, shardDirName(i), store.HintsFileName)); err != nil {
			t.Fatalf("shard %d: expected hints restored from archive: %v", i, err)
		}
	}

	v, ok := e2.Get([]byte("archived-key"), 0)
	if !ok || string(v.Value.Str) != "archived-value" {
		t.Fatalf("got %+v, ok=%v; want archived-value", v, ok)
	}
}

func TestBackgroundTickersRunAndCancelOnClose(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, 2, 0, 10*time.Millisecond, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Put([]byte("k"), resp.BulkStringS("v"), 0); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
}
