//go:build ceph

// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package archive

import (
	"context"
	"fmt"
	"sync"

	"github.com/ceph/go-ceph/rados"
)

// CephConfig names the RADOS pool a CephBackend archives hints to.
type CephConfig struct {
	UserName    string
	ClusterName string
	ConfFile    string
	Pool        string
	Prefix      string
}

// CephBackend archives hints snapshots as RADOS objects in a single
// pool, built only when the "ceph" build tag (and its cgo/librados
// dependency) is available on the build host.
type CephBackend struct {
	cfg CephConfig

	mu     sync.Mutex
	conn   *rados.Conn
	ioctx  *rados.IOContext
	opened bool
}

func NewCephBackend(cfg CephConfig) *CephBackend {
	return &CephBackend{cfg: cfg}
}

func (b *CephBackend) ensureOpen() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.opened {
		return nil
	}

	conn, err := rados.NewConnWithClusterAndUser(b.cfg.ClusterName, b.cfg.UserName)
	if err != nil {
		return fmt.Errorf("archive: ceph connect: %w", err)
	}
	if b.cfg.ConfFile != "" {
		if err := conn.ReadConfigFile(b.cfg.ConfFile); err != nil {
			return fmt.Errorf("archive: ceph read config: %w", err)
		}
	} else if err := conn.ReadDefaultConfigFile(); err != nil {
		return fmt.Errorf("archive: ceph read default config: %w", err)
	}
	if err := conn.Connect(); err != nil {
		return fmt.Errorf("archive: ceph connect: %w", err)
	}

	ioctx, err := conn.OpenIOContext(b.cfg.Pool)
	if err != nil {
		conn.Shutdown()
		return fmt.Errorf("archive: ceph open pool: %w", err)
	}

	b.conn = conn
	b.ioctx = ioctx
	b.opened = true
	return nil
}

func (b *CephBackend) obj(shard uint32) string {
	name := fmt.Sprintf("shard-%d.hints.xz", shard)
	if b.cfg.Prefix == "" {
		return name
	}
	return b.cfg.Prefix + "/" + name
}

func (b *CephBackend) PutHints(ctx context.Context, shard uint32, data []byte) error {
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if err := b.ioctx.WriteFull(b.obj(shard), data); err != nil {
		return fmt.Errorf("archive: ceph write: %w", err)
	}
	return nil
}

func (b *CephBackend) GetHints(ctx context.Context, shard uint32) ([]byte, error) {
	if err := b.ensureOpen(); err != nil {
		return nil, err
	}
	obj := b.obj(shard)
	stat, err := b.ioctx.Stat(obj)
	if err != nil {
		return nil, ErrNotFound
	}
	data := make([]byte, stat.Size)
	n, err := b.ioctx.Read(obj, data, 0)
	if err != nil {
		return nil, fmt.Errorf("archive: ceph read: %w", err)
	}
	return data[:n], nil
}
