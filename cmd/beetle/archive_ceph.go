//go:build ceph

// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package main

import (
	"github.com/prxssh/beetle/internal/archive"
	"github.com/prxssh/beetle/internal/config"
)

func newCephBackendOrNoop(cfg config.Config) archive.Backend {
	return archive.NewCephBackend(archive.CephConfig{
		Pool:   cfg.ArchiveBucket,
		Prefix: cfg.ArchivePrefix,
	})
}
