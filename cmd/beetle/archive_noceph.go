//go:build !ceph

// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package main

import (
	"github.com/prxssh/beetle/internal/archive"
	"github.com/prxssh/beetle/internal/config"
)

// newCephBackendOrNoop falls back to NoopBackend when the binary was
// not built with the "ceph" build tag (internal/archive/ceph.go needs
// cgo/librados, which most builds skip).
func newCephBackendOrNoop(cfg config.Config) archive.Backend {
	return archive.NoopBackend{}
}
