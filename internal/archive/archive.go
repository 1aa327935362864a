// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

// Package archive ships a shard's hints snapshot to durable off-box
// storage so a fresh node can recover its keydir without replaying
// every datafile from scratch. This is a supplement beyond spec.md's
// scope: the spec only requires a local hints file; archive backends
// give operators an optional off-node copy of it.
package archive

import "context"

// Backend stores and retrieves a single named blob per shard: the
// xz-compressed hints snapshot produced by keydir.Persist.
type Backend interface {
	PutHints(ctx context.Context, shard uint32, data []byte) error
	GetHints(ctx context.Context, shard uint32) ([]byte, error)
}

// NoopBackend discards everything; it is the default when no archive
// backend is configured.
type NoopBackend struct{}

func (NoopBackend) PutHints(ctx context.Context, shard uint32, data []byte) error { return nil }

func (NoopBackend) GetHints(ctx context.Context, shard uint32) ([]byte, error) {
	return nil, ErrNotFound
}
