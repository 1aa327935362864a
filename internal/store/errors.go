// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package store

import "errors"

var (
	// ErrClosed is not returned by any Store method: after Close, writes
	// report ErrNotReady and Get reports every key absent.
	ErrClosed = errors.New("store: closed")
	// ErrNotReady is returned by Put, Delete, Rotate, Merge and Sync when
	// the store is not in the Ready state, which includes every such
	// call made after Close.
	ErrNotReady = errors.New("store: not ready")
)
