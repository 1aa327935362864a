// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package shard

import "errors"

// ErrClosed is not returned by any Engine method: after Close, writes
// report store.ErrNotReady from the owning shard and Get reports every
// key absent.
var ErrClosed = errors.New("shard: engine closed")
