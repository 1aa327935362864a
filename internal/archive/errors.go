// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package archive

import "errors"

// ErrNotFound is returned by GetHints when a shard has no archived
// snapshot yet.
var ErrNotFound = errors.New("archive: hints not found")
