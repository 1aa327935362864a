// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package keydir

import "errors"

// ErrFormat is returned by Load when the hints file is unreadable or
// fails the validation rules of spec §4.C.
var ErrFormat = errors.New("keydir: invalid hints format")
