// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package datafile

import "errors"

// ErrClosed is returned by any operation attempted on a closed datafile.
var ErrClosed = errors.New("datafile: closed")
