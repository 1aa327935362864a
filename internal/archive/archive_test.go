// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package archive

import (
	"context"
	"errors"
	"testing"
)

func TestNoopBackend(t *testing.T) {
	var b Backend = NoopBackend{}
	if err := b.PutHints(context.Background(), 3, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.GetHints(context.Background(), 3); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestS3BackendKeyNaming(t *testing.T) {
	b := NewS3Backend(S3Config{Bucket: "beetle", Prefix: "cluster-a"})
	if got, want := b.key(7), "cluster-a/shard-7.hints.xz"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	b2 := NewS3Backend(S3Config{Bucket: "beetle"})
	if got, want := b2.key(0), "shard-0.hints.xz"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
