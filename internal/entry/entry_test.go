// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package entry

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prxssh/beetle/internal/resp"
)

func TestRoundTrip(t *testing.T) {
	cases := []resp.Value{
		resp.Int(42),
		resp.Float(3.25),
		resp.BulkStringS("hello world"),
		resp.Bool(true),
		resp.Array([]resp.Value{resp.Int(1), resp.BulkStringS("x")}),
		resp.Map([]resp.MapEntry{{Key: resp.BulkStringS("b"), Val: resp.Int(2)}, {Key: resp.BulkStringS("a"), Val: resp.Int(1)}}),
		resp.Set([]resp.Value{resp.Int(3), resp.Int(1), resp.Int(2)}),
		resp.BulkStringS(strings.Repeat("x", 4096)), // exercises the lz4 path
	}
	for _, v := range cases {
		buf, err := Encode([]byte("key"), v, 0)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		got, err := Decode(buf)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !bytes.Equal(got.Key, []byte("key")) {
			t.Fatalf("key mismatch: %q", got.Key)
		}
		if got.Value.Kind != v.Kind {
			t.Fatalf("kind mismatch: want %v got %v", v.Kind, got.Value.Kind)
		}
	}
}

func TestDeterministicMapAndSetOrdering(t *testing.T) {
	a := resp.Map([]resp.MapEntry{{Key: resp.BulkStringS("a"), Val: resp.Int(1)}, {Key: resp.BulkStringS("b"), Val: resp.Int(2)}})
	b := resp.Map([]resp.MapEntry{{Key: resp.BulkStringS("b"), Val: resp.Int(2)}, {Key: resp.BulkStringS("a"), Val: resp.Int(1)}})
	ba, err := Encode([]byte("k"), a, 0)
	if err != nil {
		t.Fatal(err)
	}
	bb, err := Encode([]byte("k"), b, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(ba, bb) {
		t.Fatalf("expected identical bytes regardless of map insertion order")
	}
}

func TestChecksumMismatch(t *testing.T) {
	buf, err := Encode([]byte("key"), resp.BulkStringS("v"), 0)
	if err != nil {
		t.Fatal(err)
	}
	buf[0] ^= 0xFF
	_, err = Decode(buf)
	if err != ErrChecksumMismatch {
		t.Fatalf("want ErrChecksumMismatch, got %v", err)
	}
}

func TestTombstone(t *testing.T) {
	buf, err := EncodeTombstone([]byte("key"), 0)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !IsTombstone(got) {
		t.Fatalf("expected tombstone")
	}
}

func TestIsExpired(t *testing.T) {
	e := Entry{ExpirationMs: 100}
	if IsExpired(e, 50) {
		t.Fatalf("should not be expired yet")
	}
	if !IsExpired(e, 100) {
		t.Fatalf("should be expired at deadline")
	}
	e2 := Entry{ExpirationMs: 0}
	if IsExpired(e2, 1_000_000) {
		t.Fatalf("zero expiration means no expiry")
	}
}

func TestDecodeHeader(t *testing.T) {
	buf, err := Encode([]byte("key"), resp.Int(7), 123)
	if err != nil {
		t.Fatal(err)
	}
	keySize, valueSize, err := DecodeHeader(buf[:HeaderSize])
	if err != nil {
		t.Fatal(err)
	}
	if keySize != 3 {
		t.Fatalf("keySize = %d, want 3", keySize)
	}
	if HeaderSize+int(keySize)+int(valueSize) != len(buf) {
		t.Fatalf("header sizes do not reconstruct total length")
	}
}
