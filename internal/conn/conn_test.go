// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package conn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/prxssh/beetle/internal/command"
	"github.com/prxssh/beetle/internal/entry"
	"github.com/prxssh/beetle/internal/resp"
)

type memEngine struct {
	m map[string]entry.Entry
}

func newMemEngine() *memEngine { return &memEngine{m: make(map[string]entry.Entry)} }

func (e *memEngine) Get(key []byte, nowMs int64) (entry.Entry, bool) {
	v, ok := e.m[string(key)]
	return v, ok
}

func (e *memEngine) Put(key []byte, value resp.Value, expirationMs int64) error {
	e.m[string(key)] = entry.Entry{Key: key, Value: value, ExpirationMs: expirationMs}
	return nil
}

func (e *memEngine) Delete(keys [][]byte) (int, error) {
	n := 0
	for _, k := range keys {
		if _, ok := e.m[string(k)]; ok {
			delete(e.m, string(k))
			n++
		}
	}
	return n, nil
}

func (e *memEngine) Keys() [][]byte {
	out := make([][]byte, 0, len(e.m))
	for k := range e.m {
		out = append(out, []byte(k))
	}
	return out
}

func dialedConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	d := command.New(newMemEngine())
	c := New(server, d, nil)
	return c, client
}

// Scenario A (spec §8): set then get, as two separate round trips --
// the dispatcher's pipelined concurrency guarantee is reply-order, not
// a cross-command causal order within one buffer fill, so exercising
// read-after-write on the same key belongs in two sends.
func TestSetThenGet(t *testing.T) {
	c, client := dialedConn(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Serve(ctx)
	defer client.Close()

	if _, err := client.Write([]byte("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n")); err != nil {
		t.Fatal(err)
	}
	if got, want := readExactly(t, client, len("+OK\r\n")), "+OK\r\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	if _, err := client.Write([]byte("*2\r\n$3\r\nGET\r\n$1\r\nk\r\n")); err != nil {
		t.Fatal(err)
	}
	if got, want := readExactly(t, client, len("$1\r\nv\r\n")), "$1\r\nv\r\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// Independent commands delivered in one buffer fill still preserve
// reply order even though they dispatch concurrently (spec §8 property
// 11): two unrelated keys, queried in the same pipelined batch.
func TestPipelinedBatchPreservesReplyOrder(t *testing.T) {
	c, client := dialedConn(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Serve(ctx)
	defer client.Close()

	if _, err := client.Write([]byte("*3\r\n$3\r\nSET\r\n$1\r\na\r\n$1\r\n1\r\n*3\r\n$3\r\nSET\r\n$1\r\nb\r\n$1\r\n2\r\n")); err != nil {
		t.Fatal(err)
	}
	if got, want := readExactly(t, client, len("+OK\r\n+OK\r\n")), "+OK\r\n+OK\r\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	if _, err := client.Write([]byte("*2\r\n$3\r\nGET\r\n$1\r\na\r\n*2\r\n$3\r\nGET\r\n$1\r\nb\r\n")); err != nil {
		t.Fatal(err)
	}
	want := "$1\r\n1\r\n$1\r\n2\r\n"
	got := readExactly(t, client, len(want))
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// Scenario D (spec §8): MULTI/EXEC transaction.
func TestMultiExecTransaction(t *testing.T) {
	c, client := dialedConn(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Serve(ctx)
	defer client.Close()

	req := "*1\r\n$5\r\nMULTI\r\n" +
		"*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\n1\r\n" +
		"*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\n2\r\n" +
		"*1\r\n$4\r\nEXEC\r\n"
	if _, err := client.Write([]byte(req)); err != nil {
		t.Fatal(err)
	}

	want := "+OK\r\n+QUEUED\r\n+QUEUED\r\n*2\r\n+OK\r\n+OK\r\n"
	got := readExactly(t, client, len(want))
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}

	if _, err := client.Write([]byte("*2\r\n$3\r\nGET\r\n$1\r\nk\r\n")); err != nil {
		t.Fatal(err)
	}
	want2 := "$1\r\n2\r\n"
	got2 := readExactly(t, client, len(want2))
	if got2 != want2 {
		t.Fatalf("got %q, want %q", got2, want2)
	}
}

// Close must unblock a Serve loop parked in a blocking Read on an
// otherwise idle connection, and be safe to call more than once.
func TestCloseUnblocksIdleServe(t *testing.T) {
	c, client := dialedConn(t)
	defer client.Close()

	done := make(chan struct{})
	go func() {
		c.Serve(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}

func readExactly(t *testing.T, r net.Conn, n int) string {
	t.Helper()
	buf := make([]byte, n)
	r.SetReadDeadline(time.Now().Add(2 * time.Second))
	read := 0
	for read < n {
		m, err := r.Read(buf[read:])
		if err != nil {
			t.Fatalf("read: %v (got %q so far)", err, buf[:read])
		}
		read += m
	}
	return string(buf)
}
