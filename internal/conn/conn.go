// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

// Package conn implements §4.I: one handler per live TCP connection,
// decoding pipelined RESP frames, driving the MULTI/EXEC/DISCARD
// transaction state machine, and dispatching everything else through
// the command package with order-preserving concurrency.
package conn

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/launix-de/go-mysqlstack/xlog"

	"github.com/prxssh/beetle/internal/command"
	"github.com/prxssh/beetle/internal/resp"
)

const readChunkSize = 64 * 1024

// Conn owns one accepted socket end to end: the inbound partial-frame
// buffer, the transaction record, and the reply send buffer (spec
// §4.I).
type Conn struct {
	ID  uuid.UUID
	rw  net.Conn
	log *xlog.Log
	d   *command.Dispatcher
	now func() int64

	inbound []byte

	txActive bool
	txQueue  []resp.Value

	closeOnce sync.Once
}

// New wraps an accepted socket. now defaults to the wall clock in
// milliseconds; tests may override it for deterministic TTLs.
func New(rw net.Conn, d *command.Dispatcher, log *xlog.Log) *Conn {
	return &Conn{
		ID:  uuid.New(),
		rw:  rw,
		log: log,
		d:   d,
		now: func() int64 { return time.Now().UnixMilli() },
	}
}

// Close closes the underlying socket, unblocking a Serve loop parked in
// Read so it can observe shutdown even on an otherwise idle connection.
// Safe to call concurrently with Serve and more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.rw.Close()
	})
	return err
}

// Serve runs the receive loop until the socket closes, an
// unrecoverable decode error repeats, or ctx is cancelled. It always
// closes the underlying socket before returning.
func (c *Conn) Serve(ctx context.Context) {
	defer c.Close()

	if c.log != nil {
		c.log.Info("conn %s: accepted from %s", c.ID, c.rw.RemoteAddr())
	}

	chunk := make([]byte, readChunkSize)
	malformedStreak := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, readErr := c.rw.Read(chunk)
		if n > 0 {
			c.inbound = append(c.inbound, chunk[:n]...)
			frames, rest, decErr := resp.Decode(c.inbound)
			c.inbound = rest

			if len(frames) > 0 {
				if err := c.handleFrames(ctx, frames); err != nil {
					return
				}
				malformedStreak = 0
			}

			if decErr != nil {
				malformedStreak++
				if err := c.writeOne(resp.Error("ERR " + decErr.Error())); err != nil {
					return
				}
				c.inbound = nil
				// Repeated malformed input from the same connection is
				// treated as hostile or broken; drop it (spec §7).
				if malformedStreak >= 8 {
					return
				}
			}
		}

		if readErr != nil {
			if !errors.Is(readErr, io.EOF) && c.log != nil {
				c.log.Warning("conn %s: read: %v", c.ID, readErr)
			}
			return
		}
	}
}

// handleFrames drives the transaction state machine over one batch of
// fully-decoded frames, dispatching non-transactional commands with
// order-preserving concurrency, then flushes every reply in a single
// socket write.
func (c *Conn) handleFrames(ctx context.Context, frames []resp.Value) error {
	replies := make([]resp.Value, len(frames))

	var batchFrames []resp.Value
	var batchIdx []int
	flush := func() {
		if len(batchFrames) == 0 {
			return
		}
		out := c.d.DispatchBatch(ctx, batchFrames, c.now())
		for i, idx := range batchIdx {
			replies[idx] = out[i]
		}
		batchFrames = batchFrames[:0]
		batchIdx = batchIdx[:0]
	}

	for i, frame := range frames {
		switch commandName(frame) {
		case "MULTI":
			flush()
			replies[i] = c.handleMulti()
		case "EXEC":
			flush()
			replies[i] = c.handleExec()
		case "DISCARD":
			flush()
			replies[i] = c.handleDiscard()
		default:
			if c.txActive {
				c.txQueue = append(c.txQueue, frame)
				replies[i] = resp.BulkStringS("QUEUED")
				continue
			}
			batchFrames = append(batchFrames, frame)
			batchIdx = append(batchIdx, i)
		}
	}
	flush()

	return c.writeAll(replies)
}

func (c *Conn) handleMulti() resp.Value {
	if c.txActive {
		return resp.Error("ERR multi calls can not be nested")
	}
	c.txActive = true
	c.txQueue = nil
	return resp.OK()
}

func (c *Conn) handleDiscard() resp.Value {
	if !c.txActive {
		return resp.Error("ERR DISCARD without MULTI")
	}
	c.txActive = false
	c.txQueue = nil
	return resp.OK()
}

func (c *Conn) handleExec() resp.Value {
	if !c.txActive {
		return resp.Error("ERR EXEC without MULTI")
	}
	queue := c.txQueue
	c.txActive = false
	c.txQueue = nil

	nowMs := c.now()
	replies := make([]resp.Value, len(queue))
	for i, cmd := range queue {
		replies[i] = c.d.Dispatch(cmd, nowMs)
	}
	return resp.Array(replies)
}

func commandName(v resp.Value) string {
	if v.Kind != resp.KindArray || len(v.Array) == 0 {
		return ""
	}
	return strings.ToUpper(string(v.Array[0].Str))
}

func (c *Conn) writeOne(v resp.Value) error {
	return c.writeAll([]resp.Value{v})
}

// writeAll encodes every reply into one buffer and performs a single
// socket write, per spec §4.I ("a single socket write per batch to
// reduce syscalls").
func (c *Conn) writeAll(replies []resp.Value) error {
	var buf []byte
	for _, r := range replies {
		var err error
		buf, err = resp.Encode(buf, r)
		if err != nil {
			// EncodeFailure is a programmer bug (spec §7); substitute a
			// generic error reply rather than corrupt the wire stream.
			buf, _ = resp.Encode(buf, resp.Error("ERR internal encode failure"))
		}
	}
	if len(buf) == 0 {
		return nil
	}
	if _, err := c.rw.Write(buf); err != nil {
		if c.log != nil {
			c.log.Warning("conn %s: write: %v", c.ID, err)
		}
		return err
	}
	return nil
}
