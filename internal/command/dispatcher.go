// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

// Package command implements §4.H: normalizing a parsed RESP request
// into a command name and arguments, routing it through a static
// handler table, and executing pipelined batches with an order-
// preserving, concurrency-bounded fan-out.
package command

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/prxssh/beetle/internal/entry"
	"github.com/prxssh/beetle/internal/resp"
)

// Engine is the narrow storage-engine surface the dispatcher needs,
// satisfied by *shard.Engine. Handlers depend on this interface, not
// the concrete type, the way memcp's command layer depends on its
// PersistenceEngine interface rather than a specific backend.
type Engine interface {
	Get(key []byte, nowMs int64) (entry.Entry, bool)
	Put(key []byte, value resp.Value, expirationMs int64) error
	Delete(keys [][]byte) (int, error)
	Keys() [][]byte
}

// Handler executes one command against engine at the given wall-clock
// time (spec §4.H: "command name, arguments, storage-engine interface,
// now_ms").
type Handler func(name string, args [][]byte, engine Engine, nowMs int64) resp.Value

// Dispatcher routes normalized commands to handlers and bounds
// pipelined fan-out concurrency to roughly 2x the core count.
type Dispatcher struct {
	engine   Engine
	handlers map[string]Handler
	sem      *semaphore.Weighted
	upper    cases.Caser
}

// New builds a dispatcher with the core command table wired against
// engine.
func New(engine Engine) *Dispatcher {
	limit := int64(2 * runtime.NumCPU())
	if limit < 2 {
		limit = 2
	}
	return &Dispatcher{
		engine:   engine,
		handlers: defaultHandlers(),
		sem:      semaphore.NewWeighted(limit),
		upper:    cases.Upper(language.Und),
	}
}

// Dispatch normalizes and executes a single top-level RESP request
// (spec §4.H steps 1-4). req must be a RESP array of bulk strings.
func (d *Dispatcher) Dispatch(req resp.Value, nowMs int64) resp.Value {
	if req.Kind != resp.KindArray || len(req.Array) == 0 {
		return resp.Error("ERR invalid request: expected a non-empty array")
	}

	name := d.upper.String(string(req.Array[0].Str))
	args := make([][]byte, 0, len(req.Array)-1)
	for _, v := range req.Array[1:] {
		args = append(args, v.Str)
	}

	h, ok := d.handlers[name]
	if !ok {
		return unknownCommand(name)
	}
	return h(name, args, d.engine, nowMs)
}

// DispatchBatch runs every request in reqs concurrently, bounded by
// the dispatcher's semaphore, but returns replies in the same order
// the requests arrived (spec §4.H "pipelined execution").
func (d *Dispatcher) DispatchBatch(ctx context.Context, reqs []resp.Value, nowMs int64) []resp.Value {
	replies := make([]resp.Value, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		i, req := i, req
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.sem.Acquire(ctx, 1); err != nil {
				replies[i] = resp.Error("ERR request cancelled")
				return
			}
			defer d.sem.Release(1)
			replies[i] = d.Dispatch(req, nowMs)
		}()
	}
	wg.Wait()
	return replies
}
