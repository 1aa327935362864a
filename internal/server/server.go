// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

// Package server implements §4.J: the TCP acceptor. It owns the
// listening socket, runs an acceptor pool of workers all Accept()-ing
// from the same listener, and hands each accepted socket off to a
// freshly constructed connection handler.
package server

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/launix-de/go-mysqlstack/xlog"
	"golang.org/x/sys/unix"

	"github.com/prxssh/beetle/internal/command"
	"github.com/prxssh/beetle/internal/conn"
)

const (
	listenBacklog       = 1024
	listenSendBufBytes  = 512 * 1024
	listenRecvBufBytes  = 512 * 1024
	connSendBufBytes    = 128 * 1024
	connRecvTimeout     = 30 * time.Second
	acceptRetryInterval = time.Second
)

// Acceptor owns the listening socket and the pool of workers accepting
// on it, tracking every live connection for shutdown (spec §4.J).
type Acceptor struct {
	log *xlog.Log
	ln  *net.TCPListener
	d   *command.Dispatcher

	mu      sync.Mutex
	conns   map[*conn.Conn]struct{}
	closing bool

	wg sync.WaitGroup
}

// Listen binds a TCP listener on port with SO_REUSEADDR and the
// generous OS buffer sizes of spec §4.J, but does not yet start
// accepting; call Serve for that.
func Listen(port int, log *xlog.Log) (*Acceptor, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctlErr error
			err := c.Control(func(fd uintptr) {
				ctlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctlErr
		},
	}

	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("server: listen: %w", err)
	}
	tcpLn, ok := ln.(*net.TCPListener)
	if !ok {
		ln.Close()
		return nil, fmt.Errorf("server: listen: unexpected listener type")
	}

	if rawConn, err := tcpLn.SyscallConn(); err == nil {
		rawConn.Control(func(fd uintptr) {
			unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, listenSendBufBytes)
			unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, listenRecvBufBytes)
		})
	}

	return &Acceptor{
		log:   log,
		ln:    tcpLn,
		conns: make(map[*conn.Conn]struct{}),
	}, nil
}

// Serve installs the command dispatcher and spawns ~2x core-count
// acceptor workers, all calling Accept on the same listener (spec
// §4.J). It blocks until ctx is cancelled.
func (a *Acceptor) Serve(ctx context.Context, d *command.Dispatcher) {
	a.d = d

	workers := 2 * runtime.NumCPU()
	if workers < 2 {
		workers = 2
	}

	a.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go a.acceptLoop(ctx)
	}

	<-ctx.Done()
	a.shutdown()
	a.wg.Wait()
}

func (a *Acceptor) acceptLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c, err := a.ln.AcceptTCP()
		if err != nil {
			if a.isClosing() {
				return
			}
			if a.log != nil {
				a.log.Warning("server: accept: %v", err)
			}
			select {
			case <-time.After(acceptRetryInterval):
			case <-ctx.Done():
				return
			}
			continue
		}

		tunePerConnection(c)
		handler := conn.New(c, a.d, a.log)
		a.track(handler)

		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			defer a.untrack(handler)
			handler.Serve(ctx)
		}()
	}
}

// tunePerConnection applies the per-accepted-socket options of spec
// §4.J: disable Nagle, enable keepalive, and socket buffers smaller
// than the listening socket's. It sets no send timeout or write
// deadline, so a write to a peer that stops reading blocks until the
// socket is closed.
func tunePerConnection(c *net.TCPConn) {
	c.SetNoDelay(true)
	c.SetKeepAlive(true)
	c.SetKeepAlivePeriod(connRecvTimeout)
	c.SetWriteBuffer(connSendBufBytes)
	c.SetReadBuffer(connSendBufBytes)
}

func (a *Acceptor) track(c *conn.Conn) {
	a.mu.Lock()
	a.conns[c] = struct{}{}
	a.mu.Unlock()
}

func (a *Acceptor) untrack(c *conn.Conn) {
	a.mu.Lock()
	delete(a.conns, c)
	a.mu.Unlock()
}

func (a *Acceptor) isClosing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closing
}

// shutdown closes the listening socket so acceptLoop workers fall out
// of Accept, then closes every tracked connection's socket so its
// Serve loop's blocking Read returns and the goroutine exits, per spec
// §5's "stop accepting -> close active connections" order. Without
// this, an idle connection parked in Read would never observe ctx
// cancellation and Serve's a.wg.Wait() would hang forever.
func (a *Acceptor) shutdown() {
	a.mu.Lock()
	a.closing = true
	conns := make([]*conn.Conn, 0, len(a.conns))
	for c := range a.conns {
		conns = append(conns, c)
	}
	a.mu.Unlock()

	a.ln.Close()
	for _, c := range conns {
		c.Close()
	}
}
