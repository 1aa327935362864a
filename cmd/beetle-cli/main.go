// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

// Command beetle-cli is an interactive RESP client REPL (SPEC_FULL
// "SUPPLEMENTED FEATURES" item 2), the way redis-cli accompanies
// redis-server. It dials the configured port, pipes readline input
// through the RESP encoder, and prints decoded replies -- modeled on
// the teacher's scm.Repl (scm/prompt.go).
package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/prxssh/beetle/internal/resp"
)

const (
	newPrompt    = "\033[32mbeetle>\033[0m "
	resultPrompt = "\033[31m=\033[0m "
)

func main() {
	addr := "127.0.0.1:6969"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "beetle-cli: connect %s: %v\n", addr, err)
		os.Exit(1)
	}
	defer conn.Close()

	l, err := readline.NewEx(&readline.Config{
		Prompt:            newPrompt,
		HistoryFile:       ".beetle-cli-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	reader := bufio.NewReader(conn)
	fmt.Printf("connected to %s\n", addr)

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		args := tokenize(line)
		req := resp.Array(bulkStrings(args))
		out, err := resp.EncodeBytes(req)
		if err != nil {
			fmt.Println("encode error:", err)
			continue
		}
		if _, err := conn.Write(out); err != nil {
			fmt.Println("write error:", err)
			return
		}

		reply, err := readReply(reader)
		if err != nil {
			fmt.Println("read error:", err)
			return
		}
		fmt.Print(resultPrompt)
		fmt.Println(formatReply(reply))
	}
}

// tokenize splits a command line on whitespace, honoring double-quoted
// segments so values containing spaces can be entered (e.g.
// SET k "hello world").
func tokenize(line string) []string {
	var tokens []string
	var cur strings.Builder
	inQuotes := false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == ' ' && !inQuotes:
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func bulkStrings(args []string) []resp.Value {
	out := make([]resp.Value, len(args))
	for i, a := range args {
		out[i] = resp.BulkStringS(a)
	}
	return out
}

// readReply reads exactly one complete RESP frame off r, growing its
// buffer as needed -- the REPL's I/O is request/response, so it never
// needs to handle more than one pending frame per round trip.
func readReply(r *bufio.Reader) (resp.Value, error) {
	var buf []byte
	chunk := make([]byte, 4096)
	for {
		values, rest, err := resp.Decode(buf)
		if err == nil && len(values) > 0 {
			// Any bytes beyond the first frame are discarded along
			// with buf when this call returns.
			_ = rest
			return values[0], nil
		}
		if err != nil {
			return resp.Value{}, err
		}
		n, rerr := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if rerr != nil {
			return resp.Value{}, rerr
		}
	}
}

func formatReply(v resp.Value) string {
	switch v.Kind {
	case resp.KindNull:
		return "(nil)"
	case resp.KindOK:
		return "OK"
	case resp.KindError:
		return "(error) " + string(v.Str)
	case resp.KindInt:
		return "(integer) " + strconv.FormatInt(v.Int, 10)
	case resp.KindBulkString:
		return "\"" + string(v.Str) + "\""
	case resp.KindArray:
		if len(v.Array) == 0 {
			return "(empty array)"
		}
		var b strings.Builder
		for i, item := range v.Array {
			fmt.Fprintf(&b, "%d) %s\n", i+1, formatReply(item))
		}
		return strings.TrimRight(b.String(), "\n")
	default:
		return v.String()
	}
}
