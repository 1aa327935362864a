// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/prxssh/beetle/internal/resp"
)

func defaultHandlers() map[string]Handler {
	return map[string]Handler{
		"PING":     handlePing,
		"TTL":      handleTTL,
		"GET":      handleGet,
		"SET":      handleSet,
		"DEL":      handleDel,
		"APPEND":   handleAppend,
		"GETDEL":   handleGetDel,
		"GETEX":    handleGetEx,
		"GETRANGE": handleGetRange,
		"STRLEN":   handleStrlen,
		"DBSIZE":   handleDBSize,
	}
}

func handlePing(name string, args [][]byte, engine Engine, nowMs int64) resp.Value {
	switch len(args) {
	case 0:
		return resp.BulkStringS("PONG")
	case 1:
		return resp.BulkString(args[0])
	default:
		return wrongArity(name)
	}
}

func handleTTL(name string, args [][]byte, engine Engine, nowMs int64) resp.Value {
	if len(args) != 1 {
		return wrongArity(name)
	}
	e, ok := engine.Get(args[0], nowMs)
	if !ok {
		return resp.Int(-2)
	}
	if e.ExpirationMs == 0 {
		return resp.Int(-1)
	}
	remainingMs := e.ExpirationMs - nowMs
	return resp.Int((remainingMs + 999) / 1000)
}

func handleGet(name string, args [][]byte, engine Engine, nowMs int64) resp.Value {
	if len(args) != 1 {
		return wrongArity(name)
	}
	e, ok := engine.Get(args[0], nowMs)
	if !ok {
		return resp.Null()
	}
	return e.Value
}

func handleSet(name string, args [][]byte, engine Engine, nowMs int64) resp.Value {
	if len(args) < 2 {
		return wrongArity(name)
	}
	key, value := args[0], args[1]

	old, hadOld := engine.Get(key, nowMs)

	var nx, xx, getOpt, keepttl bool
	var expiryKind string
	var expiryVal int64

	i := 2
	for i < len(args) {
		switch strings.ToUpper(string(args[i])) {
		case "NX":
			nx = true
			i++
		case "XX":
			xx = true
			i++
		case "GET":
			getOpt = true
			i++
		case "KEEPTTL":
			keepttl = true
			i++
		case "EX", "PX", "EXAT", "PXAT":
			if i+1 >= len(args) {
				return syntaxErr()
			}
			n, err := strconv.ParseInt(string(args[i+1]), 10, 64)
			if err != nil {
				return syntaxErr()
			}
			expiryKind = strings.ToUpper(string(args[i]))
			expiryVal = n
			i += 2
		default:
			return syntaxErr()
		}
	}
	if nx && xx {
		return syntaxErr()
	}
	if keepttl && expiryKind != "" {
		return syntaxErr()
	}

	precondition := true
	if nx && hadOld {
		precondition = false
	}
	if xx && !hadOld {
		precondition = false
	}

	if precondition {
		var expirationMs int64
		switch expiryKind {
		case "EX":
			expirationMs = nowMs + expiryVal*1000
		case "PX":
			expirationMs = nowMs + expiryVal
		case "EXAT":
			expirationMs = expiryVal * 1000
		case "PXAT":
			expirationMs = expiryVal
		default:
			if keepttl && hadOld {
				expirationMs = old.ExpirationMs
			}
		}
		if err := engine.Put(key, resp.BulkString(value), expirationMs); err != nil {
			return resp.Error(fmt.Sprintf("ERR %v", err))
		}
	}

	if getOpt {
		if hadOld {
			return old.Value
		}
		return resp.Null()
	}
	if precondition {
		return resp.OK()
	}
	return resp.Null()
}

func handleDel(name string, args [][]byte, engine Engine, nowMs int64) resp.Value {
	if len(args) == 0 {
		return wrongArity(name)
	}
	n, err := engine.Delete(args)
	if err != nil {
		return resp.Error(fmt.Sprintf("ERR %v", err))
	}
	return resp.Int(int64(n))
}

func handleAppend(name string, args [][]byte, engine Engine, nowMs int64) resp.Value {
	if len(args) != 2 {
		return wrongArity(name)
	}
	key, suffix := args[0], args[1]

	e, ok := engine.Get(key, nowMs)
	var expirationMs int64
	var combined []byte
	if ok {
		expirationMs = e.ExpirationMs
		combined = make([]byte, 0, len(e.Value.Str)+len(suffix))
		combined = append(combined, e.Value.Str...)
		combined = append(combined, suffix...)
	} else {
		combined = append([]byte(nil), suffix...)
	}

	if err := engine.Put(key, resp.BulkString(combined), expirationMs); err != nil {
		return resp.Error(fmt.Sprintf("ERR %v", err))
	}
	return resp.Int(int64(len(combined)))
}

func handleGetDel(name string, args [][]byte, engine Engine, nowMs int64) resp.Value {
	if len(args) != 1 {
		return wrongArity(name)
	}
	e, ok := engine.Get(args[0], nowMs)
	if !ok {
		return resp.Null()
	}
	if _, err := engine.Delete(args); err != nil {
		return resp.Error(fmt.Sprintf("ERR %v", err))
	}
	return e.Value
}

func handleGetEx(name string, args [][]byte, engine Engine, nowMs int64) resp.Value {
	if len(args) < 1 {
		return wrongArity(name)
	}
	key := args[0]
	e, ok := engine.Get(key, nowMs)
	if !ok {
		return resp.Null()
	}

	if len(args) == 1 {
		return e.Value
	}

	opt := strings.ToUpper(string(args[1]))
	var expirationMs int64
	switch opt {
	case "PERSIST":
		if len(args) != 2 {
			return syntaxErr()
		}
		expirationMs = 0
	case "EX", "PX", "EXAT", "PXAT":
		if len(args) != 3 {
			return syntaxErr()
		}
		n, err := strconv.ParseInt(string(args[2]), 10, 64)
		if err != nil {
			return syntaxErr()
		}
		switch opt {
		case "EX":
			expirationMs = nowMs + n*1000
		case "PX":
			expirationMs = nowMs + n
		case "EXAT":
			expirationMs = n * 1000
		case "PXAT":
			expirationMs = n
		}
	default:
		return syntaxErr()
	}

	if err := engine.Put(key, e.Value, expirationMs); err != nil {
		return resp.Error(fmt.Sprintf("ERR %v", err))
	}
	return e.Value
}

func handleGetRange(name string, args [][]byte, engine Engine, nowMs int64) resp.Value {
	if len(args) != 3 {
		return wrongArity(name)
	}
	start, err := strconv.Atoi(string(args[1]))
	if err != nil {
		return syntaxErr()
	}
	stop, err := strconv.Atoi(string(args[2]))
	if err != nil {
		return syntaxErr()
	}

	e, ok := engine.Get(args[0], nowMs)
	if !ok {
		return resp.BulkStringS("")
	}
	b := e.Value.Str
	n := len(b)

	start = clampIndex(start, n)
	stop = clampIndex(stop, n)
	if n == 0 || start >= n {
		return resp.BulkStringS("")
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return resp.BulkStringS("")
	}
	return resp.BulkString(append([]byte(nil), b[start:stop+1]...))
}

func clampIndex(i, n int) int {
	if i < 0 {
		i = n + i
	}
	if i < 0 {
		i = 0
	}
	return i
}

func handleStrlen(name string, args [][]byte, engine Engine, nowMs int64) resp.Value {
	if len(args) != 1 {
		return wrongArity(name)
	}
	e, ok := engine.Get(args[0], nowMs)
	if !ok {
		return resp.Int(0)
	}
	return resp.Int(int64(len(e.Value.Str)))
}

func handleDBSize(name string, args [][]byte, engine Engine, nowMs int64) resp.Value {
	if len(args) != 0 {
		return wrongArity(name)
	}
	return resp.Int(int64(len(engine.Keys())))
}
