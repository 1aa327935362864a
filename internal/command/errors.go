// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package command

import "github.com/prxssh/beetle/internal/resp"

func syntaxErr() resp.Value {
	return resp.Error("ERR syntax error")
}

func wrongArity(name string) resp.Value {
	return resp.Error("ERR wrong number of arguments for '" + name + "' command")
}

func unknownCommand(name string) resp.Value {
	return resp.Error("ERR unknown command '" + name + "'")
}
