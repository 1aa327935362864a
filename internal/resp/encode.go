// Copyright (c) 2026 The Beetle Authors. Licensed under the MIT License.

package resp

import (
	"bytes"
	"math"
	"strconv"
)

// Encode appends the RESP wire encoding of v to dst and returns the
// extended slice, per the table in spec §4.F.
func Encode(dst []byte, v Value) ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return append(dst, "_\r\n"...), nil
	case KindOK:
		return append(dst, "+OK\r\n"...), nil
	case KindBool:
		if v.Bool {
			return append(dst, "#t\r\n"...), nil
		}
		return append(dst, "#f\r\n"...), nil
	case KindError:
		dst = append(dst, '-')
		dst = append(dst, sanitizeSimple(v.Str)...)
		return append(dst, '\r', '\n'), nil
	case KindInt:
		dst = append(dst, ':')
		dst = strconv.AppendInt(dst, v.Int, 10)
		return append(dst, '\r', '\n'), nil
	case KindFloat:
		dst = append(dst, ',')
		dst = append(dst, formatFloat(v.Float)...)
		return append(dst, '\r', '\n'), nil
	case KindBulkString:
		dst = append(dst, '$')
		dst = strconv.AppendInt(dst, int64(len(v.Str)), 10)
		dst = append(dst, '\r', '\n')
		dst = append(dst, v.Str...)
		return append(dst, '\r', '\n'), nil
	case KindArray:
		dst = append(dst, '*')
		dst = strconv.AppendInt(dst, int64(len(v.Array)), 10)
		dst = append(dst, '\r', '\n')
		var err error
		for _, item := range v.Array {
			dst, err = Encode(dst, item)
			if err != nil {
				return dst, err
			}
		}
		return dst, nil
	case KindMap:
		dst = append(dst, '%')
		dst = strconv.AppendInt(dst, int64(len(v.Map)), 10)
		dst = append(dst, '\r', '\n')
		var err error
		for _, entry := range v.Map {
			dst, err = Encode(dst, entry.Key)
			if err != nil {
				return dst, err
			}
			dst, err = Encode(dst, entry.Val)
			if err != nil {
				return dst, err
			}
		}
		return dst, nil
	case KindSet:
		dst = append(dst, '~')
		dst = strconv.AppendInt(dst, int64(len(v.Set)), 10)
		dst = append(dst, '\r', '\n')
		var err error
		for _, item := range v.Set {
			dst, err = Encode(dst, item)
			if err != nil {
				return dst, err
			}
		}
		return dst, nil
	default:
		return dst, &EncodeFailure{Kind: v.Kind}
	}
}

// EncodeBytes is a convenience wrapper returning a fresh byte slice.
func EncodeBytes(v Value) ([]byte, error) {
	return Encode(nil, v)
}

// sanitizeSimple strips CR/LF from a simple-string payload (error
// reasons are written on a single line; the wire format has no escape
// mechanism for embedded line breaks).
func sanitizeSimple(b []byte) []byte {
	if !bytes.ContainsAny(b, "\r\n") {
		return b
	}
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c == '\r' || c == '\n' {
			out = append(out, ' ')
			continue
		}
		out = append(out, c)
	}
	return out
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	default:
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
}
