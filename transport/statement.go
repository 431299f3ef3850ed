/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/scheme"
)

// ClientStatement and ServerStatement are the one-time control documents
// exchanged right after protocol-version agreement, each framed with a
// 4-byte big-endian length prefix.
type ClientStatement struct {
	API                int      `json:"api"`
	ClientTime         int64    `json:"client_time"`
	SchemeFormat       string   `json:"scheme_format"`
	Compressors        []string `json:"compressors"`
	DefaultCompression string   `json:"default_compression"`
}

type ServerStatement struct {
	ServerTime int64 `json:"server_time"`
}

// statements are always scheme-encoded with JSON -- the negotiation that
// picks the *payload* scheme has not happened yet when they're exchanged,
// so JSON is hard-coded here, exactly as it is
// for the headers envelope.
var statementScheme scheme.Scheme

func init() {
	statementScheme, _ = scheme.Find("json")
}

func writeLengthPrefixed(ctx context.Context, c *Conn, buf []byte) error {
	lenBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBuf, uint32(len(buf)))
	if err := c.rawWrite(ctx, lenBuf); err != nil {
		return err
	}
	return c.rawWrite(ctx, buf)
}

func readLengthPrefixed(ctx context.Context, c *Conn) ([]byte, error) {
	lenBuf, err := c.rawRead(ctx, 4)
	if err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf)
	if n > (64 << 20) {
		return nil, catserr.Newf(catserr.KindProtocolViolation, "statement length %d exceeds sanity cap", n)
	}
	return c.rawRead(ctx, int(n))
}

func encodeStatement(v any) ([]byte, error) {
	raw, err := statementScheme.Dumps(toJSONLike(v))
	if err != nil {
		return nil, catserr.Wrap(catserr.KindMalformedData, err, "failed to encode statement")
	}
	return raw, nil
}

// toJSONLike converts a typed statement struct to the map shape scheme.Dumps
// expects (the Scheme interface works over JSON-like any values, not
// struct tags), using the json tags fixed above for field names.
func toJSONLike(v any) any {
	switch s := v.(type) {
	case ClientStatement:
		return map[string]any{
			"api":                 s.API,
			"client_time":         s.ClientTime,
			"scheme_format":       s.SchemeFormat,
			"compressors":         s.Compressors,
			"default_compression": s.DefaultCompression,
		}
	case ServerStatement:
		return map[string]any{"server_time": s.ServerTime}
	default:
		return v
	}
}

func decodeClientStatement(buf []byte) (ClientStatement, error) {
	raw, err := statementScheme.Loads(buf)
	if err != nil {
		return ClientStatement{}, catserr.Wrap(catserr.KindMalformedData, err, "failed to decode client statement")
	}
	m, _ := raw.(map[string]any)
	return ClientStatement{
		API:                toInt(m["api"]),
		ClientTime:         toInt64(m["client_time"]),
		SchemeFormat:       toStr(m["scheme_format"]),
		Compressors:        toStrSlice(m["compressors"]),
		DefaultCompression: toStr(m["default_compression"]),
	}, nil
}

func decodeServerStatement(buf []byte) (ServerStatement, error) {
	raw, err := statementScheme.Loads(buf)
	if err != nil {
		return ServerStatement{}, catserr.Wrap(catserr.KindMalformedData, err, "failed to decode server statement")
	}
	m, _ := raw.(map[string]any)
	return ServerStatement{ServerTime: toInt64(m["server_time"])}, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toStr(v any) string {
	s, _ := v.(string)
	return s
}

func toStrSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		out = append(out, toStr(r))
	}
	return out
}

func nowMillis() int64 { return time.Now().UnixMilli() }
