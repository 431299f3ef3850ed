/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package server

import (
	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/codec"
	"github.com/cifrazia/cats-go/transport"
)

// Rules are a handler registration's declarative guards, applied before
// the handler function runs: data-type allowlist, payload size bounds,
// auth/model requirements, and -- for files payloads -- per-file and
// aggregate size/count bounds. Zero values disable the corresponding check.
type Rules struct {
	DataTypes []uint8

	MinDataLen int64
	MaxDataLen int64

	RequireAuth   bool
	RequireModels []string
	BlockModels   []string

	MinFileSize      int64
	MaxFileSize      int64
	MinFileTotalSize int64
	MaxFileTotalSize int64
	MinFileAmount    int
	MaxFileAmount    int
}

// Check validates msg against the rules. A violation returns a
// KindHandlerRulesViolation error; the payload has already been fully received by the
// transport layer at this point, so the connection stays healthy and the
// error surfaces through the middleware chain's error handler.
func (r *Rules) Check(c *transport.Conn, msg *transport.Message) error {
	if len(r.DataTypes) > 0 {
		ok := false
		for _, dt := range r.DataTypes {
			if dt == msg.DataType {
				ok = true
				break
			}
		}
		if !ok {
			return catserr.Newf(catserr.KindHandlerRulesViolation, "data type %s not allowed for this handler", codec.Name(msg.DataType))
		}
	}

	dataLen := payloadSize(msg.Data)
	if r.MinDataLen > 0 && dataLen < r.MinDataLen {
		return catserr.Newf(catserr.KindHandlerRulesViolation, "payload %d bytes below minimum %d", dataLen, r.MinDataLen)
	}
	if r.MaxDataLen > 0 && dataLen > r.MaxDataLen {
		return catserr.Newf(catserr.KindHandlerRulesViolation, "payload %d bytes above maximum %d", dataLen, r.MaxDataLen)
	}

	if r.RequireAuth || len(r.RequireModels) > 0 || len(r.BlockModels) > 0 {
		ident, _ := c.Identity().(Identity)
		if (r.RequireAuth || len(r.RequireModels) > 0) && ident == nil {
			return catserr.New(catserr.KindHandlerRulesViolation, "handler requires a signed-in identity")
		}
		if ident != nil {
			model := ident.ModelName()
			if len(r.RequireModels) > 0 && !contains(r.RequireModels, model) {
				return catserr.Newf(catserr.KindHandlerRulesViolation, "model %q not allowed for this handler", model)
			}
			if contains(r.BlockModels, model) {
				return catserr.Newf(catserr.KindHandlerRulesViolation, "model %q blocked for this handler", model)
			}
		}
	}

	if files, ok := msg.Data.(codec.Files); ok {
		if err := r.checkFiles(files); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rules) checkFiles(files codec.Files) error {
	var total int64
	for _, fi := range files {
		if r.MinFileSize > 0 && fi.Size < r.MinFileSize {
			return catserr.Newf(catserr.KindHandlerRulesViolation, "file %q is %d bytes, below minimum %d", fi.Name, fi.Size, r.MinFileSize)
		}
		if r.MaxFileSize > 0 && fi.Size > r.MaxFileSize {
			return catserr.Newf(catserr.KindHandlerRulesViolation, "file %q is %d bytes, above maximum %d", fi.Name, fi.Size, r.MaxFileSize)
		}
		total += fi.Size
	}
	if r.MinFileTotalSize > 0 && total < r.MinFileTotalSize {
		return catserr.Newf(catserr.KindHandlerRulesViolation, "files total %d bytes below minimum %d", total, r.MinFileTotalSize)
	}
	if r.MaxFileTotalSize > 0 && total > r.MaxFileTotalSize {
		return catserr.Newf(catserr.KindHandlerRulesViolation, "files total %d bytes above maximum %d", total, r.MaxFileTotalSize)
	}
	if r.MinFileAmount > 0 && len(files) < r.MinFileAmount {
		return catserr.Newf(catserr.KindHandlerRulesViolation, "%d files below minimum %d", len(files), r.MinFileAmount)
	}
	if r.MaxFileAmount > 0 && len(files) > r.MaxFileAmount {
		return catserr.Newf(catserr.KindHandlerRulesViolation, "%d files above maximum %d", len(files), r.MaxFileAmount)
	}
	return nil
}

func payloadSize(data any) int64 {
	switch v := data.(type) {
	case []byte:
		return int64(len(v))
	case string:
		return int64(len(v))
	case codec.Files:
		var total int64
		for _, fi := range v {
			total += fi.Size
		}
		return total
	default:
		return 0
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
