/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package server

import (
	"context"
	"errors"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/headers"
	"github.com/cifrazia/cats-go/transport"
)

// Response is what a handler (or a middleware short-circuiting one) hands
// back for the server to frame as the reply action.
type Response struct {
	Data    any
	Headers headers.Headers
}

// Forward runs the rest of the chain: the next middleware, or -- innermost
// -- the resolved handler itself.
type Forward func(ctx context.Context, c *transport.Conn, msg *transport.Message) (*Response, error)

// Middleware wraps a Forward. The chain is composed so the first
// middleware in the server's list is outermost.
type Middleware func(next Forward) Forward

func composeChain(mws []Middleware, inner Forward) Forward {
	fw := inner
	for i := len(mws) - 1; i >= 0; i-- {
		fw = mws[i](fw)
	}
	return fw
}

// ErrorToResponse is the default error handler, applied outside all
// user-registered middleware: cancellation maps to status 500, timeout to
// 503, rules/validation failures to 400, and anything else to 500, each
// with an {error, message} payload so the peer sees a deterministic shape
// rather than a transport failure.
func ErrorToResponse(next Forward) Forward {
	return func(ctx context.Context, c *transport.Conn, msg *transport.Message) (*Response, error) {
		resp, err := next(ctx, c, msg)
		if err == nil {
			return resp, nil
		}
		if kind, ok := catserr.KindOf(err); ok && kind.Fatal() {
			return nil, err // connection-fatal errors pass through untouched
		}

		status := 500
		name := "InternalError"
		switch {
		case errors.Is(err, context.DeadlineExceeded) || catserr.Is(err, catserr.KindTimeout):
			status, name = 503, "Timeout"
		case errors.Is(err, context.Canceled) || catserr.Is(err, catserr.KindInputCancelled) || catserr.Is(err, catserr.KindCancelled):
			status, name = 500, "Cancelled"
		case catserr.Is(err, catserr.KindHandlerRulesViolation) || catserr.Is(err, catserr.KindMalformedData):
			status, name = 400, "ValidationError"
		default:
			if kind, ok := catserr.KindOf(err); ok {
				name = kind.String()
			}
		}

		h := headers.Headers{}
		h.SetStatus(status)
		return &Response{
			Data:    map[string]any{"error": name, "message": err.Error()},
			Headers: h,
		}, nil
	}
}
