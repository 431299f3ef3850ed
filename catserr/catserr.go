// Package catserr is the CATS error taxonomy: a fixed set of error kinds,
// each carrying a classification used by connection/middleware code to
// decide whether an error is fatal to the connection or recoverable at
// the handler/middleware layer.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package catserr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a CATS error.
type Kind int

const (
	KindProtocolViolation Kind = iota
	KindHandshakeFailure
	KindCodecError
	KindInvalidCodec
	KindCompressorError
	KindInvalidCompressor
	KindMalformedHeaders
	KindMalformedData
	KindHandlerRulesViolation
	KindInputCancelled
	KindAuthError
	KindStreamClosed
	KindTimeout
	KindCancelled
)

var kindNames = [...]string{
	"ProtocolViolation",
	"HandshakeFailure",
	"CodecError",
	"InvalidCodec",
	"CompressorError",
	"InvalidCompressor",
	"MalformedHeaders",
	"MalformedData",
	"HandlerRulesViolation",
	"InputCancelled",
	"AuthError",
	"StreamClosed",
	"Timeout",
	"Cancelled",
}

func (k Kind) String() string {
	if int(k) < 0 || int(k) >= len(kindNames) {
		return "Unknown"
	}
	return kindNames[k]
}

// Fatal reports whether errors of this kind must close the connection:
// everything except stream-level and handshake/protocol errors is
// recoverable at the middleware layer.
func (k Kind) Fatal() bool {
	switch k {
	case KindProtocolViolation, KindHandshakeFailure, KindStreamClosed, KindTimeout, KindCancelled:
		return true
	default:
		return false
	}
}

// Error is the concrete error value carrying a Kind, a message, optional
// structured context and an optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Context map[string]any
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds a stack-annotated error of the given kind.
func New(kind Kind, message string) error {
	return errors.WithStack(&Error{Kind: kind, Message: message})
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: kind, Message: fmt.Sprintf(format, args...)})
}

// Wrap annotates cause with a Kind and message, preserving it as Unwrap().
func Wrap(kind Kind, cause error, message string) error {
	return errors.WithStack(&Error{Kind: kind, Message: message, Cause: cause})
}

// WithContext attaches structured context (e.g. the offending headers or
// data) to an already-built *Error, returning it unchanged if err is not
// one of ours.
func WithContext(err error, ctx map[string]any) error {
	var e *Error
	if errors.As(err, &e) {
		e.Context = ctx
	}
	return err
}

// Is reports whether err (or something it wraps) is a catserr *Error of
// the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind of err, or ok=false if err is not ours.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
