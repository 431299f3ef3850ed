/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package headers

import "github.com/pkg/errors"

// ErrMalformed reports a structurally invalid headers value, e.g. a
// negative Offset/Skip. Wire-level decode *parsing* failures are not
// reported this way -- those silently yield an empty Headers (see
// Decode) -- only post-parse validation failures surface.
type ErrMalformed struct {
	Headers Headers
	Reason  string
}

func (e *ErrMalformed) Error() string { return "malformed headers: " + e.Reason }

// Validate checks the reserved numeric headers for sign, guarding a
// Headers literal built from unchecked caller input.
func Validate(h Headers) error {
	if v, ok := h.Get(Offset); ok && toInt(v, 0) < 0 {
		return errors.WithStack(&ErrMalformed{Headers: h, Reason: "negative Offset"})
	}
	if v, ok := h.Get(Skip); ok && toInt(v, 0) < 0 {
		return errors.WithStack(&ErrMalformed{Headers: h, Reason: "negative Skip"})
	}
	return nil
}

// DecodeStrict behaves like Decode but additionally validates the result,
// returning an error for a negative Offset/Skip where Decode returns the
// value as received. The transport's receive path uses Decode, not
// DecodeStrict.
func DecodeStrict(buf []byte) (Headers, error) {
	h := Decode(buf)
	if err := Validate(h); err != nil {
		return nil, err
	}
	return h, nil
}
