/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport

import (
	"crypto/cipher"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/cifrazia/cats-go/catserr"
)

// StartEncryptionAction and StopEncryptionAction are reserved
// placeholders for symmetric-key rotation. TLS, when wanted, is stacked
// transparently under the byte stream instead, so this module never wires
// these into the steady-state dispatch loop; they exist as real, typed
// stubs -- carrying a concrete AEAD handle rather than an empty struct --
// so a future implementation has a non-speculative type to fill in.
type StartEncryptionAction struct {
	MessageID uint16
	AEAD      cipher.AEAD
}

type StopEncryptionAction struct {
	MessageID uint16
}

func (StartEncryptionAction) Type() ActionType { return ActionStartEncryption }
func (StopEncryptionAction) Type() ActionType  { return ActionStopEncryption }

// NewAEAD constructs the AEAD a future StartEncryption rotation would
// install, from a 32-byte key. Unwired into the steady-state loop (see
// above); exported so a caller experimenting with key rotation has a real
// primitive to reach for instead of hand-rolling one.
func NewAEAD(key []byte) (cipher.AEAD, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, catserr.Wrap(catserr.KindHandshakeFailure, err, "failed to construct chacha20poly1305 AEAD")
	}
	return aead, nil
}
