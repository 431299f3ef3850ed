/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport

import "github.com/cifrazia/cats-go/headers"

// ActionType is the 1-byte wire discriminator every action starts with.
type ActionType uint8

// Registered action types.
const (
	ActionRequest         ActionType = 0x00
	ActionStream          ActionType = 0x01
	ActionInput           ActionType = 0x02
	ActionDownloadSpeed   ActionType = 0x05
	ActionCancelInput     ActionType = 0x06
	ActionStartEncryption ActionType = 0xF0
	ActionStopEncryption  ActionType = 0xF1
	ActionPing            ActionType = 0xFF
)

func (t ActionType) String() string {
	switch t {
	case ActionRequest:
		return "Request"
	case ActionStream:
		return "Stream"
	case ActionInput:
		return "Input"
	case ActionDownloadSpeed:
		return "DownloadSpeed"
	case ActionCancelInput:
		return "CancelInput"
	case ActionStartEncryption:
		return "StartEncryption"
	case ActionStopEncryption:
		return "StopEncryption"
	case ActionPing:
		return "Ping"
	default:
		return "Unknown"
	}
}

// Message is the decoded, application-facing representation of an inbound
// or outbound action: the wire head fields plus negotiated headers and the
// already decompressed+decoded payload. A Stream inbound message carries
// its aggregated body the same way a Request does -- the chunk boundaries
// are a wire-level detail the receive path absorbs.
type Message struct {
	Type       ActionType
	MessageID  uint16
	HandlerID  uint16 // Request/Stream only; 0 for Input/Ping/etc.
	SendTime   int64  // ms since epoch
	DataType   uint8
	Compressor uint8
	Headers    headers.Headers
	Data       any   // decoded payload: []byte, map[string]any, codec.Files, or a temp file path string
	Err        error // set instead of Data when decompression/decoding this message's payload failed

	// conn is set by the connection that produced this Message so Reply
	// helpers can find their way back without the caller threading it
	// through every handler signature.
	conn *Conn
}

// Status returns the Status header, defaulting to 200.
func (m *Message) Status() int {
	if m.Headers == nil {
		return 200
	}
	return m.Headers.Status()
}

// IsBroadcast reports whether MessageID falls in the server broadcast
// range.
func (m *Message) IsBroadcast() bool { return m.MessageID >= ServerIDMin }
