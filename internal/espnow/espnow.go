// Package espnow defines the radio platform used by a lamp node: the
// connectionless ESP-NOW control primitives (send, bind, bind window) and the
// indications delivered back to the node.
// Backends: ESP32 co-processor over USB serial, in-memory loopback air.
package espnow

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrClosed is returned by a radio after Close.
	ErrClosed = errors.New("radio closed")
	// ErrNotBound is returned when a send has no bound responder to reach.
	ErrNotBound = errors.New("no bound peer")
)

// Attribute identifies a control surface (initiator side) or the semantic
// meaning of a payload (responder side).
type Attribute uint16

// Attribute numbering follows the ESP-NOW ctrl convention: keys occupy
// 0x01xx, lighting attributes 0x02xx.
const (
	AttributeKey1 Attribute = 0x0101
	AttributeKey2 Attribute = 0x0102
	AttributeKey3 Attribute = 0x0103

	AttributePower      Attribute = 0x0200
	AttributeBrightness Attribute = 0x0201
)

func (a Attribute) String() string {
	switch a {
	case AttributeKey1:
		return "key_1"
	case AttributeKey2:
		return "key_2"
	case AttributeKey3:
		return "key_3"
	case AttributePower:
		return "power"
	case AttributeBrightness:
		return "brightness"
	default:
		return fmt.Sprintf("0x%04X", uint16(a))
	}
}

// BindError is the reason a bind handshake failed.
type BindError uint8

const (
	BindErrorNone BindError = iota
	BindErrorTimeout
	BindErrorRSSI
	BindErrorListFull
	BindErrorUnknown
)

func (e BindError) String() string {
	switch e {
	case BindErrorNone:
		return "No error"
	case BindErrorTimeout:
		return "bind timeout"
	case BindErrorRSSI:
		return "bind packet RSSI below expected threshold"
	case BindErrorListFull:
		return "bindlist is full"
	default:
		return "unknown error"
	}
}

// Code returns a short machine-readable name for the reason.
func (e BindError) Code() string {
	switch e {
	case BindErrorNone:
		return "none"
	case BindErrorTimeout:
		return "timeout"
	case BindErrorRSSI:
		return "rssi_too_low"
	case BindErrorListFull:
		return "list_full"
	default:
		return "unknown"
	}
}

// MAC is a radio hardware address.
type MAC [6]byte

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// ParseMAC parses "aa:bb:cc:dd:ee:ff" or "aabbccddeeff".
func ParseMAC(s string) (MAC, error) {
	var m MAC
	s = strings.ReplaceAll(s, ":", "")
	s = strings.ReplaceAll(s, "-", "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return m, fmt.Errorf("parse mac: %w", err)
	}
	if len(b) != len(m) {
		return m, fmt.Errorf("mac must be %d bytes, got %d", len(m), len(b))
	}
	copy(m[:], b)
	return m, nil
}

// BindInfo describes a bind or unbind event.
type BindInfo struct {
	MAC                MAC
	InitiatorAttribute Attribute
}

// BindWindow opens the responder side to incoming bind requests.
type BindWindow struct {
	Duration      time.Duration
	RSSIThreshold int8
}

// Default responder bind window.
const (
	DefaultBindWindow    = 30 * time.Second
	DefaultRSSIThreshold = -55
)

// Radio is the abstract interface for the ESP-NOW control platform.
type Radio interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error

	// Initiator
	Send(ctx context.Context, cmd Command) error
	RequestBind(ctx context.Context, key Attribute, timeout time.Duration) error

	// Responder
	AcceptBindWindow(ctx context.Context, w BindWindow) error

	// Indication callbacks
	OnCommand(handler func(Command))
	OnBind(handler func(BindInfo))
	OnBindError(handler func(BindError))
	OnUnbind(handler func(BindInfo))
}
