package espnow

// HDLC-like byte stuffing used on the serial link to the radio co-processor.
// Frame: 0x7E | escaped(data + FCS16 LE) | 0x7E. FCS is CRC-16/X.25.

import (
	"bufio"
	"encoding/binary"
	"fmt"
)

const (
	hdlcFlag   = 0x7E
	hdlcEscape = 0x7D
	hdlcXOR    = 0x20

	maxFrameSize = 512
)

var fcsTable [256]uint16

func init() {
	const poly = 0x8408
	for i := 0; i < 256; i++ {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ poly
			} else {
				crc >>= 1
			}
		}
		fcsTable[i] = crc
	}
}

func fcs16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = (crc >> 8) ^ fcsTable[(crc^uint16(b))&0xFF]
	}
	return crc ^ 0xFFFF
}

func hdlcEncode(data []byte) []byte {
	raw := make([]byte, len(data)+2)
	copy(raw, data)
	binary.LittleEndian.PutUint16(raw[len(data):], fcs16(data))

	out := make([]byte, 0, len(raw)*2+2)
	out = append(out, hdlcFlag)
	for _, b := range raw {
		if b == hdlcFlag || b == hdlcEscape {
			out = append(out, hdlcEscape, b^hdlcXOR)
			continue
		}
		out = append(out, b)
	}
	return append(out, hdlcFlag)
}

// hdlcDecode unescapes the bytes between two flags and verifies the FCS.
func hdlcDecode(inner []byte) ([]byte, error) {
	raw := make([]byte, 0, len(inner))
	escaped := false
	for _, b := range inner {
		if escaped {
			raw = append(raw, b^hdlcXOR)
			escaped = false
			continue
		}
		if b == hdlcEscape {
			escaped = true
			continue
		}
		raw = append(raw, b)
	}
	if escaped {
		return nil, fmt.Errorf("hdlc: dangling escape")
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("hdlc: frame too short: %d bytes", len(raw))
	}
	data := raw[:len(raw)-2]
	want := binary.LittleEndian.Uint16(raw[len(raw)-2:])
	if got := fcs16(data); got != want {
		return nil, fmt.Errorf("hdlc: FCS mismatch: got 0x%04X, want 0x%04X", got, want)
	}
	return data, nil
}

// readHDLCFrame returns the escaped bytes of the next non-empty frame. The
// closing flag is left unread so it can also open the following frame.
func readHDLCFrame(r *bufio.Reader) ([]byte, error) {
	// Sync to the opening flag.
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == hdlcFlag {
			break
		}
	}
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == hdlcFlag {
			if len(buf) == 0 {
				// Back-to-back flags: the closing flag of a previous frame.
				continue
			}
			_ = r.UnreadByte()
			return buf, nil
		}
		if len(buf) >= maxFrameSize {
			return nil, fmt.Errorf("hdlc: frame exceeds %d bytes", maxFrameSize)
		}
		buf = append(buf, b)
	}
}
