package espnow

import (
	"encoding/binary"
	"fmt"
)

// CommandSize is the encoded length of a Command.
const CommandSize = 8

// Command is the (initiator attribute, responder attribute, value) triple
// carried between bound peers.
type Command struct {
	Initiator Attribute `json:"initiator_attribute"`
	Responder Attribute `json:"responder_attribute"`
	Value     uint32    `json:"value"`
}

// PowerCommand builds the command a key sends to report a power level.
func PowerCommand(key Attribute, level uint32) Command {
	return Command{Initiator: key, Responder: AttributePower, Value: level}
}

func (c Command) String() string {
	return fmt.Sprintf("%s/%s=%d", c.Initiator, c.Responder, c.Value)
}

// MarshalBinary encodes the command as initiator(2) + responder(2) + value(4), little-endian.
func (c Command) MarshalBinary() ([]byte, error) {
	buf := make([]byte, CommandSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(c.Initiator))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(c.Responder))
	binary.LittleEndian.PutUint32(buf[4:8], c.Value)
	return buf, nil
}

// UnmarshalBinary decodes a command produced by MarshalBinary.
// Trailing bytes are ignored.
func (c *Command) UnmarshalBinary(data []byte) error {
	if len(data) < CommandSize {
		return fmt.Errorf("espnow: command too short: %d bytes", len(data))
	}
	c.Initiator = Attribute(binary.LittleEndian.Uint16(data[0:2]))
	c.Responder = Attribute(binary.LittleEndian.Uint16(data[2:4]))
	c.Value = binary.LittleEndian.Uint32(data[4:8])
	return nil
}

// ParseCommand decodes a command from raw bytes.
func ParseCommand(data []byte) (Command, error) {
	var c Command
	err := c.UnmarshalBinary(data)
	return c, err
}
