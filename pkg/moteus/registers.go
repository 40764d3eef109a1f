// Package moteus implements the servo register protocol: the register
// map, fixed-point value codec, request/reply model, wire framing, and
// the serial bus client.
package moteus

import "fmt"

// Register is a servo register address.
type Register uint8

// Register map. Codec choices must match the servo's documented map
// bit-for-bit.
const (
	RegMode        Register = 0x00
	RegPosition    Register = 0x01
	RegVelocity    Register = 0x02
	RegTorque      Register = 0x03
	RegVoltage     Register = 0x0D
	RegTemperature Register = 0x0E
	RegFault       Register = 0x0F

	RegCommandPosition Register = 0x20
	RegCommandVelocity Register = 0x21
	RegCommandTorque   Register = 0x22
	RegCommandKpScale  Register = 0x23
	RegCommandKdScale  Register = 0x24
	RegCommandMaxTorque Register = 0x25
	RegCommandStopAngle Register = 0x26
)

// Mode is a servo operating mode.
type Mode int8

const (
	ModeStopped         Mode = 0
	ModePosition        Mode = 10
	ModePositionTimeout Mode = 11
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeStopped:
		return "stopped"
	case ModePosition:
		return "position"
	case ModePositionTimeout:
		return "position_timeout"
	default:
		return fmt.Sprintf("mode(%d)", int8(m))
	}
}
