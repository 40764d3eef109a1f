package moteus

import (
	"fmt"
	"io"

	"mjmech-go-migration/pkg/errors"
)

// Wire framing. Each frame is
//
//	0x54 0xAB | source | dest | len | payload | crc_hi | crc_lo
//
// with the CRC computed over everything before it. The payload is a
// sequence of subframes:
//
//	write:  (0x08+res) count start value*count
//	read:   (0x10+res) count start
//	reply:  (0x20+res) count start value*count
//
// where res is 0/1/2 for int8/int16/int32 and values are little-endian.
const (
	frameSync0 = 0x54
	frameSync1 = 0xAB

	subWriteBase = 0x08
	subReadBase  = 0x10
	subReplyBase = 0x20

	// HostID is the bus address of the host.
	HostID = 0x7F

	maxPayload = 255
)

// Frame is one addressed unit on the bus.
type Frame struct {
	Source  uint8
	Dest    uint8
	Payload []byte
}

func resWidth(res Resolution) int {
	switch res {
	case Int8:
		return 1
	case Int16:
		return 2
	default:
		return 4
	}
}

func appendValue(out []byte, v Value) []byte {
	switch v.Resolution {
	case Int8:
		return append(out, byte(v.Raw))
	case Int16:
		return append(out, byte(v.Raw), byte(v.Raw>>8))
	default:
		return append(out, byte(v.Raw), byte(v.Raw>>8), byte(v.Raw>>16), byte(v.Raw>>24))
	}
}

func parseValue(buf []byte, res Resolution) Value {
	switch res {
	case Int8:
		return Value{Raw: int32(int8(buf[0])), Resolution: res}
	case Int16:
		return Value{Raw: int32(int16(uint16(buf[0]) | uint16(buf[1])<<8)), Resolution: res}
	default:
		return Value{
			Raw: int32(uint32(buf[0]) | uint32(buf[1])<<8 |
				uint32(buf[2])<<16 | uint32(buf[3])<<24),
			Resolution: res,
		}
	}
}

// EncodePayload serializes one servo's request operations, writes first
// in order, then reads.
func EncodePayload(r *RegisterRequest) []byte {
	var out []byte
	for _, w := range r.Writes {
		if len(w.Values) == 0 {
			continue
		}
		res := w.Values[0].Resolution
		out = append(out, subWriteBase+byte(res), byte(len(w.Values)), byte(w.Start))
		for _, v := range w.Values {
			out = appendValue(out, v)
		}
	}
	for _, rd := range r.Reads {
		out = append(out, subReadBase+byte(rd.Resolution), byte(rd.Count), byte(rd.Start))
	}
	return out
}

// EncodeReplyPayload serializes reply subframes for the given reads,
// pulling values from the servo register bank. Used by simulators.
func EncodeReplyPayload(reads []ReadOp, lookup func(Register, Resolution) Value) []byte {
	var out []byte
	for _, rd := range reads {
		out = append(out, subReplyBase+byte(rd.Resolution), byte(rd.Count), byte(rd.Start))
		for i := 0; i < rd.Count; i++ {
			out = appendValue(out, lookup(rd.Start+Register(i), rd.Resolution))
		}
	}
	return out
}

// DecodeReplyPayload parses reply subframes into a register/value map.
func DecodeReplyPayload(payload []byte) (map[Register]Value, error) {
	values := make(map[Register]Value)
	pos := 0
	for pos < len(payload) {
		sub := payload[pos]
		if sub < subReplyBase || sub > subReplyBase+2 {
			return nil, errors.BusProtocolError(
				fmt.Sprintf("unexpected subframe 0x%02x in reply", sub))
		}
		res := Resolution(sub - subReplyBase)
		if pos+3 > len(payload) {
			return nil, errors.BusProtocolError("truncated reply subframe header")
		}
		count := int(payload[pos+1])
		start := Register(payload[pos+2])
		pos += 3

		width := resWidth(res)
		if pos+count*width > len(payload) {
			return nil, errors.BusProtocolError("truncated reply subframe values")
		}
		for i := 0; i < count; i++ {
			values[start+Register(i)] = parseValue(payload[pos:], res)
			pos += width
		}
	}
	return values, nil
}

// DecodeRequestPayload parses request subframes. Used by simulators.
func DecodeRequestPayload(payload []byte) (*RegisterRequest, error) {
	var req RegisterRequest
	pos := 0
	for pos < len(payload) {
		sub := payload[pos]
		switch {
		case sub >= subWriteBase && sub <= subWriteBase+2:
			res := Resolution(sub - subWriteBase)
			if pos+3 > len(payload) {
				return nil, errors.BusProtocolError("truncated write subframe header")
			}
			count := int(payload[pos+1])
			start := Register(payload[pos+2])
			pos += 3

			width := resWidth(res)
			if pos+count*width > len(payload) {
				return nil, errors.BusProtocolError("truncated write subframe values")
			}
			values := make([]Value, 0, count)
			for i := 0; i < count; i++ {
				values = append(values, parseValue(payload[pos:], res))
				pos += width
			}
			req.WriteMultiple(start, values)

		case sub >= subReadBase && sub <= subReadBase+2:
			res := Resolution(sub - subReadBase)
			if pos+3 > len(payload) {
				return nil, errors.BusProtocolError("truncated read subframe")
			}
			req.ReadMultiple(Register(payload[pos+2]), int(payload[pos+1]), res)
			pos += 3

		default:
			return nil, errors.BusProtocolError(
				fmt.Sprintf("unexpected subframe 0x%02x in request", sub))
		}
	}
	return &req, nil
}

// WriteFrame serializes and writes one frame.
func WriteFrame(w io.Writer, f *Frame) error {
	if len(f.Payload) > maxPayload {
		return errors.BusProtocolError(
			fmt.Sprintf("payload too large: %d bytes", len(f.Payload)))
	}

	buf := make([]byte, 0, len(f.Payload)+7)
	buf = append(buf, frameSync0, frameSync1, f.Source, f.Dest, byte(len(f.Payload)))
	buf = append(buf, f.Payload...)
	hi, lo := crc16ccitt(buf)
	buf = append(buf, hi, lo)

	_, err := w.Write(buf)
	return err
}

// ReadFrame scans the stream for the next valid frame. Garbage before
// the sync bytes is discarded.
func ReadFrame(r io.Reader) (*Frame, error) {
	one := make([]byte, 1)

	// Hunt for the two sync bytes.
	for {
		if _, err := io.ReadFull(r, one); err != nil {
			return nil, err
		}
		if one[0] != frameSync0 {
			continue
		}
		if _, err := io.ReadFull(r, one); err != nil {
			return nil, err
		}
		if one[0] == frameSync1 {
			break
		}
	}

	header := make([]byte, 3)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	plen := int(header[2])
	rest := make([]byte, plen+2)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}

	full := make([]byte, 0, plen+5)
	full = append(full, frameSync0, frameSync1)
	full = append(full, header...)
	full = append(full, rest[:plen]...)
	hi, lo := crc16ccitt(full)
	if hi != rest[plen] || lo != rest[plen+1] {
		return nil, errors.BusProtocolError("frame CRC mismatch")
	}

	return &Frame{
		Source:  header[0],
		Dest:    header[1],
		Payload: rest[:plen],
	}, nil
}
