package protocol

// VarU16 is the variable-width length field used by the V5 wire protocol.
// Values below 0x80 encode as a single byte. Larger values (up to 15 bits)
// encode as two bytes, with the high bit of the first byte set as a
// continuation marker: [0x80|hi7, lo8].

// MaxVarU16 is the largest value representable by a VarU16.
const MaxVarU16 = 0x7FFF

// EncodeVarU16 appends the encoded value to dst and returns the result.
// Values above MaxVarU16 cannot be represented.
func EncodeVarU16(dst []byte, v uint16) ([]byte, error) {
	if v > MaxVarU16 {
		return dst, &UnexpectedValueError{Value: byte(v >> 8), Expected: "length <= 0x7FFF"}
	}
	if v < 0x80 {
		return append(dst, byte(v)), nil
	}
	return append(dst, byte(v>>8)|0x80, byte(v)), nil
}

// VarU16Wide reports whether the first byte of an encoded VarU16 indicates
// a two-byte encoding.
func VarU16Wide(first byte) bool {
	return first&0x80 != 0
}

// DecodeVarU16 decodes a VarU16 from the start of data and returns the value
// and the number of bytes consumed.
func DecodeVarU16(data []byte) (uint16, int, error) {
	if len(data) == 0 {
		return 0, 0, ErrPacketTooShort
	}
	first := data[0]
	if !VarU16Wide(first) {
		return uint16(first), 1, nil
	}
	if len(data) < 2 {
		return 0, 0, ErrPacketTooShort
	}
	return uint16(first&0x7F)<<8 | uint16(data[1]), 2, nil
}
