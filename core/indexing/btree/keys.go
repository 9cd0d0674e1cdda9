package btree

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// ColumnType is the type of the indexed column as stored in the file header.
type ColumnType uint32

const (
	ColumnTypeInt64   ColumnType = 0x81
	ColumnTypeFloat64 ColumnType = 0x82
	ColumnTypeString  ColumnType = 0x83
)

func (t ColumnType) String() string {
	switch t {
	case ColumnTypeInt64:
		return "LONG_LONG"
	case ColumnTypeFloat64:
		return "DOUBLE"
	case ColumnTypeString:
		return "FIXED_LENGTH_STRING"
	default:
		return fmt.Sprintf("ColumnType(%#x)", uint32(t))
	}
}

func (t ColumnType) valid() bool {
	return t == ColumnTypeInt64 || t == ColumnTypeFloat64 || t == ColumnTypeString
}

// ParseColumnType accepts the names printed by ColumnType.String and the
// short forms "int64", "float64" and "string".
func ParseColumnType(s string) (ColumnType, error) {
	switch s {
	case "LONG_LONG", "int64", "long":
		return ColumnTypeInt64, nil
	case "DOUBLE", "float64", "double":
		return ColumnTypeFloat64, nil
	case "FIXED_LENGTH_STRING", "string", "char":
		return ColumnTypeString, nil
	}
	return 0, fmt.Errorf("unknown column type %q", s)
}

// normalizeKey returns a copy of key that is exactly length bytes long.
// String keys stop at their first NUL byte and are zero padded; other types
// are truncated or zero padded as raw bytes.
func normalizeKey(t ColumnType, key []byte, length int) []byte {
	out := make([]byte, length)
	if t == ColumnTypeString {
		if i := bytes.IndexByte(key, 0); i >= 0 {
			key = key[:i]
		}
	}
	copy(out, key)
	return out
}

// compareKeys orders two normalized keys. Every column type compares byte by
// byte; numeric keys only sort numerically when encoded with EncodeInt64 or
// EncodeFloat64.
func compareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}

// EncodeInt64 encodes v so that byte order matches numeric order.
func EncodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v)^(1<<63))
	return buf
}

// DecodeInt64 reverses EncodeInt64.
func DecodeInt64(buf []byte) int64 {
	return int64(binary.BigEndian.Uint64(buf) ^ (1 << 63))
}

// EncodeFloat64 encodes f so that byte order matches numeric order for every
// value except NaN.
func EncodeFloat64(f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, bits)
	return buf
}

// DecodeFloat64 reverses EncodeFloat64.
func DecodeFloat64(buf []byte) float64 {
	bits := binary.BigEndian.Uint64(buf)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

// EncodeString pads or truncates s to a fixed-length key.
func EncodeString(s string, length int) []byte {
	return normalizeKey(ColumnTypeString, []byte(s), length)
}

// ParseKey turns the text form of a key into its stored bytes: integers and
// floats use the order-preserving encodings, strings are padded to length.
func ParseKey(t ColumnType, s string, length int) ([]byte, error) {
	switch t {
	case ColumnTypeInt64:
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s key %q: %w", t, s, err)
		}
		return EncodeInt64(v), nil
	case ColumnTypeFloat64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid %s key %q: %w", t, s, err)
		}
		return EncodeFloat64(f), nil
	default:
		return EncodeString(s, length), nil
	}
}

// formatKey renders a stored key for logs and dumps.
func formatKey(t ColumnType, key []byte) string {
	switch t {
	case ColumnTypeInt64:
		if len(key) == 8 {
			return fmt.Sprintf("%d", DecodeInt64(key))
		}
	case ColumnTypeFloat64:
		if len(key) == 8 {
			return fmt.Sprintf("%g", DecodeFloat64(key))
		}
	case ColumnTypeString:
		if i := bytes.IndexByte(key, 0); i >= 0 {
			key = key[:i]
		}
		return string(key)
	}
	return fmt.Sprintf("%x", key)
}
