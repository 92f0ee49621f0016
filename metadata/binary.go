package metadata

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
)

// Binary encoding of documents for the WAL and snapshot containers.
//
// Format (little-endian):
//
//	[count:u32] then per entry:
//	[keyLen:u32][key][kind:u8][payload]
//
// payload: KindInt/KindFloat 8 bytes, KindBool 1 byte,
// KindString [len:u32][bytes].
//
// Entries are written in sorted key order so the encoding of a document
// is deterministic.

// MarshalBinary encodes the document. A nil document encodes as count 0.
func (d Document) MarshalBinary() ([]byte, error) {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, 16+len(d)*24)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(keys)))

	for _, k := range keys {
		v := d[k]
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(k)))
		buf = append(buf, k...)
		buf = append(buf, byte(v.Kind))

		switch v.Kind {
		case KindInt:
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v.I64))
		case KindFloat:
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.F64))
		case KindString:
			s := v.s.Value()
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
			buf = append(buf, s...)
		case KindBool:
			if v.B {
				buf = append(buf, 1)
			} else {
				buf = append(buf, 0)
			}
		default:
			return nil, fmt.Errorf("metadata: cannot encode value of kind %d for key %q", v.Kind, k)
		}
	}

	return buf, nil
}

// UnmarshalBinary decodes a document previously produced by MarshalBinary.
func (d *Document) UnmarshalBinary(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("metadata: truncated document header")
	}
	count := binary.LittleEndian.Uint32(data)
	data = data[4:]

	doc := make(Document, count)
	for i := uint32(0); i < count; i++ {
		if len(data) < 4 {
			return fmt.Errorf("metadata: truncated key length at entry %d", i)
		}
		keyLen := binary.LittleEndian.Uint32(data)
		data = data[4:]
		if uint32(len(data)) < keyLen+1 {
			return fmt.Errorf("metadata: truncated key at entry %d", i)
		}
		key := string(data[:keyLen])
		kind := Kind(data[keyLen])
		data = data[keyLen+1:]

		switch kind {
		case KindInt:
			if len(data) < 8 {
				return fmt.Errorf("metadata: truncated int value for key %q", key)
			}
			doc[key] = Int(int64(binary.LittleEndian.Uint64(data)))
			data = data[8:]
		case KindFloat:
			if len(data) < 8 {
				return fmt.Errorf("metadata: truncated float value for key %q", key)
			}
			doc[key] = Float(math.Float64frombits(binary.LittleEndian.Uint64(data)))
			data = data[8:]
		case KindString:
			if len(data) < 4 {
				return fmt.Errorf("metadata: truncated string length for key %q", key)
			}
			strLen := binary.LittleEndian.Uint32(data)
			data = data[4:]
			if uint32(len(data)) < strLen {
				return fmt.Errorf("metadata: truncated string value for key %q", key)
			}
			doc[key] = String(string(data[:strLen]))
			data = data[strLen:]
		case KindBool:
			if len(data) < 1 {
				return fmt.Errorf("metadata: truncated bool value for key %q", key)
			}
			doc[key] = Bool(data[0] != 0)
			data = data[1:]
		default:
			return fmt.Errorf("metadata: unknown value kind %d for key %q", kind, key)
		}
	}

	if len(data) != 0 {
		return fmt.Errorf("metadata: %d trailing bytes after document", len(data))
	}

	*d = doc
	return nil
}

// AppendValue appends the binary encoding of a single value
// ([kind:u8][payload], same payload layout the document codec uses).
func AppendValue(buf []byte, v Value) []byte {
	buf = append(buf, byte(v.Kind))

	switch v.Kind {
	case KindInt:
		buf = binary.LittleEndian.AppendUint64(buf, uint64(v.I64))
	case KindFloat:
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v.F64))
	case KindString:
		s := v.s.Value()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	case KindBool:
		if v.B {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}

	return buf
}

// ReadValue decodes a single value from the front of data and returns
// the remaining bytes.
func ReadValue(data []byte) (Value, []byte, error) {
	if len(data) < 1 {
		return Value{}, nil, fmt.Errorf("metadata: truncated value kind")
	}
	kind := Kind(data[0])
	data = data[1:]

	switch kind {
	case KindInt:
		if len(data) < 8 {
			return Value{}, nil, fmt.Errorf("metadata: truncated int value")
		}
		return Int(int64(binary.LittleEndian.Uint64(data))), data[8:], nil
	case KindFloat:
		if len(data) < 8 {
			return Value{}, nil, fmt.Errorf("metadata: truncated float value")
		}
		return Float(math.Float64frombits(binary.LittleEndian.Uint64(data))), data[8:], nil
	case KindString:
		if len(data) < 4 {
			return Value{}, nil, fmt.Errorf("metadata: truncated string length")
		}
		n := binary.LittleEndian.Uint32(data)
		data = data[4:]
		if uint32(len(data)) < n {
			return Value{}, nil, fmt.Errorf("metadata: truncated string value")
		}
		return String(string(data[:n])), data[n:], nil
	case KindBool:
		if len(data) < 1 {
			return Value{}, nil, fmt.Errorf("metadata: truncated bool value")
		}
		return Bool(data[0] != 0), data[1:], nil
	default:
		return Value{}, nil, fmt.Errorf("metadata: unknown value kind %d", kind)
	}
}
