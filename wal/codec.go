package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/vectorvault/nexus/metadata"
)

// Entry frame layout:
//
//	length  uint32  payload byte count
//	payload []byte
//	crc     uint32  CRC-32 (IEEE) of payload
//
// Payload layout:
//
//	type    uint8
//	seqNum  uint64
//	id      uint64
//	body    per-operation fields (see encodeEntry)
//
// A truncated or checksum-failing frame at the tail of the file is
// treated as a torn write from a crash and ends replay.

var errTornFrame = errors.New("wal: torn entry frame")

// maxFrameSize bounds the declared frame length before the CRC can
// vouch for it, so a corrupt length field in a torn tail cannot drive
// a multi-gigabyte allocation during replay. Far above any real entry
// (the largest is an insert carrying a full vector and metadata doc).
const maxFrameSize = 64 << 20

func encodeEntry(e *Entry) []byte {
	buf := make([]byte, 0, 64+4*len(e.Vector))

	buf = append(buf, byte(e.Type))
	buf = binary.LittleEndian.AppendUint64(buf, e.SeqNum)
	buf = binary.LittleEndian.AppendUint64(buf, e.ID)

	switch e.Type {
	case OpPrepareInsert:
		buf = appendString(buf, e.Modality)
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(e.Timestamp))
		buf = appendString(buf, e.SourceID)

		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(e.Vector)))
		for _, v := range e.Vector {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}

		doc, _ := e.Metadata.MarshalBinary()
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(doc)))
		buf = append(buf, doc...)

	case OpPrepareSetMetadata:
		buf = appendString(buf, e.MetaKey)
		buf = metadata.AppendValue(buf, e.MetaValue)

	case OpPreparePurge:
		buf = appendString(buf, e.SourceID)
	}

	return buf
}

func decodeEntry(payload []byte) (*Entry, error) {
	if len(payload) < 17 {
		return nil, fmt.Errorf("entry payload too short: %d bytes", len(payload))
	}

	e := &Entry{
		Type:   OperationType(payload[0]),
		SeqNum: binary.LittleEndian.Uint64(payload[1:9]),
		ID:     binary.LittleEndian.Uint64(payload[9:17]),
	}
	rest := payload[17:]

	var err error

	switch e.Type {
	case OpPrepareInsert:
		if e.Modality, rest, err = readString(rest); err != nil {
			return nil, err
		}

		if len(rest) < 8 {
			return nil, errors.New("entry truncated at timestamp")
		}
		e.Timestamp = math.Float64frombits(binary.LittleEndian.Uint64(rest[:8]))
		rest = rest[8:]

		if e.SourceID, rest, err = readString(rest); err != nil {
			return nil, err
		}

		if len(rest) < 4 {
			return nil, errors.New("entry truncated at vector length")
		}
		dim := int(binary.LittleEndian.Uint32(rest[:4]))
		rest = rest[4:]
		if len(rest) < 4*dim {
			return nil, errors.New("entry truncated in vector data")
		}
		e.Vector = make([]float32, dim)
		for i := range e.Vector {
			e.Vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(rest[4*i:]))
		}
		rest = rest[4*dim:]

		if len(rest) < 4 {
			return nil, errors.New("entry truncated at metadata length")
		}
		docLen := int(binary.LittleEndian.Uint32(rest[:4]))
		rest = rest[4:]
		if len(rest) < docLen {
			return nil, errors.New("entry truncated in metadata")
		}
		if docLen > 0 {
			if err := e.Metadata.UnmarshalBinary(rest[:docLen]); err != nil {
				return nil, fmt.Errorf("decode metadata: %w", err)
			}
		}

	case OpPrepareSetMetadata:
		if e.MetaKey, rest, err = readString(rest); err != nil {
			return nil, err
		}
		if e.MetaValue, rest, err = metadata.ReadValue(rest); err != nil {
			return nil, err
		}

	case OpPreparePurge:
		if e.SourceID, _, err = readString(rest); err != nil {
			return nil, err
		}

	case OpCommitInsert, OpCommitSetMetadata, OpCommitPurge, OpCheckpoint:
		// no body

	default:
		return nil, fmt.Errorf("unknown entry type %d", e.Type)
	}

	return e, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func readString(buf []byte) (string, []byte, error) {
	if len(buf) < 4 {
		return "", nil, errors.New("entry truncated at string length")
	}
	n := int(binary.LittleEndian.Uint32(buf[:4]))
	buf = buf[4:]
	if len(buf) < n {
		return "", nil, errors.New("entry truncated in string data")
	}
	return string(buf[:n]), buf[n:], nil
}

func writeFrame(w io.Writer, payload []byte) error {
	var hdr [4]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}

	var crc [4]byte
	binary.LittleEndian.PutUint32(crc[:], crc32.ChecksumIEEE(payload))

	_, err := w.Write(crc[:])
	return err
}

// readFrame returns the next payload from r, io.EOF at a clean end of
// stream, or errTornFrame when the tail is truncated or corrupt.
func readFrame(r io.Reader, scratch []byte) ([]byte, []byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, scratch, io.EOF
		}
		return nil, scratch, errTornFrame
	}

	n := int(binary.LittleEndian.Uint32(hdr[:]))
	if n > maxFrameSize {
		return nil, scratch, errTornFrame
	}
	if cap(scratch) < n {
		scratch = make([]byte, n)
	}
	payload := scratch[:n]

	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, scratch, errTornFrame
	}

	var crc [4]byte
	if _, err := io.ReadFull(r, crc[:]); err != nil {
		return nil, scratch, errTornFrame
	}
	if binary.LittleEndian.Uint32(crc[:]) != crc32.ChecksumIEEE(payload) {
		return nil, scratch, errTornFrame
	}

	return payload, scratch, nil
}
