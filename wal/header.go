package wal

import (
	"encoding/binary"
	"fmt"
	"io"
)

// File header layout (16 bytes, fixed):
//
//	magic   [4]byte  "NXW0"
//	version uint16
//	flags   uint16   bit 0: zstd-compressed entry stream
//	level   uint8    compression level
//	_       [7]byte  reserved
var headerMagic = [4]byte{'N', 'X', 'W', '0'}

const (
	headerSize    = 16
	headerVersion = 1

	flagCompressed uint16 = 1 << 0
)

type fileHeader struct {
	version uint16
	flags   uint16
	level   uint8
}

func (h fileHeader) compressed() bool { return h.flags&flagCompressed != 0 }

func writeHeader(w io.Writer, compress bool, level int) error {
	var buf [headerSize]byte

	copy(buf[0:4], headerMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], headerVersion)

	var flags uint16
	if compress {
		flags |= flagCompressed
	}
	binary.LittleEndian.PutUint16(buf[6:8], flags)
	buf[8] = uint8(level)

	if _, err := w.Write(buf[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	return nil
}

func readHeader(r io.Reader) (fileHeader, error) {
	var buf [headerSize]byte

	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return fileHeader{}, fmt.Errorf("read header: %w", err)
	}

	if [4]byte(buf[0:4]) != headerMagic {
		return fileHeader{}, fmt.Errorf("bad magic %q", buf[0:4])
	}

	h := fileHeader{
		version: binary.LittleEndian.Uint16(buf[4:6]),
		flags:   binary.LittleEndian.Uint16(buf[6:8]),
		level:   buf[8],
	}

	if h.version != headerVersion {
		return fileHeader{}, fmt.Errorf("unsupported version %d", h.version)
	}

	return h, nil
}
