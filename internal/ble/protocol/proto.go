// Package protocol implements the binary print-job encoding for Dymo
// LetraTag printers: the fixed job header, the head/tail command blocks
// and the packed pixel payload.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// StripWidth is the number of pixels in one printed line (the tape height).
const StripWidth = 32

// HeaderSize is the length of a marshaled job header.
const HeaderSize = 9

// Magic opens every job header.
var Magic = [4]byte{0xFF, 0xF0, 0x12, 0x34}

var (
	// ErrInvalidRaster is returned for rasters that are empty or not a
	// whole number of lines.
	ErrInvalidRaster = errors.New("protocol: raster length must be a positive multiple of 32")

	ErrShortHeader = errors.New("protocol: header too short")
	ErrBadMagic    = errors.New("protocol: bad header magic")
	ErrBadChecksum = errors.New("protocol: header checksum mismatch")
)

// Raster is a monochrome label bitmap flattened into lines of StripWidth
// pixels. A true pixel is printed.
type Raster []bool

// Lines returns the number of StripWidth-pixel lines in the raster.
func (r Raster) Lines() int {
	return len(r) / StripWidth
}

// Validate reports whether the raster can be encoded.
func (r Raster) Validate() error {
	if len(r) < StripWidth || len(r)%StripWidth != 0 {
		return fmt.Errorf("%w, got %d pixels", ErrInvalidRaster, len(r))
	}
	return nil
}

// Encode builds the job header and the body (head commands, packed pixels,
// tail commands) for r.
func Encode(r Raster) (header, body []byte, err error) {
	if err := r.Validate(); err != nil {
		return nil, nil, err
	}
	lines := r.Lines()

	pixels := PackPixels(r)
	head := HeadCommands(lines)
	tail := TailCommands()

	body = make([]byte, 0, len(head)+len(pixels)+len(tail))
	body = append(body, head...)
	body = append(body, pixels...)
	body = append(body, tail...)

	return MarshalHeader(lines), body, nil
}

// MarshalHeader encodes the job header for a raster of the given number
// of lines.
//
//	[0:4] magic FF F0 12 34
//	[4:8] uint32 LE, 4*lines + 24
//	[8]   sum of bytes [0:8], truncated to 8 bits
func MarshalHeader(lines int) []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], uint32(4*lines+24))
	buf[8] = checksum(buf[:8])
	return buf
}

// ParseHeader validates a job header and returns the line count it
// announces.
func ParseHeader(data []byte) (int, error) {
	if len(data) < HeaderSize {
		return 0, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(data))
	}
	if [4]byte(data[0:4]) != Magic {
		return 0, fmt.Errorf("%w: % x", ErrBadMagic, data[0:4])
	}
	if sum := checksum(data[:8]); sum != data[8] {
		return 0, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrBadChecksum, data[8], sum)
	}
	size := binary.LittleEndian.Uint32(data[4:8])
	if size < 24 || (size-24)%4 != 0 {
		return 0, fmt.Errorf("protocol: invalid size field %d", size)
	}
	return int(size-24) / 4, nil
}

// HeadCommands returns the command block sent before the pixel data.
func HeadCommands(lines int) []byte {
	buf := make([]byte, 0, 18)
	// session counter
	buf = append(buf, 0x1B, 0x73)
	buf = append(buf, 0x9A, 0x02, 0x00, 0x00)
	// graphic size: lines, then strip width
	buf = append(buf, 0x1B, 0x44, 0x01, 0x02)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(lines))
	buf = binary.LittleEndian.AppendUint32(buf, StripWidth)
	return buf
}

// TailCommands returns the command block sent after the pixel data.
func TailCommands() []byte {
	return []byte{
		0x1B, 0x45, // line feed
		0x1B, 0x41, // form feed
		0x1B, 0x51, 0x12, 0x34, // line tab
	}
}

// PackPixels packs the raster 8 pixels per byte across the flattened
// bitmap. The first pixel of each group lands in bit 0. A trailing group
// of fewer than 8 pixels is dropped; for valid rasters there is none.
func PackPixels(r Raster) []byte {
	buf := make([]byte, 0, len(r)/8)
	for i := 0; i+8 <= len(r); i += 8 {
		var b byte
		for bit, on := range r[i : i+8] {
			if on {
				b |= 1 << bit
			}
		}
		buf = append(buf, b)
	}
	return buf
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}
