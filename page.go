package ogg

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"go.uber.org/zap/zapcore"
)

const (
	// FlagContinued marks a page whose first packet started on a previous page.
	FlagContinued = 1 << iota
	// FlagFirst marks the first page of a logical stream.
	FlagFirst
	// FlagLast marks the last page of a logical stream.
	FlagLast
)

const (
	headerSize  = 27
	crcOffset   = 22
	maxSegments = 255
	segmentSize = 255

	// MaxHeaderSize is the size of a page header with a full segment table.
	MaxHeaderSize = headerSize + maxSegments
	// MaxPageSize is the largest page the format allows.
	MaxPageSize = MaxHeaderSize + maxSegments*segmentSize

	// GranuleUnset is stored in pages that do not complete any packet.
	GranuleUnset = math.MaxUint64
)

var pageMagic = []byte("OggS")

/*
The page header format is as follows:

|`Magic`|`Version`|`Flags`|`Granule`|`Serial`|`Sequence`|`Checksum`|`Segments`|`Segment_Table`|
|-------|---------|-------|---------|--------|----------|----------|----------|---------------|
|4 bytes| 1 byte  |1 byte |8 bytes  |4 bytes |4 bytes   |4 bytes   |1 byte    |`Segments` bytes|

All multi-byte fields are little-endian.
*/
type PageHeader struct {
	// Version must be zero.
	Version uint8
	// Flags is a combination of FlagContinued, FlagFirst and FlagLast.
	Flags uint8
	// Granule is the position of the last packet that ends on this page, or GranuleUnset.
	Granule uint64
	// Serial identifies the logical stream.
	Serial uint32
	// Sequence is the page counter of the logical stream.
	Sequence uint32
	// Checksum covers the whole page with this field set to zero.
	Checksum uint32
	// Segments is the lacing table.  A segment of 255 bytes means the packet continues.
	Segments []uint8
}

func (h *PageHeader) Continued() bool { return h.Flags&FlagContinued != 0 }
func (h *PageHeader) First() bool     { return h.Flags&FlagFirst != 0 }
func (h *PageHeader) Last() bool      { return h.Flags&FlagLast != 0 }

// HeaderSize returns the size of the header including the segment table.
func (h *PageHeader) HeaderSize() int {
	return headerSize + len(h.Segments)
}

// BodySize returns the sum of all segment lengths.
func (h *PageHeader) BodySize() int {
	n := 0
	for _, s := range h.Segments {
		n += int(s)
	}
	return n
}

// Size returns the total size of the page.
func (h *PageHeader) Size() int {
	return h.HeaderSize() + h.BodySize()
}

func (h *PageHeader) marshalBinaryInline(dst []byte) {
	copy(dst[0:], pageMagic)
	dst[4] = h.Version
	dst[5] = h.Flags
	binary.LittleEndian.PutUint64(dst[6:], h.Granule)
	binary.LittleEndian.PutUint32(dst[14:], h.Serial)
	binary.LittleEndian.PutUint32(dst[18:], h.Sequence)
	binary.LittleEndian.PutUint32(dst[crcOffset:], h.Checksum)
	dst[26] = uint8(len(h.Segments))
	copy(dst[headerSize:], h.Segments)
}

func (h *PageHeader) MarshalBinary() ([]byte, error) {
	if len(h.Segments) > maxSegments {
		return nil, fmt.Errorf("%w: %d segments", ErrPacketTooLarge, len(h.Segments))
	}
	dst := make([]byte, h.HeaderSize())
	h.marshalBinaryInline(dst)
	return dst, nil
}

// UnmarshalBinary parses a page header.  p must hold exactly the header and its segment table.
// The segment table is copied.
func (h *PageHeader) UnmarshalBinary(p []byte) error {
	if len(p) < headerSize {
		return fmt.Errorf("%w: header length mismatch %d vs %d", ErrBadHeader, len(p), headerSize)
	}
	if !bytes.Equal(p[:4], pageMagic) {
		return fmt.Errorf("%w: magic mismatch %q", ErrBadHeader, p[:4])
	}
	nseg := int(p[26])
	if len(p) != headerSize+nseg {
		return fmt.Errorf("%w: segment table length mismatch %d vs %d", ErrBadHeader, len(p)-headerSize, nseg)
	}
	h.Version = p[4]
	h.Flags = p[5]
	h.Granule = binary.LittleEndian.Uint64(p[6:])
	h.Serial = binary.LittleEndian.Uint32(p[14:])
	h.Sequence = binary.LittleEndian.Uint32(p[18:])
	h.Checksum = binary.LittleEndian.Uint32(p[crcOffset:])
	h.Segments = append(h.Segments[:0], p[headerSize:]...)
	return nil
}

func (h *PageHeader) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint8("Flags", h.Flags)
	enc.AddUint64("Granule", h.Granule)
	enc.AddUint32("Serial", h.Serial)
	enc.AddUint32("Sequence", h.Sequence)
	enc.AddUint32("Checksum", h.Checksum)
	enc.AddInt("Segments", len(h.Segments))
	enc.AddInt("Size", h.Size())

	return nil
}

// syncIndex returns the position of the first page magic in p.
// When there is no full magic it returns the start of a trailing partial match (or len(p))
// and false, so that everything before that position can be discarded.
func syncIndex(p []byte) (int, bool) {
	if i := bytes.Index(p, pageMagic); i >= 0 {
		return i, true
	}
	for k := len(pageMagic) - 1; k > 0; k-- {
		if len(p) >= k && bytes.Equal(p[len(p)-k:], pageMagic[:k]) {
			return len(p) - k, false
		}
	}
	return len(p), false
}

// ParsePage parses the header of a raw page.
func ParsePage(page []byte) (PageHeader, error) {
	var h PageHeader
	if len(page) < headerSize {
		return h, fmt.Errorf("%w: page length %d", ErrBadHeader, len(page))
	}
	if size := headerSize + int(page[26]); len(page) < size {
		return h, fmt.Errorf("%w: truncated segment table %d vs %d", ErrBadHeader, len(page), size)
	}
	err := h.UnmarshalBinary(page[:headerSize+int(page[26])])
	return h, err
}

// RewritePage sets the serial and sequence number of a complete raw page and updates its checksum in place.
func RewritePage(page []byte, serial, sequence uint32) error {
	h, err := ParsePage(page)
	if err != nil {
		return err
	}
	if len(page) != h.Size() {
		return fmt.Errorf("%w: page length mismatch %d vs %d", ErrBadHeader, len(page), h.Size())
	}
	binary.LittleEndian.PutUint32(page[14:], serial)
	binary.LittleEndian.PutUint32(page[18:], sequence)
	binary.LittleEndian.PutUint32(page[crcOffset:], pageChecksum(page))
	return nil
}
