package ogg

import (
	"fmt"

	"go.uber.org/zap/zapcore"
)

// Packet is one logical unit of codec data.
type Packet struct {
	// Data is only valid until the next call into the Decoder.
	Data []byte
	// Number is the index of the packet in the logical stream.
	Number uint64
	// Granule is set only on the last packet that ends on a page, otherwise it is GranuleUnset.
	Granule uint64
	BOS     bool
	EOS     bool
}

func (p *Packet) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("Size", len(p.Data))
	enc.AddUint64("Number", p.Number)
	enc.AddUint64("Granule", p.Granule)
	enc.AddBool("BOS", p.BOS)
	enc.AddBool("EOS", p.EOS)

	return nil
}

type packetStatus int

const (
	// packetNone means the page has no more packet data.
	packetNone packetStatus = iota
	// packetComplete means a whole packet (or the tail of a continued one) was extracted.
	packetComplete
	// packetContinued means the packet runs past the end of the page.
	packetContinued
)

// segmentCursor is the position of the packet assembler inside a page.
type segmentCursor struct {
	seg  int
	body int
}

// nextPacket returns the bytes of the next packet described by segs starting at cursor c.
func nextPacket(segs []uint8, body []byte, c *segmentCursor) ([]byte, packetStatus) {
	if c.seg >= len(segs) {
		return nil, packetNone
	}

	start, n := c.body, 0
	for c.seg < len(segs) {
		l := int(segs[c.seg])
		c.seg++
		n += l
		if l < segmentSize {
			c.body += n
			return body[start : start+n], packetComplete
		}
	}
	c.body += n
	return body[start : start+n], packetContinued
}

// lastPacketEnd returns the segment index just past the last completed packet of a page, or 0.
func lastPacketEnd(segs []uint8) int {
	for i := len(segs) - 1; i >= 0; i-- {
		if segs[i] < segmentSize {
			return i + 1
		}
	}
	return 0
}

// segmentCount returns the number of lacing values needed to store a packet of size n.
func segmentCount(n int) int {
	return n/segmentSize + 1
}

// appendSegments appends the lacing values of a packet of size n.
func appendSegments(dst []uint8, n int) ([]uint8, error) {
	if c := segmentCount(n); c > maxSegments {
		return dst, fmt.Errorf("%w: %d bytes need %d segments (max %d)", ErrPacketTooLarge, n, c, maxSegments)
	}
	for n >= segmentSize {
		dst = append(dst, segmentSize)
		n -= segmentSize
	}
	return append(dst, uint8(n)), nil
}
