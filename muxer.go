package ogg

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"
)

// Muxer packs packets of one logical stream into pages.
// Every method returns the bytes of the pages it completed, possibly none.
type Muxer struct {
	serial      uint32
	seq         uint32
	maxPageSize int
	logger      *zap.Logger

	segs    []uint8
	body    []byte
	granule uint64

	headers bool
	ended   bool
}

func NewMuxer(serial uint32, maxPageSize int, logger *zap.Logger) *Muxer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Muxer{
		serial:      serial,
		maxPageSize: maxPageSize,
		logger:      logger,
	}
}

func (m *Muxer) appendPage(dst []byte, flags uint8, granule uint64, segs []uint8, bodies ...[]byte) []byte {
	h := PageHeader{
		Flags:    flags,
		Granule:  granule,
		Serial:   m.serial,
		Sequence: m.seq,
		Segments: segs,
	}

	start := len(dst)
	dst = append(dst, make([]byte, h.HeaderSize())...)
	h.marshalBinaryInline(dst[start:])
	for _, b := range bodies {
		dst = append(dst, b...)
	}
	h.Checksum = pageChecksum(dst[start:])
	binary.LittleEndian.PutUint32(dst[start+crcOffset:], h.Checksum)

	m.seq++
	m.logger.Debug("page", zap.Object("header", &h))
	return dst
}

// WriteHeaders emits the identification packet alone on the first page
// and the comment and setup packets together on the second one.
func (m *Muxer) WriteHeaders(ident, comment, setup []byte) ([]byte, error) {
	if m.headers {
		return nil, fmt.Errorf("headers were already written")
	}
	if len(ident) != InfoSize {
		return nil, fmt.Errorf("%w: info length mismatch %d vs %d", ErrHeaderPacket, len(ident), InfoSize)
	}

	segs0, err := appendSegments(nil, len(ident))
	if err != nil {
		return nil, err
	}
	segs1, err := appendSegments(nil, len(comment))
	if err != nil {
		return nil, err
	}
	segs1, err = appendSegments(segs1, len(setup))
	if err != nil {
		return nil, err
	}
	if len(segs1) > maxSegments {
		return nil, fmt.Errorf("%w: comment and setup packets need %d segments", ErrPacketTooLarge, len(segs1))
	}

	dst := make([]byte, 0, 2*headerSize+len(segs0)+len(segs1)+len(ident)+len(comment)+len(setup))
	dst = m.appendPage(dst, FlagFirst, 0, segs0, ident)
	dst = m.appendPage(dst, 0, 0, segs1, comment, setup)
	m.headers = true
	return dst, nil
}

// WritePacket adds an audio packet to the current page.  The current page is emitted first
// if the packet does not fit into it.  A packet with EOS set closes the stream.
func (m *Muxer) WritePacket(p *Packet) ([]byte, error) {
	switch {
	case !m.headers:
		return nil, fmt.Errorf("packet before headers")
	case m.ended:
		return nil, fmt.Errorf("packet after the end of stream")
	}
	n := segmentCount(len(p.Data))
	if n > maxSegments {
		return nil, fmt.Errorf("%w: %d bytes need %d segments (max %d)", ErrPacketTooLarge, len(p.Data), n, maxSegments)
	}

	var dst []byte
	if len(m.segs) > 0 && (len(m.segs)+n > maxSegments ||
		headerSize+len(m.segs)+n+len(m.body)+len(p.Data) > m.maxPageSize) {
		dst = m.flush(dst, 0)
	}

	m.segs, _ = appendSegments(m.segs, len(p.Data))
	m.body = append(m.body, p.Data...)
	m.granule = p.Granule

	if p.EOS {
		dst = m.flush(dst, FlagLast)
		m.ended = true
	}
	return dst, nil
}

func (m *Muxer) flush(dst []byte, flags uint8) []byte {
	if len(m.segs) == 0 && flags&FlagLast == 0 {
		return dst
	}
	dst = m.appendPage(dst, flags, m.granule, m.segs, m.body)
	m.segs = m.segs[:0]
	m.body = m.body[:0]
	return dst
}

// Flush emits the current page if it holds any packet.
func (m *Muxer) Flush() []byte {
	return m.flush(nil, 0)
}

// Close emits the last page unless a packet with EOS already did.
func (m *Muxer) Close() []byte {
	if m.ended || !m.headers {
		return nil
	}
	m.ended = true
	return m.flush(nil, FlagLast)
}

// Sequence returns the sequence number of the next page.
func (m *Muxer) Sequence() uint32 {
	return m.seq
}
