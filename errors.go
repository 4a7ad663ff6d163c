package ogg

import "errors"

var (
	// ErrSeek is returned when the seek bracket stops shrinking.
	// The stream stays usable for forward decoding.
	ErrSeek = errors.New("ogg: seek error")
	// ErrBadHeader is returned for a malformed page header or a stream that does not start with a BOS page.
	ErrBadHeader = errors.New("ogg: bad OGG header")
	// ErrHeaderPacket is returned when the identification packet can not be parsed.
	ErrHeaderPacket = errors.New("ogg: bad header packet")
	ErrVersion      = errors.New("ogg: unsupported page version")
	ErrSerial       = errors.New("ogg: the serial number of the page did not match the serial number of the bitstream")
	ErrPageNumber   = errors.New("ogg: out of order OGG page")
	ErrJunkData     = errors.New("ogg: unrecognized data before OGG page")
	ErrCRC          = errors.New("ogg: CRC mismatch")
	ErrTags         = errors.New("ogg: invalid tags")
	ErrNoSync       = errors.New("ogg: couldn't find OGG page")
	ErrBadPacket    = errors.New("ogg: bad packet")
	// ErrPacketTooLarge is returned for packets that need more than 255 segments on encode,
	// or that exceed the configured maximum packet size on decode.
	ErrPacketTooLarge = errors.New("ogg: too large packet")
	// ErrCodec wraps errors returned by the codec collaborator.
	ErrCodec = errors.New("ogg: codec error")
)
