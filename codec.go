package ogg

import (
	"github.com/SaveTheRbtz/ogg-seekable-format-go/comment"
)

// CodecDecoder turns audio packets into PCM.  Tested with github.com/jfreymuth/vorbis through the codec package.
type CodecDecoder interface {
	// Init is called with each of the three header packets in stream order.
	Init(header []byte) error
	// Decode returns interleaved samples.  It may return no samples for the first packet after a Reset.
	Decode(packet []byte) ([]float32, error)
	// Channels returns the number of interleaved channels after the identification header was seen.
	Channels() int
	// Reset drops the overlap state; called after every seek.
	Reset()
}

// CodecEncoder turns PCM into audio packets.
type CodecEncoder interface {
	// Headers returns the identification and setup packets.
	Headers() (ident, setup []byte, err error)
	// Encode queues interleaved samples.  A nil slice marks the end of input.
	Encode(pcm []float32) error
	// Packet returns the next ready packet, or nil if more input is needed.
	// The end of the stream is signaled with Packet.EOS.
	Packet() (*Packet, error)
}

// TagParser consumes the tag blob of the comment packet.  *comment.Parser implements it.
type TagParser interface {
	Reset(blob []byte)
	// Next returns io.EOF once every entry was returned.
	Next() (comment.Tag, error)
	// Rest returns the bytes after the parsed entries; the first of them must be the framing byte.
	Rest() []byte
}

var _ TagParser = (*comment.Parser)(nil)
