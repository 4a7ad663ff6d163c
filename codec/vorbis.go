// Package codec binds Vorbis codec implementations to the ogg decoder.
package codec

import (
	"errors"

	"github.com/jfreymuth/vorbis"
)

var errNoHeaders = errors.New("codec: audio packet before all headers")

// VorbisDecoder adapts github.com/jfreymuth/vorbis to ogg.CodecDecoder.
type VorbisDecoder struct {
	dec vorbis.Decoder
}

func NewVorbisDecoder() *VorbisDecoder {
	return &VorbisDecoder{}
}

func (v *VorbisDecoder) Init(header []byte) error {
	return v.dec.ReadHeader(header)
}

func (v *VorbisDecoder) Decode(packet []byte) ([]float32, error) {
	if !v.dec.HeadersRead() {
		return nil, errNoHeaders
	}
	return v.dec.Decode(packet)
}

func (v *VorbisDecoder) Channels() int {
	return v.dec.Channels()
}

func (v *VorbisDecoder) SampleRate() int {
	return v.dec.SampleRate()
}

func (v *VorbisDecoder) Reset() {
	v.dec.Clear()
}
