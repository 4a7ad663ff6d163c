package ogg

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap/zapcore"
)

const (
	packetTypeInfo    = 1
	packetTypeComment = 3
	packetTypeSetup   = 5

	// type byte + "vorbis"
	vorbisPrefixSize = 7
	// InfoSize is the size of the identification packet.
	InfoSize = vorbisPrefixSize + 23
)

var vorbisMagic = []byte("vorbis")

/*
The identification packet format is as follows:

|`Type`|`Magic`|`Version`|`Channels`|`Rate`|`Bitrate_Max`|`Bitrate_Nominal`|`Bitrate_Min`|`Block_Size`|`Framing`|
|------|-------|---------|----------|------|-------------|-----------------|-------------|------------|---------|
|1 byte|6 bytes|4 bytes  |1 byte    |4 bytes|4 bytes     |4 bytes          |4 bytes      |1 byte      |1 byte   |
*/
type Info struct {
	Version        uint32
	Channels       uint8
	SampleRate     uint32
	BitrateMax     uint32
	BitrateNominal uint32
	BitrateMin     uint32
	// BlockSize holds both block size exponents: short in the low nibble, long in the high one.
	BlockSize uint8
}

func (i *Info) marshalBinaryInline(dst []byte) {
	dst[0] = packetTypeInfo
	copy(dst[1:], vorbisMagic)
	binary.LittleEndian.PutUint32(dst[7:], i.Version)
	dst[11] = i.Channels
	binary.LittleEndian.PutUint32(dst[12:], i.SampleRate)
	binary.LittleEndian.PutUint32(dst[16:], i.BitrateMax)
	binary.LittleEndian.PutUint32(dst[20:], i.BitrateNominal)
	binary.LittleEndian.PutUint32(dst[24:], i.BitrateMin)
	dst[28] = i.BlockSize
	dst[29] = 1
}

func (i *Info) MarshalBinary() ([]byte, error) {
	dst := make([]byte, InfoSize)
	i.marshalBinaryInline(dst)
	return dst, nil
}

func (i *Info) UnmarshalBinary(p []byte) error {
	if len(p) < InfoSize {
		return fmt.Errorf("%w: info length mismatch %d vs %d", ErrHeaderPacket, len(p), InfoSize)
	}
	if p[0] != packetTypeInfo || !bytes.Equal(p[1:vorbisPrefixSize], vorbisMagic) {
		return fmt.Errorf("%w: not an identification packet", ErrHeaderPacket)
	}
	i.Version = binary.LittleEndian.Uint32(p[7:])
	i.Channels = p[11]
	i.SampleRate = binary.LittleEndian.Uint32(p[12:])
	i.BitrateMax = binary.LittleEndian.Uint32(p[16:])
	i.BitrateNominal = binary.LittleEndian.Uint32(p[20:])
	i.BitrateMin = binary.LittleEndian.Uint32(p[24:])
	i.BlockSize = p[28]

	switch {
	case i.Version != 0:
		return fmt.Errorf("%w: version %d", ErrHeaderPacket, i.Version)
	case i.Channels == 0:
		return fmt.Errorf("%w: zero channels", ErrHeaderPacket)
	case i.SampleRate == 0:
		return fmt.Errorf("%w: zero sample rate", ErrHeaderPacket)
	case p[29] != 1:
		return fmt.Errorf("%w: framing bit %d", ErrHeaderPacket, p[29])
	}
	return nil
}

func (i *Info) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint8("Channels", i.Channels)
	enc.AddUint32("SampleRate", i.SampleRate)
	enc.AddUint32("BitrateMax", i.BitrateMax)
	enc.AddUint32("BitrateNominal", i.BitrateNominal)
	enc.AddUint32("BitrateMin", i.BitrateMin)

	return nil
}

// commentBody strips the comment packet prefix and returns the tag blob followed by the framing byte.
func commentBody(p []byte) ([]byte, error) {
	if len(p) < vorbisPrefixSize || p[0] != packetTypeComment || !bytes.Equal(p[1:vorbisPrefixSize], vorbisMagic) {
		return nil, fmt.Errorf("%w: not a comment packet", ErrTags)
	}
	return p[vorbisPrefixSize:], nil
}

// buildCommentPacket wraps a tag blob into a comment packet.
// A blob shorter than minSize is padded with zeros after the framing byte,
// leaving room for tags to grow in place.
func buildCommentPacket(blob []byte, minSize int) []byte {
	size := vorbisPrefixSize + max(len(blob), minSize) + 1
	p := make([]byte, 0, size)
	p = append(p, packetTypeComment)
	p = append(p, vorbisMagic...)
	p = append(p, blob...)
	p = append(p, 1)
	return p[:size]
}
