package env

import (
	"go.uber.org/zap/zapcore"
)

// SeekPoint is a page boundary of the audio region.
type SeekPoint struct {
	// Offset is relative to the first byte after the header pages.
	Offset int64
	// Sample is the number of samples that precede the page starting at Offset.
	Sample uint64
}

func (p SeekPoint) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt64("Offset", p.Offset)
	enc.AddUint64("Sample", p.Sample)

	return nil
}

// Less orders points by sample, then by offset.
func Less(a, b SeekPoint) bool {
	if a.Sample != b.Sample {
		return a.Sample < b.Sample
	}
	return a.Offset < b.Offset
}
