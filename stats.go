package ogg

import (
	"go.uber.org/atomic"
	"go.uber.org/zap/zapcore"
)

// Stats are updated by the decoder and may be read concurrently, e.g. by a progress reporter.
type Stats struct {
	Pages        atomic.Uint64
	Packets      atomic.Uint64
	Warnings     atomic.Uint64
	SkippedBytes atomic.Uint64
	SeekProbes   atomic.Uint64
}

func (s *Stats) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("Pages", s.Pages.Load())
	enc.AddUint64("Packets", s.Packets.Load())
	enc.AddUint64("Warnings", s.Warnings.Load())
	enc.AddUint64("SkippedBytes", s.SkippedBytes.Load())
	enc.AddUint64("SeekProbes", s.SeekProbes.Load())

	return nil
}
