package ogg

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/SaveTheRbtz/ogg-seekable-format-go/comment"
	"github.com/SaveTheRbtz/ogg-seekable-format-go/env"
)

// SeekMode selects how the next seek probe is placed inside the bracket.
type SeekMode int

const (
	// SeekInterpolate places probes proportionally to the target sample and falls back
	// to bisection whenever a probe fails to halve the bracket.
	SeekInterpolate SeekMode = iota
	// SeekBisect always probes the middle of the bracket.
	SeekBisect
)

const (
	defaultMaxNoSync = 256 << 10
	defaultChunkSize = 32 << 10
)

type ROption func(*readerOptions) error

type readerOptions struct {
	logger *zap.Logger
	env    env.REnvironment

	codec CodecDecoder
	tags  TagParser

	totalSize     int64
	maxNoSync     int
	seekWindow    int64
	maxPacketSize int
	maxWarnings   int
	seekMode      SeekMode

	asIs     bool
	asIsFrom uint64

	chunkSize int
}

func (o *readerOptions) setDefault() {
	*o = readerOptions{
		logger:        zap.NewNop(),
		tags:          comment.NewParser(),
		maxNoSync:     defaultMaxNoSync,
		seekWindow:    MaxPageSize,
		maxPacketSize: maxSegments * segmentSize,
		chunkSize:     defaultChunkSize,
	}
}

func WithRLogger(l *zap.Logger) ROption {
	return func(o *readerOptions) error { o.logger = l; return nil }
}

func WithREnvironment(env env.REnvironment) ROption {
	return func(o *readerOptions) error { o.env = env; return nil }
}

// WithCodec makes the decoder hand audio packets to c and report StatusData instead of StatusPacket.
func WithCodec(c CodecDecoder) ROption {
	return func(o *readerOptions) error { o.codec = c; return nil }
}

func WithTagParser(p TagParser) ROption {
	return func(o *readerOptions) error {
		if p == nil {
			return fmt.Errorf("tag parser can't be nil")
		}
		o.tags = p
		return nil
	}
}

// WithTotalSize enables the duration bootstrap and seeking.
// The Reader sets it from its environment when not given.
func WithTotalSize(size int64) ROption {
	return func(o *readerOptions) error {
		if size < 0 {
			return fmt.Errorf("total size can't be negative: %d", size)
		}
		o.totalSize = size
		return nil
	}
}

// WithMaxNoSync sets how many bytes may be skipped while looking for a page before giving up.
func WithMaxNoSync(n int) ROption {
	return func(o *readerOptions) error {
		if n < MaxPageSize {
			return fmt.Errorf("no sync limit %d is smaller than a page (%d)", n, MaxPageSize)
		}
		o.maxNoSync = n
		return nil
	}
}

// WithSeekWindow sets the size of the region scanned for the last page and
// the stride used when a seek probe lands past the bracket.
func WithSeekWindow(n int64) ROption {
	return func(o *readerOptions) error {
		if n < MaxHeaderSize {
			return fmt.Errorf("seek window %d is smaller than a page header (%d)", n, MaxHeaderSize)
		}
		o.seekWindow = n
		return nil
	}
}

// WithMaxPacketSize bounds packets reassembled across pages.
func WithMaxPacketSize(n int) ROption {
	return func(o *readerOptions) error {
		if n <= 0 {
			return fmt.Errorf("max packet size must be positive: %d", n)
		}
		o.maxPacketSize = n
		return nil
	}
}

// WithMaxWarnings turns the warning after the n-th one into a fatal error.  Zero means unlimited.
func WithMaxWarnings(n int) ROption {
	return func(o *readerOptions) error {
		if n < 0 {
			return fmt.Errorf("max warnings can't be negative: %d", n)
		}
		o.maxWarnings = n
		return nil
	}
}

func WithSeekMode(m SeekMode) ROption {
	return func(o *readerOptions) error {
		switch m {
		case SeekInterpolate, SeekBisect:
		default:
			return fmt.Errorf("unknown seek mode: %d", m)
		}
		o.seekMode = m
		return nil
	}
}

// WithAsIs switches to pass-through mode: raw pages are returned instead of packets,
// starting at the page that contains sample from.
func WithAsIs(from uint64) ROption {
	return func(o *readerOptions) error { o.asIs = true; o.asIsFrom = from; return nil }
}

func WithChunkSize(n int) ROption {
	return func(o *readerOptions) error {
		if n <= 0 {
			return fmt.Errorf("chunk size must be positive: %d", n)
		}
		o.chunkSize = n
		return nil
	}
}
