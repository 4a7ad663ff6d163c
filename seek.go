package ogg

import (
	"fmt"

	"go.uber.org/zap/zapcore"

	"github.com/SaveTheRbtz/ogg-seekable-format-go/env"
)

const (
	maxSeekProbes = 256
	// pages read in a row from the lower bound before a new probe is placed
	maxSequentialPages = 2
)

type seekAction int

const (
	seekNextPage seekAction = iota
	seekProbe
	seekFound
)

// seekBracket narrows the byte range holding the page that contains target.
//
// lo is a page boundary whose page starts at or before target.
// hi is an offset that the target page starts before; its Sample is an upper bound used for interpolation.
// A page found past the target is remembered as upper: the target page is either upper
// or one that starts in [lo, hi).
type seekBracket struct {
	target uint64
	lo, hi env.SeekPoint

	upper    int64
	upperSet bool

	mode   SeekMode
	stride int64

	last       int64
	probes     int
	prevSpan   int64
	pageSize   int64
	stepBack   bool
	lastInterp bool
	inRow      int
}

func newSeekBracket(target uint64, lo, hi env.SeekPoint, mode SeekMode, stride int64) *seekBracket {
	return &seekBracket{
		target: target,
		lo:     lo,
		hi:     hi,
		mode:   mode,
		stride: stride,
		last:   -1,
	}
}

// next returns the offset of the next probe relative to the audio start.
func (b *seekBracket) next() (int64, error) {
	lo, hi := b.lo.Offset, b.hi.Offset
	if hi <= lo {
		return 0, fmt.Errorf("%w: empty bracket [%d, %d) for sample %d", ErrSeek, lo, hi, b.target)
	}
	if b.probes >= maxSeekProbes {
		return 0, fmt.Errorf("%w: no convergence after %d probes", ErrSeek, b.probes)
	}

	span := hi - lo
	// an interpolated probe that did not halve the bracket is followed by a bisection
	bisect := b.mode == SeekBisect || b.hi.Sample <= b.lo.Sample ||
		(b.lastInterp && span*2 > b.prevSpan)
	b.prevSpan = span
	b.lastInterp = !bisect && !b.stepBack

	var x int64
	switch {
	case b.stepBack:
		x = b.last - b.stride
	case bisect:
		x = lo + span/2
	default:
		frac := float64(b.target-b.lo.Sample) / float64(b.hi.Sample-b.lo.Sample)
		x = lo + int64(frac*float64(span)) - b.pageSize
	}
	b.stepBack = false

	if x < lo {
		x = lo
	}
	if x > hi-1 {
		x = hi - 1
	}
	if x == b.last {
		x = lo + span/2
		if x == b.last {
			x = lo
		}
		if x == b.last {
			return 0, fmt.Errorf("%w: bracket [%d, %d) does not shrink", ErrSeek, lo, hi)
		}
	}

	b.last = x
	b.probes++
	b.inRow = 0
	return x, nil
}

// landed reports whether the lower bound reached the upper page, which then holds target.
func (b *seekBracket) landed() bool {
	return b.upperSet && b.lo.Offset == b.upper
}

// update folds a page found while probing into the bracket.
// The page spans [start, end) and its packets end at sample.
func (b *seekBracket) update(start, end int64, sample uint64, granuleSet bool) seekAction {
	if size := end - start; size > b.pageSize {
		b.pageSize = size
	}

	if !granuleSet || sample < b.lo.Sample {
		// no packet ends here, the next page starts at the same sample
		if start == b.lo.Offset {
			b.lo.Offset = end
			if b.landed() {
				return seekFound
			}
		}
		return seekNextPage
	}

	if start == b.lo.Offset {
		if sample > b.target {
			return seekFound
		}
		b.lo = env.SeekPoint{Offset: end, Sample: sample}
		if b.landed() {
			return seekFound
		}
		b.inRow++
		if b.inRow >= maxSequentialPages {
			return seekProbe
		}
		return seekNextPage
	}

	if sample <= b.target {
		b.lo = env.SeekPoint{Offset: end, Sample: sample}
		if b.landed() {
			return seekFound
		}
		return seekNextPage
	}
	if start < b.hi.Offset {
		b.hi = env.SeekPoint{Offset: start, Sample: sample}
		b.upper, b.upperSet = start, true
	}
	return seekProbe
}

// outside is called when no page starts between from and the upper bound.
func (b *seekBracket) outside(from int64) {
	if from < b.hi.Offset {
		b.hi.Offset = from
	}
	b.stepBack = true
}

func (b *seekBracket) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddUint64("Target", b.target)
	if err := enc.AddObject("Lo", b.lo); err != nil {
		return err
	}
	if err := enc.AddObject("Hi", b.hi); err != nil {
		return err
	}
	if b.upperSet {
		enc.AddInt64("Upper", b.upper)
	}
	enc.AddInt64("Last", b.last)
	enc.AddInt("Probes", b.probes)

	return nil
}
