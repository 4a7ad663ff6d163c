package ogg

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/SaveTheRbtz/ogg-seekable-format-go/comment"
)

type encoderState int

const (
	stateFlushHeader encoderState = iota
	stateInput
	stateEncode
	stateEncodeDone
	stateEncodeFailed
)

// Encoder is the push-style muxer: the host supplies PCM with SetInput and
// calls Encode until it returns StatusMore, writing out Data after every StatusData.
type Encoder struct {
	o     writerOptions
	codec CodecEncoder
	mux   *Muxer
	tags  *comment.Builder

	state    encoderState
	in       []float32
	hasInput bool
	finished bool
	closed   bool

	data []byte
	err  error
}

func NewEncoder(codec CodecEncoder, opts ...WOption) (*Encoder, error) {
	e := Encoder{codec: codec}

	e.o.setDefault()
	for _, o := range opts {
		err := o(&e.o)
		if err != nil {
			return nil, err
		}
	}

	e.mux = NewMuxer(e.o.serial, e.o.maxPageSize, e.o.logger)
	e.tags = comment.NewBuilder(e.o.vendor)
	return &e, nil
}

// AddTag adds an entry to the comment packet.  Tags can only be added before the first Encode.
func (e *Encoder) AddTag(name, value string) error {
	if e.state != stateFlushHeader {
		return fmt.Errorf("%w: tags after the headers were written", ErrTags)
	}
	return e.tags.Add(name, value)
}

// SetInput queues interleaved samples for the next Encode.
func (e *Encoder) SetInput(pcm []float32) {
	if len(pcm) == 0 {
		return
	}
	e.in = pcm
	e.hasInput = true
}

// Finish marks the end of input.  Encode then drains the codec and emits the last page.
func (e *Encoder) Finish() {
	e.finished = true
}

func (e *Encoder) fail(err error) Status {
	e.err = err
	e.state = stateEncodeFailed
	return StatusError
}

// Encode returns StatusData when Data holds pages, StatusMore when input is needed,
// StatusDone after the last page and StatusError on failure.
func (e *Encoder) Encode() Status {
	for {
		switch e.state {
		case stateFlushHeader:
			ident, setup, err := e.codec.Headers()
			if err != nil {
				return e.fail(fmt.Errorf("%w: %w", ErrCodec, err))
			}
			var info Info
			if err := info.UnmarshalBinary(ident); err != nil {
				return e.fail(err)
			}
			data, err := e.mux.WriteHeaders(ident, buildCommentPacket(e.tags.Bytes(), e.o.minTagSize), setup)
			if err != nil {
				return e.fail(err)
			}
			e.o.logger.Debug("headers", zap.Object("info", &info), zap.Int("tags", e.tags.Len()))
			e.data = data
			e.state = stateInput
			return StatusData

		case stateInput:
			var err error
			switch {
			case e.hasInput:
				err = e.codec.Encode(e.in)
				e.in, e.hasInput = nil, false
			case e.finished && !e.closed:
				err = e.codec.Encode(nil)
				e.closed = true
			case e.closed:
				// the codec ran dry without an EOS packet
				e.state = stateEncodeDone
				if e.data = e.mux.Close(); len(e.data) > 0 {
					return StatusData
				}
				continue
			default:
				return StatusMore
			}
			if err != nil {
				return e.fail(fmt.Errorf("%w: %w", ErrCodec, err))
			}
			e.state = stateEncode

		case stateEncode:
			p, err := e.codec.Packet()
			if err != nil {
				return e.fail(fmt.Errorf("%w: %w", ErrCodec, err))
			}
			if p == nil {
				e.state = stateInput
				continue
			}
			data, err := e.mux.WritePacket(p)
			if err != nil {
				return e.fail(err)
			}
			if p.EOS {
				e.state = stateEncodeDone
			}
			if len(data) > 0 {
				e.data = data
				return StatusData
			}

		case stateEncodeDone:
			return StatusDone

		default:
			return StatusError
		}
	}
}

// Data returns the pages of the last StatusData.
func (e *Encoder) Data() []byte { return e.data }

func (e *Encoder) Err() error { return e.err }
