package ogg

import (
	"fmt"
	"io"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/SaveTheRbtz/ogg-seekable-format-go/env"
)

// writerEnvImpl is the environment implementation of for the underlying Writer.
type writerEnvImpl struct {
	w io.Writer
}

func (w *writerEnvImpl) WriteHeader(p []byte) (n int, err error) {
	return w.w.Write(p)
}

func (w *writerEnvImpl) WritePage(p []byte) (n int, err error) {
	return w.w.Write(p)
}

type writerImpl struct {
	enc *Encoder

	logger *zap.Logger
	env    env.WEnvironment

	header bool
	once   *sync.Once
}

type Writer interface {
	// Write encodes interleaved samples and writes every completed page.
	Write(pcm []float32) (int, error)

	// AddTag adds an entry to the comment packet.  It fails after the first Write.
	AddTag(name, value string) error

	// Close flushes the codec and writes the last page.
	//
	// Caller is still responsible to Close the underlying writer.
	Close() (err error)
}

// NewWriter wraps the passed io.Writer and CodecEncoder into an OGG stream.
func NewWriter(w io.Writer, codec CodecEncoder, opts ...WOption) (Writer, error) {
	enc, err := NewEncoder(codec, opts...)
	if err != nil {
		return nil, err
	}

	sw := writerImpl{
		enc:    enc,
		logger: enc.o.logger,
		env:    enc.o.env,
		once:   &sync.Once{},
	}
	if sw.env == nil {
		sw.env = &writerEnvImpl{
			w: w,
		}
	}
	return &sw, nil
}

func (s *writerImpl) AddTag(name, value string) error {
	return s.enc.AddTag(name, value)
}

func (s *writerImpl) Write(pcm []float32) (int, error) {
	s.enc.SetInput(pcm)
	if err := s.drain(); err != nil {
		return 0, err
	}
	return len(pcm), nil
}

func (s *writerImpl) drain() error {
	for {
		switch st := s.enc.Encode(); st {
		case StatusData:
			if err := s.write(s.enc.Data()); err != nil {
				return err
			}
		case StatusMore, StatusDone:
			return nil
		default:
			return s.enc.Err()
		}
	}
}

func (s *writerImpl) write(p []byte) error {
	write := s.env.WritePage
	if !s.header {
		write = s.env.WriteHeader
		s.header = true
	}

	n, err := write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return fmt.Errorf("partial write: %d out of %d", n, len(p))
	}
	return nil
}

func (s *writerImpl) Close() (err error) {
	s.once.Do(func() {
		s.enc.Finish()
		err = multierr.Append(err, s.drain())
		s.logger.Debug("stream closed", zap.Uint32("pages", s.enc.mux.Sequence()))
	})
	return
}
