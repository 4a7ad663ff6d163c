package ogg

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/SaveTheRbtz/ogg-seekable-format-go/comment"
	"github.com/SaveTheRbtz/ogg-seekable-format-go/env"
)

// readerEnvImpl is the environment implementation for the underlying ReadSeeker.
type readerEnvImpl struct {
	rs  io.ReadSeeker
	pos int64
}

func (r *readerEnvImpl) Size() (int64, error) {
	end, err := r.rs.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err = r.rs.Seek(r.pos, io.SeekStart); err != nil {
		return 0, err
	}
	return end, nil
}

func (r *readerEnvImpl) ReadChunk(p []byte, off int64) (int, error) {
	if off != r.pos {
		if _, err := r.rs.Seek(off, io.SeekStart); err != nil {
			return 0, fmt.Errorf("failed to seek to %d: %w", off, err)
		}
		r.pos = off
	}
	n, err := io.ReadFull(r.rs, p)
	r.pos += int64(n)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}

// streamEnvImpl is the environment implementation for a Reader that can not seek.
type streamEnvImpl struct {
	r   io.Reader
	pos int64
}

func (s *streamEnvImpl) Size() (int64, error) {
	return -1, nil
}

func (s *streamEnvImpl) ReadChunk(p []byte, off int64) (int, error) {
	if off != s.pos {
		return 0, fmt.Errorf("stream is not seekable: offset %d requested at %d", off, s.pos)
	}
	n, err := io.ReadFull(s.r, p)
	s.pos += int64(n)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}

type Reader interface {
	// ReadPacket returns the next audio packet.  It can't be used with a codec or in pass-through mode.
	ReadPacket() (*Packet, error)

	// ReadSamples fills dst with interleaved samples.  It requires a codec.
	ReadSamples(dst []float32) (int, error)

	// ReadPage returns the next raw page in pass-through mode, header pages first.
	ReadPage() ([]byte, error)

	// SeekSample positions the stream at the page that contains sample.
	// Seek errors leave the stream readable from the best position found.
	SeekSample(sample uint64) error

	Info() Info
	Tags() []comment.Tag
	// TotalSamples returns 0 while the duration is unknown.
	TotalSamples() uint64
	CurrentSample() uint64
	Bitrate() uint64

	// Warnings returns every recoverable problem seen so far.
	Warnings() error
	Stats() *Stats

	// Close implements io.Closer interface.  It releases occupied memory.
	//
	// Caller is still responsible to Close the underlying reader.
	Close() error
}

type readerImpl struct {
	dec *Decoder

	logger *zap.Logger
	env    env.REnvironment

	buf []byte
	off int64

	tags     []comment.Tag
	pages    [][]byte
	pcm      []float32
	warnings error
}

var _ io.Closer = (*readerImpl)(nil)

// NewReader reads the stream headers from r.  If r is an io.ReadSeeker its size enables
// the duration bootstrap and seeking, otherwise the stream is read front to back.
func NewReader(r io.Reader, opts ...ROption) (Reader, error) {
	dec, err := NewDecoder(opts...)
	if err != nil {
		return nil, err
	}

	sr := readerImpl{
		dec:    dec,
		logger: dec.o.logger,
		env:    dec.o.env,
		buf:    make([]byte, dec.o.chunkSize),
	}
	if sr.env == nil {
		if rs, ok := r.(io.ReadSeeker); ok {
			sr.env = &readerEnvImpl{rs: rs}
		} else {
			sr.env = &streamEnvImpl{r: r}
		}
	}

	if dec.o.totalSize == 0 {
		size, err := sr.env.Size()
		if err != nil {
			return nil, fmt.Errorf("failed to get stream size: %w", err)
		}
		if size > 0 {
			dec.o.totalSize = size
		}
	}

	if err := sr.readHeaders(); err != nil {
		return nil, err
	}
	return &sr, nil
}

func (s *readerImpl) readHeaders() error {
	for {
		st, err := s.next()
		if err != nil {
			return err
		}
		switch st {
		case StatusPage:
			s.pages = append(s.pages, append([]byte(nil), s.dec.Page()...))
		case StatusHeaderDone:
			if s.dec.o.totalSize == 0 {
				return nil
			}
		case StatusInfo, StatusDone:
			s.logger.Debug("headers read",
				zap.Object("info", &s.dec.info), zap.Uint64("totalSamples", s.dec.TotalSamples()))
			return nil
		}
	}
}

func (s *readerImpl) warn(err error) {
	s.warnings = multierr.Append(s.warnings, err)
	s.logger.Warn("stream warning", zap.Error(err))
}

func (s *readerImpl) fill() error {
	n, err := s.env.ReadChunk(s.buf, s.off)
	if n > 0 {
		s.dec.Feed(s.buf[:n])
		s.off += int64(n)
	}
	if errors.Is(err, io.EOF) {
		s.dec.EOF()
		return nil
	}
	return err
}

// next drives the decoder until it reports something the caller has to handle.
func (s *readerImpl) next() (Status, error) {
	for {
		st := s.dec.Decode()
		switch st {
		case StatusMore:
			if err := s.fill(); err != nil {
				return st, err
			}
		case StatusSeek:
			s.off = s.dec.Offset()
		case StatusWarning:
			s.warn(s.dec.Err())
		case StatusTag:
			s.tags = append(s.tags, s.dec.Tag())
		case StatusError:
			return st, s.dec.Err()
		default:
			return st, nil
		}
	}
}

func (s *readerImpl) ReadPacket() (*Packet, error) {
	if s.dec.o.codec != nil || s.dec.o.asIs {
		return nil, fmt.Errorf("packets are not available with a codec or in pass-through mode")
	}
	for {
		st, err := s.next()
		if err != nil {
			return nil, err
		}
		switch st {
		case StatusPacket:
			p := *s.dec.Packet()
			p.Data = append([]byte(nil), p.Data...)
			return &p, nil
		case StatusDone:
			return nil, io.EOF
		}
	}
}

func (s *readerImpl) ReadSamples(dst []float32) (int, error) {
	if s.dec.o.codec == nil {
		return 0, fmt.Errorf("samples require a codec")
	}
	for len(s.pcm) == 0 {
		st, err := s.next()
		if err != nil {
			return 0, err
		}
		switch st {
		case StatusData:
			s.pcm = s.dec.PCM()
		case StatusDone:
			return 0, io.EOF
		}
	}
	n := copy(dst, s.pcm)
	s.pcm = s.pcm[n:]
	return n, nil
}

func (s *readerImpl) ReadPage() ([]byte, error) {
	if !s.dec.o.asIs {
		return nil, fmt.Errorf("pages are only available in pass-through mode")
	}
	if len(s.pages) > 0 {
		p := s.pages[0]
		s.pages = s.pages[1:]
		return p, nil
	}
	for {
		st, err := s.next()
		if err != nil {
			return nil, err
		}
		switch st {
		case StatusPage:
			return append([]byte(nil), s.dec.Page()...), nil
		case StatusDone:
			return nil, io.EOF
		}
	}
}

func (s *readerImpl) SeekSample(sample uint64) error {
	s.pcm = nil
	s.dec.Seek(sample)
	for s.dec.Seeking() {
		switch st := s.dec.Decode(); st {
		case StatusMore:
			if err := s.fill(); err != nil {
				return err
			}
		case StatusSeek:
			s.off = s.dec.Offset()
		case StatusWarning:
			s.warn(s.dec.Err())
		case StatusError:
			return s.dec.Err()
		}
	}
	s.logger.Debug("seek done", zap.Uint64("sample", sample), zap.Uint64("position", s.dec.CurrentSample()),
		zap.Int64("offset", s.off))
	return nil
}

func (s *readerImpl) Info() Info            { return s.dec.Info() }
func (s *readerImpl) Tags() []comment.Tag   { return s.tags }
func (s *readerImpl) TotalSamples() uint64  { return s.dec.TotalSamples() }
func (s *readerImpl) CurrentSample() uint64 { return s.dec.CurrentSample() }
func (s *readerImpl) Bitrate() uint64       { return s.dec.Bitrate() }
func (s *readerImpl) Warnings() error       { return s.warnings }
func (s *readerImpl) Stats() *Stats         { return s.dec.Stats() }

func (s *readerImpl) Close() (err error) {
	s.dec.index.Clear(false)
	s.buf = nil
	s.pcm = nil
	s.pages = nil
	return
}
