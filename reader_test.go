package ogg

import (
	"bytes"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
	"go.uber.org/zap/zaptest"
)

type seekableBufferReader struct {
	buf    []byte
	offset int64
	seeks  int
}

func (s *seekableBufferReader) Read(p []byte) (n int, err error) {
	if s.offset >= int64(len(s.buf)) {
		return 0, io.EOF
	}
	n = copy(p, s.buf[s.offset:])
	s.offset += int64(n)
	return n, nil
}

func (s *seekableBufferReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekCurrent:
		offset += s.offset
	case io.SeekEnd:
		offset += int64(len(s.buf))
	}
	if offset < 0 {
		return 0, fmt.Errorf("negative offset: %d", offset)
	}
	s.offset = offset
	s.seeks++
	return offset, nil
}

// streamReader hides the Seek method of the underlying reader.
type streamReader struct {
	io.Reader
}

type testREnv struct {
	buf   []byte
	reads int
}

func (e *testREnv) Size() (int64, error) {
	return int64(len(e.buf)), nil
}

func (e *testREnv) ReadChunk(p []byte, off int64) (int, error) {
	e.reads++
	if off >= int64(len(e.buf)) {
		return 0, io.EOF
	}
	n := copy(p, e.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func readPackets(t testing.TB, r Reader) [][]byte {
	var out [][]byte
	for {
		p, err := r.ReadPacket()
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, p.Data)
	}
}

func TestReader(t *testing.T) {
	t.Parallel()

	s := newTestStream(t, 20, 300, 4096)
	br := &seekableBufferReader{buf: s.data}
	r, err := NewReader(br, WithRLogger(zaptest.NewLogger(t)), WithChunkSize(1000))
	require.NoError(t, err)

	assert.Equal(t, uint8(2), r.Info().Channels)
	assert.Equal(t, s.total, r.TotalSamples())
	require.Len(t, r.Tags(), 2)
	assert.True(t, r.Tags()[0].IsVendor())
	assert.Equal(t, "TITLE", r.Tags()[1].Name)
	assert.Greater(t, br.seeks, 0)

	sr := r.(*readerImpl)
	assert.Equal(t, int64(len(s.data)), sr.dec.o.totalSize)

	assert.Equal(t, s.packets, readPackets(t, r))
	assert.NoError(t, r.Warnings())
	// the first audio page is read again after the duration bootstrap
	assert.Equal(t, uint64(len(s.pages)+1), r.Stats().Pages.Load())

	_, err = r.ReadSamples(make([]float32, 10))
	assert.Error(t, err)
	_, err = r.ReadPage()
	assert.Error(t, err)

	assert.NoError(t, r.Close())
}

func TestReaderStream(t *testing.T) {
	t.Parallel()

	s := newTestStream(t, 21, 200, 4096)
	r, err := NewReader(streamReader{bytes.NewReader(s.data)})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.TotalSamples())
	assert.Equal(t, uint64(64000), r.Bitrate())

	// seeking needs the size
	require.NoError(t, r.SeekSample(s.total/2))
	assert.Equal(t, s.packets, readPackets(t, r))
	assert.Equal(t, s.total, r.TotalSamples())

	_, err = NewReader(streamReader{bytes.NewReader(s.data)}, WithTotalSize(int64(len(s.data))))
	assert.Error(t, err)
}

func TestReaderSeekSample(t *testing.T) {
	t.Parallel()

	s := newTestStream(t, 22, 1000, 2048)
	starts := make(map[uint64]int, len(s.packets))
	var pos uint64
	for i, p := range s.packets {
		starts[pos] = i
		pos += uint64(packetSamples(p))
	}

	r, err := NewReader(&seekableBufferReader{buf: s.data})
	require.NoError(t, err)

	for _, target := range []uint64{s.total - 1, 0, s.total / 3, 1, s.total / 2, s.total / 2} {
		require.NoError(t, r.SeekSample(target))
		p, err := r.ReadPacket()
		require.NoError(t, err)

		start := r.CurrentSample()
		assert.LessOrEqual(t, start, target)
		idx, ok := starts[start]
		require.True(t, ok, "no packet starts at %d", start)
		assert.Equal(t, s.packets[idx], p.Data)
	}

	// past the end
	pos = r.CurrentSample()
	require.NoError(t, r.SeekSample(s.total))
	assert.Equal(t, pos, r.CurrentSample())
	assert.NoError(t, r.Warnings())
}

func TestReaderSamples(t *testing.T) {
	t.Parallel()

	s := newTestStream(t, 23, 200, 4096)
	c := &testCodec{}
	r, err := NewReader(&seekableBufferReader{buf: s.data}, WithCodec(c))
	require.NoError(t, err)

	_, err = r.ReadPacket()
	assert.Error(t, err)

	dst := make([]float32, 333)
	total := 0
	for {
		n, err := r.ReadSamples(dst)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		total += n
	}
	assert.Equal(t, int(s.total)*2, total)
	assert.Equal(t, 3, c.headers)
}

func TestReaderAsIs(t *testing.T) {
	t.Parallel()

	s := newTestStream(t, 24, 300, 4096)
	r, err := NewReader(&seekableBufferReader{buf: s.data}, WithAsIs(0))
	require.NoError(t, err)

	_, err = r.ReadPacket()
	assert.Error(t, err)

	var out []byte
	for {
		p, err := r.ReadPage()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		out = append(out, p...)
	}
	assert.Equal(t, s.data, out)
}

func TestReaderEnvironment(t *testing.T) {
	t.Parallel()

	s := newTestStream(t, 25, 200, 4096)
	env := &testREnv{buf: s.data}
	r, err := NewReader(nil, WithREnvironment(env), WithChunkSize(512))
	require.NoError(t, err)
	assert.Equal(t, s.total, r.TotalSamples())
	assert.Equal(t, s.packets, readPackets(t, r))
	assert.Greater(t, env.reads, len(s.data)/512)
}

func TestReaderWarnings(t *testing.T) {
	t.Parallel()

	s := newTestStream(t, 26, 200, 2048)
	data := s.rebuild(func(i int, p []byte) []byte {
		if i == 5 || i == 9 {
			p[len(p)-1] ^= 0xff
		}
		return p
	})

	r, err := NewReader(&seekableBufferReader{buf: data})
	require.NoError(t, err)
	packets := readPackets(t, r)
	assert.Less(t, len(packets), len(s.packets))

	errs := multierr.Errors(r.Warnings())
	require.Len(t, errs, 4)
	assert.ErrorIs(t, errs[0], ErrCRC)
	assert.ErrorIs(t, errs[1], ErrPageNumber)
	assert.ErrorIs(t, errs[2], ErrCRC)
	assert.ErrorIs(t, errs[3], ErrPageNumber)
	assert.Equal(t, uint64(4), r.Stats().Warnings.Load())
}

func TestReaderErrors(t *testing.T) {
	t.Parallel()

	_, err := NewReader(&seekableBufferReader{buf: []byte("definitely not an ogg stream")})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	s := newTestStream(t, 27, 10, 4096)
	_, err = NewReader(&seekableBufferReader{buf: s.data[:s.pages[1]+5]})
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	// headers without audio
	r, err := NewReader(&seekableBufferReader{buf: s.data[:s.pages[2]]})
	require.NoError(t, err)
	_, err = r.ReadPacket()
	assert.Equal(t, io.EOF, err)
	assert.ErrorIs(t, r.Warnings(), io.ErrUnexpectedEOF)
	assert.Equal(t, uint64(0), r.TotalSamples())

	_, err = NewReader(&seekableBufferReader{buf: s.data}, WithChunkSize(0))
	assert.Error(t, err)
	_, err = NewReader(&seekableBufferReader{buf: s.data}, WithTagParser(nil))
	assert.Error(t, err)
	_, err = NewReader(&seekableBufferReader{buf: s.data}, WithMaxNoSync(10))
	assert.Error(t, err)
}
