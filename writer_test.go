package ogg

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testWEnv struct {
	header []byte
	pages  [][]byte
	err    error
}

func (e *testWEnv) WriteHeader(p []byte) (int, error) {
	e.header = append(e.header, p...)
	return len(p), nil
}

func (e *testWEnv) WritePage(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	e.pages = append(e.pages, append([]byte(nil), p...))
	return len(p), nil
}

func TestWriterEnvironment(t *testing.T) {
	t.Parallel()

	env := &testWEnv{}
	w, err := NewWriter(nil, newTestEncoder(1, 128, 200), WithWEnvironment(env), WithMaxPageSize(1024))
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		n, err := w.Write(make([]float32, 300))
		require.NoError(t, err)
		assert.Equal(t, 300, n)
	}
	assert.Error(t, w.AddTag("title", "late"))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	headers, _ := splitPages(t, env.header)
	require.Len(t, headers, 2)
	assert.True(t, headers[0].First())
	// the comment packet is padded
	assert.GreaterOrEqual(t, headers[1].BodySize(), vorbisPrefixSize+defaultMinTagSize+1+len(testSetup))

	require.NotEmpty(t, env.pages)
	var all []byte
	for _, p := range env.pages {
		all = append(all, p...)
	}
	pages, _ := splitPages(t, all)
	assert.True(t, pages[len(pages)-1].Last())
	assert.Equal(t, uint64(20*300), pages[len(pages)-1].Granule)
}

func TestWriterRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w, err := NewWriter(&buf, newTestEncoder(2, 512, 400), WithSerial(3), WithMaxPageSize(2048))
	require.NoError(t, err)
	require.NoError(t, w.AddTag("title", "round trip"))
	for i := 0; i < 100; i++ {
		_, err := w.Write(make([]float32, 2*700))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	r, err := NewReader(bytes.NewReader(buf.Bytes()), WithCodec(&testCodec{}))
	require.NoError(t, err)
	assert.Equal(t, uint8(2), r.Info().Channels)
	assert.Equal(t, uint64(100*700), r.TotalSamples())
	require.Len(t, r.Tags(), 2)
	assert.Equal(t, defaultVendor, r.Tags()[0].Value)
	assert.Equal(t, "round trip", r.Tags()[1].Value)

	total := 0
	dst := make([]float32, 1000)
	for {
		n, err := r.ReadSamples(dst)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		total += n
	}
	assert.Equal(t, 2*100*700, total)
	assert.NoError(t, r.Warnings())
	assert.NoError(t, r.Close())
}

func TestWriterErrors(t *testing.T) {
	t.Parallel()

	writeErr := errors.New("disk full")
	env := &testWEnv{err: writeErr}
	w, err := NewWriter(nil, newTestEncoder(1, 128, 200), WithWEnvironment(env), WithMaxPageSize(512))
	require.NoError(t, err)

	var werr error
	for i := 0; i < 10 && werr == nil; i++ {
		_, werr = w.Write(make([]float32, 1000))
	}
	assert.ErrorIs(t, werr, writeErr)

	w, err = NewWriter(nil, newTestEncoder(1, 128, 255*255), WithWEnvironment(&testWEnv{}))
	require.NoError(t, err)
	_, err = w.Write(make([]float32, 128))
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}
