package ogg

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/SaveTheRbtz/ogg-seekable-format-go/comment"
)

const testSerial = 0x5eed

var testSetup = []byte("\x05vorbis test setup")

func testInfo(channels uint8) []byte {
	info := Info{Channels: channels, SampleRate: 8000, BitrateNominal: 64000, BlockSize: 0xb8}
	b, _ := info.MarshalBinary()
	return b
}

func testComment(t testing.TB) []byte {
	b := comment.NewBuilder("test vendor")
	require.NoError(t, b.Add("title", "test"))
	return buildCommentPacket(b.Bytes(), 0)
}

// testPacket returns an audio packet that carries its sample count in the first two bytes.
// The payload is lower case so that it never contains a page magic.
func testPacket(rng *rand.Rand, samples, size int) []byte {
	p := make([]byte, size)
	binary.LittleEndian.PutUint16(p, uint16(samples))
	for i := 2; i < size; i++ {
		p[i] = byte('a' + rng.Intn(26))
	}
	return p
}

func packetSamples(p []byte) int {
	return int(binary.LittleEndian.Uint16(p))
}

type testStream struct {
	data []byte

	packets  [][]byte
	granules []uint64
	total    uint64

	// pages holds the offset of every page and firstPacket maps a page number to its first packet
	pages       []int64
	firstPacket map[int]int
}

func newTestStream(t testing.TB, seed int64, n, maxPageSize int) *testStream {
	rng := rand.New(rand.NewSource(seed))
	s := testStream{firstPacket: map[int]int{}}

	m := NewMuxer(testSerial, maxPageSize, nil)
	data, err := m.WriteHeaders(testInfo(2), testComment(t), testSetup)
	require.NoError(t, err)
	s.data = data

	for i := 0; i < n; i++ {
		samples := 128 * (1 + rng.Intn(8))
		p := testPacket(rng, samples, 2+rng.Intn(700))
		s.total += uint64(samples)

		eos := i == n-1
		data, err := m.WritePacket(&Packet{Data: p, Granule: s.total, EOS: eos})
		require.NoError(t, err)
		seq := int(m.Sequence())
		if eos {
			seq--
		}
		if _, ok := s.firstPacket[seq]; !ok {
			s.firstPacket[seq] = i
		}
		s.data = append(s.data, data...)
		s.packets = append(s.packets, p)
		s.granules = append(s.granules, s.total)
	}

	for off := 0; off < len(s.data); {
		h, err := ParsePage(s.data[off:])
		require.NoError(t, err)
		s.pages = append(s.pages, int64(off))
		off += h.Size()
	}
	return &s
}

// starts maps the first sample of every packet to its index.
func (s *testStream) starts() map[uint64]int {
	starts := make(map[uint64]int, len(s.packets))
	var pos uint64
	for i, p := range s.packets {
		starts[pos] = i
		pos += uint64(packetSamples(p))
	}
	return starts
}

// page returns a copy of the i-th page.
func (s *testStream) page(i int) []byte {
	end := int64(len(s.data))
	if i+1 < len(s.pages) {
		end = s.pages[i+1]
	}
	return append([]byte(nil), s.data[s.pages[i]:end]...)
}

// rebuild concatenates the pages returned by f for every page of the stream.
func (s *testStream) rebuild(f func(i int, page []byte) []byte) []byte {
	var out []byte
	for i := range s.pages {
		out = append(out, f(i, s.page(i))...)
	}
	return out
}

func makePage(flags uint8, granule uint64, seq uint32, segs []uint8, body []byte) []byte {
	h := PageHeader{Flags: flags, Granule: granule, Serial: testSerial, Sequence: seq, Segments: segs}
	p := make([]byte, h.HeaderSize(), h.HeaderSize()+len(body))
	h.marshalBinaryInline(p)
	p = append(p, body...)
	binary.LittleEndian.PutUint32(p[crcOffset:], pageChecksum(p))
	return p
}

func fixChecksum(page []byte) []byte {
	binary.LittleEndian.PutUint32(page[crcOffset:], pageChecksum(page))
	return page
}

// testDriver feeds a Decoder from memory, following its seek requests.
type testDriver struct {
	t     testing.TB
	d     *Decoder
	src   []byte
	off   int64
	chunk int
	eof   bool

	seeks    []int64
	warnings []error
}

func newTestDriver(t testing.TB, src []byte, chunk int, opts ...ROption) *testDriver {
	d, err := NewDecoder(opts...)
	require.NoError(t, err)
	return &testDriver{t: t, d: d, src: src, chunk: chunk}
}

func (dr *testDriver) next() Status {
	for {
		st := dr.d.Decode()
		switch st {
		case StatusMore:
			require.False(dr.t, dr.eof, "more input requested after EOF")
			if dr.off >= int64(len(dr.src)) {
				dr.d.EOF()
				dr.eof = true
				continue
			}
			end := min(dr.off+int64(dr.chunk), int64(len(dr.src)))
			dr.d.Feed(dr.src[dr.off:end])
			dr.off = end
		case StatusSeek:
			dr.off = dr.d.Offset()
			dr.eof = false
			dr.seeks = append(dr.seeks, dr.off)
		case StatusWarning:
			dr.warnings = append(dr.warnings, dr.d.Err())
		default:
			return st
		}
	}
}

// until skips statuses until want or a terminal one.
func (dr *testDriver) until(want Status) Status {
	for {
		st := dr.next()
		if st == want || st == StatusDone || st == StatusError {
			return st
		}
	}
}

// packets returns copies of every remaining packet and the terminal status.
func (dr *testDriver) packets() ([][]byte, Status) {
	var out [][]byte
	for {
		switch st := dr.next(); st {
		case StatusPacket:
			out = append(out, append([]byte(nil), dr.d.Packet().Data...))
		case StatusDone, StatusError:
			return out, st
		}
	}
}

// testCodec decodes packets made by testPacket into silence.
type testCodec struct {
	channels int
	headers  int
	resets   int
}

func (c *testCodec) Init(p []byte) error {
	c.headers++
	if c.headers == 1 {
		var info Info
		if err := info.UnmarshalBinary(p); err != nil {
			return err
		}
		c.channels = int(info.Channels)
	}
	return nil
}

func (c *testCodec) Decode(p []byte) ([]float32, error) {
	if len(p) < 2 {
		return nil, errors.New("short packet")
	}
	return make([]float32, packetSamples(p)*c.channels), nil
}

func (c *testCodec) Channels() int { return c.channels }
func (c *testCodec) Reset()        { c.resets++ }

// testEncoder emits a packet of a fixed number of samples per channel.
type testEncoder struct {
	channels uint8
	frame    int
	size     int

	rng     *rand.Rand
	queue   []float32
	granule uint64
	closing bool
	done    bool
}

func newTestEncoder(channels uint8, frame, size int) *testEncoder {
	return &testEncoder{channels: channels, frame: frame, size: size, rng: rand.New(rand.NewSource(1))}
}

func (e *testEncoder) Headers() ([]byte, []byte, error) {
	return testInfo(e.channels), testSetup, nil
}

func (e *testEncoder) Encode(pcm []float32) error {
	if e.closing {
		return errors.New("input after the end")
	}
	if pcm == nil {
		e.closing = true
		return nil
	}
	e.queue = append(e.queue, pcm...)
	return nil
}

func (e *testEncoder) Packet() (*Packet, error) {
	if e.done {
		return nil, nil
	}
	per := e.frame * int(e.channels)
	if len(e.queue) < per && !(e.closing && len(e.queue) > 0) {
		if e.closing {
			e.done = true
			return &Packet{Data: testPacket(e.rng, 0, 2), Granule: e.granule, EOS: true}, nil
		}
		return nil, nil
	}

	k := min(per, len(e.queue))
	e.queue = e.queue[k:]
	samples := k / int(e.channels)
	e.granule += uint64(samples)
	p := &Packet{Data: testPacket(e.rng, samples, e.size), Granule: e.granule}
	if e.closing && len(e.queue) == 0 {
		p.EOS = true
		e.done = true
	}
	return p, nil
}
