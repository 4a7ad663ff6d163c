package ogg

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/google/btree"
	"go.uber.org/zap"

	"github.com/SaveTheRbtz/ogg-seekable-format-go/comment"
	"github.com/SaveTheRbtz/ogg-seekable-format-go/env"
)

// Status is the outcome of a single Decode or Encode call.
type Status int

const (
	// StatusMore asks for more input: Feed the bytes that follow the previous ones.
	StatusMore Status = iota
	// StatusSeek asks to reposition the input to Offset and Feed from there.
	StatusSeek
	// StatusHeader is returned once the identification packet is parsed, see Info.
	StatusHeader
	// StatusTag is returned for every entry of the comment packet, see Tag.
	StatusTag
	// StatusHeaderDone is returned when the first audio page is found.
	StatusHeaderDone
	// StatusInfo is returned when the duration bootstrap finished, see TotalSamples.
	StatusInfo
	// StatusPacket is returned for every audio packet when there is no codec, see Packet.
	StatusPacket
	// StatusData is returned when the codec produced samples, see PCM.
	StatusData
	// StatusPage is returned for every page in pass-through mode, see Page.
	StatusPage
	// StatusWarning reports a recoverable problem, see Err.  Decoding may continue.
	StatusWarning
	// StatusDone is returned after the last page.
	StatusDone
	// StatusError reports a fatal problem, see Err.  Seek errors are only fatal for the seek.
	StatusError

	statusContinue Status = -1
)

var statusNames = [...]string{
	"more", "seek", "header", "tag", "header done", "info",
	"packet", "data", "page", "warning", "done", "error",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

type decoderState int

const (
	stateHeader decoderState = iota
	stateVerify
	stateAccept
	stateDeliver
	statePacket
	stateTags
	stateBootstrap
	stateBootScan
	stateBootResume
	stateSeekDirect
	stateSeekProbe
	stateSeekPage
	stateSeekRecover
	stateEnd
	stateFailed
)

type decoderPhase int

const (
	phaseInfo decoderPhase = iota
	phaseComment
	phaseSetup
	phaseFirstAudio
	phaseStreaming
)

// Decoder is a push-style demuxer for a single logical stream.
//
// The host calls Decode until it returns StatusMore or StatusSeek, supplies input with Feed
// (and EOF at the end) and calls Decode again.  A Decoder must not be used concurrently.
type Decoder struct {
	o      readerOptions
	logger *zap.Logger

	state decoderState
	phase decoderPhase

	// buf[pos:] holds unconsumed input starting at the absolute offset off
	buf    []byte
	pos    int
	off    int64
	eof    bool
	target int64

	hdr      PageHeader
	hdrReady bool
	page     []byte
	pageOff  int64
	body     []byte
	cur      segmentCursor
	lastEnd  int
	skipPage bool

	partial []byte
	pkt     Packet
	pktNo   uint64
	pcm     []float32
	tag     comment.Tag
	comment []byte

	serial      uint32
	serialKnown bool
	seq         uint32
	seqKnown    bool
	headerSeq   uint32

	info          Info
	offData       int64
	firstSample   uint64
	curSample     uint64
	nextSample    uint64
	totalSamples  uint64
	durationKnown bool

	seekLo, seekHi env.SeekPoint
	index          *btree.BTreeG[env.SeekPoint]
	bracket        *seekBracket
	scanFrom       int64
	bootLast       env.SeekPoint
	bootFound      bool

	junk   int64
	noSync int64
	resync bool

	warnings int
	err      error
	stats    Stats
}

func NewDecoder(opts ...ROption) (*Decoder, error) {
	d := Decoder{}

	d.o.setDefault()
	for _, o := range opts {
		err := o(&d.o)
		if err != nil {
			return nil, err
		}
	}

	d.logger = d.o.logger
	d.index = btree.NewG(8, env.Less)
	return &d, nil
}

// Feed appends input.  Data returned by previous calls may be invalidated.
func (d *Decoder) Feed(p []byte) {
	if d.pos > 0 {
		n := copy(d.buf, d.buf[d.pos:])
		d.buf = d.buf[:n]
		d.pos = 0
	}
	d.buf = append(d.buf, p...)
}

// EOF marks the end of input.  It is cleared by every StatusSeek.
func (d *Decoder) EOF() {
	d.eof = true
}

// Decode advances the state machine until it has something to report.
func (d *Decoder) Decode() Status {
	for {
		if st := d.step(); st != statusContinue {
			return st
		}
	}
}

func (d *Decoder) step() Status {
	switch d.state {
	case stateHeader:
		return d.stepHeader()
	case stateVerify:
		return d.stepVerify()
	case stateAccept:
		return d.stepAccept()
	case stateDeliver:
		return d.stepDeliver()
	case statePacket:
		return d.stepPacket()
	case stateTags:
		return d.stepTags()
	case stateBootstrap:
		return d.stepBootstrap()
	case stateBootScan:
		return d.stepBootScan()
	case stateBootResume:
		return d.stepBootResume()
	case stateSeekDirect:
		d.resetStream(d.seekLo.Sample)
		d.state = stateHeader
		return d.seekTo(d.offData + d.seekLo.Offset)
	case stateSeekProbe:
		return d.stepSeekProbe()
	case stateSeekPage:
		return d.stepSeekPage()
	case stateSeekRecover:
		lo := d.bracket.lo
		d.resetStream(lo.Sample)
		d.state = stateHeader
		return d.seekTo(d.offData + lo.Offset)
	case stateEnd:
		return StatusDone
	case stateFailed:
		return StatusError
	}
	return d.fail(fmt.Errorf("unknown decoder state %d", d.state))
}

func (d *Decoder) warn(err error) Status {
	d.err = err
	d.warnings++
	d.stats.Warnings.Inc()
	if d.o.maxWarnings > 0 && d.warnings > d.o.maxWarnings {
		return d.fail(fmt.Errorf("too many warnings (%d): %w", d.warnings, err))
	}
	return StatusWarning
}

func (d *Decoder) fail(err error) Status {
	d.err = err
	d.state = stateFailed
	return StatusError
}

func (d *Decoder) seekTo(off int64) Status {
	d.buf = d.buf[:0]
	d.pos = 0
	d.off = off
	d.eof = false
	d.hdrReady = false
	d.junk = 0
	d.target = off
	return StatusSeek
}

func (d *Decoder) skip(n int, quiet bool) {
	d.pos += n
	d.off += int64(n)
	d.stats.SkippedBytes.Add(uint64(n))
	if quiet {
		return
	}
	d.noSync += int64(n)
	if !d.resync {
		d.junk += int64(n)
	}
}

func (d *Decoder) consumePage() {
	d.pos += len(d.page)
	d.off += int64(len(d.page))
	d.hdrReady = false
}

// gatherPage finds the next page in the input and copies it into d.page.
// The header is parsed first and trusted only once its whole segment table is buffered.
func (d *Decoder) gatherPage(quiet bool) (bool, Status) {
	for !d.hdrReady {
		win := d.buf[d.pos:]
		i, full := syncIndex(win)
		if i > 0 {
			d.skip(i, quiet)
			if !quiet && d.noSync > int64(d.o.maxNoSync) {
				return false, d.fail(fmt.Errorf("%w: skipped %d bytes before offset %d", ErrNoSync, d.noSync, d.off))
			}
			win = win[i:]
		}
		if !full || len(win) < headerSize {
			return false, StatusMore
		}
		hs := headerSize + int(win[26])
		if len(win) < hs {
			return false, StatusMore
		}
		if err := d.hdr.UnmarshalBinary(win[:hs]); err != nil {
			d.skip(1, quiet)
			continue
		}
		d.hdrReady = true
	}

	size := d.hdr.Size()
	win := d.buf[d.pos:]
	if len(win) < size {
		return false, StatusMore
	}
	d.page = append(d.page[:0], win[:size]...)
	d.pageOff = d.off
	return true, statusContinue
}

func (d *Decoder) checkPage() error {
	h := &d.hdr
	if crc := pageChecksum(d.page); crc != h.Checksum {
		return fmt.Errorf("%w: page %d at offset %d: %#08x vs %#08x", ErrCRC, h.Sequence, d.pageOff, crc, h.Checksum)
	}
	if h.Version != 0 {
		return fmt.Errorf("%w: %d at offset %d", ErrVersion, h.Version, d.pageOff)
	}
	if d.serialKnown && h.Serial != d.serial {
		return fmt.Errorf("%w: %#x vs %#x at offset %d", ErrSerial, h.Serial, d.serial, d.pageOff)
	}
	return nil
}

func (d *Decoder) stepHeader() Status {
	found, st := d.gatherPage(false)
	if !found {
		if st == StatusMore && d.eof {
			return d.endOfInput()
		}
		return st
	}

	d.state = stateVerify
	if d.junk > 0 {
		n := d.junk
		d.junk = 0
		return d.warn(fmt.Errorf("%w: %d bytes before offset %d", ErrJunkData, n, d.pageOff))
	}
	return statusContinue
}

func (d *Decoder) endOfInput() Status {
	if d.phase < phaseFirstAudio {
		return d.fail(fmt.Errorf("%w: stream ended before the headers", io.ErrUnexpectedEOF))
	}
	d.finish()
	d.state = stateEnd
	return d.warn(fmt.Errorf("%w: stream ended without the last page at offset %d", io.ErrUnexpectedEOF, d.off))
}

func (d *Decoder) finish() {
	if !d.durationKnown {
		d.totalSamples = d.nextSample
		d.durationKnown = true
	}
}

func (d *Decoder) stepVerify() Status {
	if err := d.checkPage(); err != nil {
		if d.phase < phaseFirstAudio {
			return d.fail(err)
		}
		if errors.Is(err, ErrCRC) {
			// the magic may have been a false match, rescan from the next byte
			d.resync = true
			d.hdrReady = false
			d.skip(1, false)
		} else {
			d.consumePage()
		}
		d.state = stateHeader
		return d.warn(err)
	}
	d.consumePage()

	h := &d.hdr
	if !d.serialKnown {
		if !h.First() {
			return d.fail(fmt.Errorf("%w: first page at offset %d has no BOS flag", ErrBadHeader, d.pageOff))
		}
		d.serial, d.serialKnown = h.Serial, true
	}

	want := d.seq + 1
	gap := d.seqKnown && h.Sequence != want && d.phase != phaseFirstAudio
	d.seq, d.seqKnown = h.Sequence, true
	d.noSync, d.resync = 0, false

	d.state = stateAccept
	if gap {
		// a packet never skips a page
		d.partial = d.partial[:0]
		return d.warn(fmt.Errorf("%w: expected %d, got %d at offset %d", ErrPageNumber, want, h.Sequence, d.pageOff))
	}
	return statusContinue
}

func (d *Decoder) stepAccept() Status {
	h := &d.hdr
	size := int64(len(d.page))
	d.body = d.page[h.HeaderSize():]
	d.cur = segmentCursor{}
	d.lastEnd = lastPacketEnd(h.Segments)
	d.skipPage = false
	d.stats.Pages.Inc()
	d.logger.Debug("page", zap.Int64("offset", d.pageOff), zap.Object("header", h))

	if d.phase == phaseFirstAudio {
		d.partial = d.partial[:0]
	}
	var warning error
	if h.Continued() {
		if len(d.partial) == 0 {
			// tail of a packet we never saw the start of
			nextPacket(h.Segments, d.body, &d.cur)
		}
	} else if len(d.partial) > 0 {
		warning = fmt.Errorf("%w: packet %d is not continued at offset %d", ErrBadPacket, d.pktNo, d.pageOff)
		d.partial = d.partial[:0]
	}

	st := statusContinue
	d.state = stateDeliver
	switch d.phase {
	case phaseFirstAudio:
		d.phase = phaseStreaming
		d.seekLo = env.SeekPoint{}
		if h.Sequence != d.headerSeq+1 && h.Granule != GranuleUnset {
			// the stream was cut: positions start at the end of this page
			d.firstSample = h.Granule
			d.seekLo.Offset = d.pageOff + size - d.offData
			d.skipPage = true
			d.logger.Debug("stream starts mid-way",
				zap.Uint32("expected", d.headerSeq+1), zap.Uint32("sequence", h.Sequence),
				zap.Uint64("granule", h.Granule))
		}
		d.index.ReplaceOrInsert(d.seekLo)
		if !d.skipPage {
			d.trackGranule(size)
		}
		if d.o.totalSize > 0 {
			d.state = stateBootstrap
		}
		d.logger.Debug("first audio page",
			zap.Int64("offset", d.pageOff), zap.Uint64("firstSample", d.firstSample))
		st = StatusHeaderDone
	case phaseStreaming:
		d.trackGranule(size)
	}

	if warning != nil {
		return d.warn(warning)
	}
	return st
}

func (d *Decoder) trackGranule(size int64) {
	d.curSample = d.nextSample
	g := d.hdr.Granule
	if g == GranuleUnset || g < d.firstSample {
		return
	}
	d.nextSample = g - d.firstSample
	d.index.ReplaceOrInsert(env.SeekPoint{Offset: d.pageOff + size - d.offData, Sample: d.nextSample})
}

func (d *Decoder) stepDeliver() Status {
	switch {
	case d.skipPage:
		d.state = d.pageDone()
		return statusContinue
	case d.o.asIs:
		if d.phase == phaseStreaming {
			d.state = d.pageDone()
		} else {
			d.state = statePacket
		}
		return StatusPage
	}
	d.state = statePacket
	return statusContinue
}

func (d *Decoder) pageDone() decoderState {
	if d.hdr.Last() && d.phase == phaseStreaming {
		d.finish()
		return stateEnd
	}
	return stateHeader
}

func (d *Decoder) stepPacket() Status {
	data, ps := nextPacket(d.hdr.Segments, d.body, &d.cur)
	switch ps {
	case packetNone:
		d.state = d.pageDone()
		return statusContinue
	case packetContinued:
		if len(d.partial)+len(data) > d.o.maxPacketSize {
			return d.fail(fmt.Errorf("%w: packet %d exceeds %d bytes", ErrPacketTooLarge, d.pktNo, d.o.maxPacketSize))
		}
		d.partial = append(d.partial, data...)
		d.state = d.pageDone()
		return statusContinue
	}

	if len(d.partial) > 0 {
		if len(d.partial)+len(data) > d.o.maxPacketSize {
			return d.fail(fmt.Errorf("%w: packet %d exceeds %d bytes", ErrPacketTooLarge, d.pktNo, d.o.maxPacketSize))
		}
		d.partial = append(d.partial, data...)
		data = d.partial
		d.partial = d.partial[:0]
	}

	d.pkt = Packet{Data: data, Number: d.pktNo, Granule: GranuleUnset, BOS: d.pktNo == 0}
	if d.cur.seg == d.lastEnd {
		d.pkt.Granule = d.hdr.Granule
		d.pkt.EOS = d.hdr.Last()
	}
	d.pktNo++
	d.stats.Packets.Inc()
	return d.dispatch()
}

func (d *Decoder) initCodec(header []byte) error {
	if d.o.codec == nil {
		return nil
	}
	if err := d.o.codec.Init(header); err != nil {
		return fmt.Errorf("%w: %w", ErrCodec, err)
	}
	return nil
}

func (d *Decoder) dispatch() Status {
	switch d.phase {
	case phaseInfo:
		if err := d.info.UnmarshalBinary(d.pkt.Data); err != nil {
			return d.fail(err)
		}
		if err := d.initCodec(d.pkt.Data); err != nil {
			return d.fail(err)
		}
		d.phase = phaseComment
		d.logger.Debug("identification header", zap.Object("info", &d.info))
		return StatusHeader
	case phaseComment:
		d.comment = append(d.comment[:0], d.pkt.Data...)
		blob, err := commentBody(d.comment)
		if err != nil {
			return d.fail(err)
		}
		d.o.tags.Reset(blob)
		d.state = stateTags
		return statusContinue
	case phaseSetup:
		if err := d.initCodec(d.pkt.Data); err != nil {
			return d.fail(err)
		}
		d.offData = d.pageOff + int64(len(d.page))
		d.headerSeq = d.seq
		d.phase = phaseFirstAudio
		return statusContinue
	case phaseFirstAudio:
		// audio sharing the last header page can not be positioned
		return statusContinue
	}

	if d.o.codec == nil {
		return StatusPacket
	}
	pcm, err := d.o.codec.Decode(d.pkt.Data)
	if err != nil {
		return d.warn(fmt.Errorf("%w: packet %d: %w", ErrCodec, d.pkt.Number, err))
	}
	if len(pcm) == 0 {
		return statusContinue
	}
	d.pcm = pcm
	return StatusData
}

func (d *Decoder) stepTags() Status {
	tag, err := d.o.tags.Next()
	if errors.Is(err, io.EOF) {
		if rest := d.o.tags.Rest(); len(rest) == 0 || rest[0] != 1 {
			return d.fail(fmt.Errorf("%w: missing framing bit", ErrTags))
		}
		if err := d.initCodec(d.comment); err != nil {
			return d.fail(err)
		}
		d.phase = phaseSetup
		d.state = statePacket
		return statusContinue
	}
	if err != nil {
		return d.fail(fmt.Errorf("%w: %w", ErrTags, err))
	}
	d.tag = tag
	return StatusTag
}

func (d *Decoder) stepBootstrap() Status {
	start := d.o.totalSize - d.o.seekWindow
	if start < d.offData {
		start = d.offData
	}
	d.bootFound = false
	d.state = stateBootScan
	d.logger.Debug("looking for the last page", zap.Int64("offset", start))
	return d.seekTo(start)
}

func (d *Decoder) stepBootScan() Status {
	found, st := d.gatherPage(true)
	if !found {
		if st == StatusMore && d.eof {
			return d.finishBootstrap()
		}
		return st
	}
	if d.checkPage() != nil {
		d.hdrReady = false
		d.skip(1, true)
		return statusContinue
	}
	d.consumePage()

	h := &d.hdr
	if h.Granule != GranuleUnset && h.Granule >= d.firstSample {
		d.bootLast = env.SeekPoint{Offset: d.off - d.offData, Sample: h.Granule - d.firstSample}
		d.bootFound = true
	}
	if h.Last() {
		return d.finishBootstrap()
	}
	return statusContinue
}

func (d *Decoder) finishBootstrap() Status {
	if d.bootFound {
		d.totalSamples, d.durationKnown = d.bootLast.Sample, true
		d.seekHi = d.bootLast
		d.index.ReplaceOrInsert(d.seekHi)
	}
	d.logger.Debug("duration", zap.Bool("found", d.bootFound), zap.Object("last", d.seekHi))
	d.state = stateBootResume
	return StatusInfo
}

func (d *Decoder) stepBootResume() Status {
	d.state = stateSeekDirect
	if d.o.asIs && d.o.asIsFrom > 0 {
		d.startSeek(d.o.asIsFrom)
	}
	return statusContinue
}

func (d *Decoder) resetStream(sample uint64) {
	d.seqKnown = false
	d.partial = d.partial[:0]
	d.curSample, d.nextSample = sample, sample
	d.bracket = nil
	if d.o.codec != nil {
		d.o.codec.Reset()
	}
}

// Seek starts positioning the stream at the page containing sample.
// Sample 0 jumps straight to the first audio page, samples past the end are ignored.
// It requires a known total size and is ignored before StatusHeaderDone.
func (d *Decoder) Seek(sample uint64) {
	switch d.state {
	case stateFailed, stateBootstrap, stateBootScan:
		return
	}
	if d.phase != phaseStreaming || d.o.totalSize <= 0 {
		d.logger.Debug("seek ignored", zap.Uint64("sample", sample))
		return
	}
	d.startSeek(sample)
}

func (d *Decoder) startSeek(sample uint64) {
	if sample == 0 {
		d.state = stateSeekDirect
		return
	}
	if !d.durationKnown || sample >= d.totalSamples {
		d.logger.Debug("seek past the end", zap.Uint64("sample", sample), zap.Uint64("total", d.totalSamples))
		return
	}

	lo, hi := d.seekLo, d.seekHi
	d.index.DescendLessOrEqual(env.SeekPoint{Sample: sample, Offset: math.MaxInt64}, func(p env.SeekPoint) bool {
		lo = p
		return false
	})
	d.index.AscendGreaterOrEqual(env.SeekPoint{Sample: sample + 1}, func(p env.SeekPoint) bool {
		hi = p
		return false
	})
	d.bracket = newSeekBracket(sample, lo, hi, d.o.seekMode, d.o.seekWindow)
	d.state = stateSeekProbe
}

// Seeking reports whether a seek is in progress.
func (d *Decoder) Seeking() bool {
	switch d.state {
	case stateSeekDirect, stateSeekProbe, stateSeekPage, stateSeekRecover:
		return true
	}
	return false
}

func (d *Decoder) seekFailed(err error) Status {
	d.logger.Debug("seek failed", zap.Error(err), zap.Object("bracket", d.bracket))
	d.err = err
	d.state = stateSeekRecover
	return StatusError
}

func (d *Decoder) seekLanded() Status {
	b := d.bracket
	d.logger.Debug("seek found", zap.Int64("offset", b.lo.Offset), zap.Object("bracket", b))
	d.resetStream(b.lo.Sample)
	d.state = stateHeader
	return d.seekTo(d.offData + b.lo.Offset)
}

func (d *Decoder) stepSeekProbe() Status {
	if d.bracket.landed() {
		return d.seekLanded()
	}
	x, err := d.bracket.next()
	if err != nil {
		return d.seekFailed(err)
	}
	d.stats.SeekProbes.Inc()
	d.logger.Debug("seek probe", zap.Int64("offset", x), zap.Object("bracket", d.bracket))

	d.scanFrom = x
	d.state = stateSeekPage
	return d.seekTo(d.offData + x)
}

func (d *Decoder) stepSeekPage() Status {
	b := d.bracket
	found, st := d.gatherPage(true)
	if !found {
		if st != StatusMore {
			return st
		}
		if d.eof || d.off-d.offData >= b.hi.Offset {
			b.outside(d.scanFrom)
			d.state = stateSeekProbe
			return statusContinue
		}
		return StatusMore
	}

	start := d.pageOff - d.offData
	if start >= b.hi.Offset {
		b.outside(d.scanFrom)
		d.state = stateSeekProbe
		return statusContinue
	}
	if d.checkPage() != nil {
		d.hdrReady = false
		d.skip(1, true)
		return statusContinue
	}
	d.consumePage()

	end := d.off - d.offData
	g := d.hdr.Granule
	set := g != GranuleUnset && g >= d.firstSample
	var sample uint64
	if set {
		sample = g - d.firstSample
		d.index.ReplaceOrInsert(env.SeekPoint{Offset: end, Sample: sample})
	}

	switch b.update(start, end, sample, set) {
	case seekFound:
		return d.seekLanded()
	case seekProbe:
		d.state = stateSeekProbe
	}
	d.scanFrom = end
	return statusContinue
}

// Offset returns the absolute input offset requested by StatusSeek.
func (d *Decoder) Offset() int64 { return d.target }

// PageOffset returns the absolute offset of the current page.
func (d *Decoder) PageOffset() int64 { return d.pageOff }

// DataOffset returns the absolute offset of the first audio page.
func (d *Decoder) DataOffset() int64 { return d.offData }

// Err returns the error behind the last StatusWarning or StatusError.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) Info() Info { return d.info }

func (d *Decoder) Tag() comment.Tag { return d.tag }

// Packet returns the packet of the last StatusPacket.  Its data is valid until the next Decode.
func (d *Decoder) Packet() *Packet { return &d.pkt }

// PCM returns the interleaved samples of the last StatusData.
func (d *Decoder) PCM() []float32 { return d.pcm }

// Page returns the raw page of the last StatusPage.
func (d *Decoder) Page() []byte { return d.page }

// CurrentSample returns the index of the first sample of the current page.
func (d *Decoder) CurrentSample() uint64 { return d.curSample }

// TotalSamples returns the stream duration in samples, or 0 while it is unknown.
func (d *Decoder) TotalSamples() uint64 {
	if !d.durationKnown {
		return 0
	}
	return d.totalSamples
}

// Bitrate returns the average bitrate once the duration is known, the nominal one otherwise.
func (d *Decoder) Bitrate() uint64 {
	if d.durationKnown && d.totalSamples > 0 && d.o.totalSize > d.offData {
		return uint64(d.o.totalSize-d.offData) * 8 * uint64(d.info.SampleRate) / d.totalSamples
	}
	return uint64(d.info.BitrateNominal)
}

func (d *Decoder) Stats() *Stats { return &d.stats }
