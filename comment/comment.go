// Package comment reads and writes the tag blob carried by the Vorbis comment packet.
//
// The blob is a vendor string followed by a list of "NAME=value" entries,
// every string prefixed by its little-endian 32-bit length.
package comment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap/zapcore"
)

var (
	ErrTruncated    = errors.New("comment: truncated block")
	ErrNoSeparator  = errors.New("comment: entry without '='")
	ErrInvalidCount = errors.New("comment: entry count exceeds block size")
)

// Tag is a single name/value pair.  The vendor string is reported as a Tag with an empty Name.
type Tag struct {
	Name  string
	Value string
}

// IsVendor reports whether the tag holds the vendor string.
func (t Tag) IsVendor() bool {
	return t.Name == ""
}

func (t Tag) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("Name", t.Name)
	enc.AddString("Value", t.Value)

	return nil
}

// Parser walks a tag blob one entry at a time.
type Parser struct {
	blob    []byte
	off     int
	left    uint32
	started bool
}

func NewParser() *Parser {
	return &Parser{}
}

// Reset starts parsing a new blob.  The blob is not copied.
func (p *Parser) Reset(blob []byte) {
	*p = Parser{blob: blob}
}

func (p *Parser) readString() (string, error) {
	if len(p.blob)-p.off < 4 {
		return "", fmt.Errorf("%w: length at %d", ErrTruncated, p.off)
	}
	n := binary.LittleEndian.Uint32(p.blob[p.off:])
	p.off += 4
	if uint64(n) > uint64(len(p.blob)-p.off) {
		return "", fmt.Errorf("%w: string of %d bytes at %d", ErrTruncated, n, p.off)
	}
	s := string(p.blob[p.off : p.off+int(n)])
	p.off += int(n)
	return s, nil
}

// Next returns the next tag.  The first call returns the vendor string.
// io.EOF is returned after the last entry.
func (p *Parser) Next() (Tag, error) {
	if !p.started {
		vendor, err := p.readString()
		if err != nil {
			return Tag{}, err
		}
		if len(p.blob)-p.off < 4 {
			return Tag{}, fmt.Errorf("%w: entry count", ErrTruncated)
		}
		p.left = binary.LittleEndian.Uint32(p.blob[p.off:])
		p.off += 4
		// every entry takes at least its length prefix
		if uint64(p.left)*4 > uint64(len(p.blob)-p.off) {
			return Tag{}, fmt.Errorf("%w: %d entries", ErrInvalidCount, p.left)
		}
		p.started = true
		return Tag{Value: vendor}, nil
	}

	if p.left == 0 {
		return Tag{}, io.EOF
	}
	entry, err := p.readString()
	if err != nil {
		return Tag{}, err
	}
	p.left--

	name, value, ok := strings.Cut(entry, "=")
	if !ok || name == "" {
		return Tag{}, fmt.Errorf("%w: %q", ErrNoSeparator, entry)
	}
	return Tag{Name: name, Value: value}, nil
}

// Rest returns the bytes following the entries that were parsed so far.
func (p *Parser) Rest() []byte {
	return p.blob[p.off:]
}

// Parse returns all tags of a blob, vendor first.
func Parse(blob []byte) ([]Tag, error) {
	var (
		p    Parser
		tags []Tag
	)
	p.Reset(blob)
	for {
		t, err := p.Next()
		if errors.Is(err, io.EOF) {
			return tags, nil
		}
		if err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
}

// Builder serializes a tag blob.
type Builder struct {
	vendor string
	tags   []Tag
}

func NewBuilder(vendor string) *Builder {
	return &Builder{vendor: vendor}
}

// Add appends an entry.  Names are stored upper-cased as is conventional.
func (b *Builder) Add(name, value string) error {
	if name == "" || strings.ContainsAny(name, "=~") {
		return fmt.Errorf("comment: invalid tag name %q", name)
	}
	b.tags = append(b.tags, Tag{Name: strings.ToUpper(name), Value: value})
	return nil
}

// Len returns the number of entries excluding the vendor.
func (b *Builder) Len() int {
	return len(b.tags)
}

func (b *Builder) Bytes() []byte {
	size := 4 + len(b.vendor) + 4
	for _, t := range b.tags {
		size += 4 + len(t.Name) + 1 + len(t.Value)
	}

	dst := make([]byte, 0, size)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(b.vendor)))
	dst = append(dst, b.vendor...)
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(b.tags)))
	for _, t := range b.tags {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(len(t.Name)+1+len(t.Value)))
		dst = append(dst, t.Name...)
		dst = append(dst, '=')
		dst = append(dst, t.Value...)
	}
	return dst
}
