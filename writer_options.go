package ogg

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/SaveTheRbtz/ogg-seekable-format-go/env"
)

const (
	defaultMaxPageSize = 8 << 10
	defaultMinTagSize  = 1000
	defaultVendor      = "ogg-seekable-format-go"
)

type WOption func(*writerOptions) error

type writerOptions struct {
	logger *zap.Logger
	env    env.WEnvironment

	serial      uint32
	maxPageSize int
	minTagSize  int
	vendor      string
}

func (o *writerOptions) setDefault() {
	*o = writerOptions{
		logger:      zap.NewNop(),
		maxPageSize: defaultMaxPageSize,
		minTagSize:  defaultMinTagSize,
		vendor:      defaultVendor,
	}
}

func WithWLogger(l *zap.Logger) WOption {
	return func(o *writerOptions) error { o.logger = l; return nil }
}

func WithWEnvironment(env env.WEnvironment) WOption {
	return func(o *writerOptions) error { o.env = env; return nil }
}

func WithSerial(serial uint32) WOption {
	return func(o *writerOptions) error { o.serial = serial; return nil }
}

// WithMaxPageSize sets the size after which audio pages are flushed.
// Values above the format limit are clamped.
func WithMaxPageSize(n int) WOption {
	return func(o *writerOptions) error {
		if n < MaxHeaderSize {
			return fmt.Errorf("max page size %d is smaller than a page header (%d)", n, MaxHeaderSize)
		}
		if n > MaxPageSize-MaxHeaderSize {
			n = MaxPageSize - MaxHeaderSize
		}
		o.maxPageSize = n
		return nil
	}
}

// WithMinTagSize reserves at least n bytes for tags in the comment packet.
func WithMinTagSize(n int) WOption {
	return func(o *writerOptions) error {
		if n < 0 {
			return fmt.Errorf("min tag size can't be negative: %d", n)
		}
		o.minTagSize = n
		return nil
	}
}

func WithVendor(vendor string) WOption {
	return func(o *writerOptions) error { o.vendor = vendor; return nil }
}
