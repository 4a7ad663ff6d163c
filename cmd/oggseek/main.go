package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"runtime"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	ogg "github.com/SaveTheRbtz/ogg-seekable-format-go"
	"github.com/SaveTheRbtz/ogg-seekable-format-go/codec"
)

type streamReader struct {
	io.Reader
}

type summary struct {
	packets uint64
	samples uint64
	digest  uint64
	warns   error
}

func inspect(logger *zap.Logger, name string, compressed, decode bool) (*summary, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var input io.Reader = f
	if compressed {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decompressor: %w", err)
		}
		defer dec.Close()
		// hide Seek so the stream is read front to back
		input = streamReader{dec}
	}

	opts := []ogg.ROption{ogg.WithRLogger(logger)}
	if decode {
		opts = append(opts, ogg.WithCodec(codec.NewVorbisDecoder()))
	}
	r, err := ogg.NewReader(input, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to read headers: %w", err)
	}
	defer r.Close()

	s := summary{}
	h := xxhash.New()
	if decode {
		buf := make([]float32, 16<<10)
		for {
			n, err := r.ReadSamples(buf)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to decode: %w", err)
			}
			s.samples += uint64(n)
		}
		s.samples /= uint64(r.Info().Channels)
	} else {
		for {
			p, err := r.ReadPacket()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to read packet: %w", err)
			}
			_, _ = h.Write(p.Data)
			s.packets++
		}
	}
	s.digest = h.Sum64()
	s.warns = r.Warnings()

	info := r.Info()
	for _, t := range r.Tags() {
		logger.Debug("tag", zap.String("file", name), zap.Object("tag", t))
	}
	logger.Info("stream",
		zap.String("file", name),
		zap.Object("info", &info),
		zap.Uint64("totalSamples", r.TotalSamples()),
		zap.Uint64("bitrate", r.Bitrate()),
		zap.Uint64("packets", s.packets),
		zap.Uint64("decodedSamples", s.samples),
		zap.Uint64("digest", s.digest),
		zap.Object("stats", r.Stats()),
		zap.Error(s.warns))
	return &s, nil
}

func cut(logger *zap.Logger, input, output string, from uint64, serial int64) error {
	in, err := os.Open(input)
	if err != nil {
		return err
	}
	defer in.Close()
	st, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(output, os.O_TRUNC|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer out.Close()

	r, err := ogg.NewReader(in, ogg.WithRLogger(logger), ogg.WithAsIs(from))
	if err != nil {
		return fmt.Errorf("failed to read headers: %w", err)
	}
	defer r.Close()
	if from > 0 && r.TotalSamples() == 0 {
		logger.Warn("duration is unknown, copying the whole stream")
	}

	bar := progressbar.DefaultBytes(st.Size(), "cutting")
	for {
		page, err := r.ReadPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read page: %w", err)
		}
		if serial >= 0 {
			hdr, err := ogg.ParsePage(page)
			if err != nil {
				return err
			}
			if err := ogg.RewritePage(page, uint32(serial), hdr.Sequence); err != nil {
				return err
			}
		}
		if _, err := out.Write(page); err != nil {
			return fmt.Errorf("failed to write page: %w", err)
		}
		_ = bar.Add(len(page))
	}
	_ = bar.Finish()

	logger.Info("cut done", zap.Uint64("from", from), zap.Error(r.Warnings()))
	return out.Sync()
}

func main() {
	var (
		outputFlag                                   string
		seekFlag                                     uint64
		serialFlag                                   int64
		jobsFlag                                     int
		verifyFlag, verboseFlag, zstdFlag, decodeFlag bool
	)

	flag.StringVar(&outputFlag, "o", "", "output filename, writes the input starting at -seek")
	flag.Uint64Var(&seekFlag, "seek", 0, "first sample of the output")
	flag.Int64Var(&serialFlag, "serial", -1, "serial number of the output stream (-1 keeps the input one)")
	flag.BoolVar(&verifyFlag, "t", false, "test reading after the write")
	flag.BoolVar(&zstdFlag, "z", false, "inputs are zstd compressed")
	flag.BoolVar(&decodeFlag, "decode", false, "decode audio with the Vorbis codec")
	flag.IntVar(&jobsFlag, "j", runtime.GOMAXPROCS(0), "number of inputs inspected concurrently")
	flag.BoolVar(&verboseFlag, "v", false, "be verbose")

	flag.Parse()

	var err error
	var logger *zap.Logger
	if verboseFlag {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatal("failed to initialize logger", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	inputs := flag.Args()
	if len(inputs) == 0 {
		logger.Fatal("at least one input file needs to be defined")
	}

	if outputFlag != "" {
		if len(inputs) != 1 {
			logger.Fatal("cutting needs exactly one input", zap.Int("actual", len(inputs)))
		}
		if zstdFlag {
			logger.Fatal("cutting needs a seekable input")
		}
		if err := cut(logger, inputs[0], outputFlag, seekFlag, serialFlag); err != nil {
			logger.Fatal("failed to cut", zap.Error(err))
		}
		if verifyFlag {
			s, err := inspect(logger, outputFlag, false, decodeFlag)
			if err != nil {
				logger.Fatal("verification failed", zap.Error(err))
			}
			if s.warns != nil {
				logger.Fatal("verification failed", zap.Error(s.warns))
			}
			logger.Info("verification succeeded", zap.Uint64("digest", s.digest))
		}
		return
	}

	bar := progressbar.Default(int64(len(inputs)), "inspecting")
	var g errgroup.Group
	g.SetLimit(jobsFlag)
	for _, name := range inputs {
		name := name
		g.Go(func() error {
			if _, err := inspect(logger, name, zstdFlag, decodeFlag); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return bar.Add(1)
		})
	}
	if err := g.Wait(); err != nil {
		logger.Fatal("inspection failed", zap.Error(err))
	}
}
