// Package decode turns audio files into interleaved stereo float32 PCM.
//
// Codecs are opaque to the rest of the engine: a Source delivers samples,
// a Decoder builds a Source from a reader, and the Registry maps format
// keys to decoders. WAV, MP3 and Ogg Vorbis are registered by default;
// gzip-wrapped files are unwrapped transparently.
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Errors returned while opening assets.
var (
	// ErrUnknownFormat means neither the extension nor the leading bytes
	// matched a registered decoder.
	ErrUnknownFormat = errors.New("unknown audio format")

	// ErrUnsupportedLayout is returned for sources with more than two
	// channels.
	ErrUnsupportedLayout = errors.New("unsupported channel layout")
)

// Source delivers interleaved float32 samples in [-1, 1].
type Source interface {
	// SampleRate of the PCM stream in Hz.
	SampleRate() int
	// Channels count (1=mono, 2=stereo).
	Channels() int
	// ReadSamples fills dst and returns the number of float32 values
	// written. n == 0 with io.EOF means the stream is finished.
	ReadSamples(dst []float32) (int, error)
	// Close releases any resources.
	Close() error
}

// Decoder constructs a Source from an input reader.
type Decoder interface {
	Decode(r io.Reader) (Source, error)
}

// Registry maps format keys ("wav", "mp3", "vorbis") to decoders.
type Registry struct {
	codecs map[string]Decoder
}

// NewRegistry returns a registry with the built-in decoders registered.
func NewRegistry() *Registry {
	r := &Registry{codecs: make(map[string]Decoder)}
	r.Register("wav", WAVDecoder{})
	r.Register("mp3", MP3Decoder{})
	r.Register("vorbis", VorbisDecoder{})
	return r
}

// Register adds or replaces the decoder for a format key.
func (r *Registry) Register(format string, d Decoder) {
	r.codecs[format] = d
}

// Get looks up the decoder for a format key.
func (r *Registry) Get(format string) (Decoder, bool) {
	d, ok := r.codecs[format]
	return d, ok
}

// PCM is a fully decoded asset: interleaved stereo at the source rate.
type PCM struct {
	SampleRate int
	Frames     int
	Samples    []float32 // len == Frames*2
}

// Open opens path with this registry's decoders.
func (r *Registry) Open(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	src, err := r.decodeReader(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileSource{Source: src, f: f}, nil
}

// File fully decodes path into stereo PCM.
func (r *Registry) File(path string) (*PCM, error) {
	src, err := r.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var samples []float32
	chunk := make([]float32, 32768)
	for {
		n, err := src.ReadSamples(chunk)
		if n > 0 {
			samples = append(samples, chunk[:n]...)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode %q: %w", path, err)
		}
		if n == 0 {
			break
		}
	}

	frames := len(samples) / 2
	return &PCM{
		SampleRate: src.SampleRate(),
		Frames:     frames,
		Samples:    samples[:frames*2],
	}, nil
}

// decodeReader sniffs the format, unwraps gzip, and builds a stereo
// source. The file handle stays open for streaming decoders.
func (r *Registry) decodeReader(f *os.File, path string) (Source, error) {
	head := make([]byte, 4)
	n, _ := io.ReadFull(f, head)
	head = head[:n]
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	name := path
	var in io.Reader = f
	if len(head) >= 2 && head[0] == 0x1f && head[1] == 0x8b {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("gzip %q: %w", path, err)
		}
		// Seek-dependent decoders get a fully buffered copy.
		raw, err := io.ReadAll(gz)
		if err != nil {
			return nil, fmt.Errorf("gzip %q: %w", path, err)
		}
		in = bytes.NewReader(raw)
		name = strings.TrimSuffix(path, ".gz")
		if len(raw) >= 4 {
			head = raw[:4]
		}
	}

	format, ok := sniff(name, head)
	if !ok {
		return nil, fmt.Errorf("%q: %w", path, ErrUnknownFormat)
	}
	dec, ok := r.Get(format)
	if !ok {
		return nil, fmt.Errorf("%q: %w", path, ErrUnknownFormat)
	}

	src, err := dec.Decode(in)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", path, err)
	}
	return Stereo(src)
}

// sniff picks a format key by extension first, then by magic bytes.
func sniff(path string, head []byte) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return "wav", true
	case ".mp3":
		return "mp3", true
	case ".ogg", ".oga":
		return "vorbis", true
	}
	if bytes.HasPrefix(head, []byte("RIFF")) {
		return "wav", true
	}
	if bytes.HasPrefix(head, []byte("OggS")) {
		return "vorbis", true
	}
	if bytes.HasPrefix(head, []byte("ID3")) || (len(head) >= 2 && head[0] == 0xff && head[1]&0xe0 == 0xe0) {
		return "mp3", true
	}
	return "", false
}

// Stereo adapts a source to two channels. Mono is duplicated; anything
// above stereo is rejected.
func Stereo(src Source) (Source, error) {
	switch src.Channels() {
	case 2:
		return src, nil
	case 1:
		return &monoToStereo{src: src}, nil
	default:
		return nil, fmt.Errorf("%d channels: %w", src.Channels(), ErrUnsupportedLayout)
	}
}

type monoToStereo struct {
	src     Source
	scratch []float32
}

func (m *monoToStereo) SampleRate() int { return m.src.SampleRate() }
func (m *monoToStereo) Channels() int   { return 2 }
func (m *monoToStereo) Close() error    { return m.src.Close() }

func (m *monoToStereo) ReadSamples(dst []float32) (int, error) {
	frames := len(dst) / 2
	if cap(m.scratch) < frames {
		m.scratch = make([]float32, frames)
	}
	n, err := m.src.ReadSamples(m.scratch[:frames])
	for i := 0; i < n; i++ {
		dst[2*i] = m.scratch[i]
		dst[2*i+1] = m.scratch[i]
	}
	return n * 2, err
}

// fileSource closes the backing file together with the decoder.
type fileSource struct {
	Source
	f *os.File
}

func (s *fileSource) Close() error {
	err := s.Source.Close()
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	return err
}
