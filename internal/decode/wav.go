package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrNotWAV is returned for input that is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("not a wav file")

// WAVDecoder decodes RIFF/WAVE files through go-audio/wav.
type WAVDecoder struct{}

type wavSource struct {
	dec        *wav.Decoder
	sampleRate int
	channels   int
	scale      float32
	buf        *goaudio.IntBuffer
}

func (s *wavSource) SampleRate() int { return s.sampleRate }
func (s *wavSource) Channels() int   { return s.channels }
func (s *wavSource) Close() error    { return nil }

func (s *wavSource) ReadSamples(dst []float32) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	if cap(s.buf.Data) < len(dst) {
		s.buf.Data = make([]int, len(dst))
	}
	s.buf.Data = s.buf.Data[:len(dst)]

	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil {
		return 0, fmt.Errorf("%w", err)
	}
	for i := 0; i < n; i++ {
		dst[i] = float32(s.buf.Data[i]) * s.scale
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Decode parses the WAV header and returns a streaming source. go-audio
// needs a ReadSeeker; non-seekable input is buffered first.
func (WAVDecoder) Decode(r io.Reader) (Source, error) {
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("%w", err)
		}
		rs = bytes.NewReader(raw)
	}

	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, ErrNotWAV
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("%w", err)
	}

	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = 16
	}

	return &wavSource{
		dec:        dec,
		sampleRate: int(dec.SampleRate),
		channels:   int(dec.NumChans),
		scale:      1.0 / float32(int64(1)<<(bitDepth-1)),
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: int(dec.NumChans),
				SampleRate:  int(dec.SampleRate),
			},
			SourceBitDepth: bitDepth,
			Data:           make([]int, 4096),
		},
	}, nil
}
