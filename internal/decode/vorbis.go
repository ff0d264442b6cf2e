package decode

import (
	"fmt"
	"io"

	"github.com/jfreymuth/oggvorbis"
)

// VorbisDecoder decodes Ogg Vorbis through jfreymuth/oggvorbis.
type VorbisDecoder struct{}

type vorbisSource struct {
	dec      *oggvorbis.Reader
	channels int
	frameBuf []float32
}

func (s *vorbisSource) SampleRate() int { return s.dec.SampleRate() }
func (s *vorbisSource) Channels() int   { return s.channels }
func (s *vorbisSource) Close() error    { return nil }

func (s *vorbisSource) ReadSamples(dst []float32) (int, error) {
	if len(dst) == 0 {
		return 0, nil
	}
	want := len(dst) - len(dst)%s.channels
	if cap(s.frameBuf) < want {
		s.frameBuf = make([]float32, want)
	}
	s.frameBuf = s.frameBuf[:want]

	// oggvorbis returns whole frames of interleaved samples.
	n, err := s.dec.Read(s.frameBuf)
	if n == 0 {
		if err != nil {
			return 0, err
		}
		return 0, nil
	}
	copy(dst, s.frameBuf[:n])
	return n, err
}

// Decode builds a streaming Vorbis source.
func (VorbisDecoder) Decode(r io.Reader) (Source, error) {
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	return &vorbisSource{
		dec:      dec,
		channels: dec.Channels(),
		frameBuf: make([]float32, 8192),
	}, nil
}
