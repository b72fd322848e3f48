package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
)

var (
	magicRIFF = []byte("RIFF")
	magicFLAC = []byte("fLaC")
)

// Decode reads a WAV or FLAC file into 16-bit PCM and reports its parameters.
// 24 and 32-bit sources are scaled down to 16 bits and reported as 16-bit;
// 8-bit sources keep BitDepth 8 but their samples are widened to the 16-bit
// range. Anything else is a *DecodeError.
func Decode(path string) (*PCM, Parameters, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Parameters{}, &DecodeError{Path: path, Err: err}
	}
	defer f.Close()

	head := make([]byte, 4)
	if _, err := io.ReadFull(f, head); err != nil {
		return nil, Parameters{}, &DecodeError{Path: path, Err: fmt.Errorf("read header: %w", err)}
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, Parameters{}, &DecodeError{Path: path, Err: err}
	}

	var (
		pcm   *PCM
		depth int
	)
	switch {
	case bytes.Equal(head, magicRIFF):
		pcm, depth, err = decodeWAV(f)
	case bytes.Equal(head, magicFLAC):
		pcm, depth, err = decodeFLAC(f)
	default:
		err = fmt.Errorf("unsupported container (magic %q)", head)
	}
	if err != nil {
		return nil, Parameters{}, &DecodeError{Path: path, Err: err}
	}
	if pcm.Channels < 1 || pcm.Channels > 2 {
		return nil, Parameters{}, &DecodeError{Path: path, Err: fmt.Errorf("unsupported channel count %d", pcm.Channels)}
	}
	if pcm.SampleRate <= 0 {
		return nil, Parameters{}, &DecodeError{Path: path, Err: fmt.Errorf("invalid sample rate %d", pcm.SampleRate)}
	}

	params := Parameters{
		SampleRate: pcm.SampleRate,
		BitDepth:   depth,
		Channels:   pcm.Channels,
		Duration:   pcm.Duration(),
	}
	return pcm, params, nil
}

func decodeWAV(r io.ReadSeeker) (*PCM, int, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, 0, errors.New("invalid wav file")
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("read wav samples: %w", err)
	}

	bitDepth := int(d.BitDepth)
	samples := make([]int, len(buf.Data))
	for i, v := range buf.Data {
		s, err := to16(v, bitDepth, true)
		if err != nil {
			return nil, 0, err
		}
		samples[i] = s
	}
	return &PCM{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		Samples:    samples,
	}, reportedDepth(bitDepth), nil
}

func decodeFLAC(r io.Reader) (*PCM, int, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, 0, fmt.Errorf("open flac stream: %w", err)
	}
	defer stream.Close()

	info := stream.Info
	channels := int(info.NChannels)
	bitDepth := int(info.BitsPerSample)
	if channels < 1 || channels > 2 {
		return nil, 0, fmt.Errorf("unsupported channel count %d", channels)
	}

	samples := make([]int, 0, int(info.NSamples)*channels)
	for {
		fr, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("parse flac frame: %w", err)
		}
		if len(fr.Subframes) != channels {
			return nil, 0, fmt.Errorf("frame has %d subframes, want %d", len(fr.Subframes), channels)
		}
		n := len(fr.Subframes[0].Samples)
		for i := 0; i < n; i++ {
			for c := 0; c < channels; c++ {
				s, err := to16(int(fr.Subframes[c].Samples[i]), bitDepth, false)
				if err != nil {
					return nil, 0, err
				}
				samples = append(samples, s)
			}
		}
	}
	if got := uint64(len(samples) / channels); info.NSamples != 0 && got != info.NSamples {
		return nil, 0, fmt.Errorf("truncated flac stream: %d of %d samples", got, info.NSamples)
	}
	return &PCM{
		SampleRate: int(info.SampleRate),
		Channels:   channels,
		Samples:    samples,
	}, reportedDepth(bitDepth), nil
}

// to16 maps a sample of the given depth into the signed 16-bit range.
// 8-bit WAV is unsigned with a 128 midpoint; FLAC 8-bit is signed.
func to16(v, bitDepth int, unsigned8 bool) (int, error) {
	switch bitDepth {
	case 8:
		if unsigned8 {
			v -= 128
		}
		return clip16(v << 8), nil
	case 16:
		return clip16(v), nil
	case 24:
		return clip16(v >> 8), nil
	case 32:
		return clip16(v >> 16), nil
	default:
		return 0, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
}

func reportedDepth(bitDepth int) int {
	if bitDepth == 8 {
		return 8
	}
	return OutputBitDepth
}
