package audio

import "fmt"

const (
	// OutputBitDepth is the bit depth of every file the transcoder writes.
	OutputBitDepth = 16

	// ReferenceRate is the single lower sample rate the planner steps down to.
	ReferenceRate = 22050

	maxInt16 = 32767
	minInt16 = -32768
)

// Parameters describes decoded audio. BitDepth is 8 or 16, Channels is 1 or 2.
type Parameters struct {
	SampleRate int     `json:"sample_rate"`
	BitDepth   int     `json:"bit_depth"`
	Channels   int     `json:"channels"`
	Duration   float64 `json:"duration"` // seconds
}

// EstimatedBytes returns the uncompressed size of audio with these parameters.
func (p Parameters) EstimatedBytes() int64 {
	return EstimateBytes(p.SampleRate, p.BitDepth, p.Channels, p.Duration)
}

// EstimateBytes predicts the uncompressed PCM size in bytes:
// sampleRate * bitDepth * channels * seconds / 8.
func EstimateBytes(sampleRate, bitDepth, channels int, seconds float64) int64 {
	bits := float64(sampleRate) * float64(bitDepth) * float64(channels) * seconds
	return int64(bits / 8)
}

// PCM holds interleaved samples in the signed 16-bit range.
type PCM struct {
	SampleRate int
	Channels   int
	Samples    []int
}

// Frames returns the number of per-channel sample frames.
func (p *PCM) Frames() int {
	if p.Channels <= 0 {
		return 0
	}
	return len(p.Samples) / p.Channels
}

// Duration returns the playback length in seconds.
func (p *PCM) Duration() float64 {
	if p.SampleRate <= 0 {
		return 0
	}
	return float64(p.Frames()) / float64(p.SampleRate)
}

// DecodeError reports a source that could not be read as audio.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TranscodeError reports a failed resample, downmix or output write.
type TranscodeError struct {
	Op  string
	Err error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode %s: %v", e.Op, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

func clip16(v int) int {
	if v > maxInt16 {
		return maxInt16
	}
	if v < minInt16 {
		return minInt16
	}
	return v
}
