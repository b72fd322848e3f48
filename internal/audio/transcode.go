package audio

import "fmt"

// Transcode applies plan to pcm: every channel is resampled first, then
// stereo is downmixed to mono if the plan asks for it. The input is not
// modified. Plans that would raise the rate or add channels are rejected.
func Transcode(pcm *PCM, plan Plan) (*PCM, error) {
	if pcm.Channels < 1 || pcm.Channels > 2 || pcm.SampleRate <= 0 {
		return nil, &TranscodeError{Op: "validate", Err: fmt.Errorf("unsupported input: %d Hz, %d channels", pcm.SampleRate, pcm.Channels)}
	}
	if plan.SampleRate <= 0 || plan.SampleRate > pcm.SampleRate {
		return nil, &TranscodeError{Op: "resample", Err: fmt.Errorf("cannot resample %d Hz to %d Hz", pcm.SampleRate, plan.SampleRate)}
	}
	if plan.Channels < 1 || plan.Channels > pcm.Channels {
		return nil, &TranscodeError{Op: "downmix", Err: fmt.Errorf("cannot map %d channels to %d", pcm.Channels, plan.Channels)}
	}

	out := Resample(pcm, plan.SampleRate)
	if plan.Channels == 1 && out.Channels == 2 {
		out = Downmix(out)
	}
	return out, nil
}

// Resample converts pcm to rate by linear interpolation between neighbouring
// frames. The output frame count is round(frames * rate / pcm.SampleRate), so
// duration is preserved to within one frame. All arithmetic is integer, which
// keeps the result deterministic.
func Resample(pcm *PCM, rate int) *PCM {
	if rate == pcm.SampleRate {
		samples := make([]int, len(pcm.Samples))
		copy(samples, pcm.Samples)
		return &PCM{SampleRate: rate, Channels: pcm.Channels, Samples: samples}
	}

	ch := pcm.Channels
	inFrames := int64(pcm.Frames())
	src, dst := int64(pcm.SampleRate), int64(rate)
	outFrames := (inFrames*dst + src/2) / src

	samples := make([]int, int(outFrames)*ch)
	for i := int64(0); i < outFrames; i++ {
		pos := i * src
		i0 := pos / dst
		rem := pos % dst
		i1 := i0 + 1
		if i0 >= inFrames {
			i0 = inFrames - 1
		}
		if i1 >= inFrames {
			i1 = inFrames - 1
		}
		for c := 0; c < ch; c++ {
			a := int64(pcm.Samples[int(i0)*ch+c])
			b := int64(pcm.Samples[int(i1)*ch+c])
			samples[int(i)*ch+c] = clip16(int(a + (b-a)*rem/dst))
		}
	}
	return &PCM{SampleRate: rate, Channels: ch, Samples: samples}
}

// Downmix averages the two channels of every stereo frame into one mono
// sample. Mono input is returned as a copy.
func Downmix(pcm *PCM) *PCM {
	if pcm.Channels != 2 {
		samples := make([]int, len(pcm.Samples))
		copy(samples, pcm.Samples)
		return &PCM{SampleRate: pcm.SampleRate, Channels: pcm.Channels, Samples: samples}
	}
	frames := pcm.Frames()
	samples := make([]int, frames)
	for i := 0; i < frames; i++ {
		samples[i] = (pcm.Samples[2*i] + pcm.Samples[2*i+1]) / 2
	}
	return &PCM{SampleRate: pcm.SampleRate, Channels: 1, Samples: samples}
}
