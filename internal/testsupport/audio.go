package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/snarg/musicbot/internal/audio"
)

// Tone builds a deterministic sawtooth-like signal. In stereo the right
// channel is the inverted left channel so downmixing is easy to predict.
func Tone(sampleRate, channels, frames int) *audio.PCM {
	samples := make([]int, frames*channels)
	for i := 0; i < frames; i++ {
		v := (i*97)%20000 - 10000
		samples[i*channels] = v
		if channels == 2 {
			samples[i*channels+1] = -v / 2
		}
	}
	return &audio.PCM{SampleRate: sampleRate, Channels: channels, Samples: samples}
}

// WriteWAV encodes pcm to path, failing the test on error.
func WriteWAV(t testing.TB, path string, pcm *audio.PCM) {
	t.Helper()

	if _, err := audio.WriteWAV(path, pcm); err != nil {
		t.Fatalf("write wav %s: %v", path, err)
	}
}

// WAVBytes returns pcm encoded as a WAV file.
func WAVBytes(t testing.TB, pcm *audio.PCM) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.wav")
	WriteWAV(t, path, pcm)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}
