package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
	"github.com/snarg/musicbot/internal/audio"
)

// FLACBlockSize is the block size WriteFLAC uses for every frame but the last.
const FLACBlockSize = 4096

// WriteFLAC encodes pcm as a FLAC stream of the given bit depth using
// verbatim subframes. pcm.Samples must already be in that depth's signed
// range. The final frame holds the remainder and must be at least 16 samples
// long, or empty.
func WriteFLAC(t testing.TB, path string, depth int, pcm *audio.PCM) {
	t.Helper()

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	info := &meta.StreamInfo{
		BlockSizeMin:  FLACBlockSize,
		BlockSizeMax:  FLACBlockSize,
		SampleRate:    uint32(pcm.SampleRate),
		NChannels:     uint8(pcm.Channels),
		BitsPerSample: uint8(depth),
	}
	enc, err := flac.NewEncoder(f, info)
	if err != nil {
		f.Close()
		t.Fatalf("flac encoder: %v", err)
	}

	layout := frame.ChannelsMono
	if pcm.Channels == 2 {
		layout = frame.ChannelsLR
	}
	frames := pcm.Frames()
	for start := 0; start < frames; start += FLACBlockSize {
		n := min(FLACBlockSize, frames-start)
		fr := &frame.Frame{Header: frame.Header{
			HasFixedBlockSize: true,
			BlockSize:         uint16(n),
			SampleRate:        uint32(pcm.SampleRate),
			Channels:          layout,
			BitsPerSample:     uint8(depth),
		}}
		for c := 0; c < pcm.Channels; c++ {
			samples := make([]int32, n)
			for i := range samples {
				samples[i] = int32(pcm.Samples[(start+i)*pcm.Channels+c])
			}
			fr.Subframes = append(fr.Subframes, &frame.Subframe{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   samples,
				NSamples:  n,
			})
		}
		if err := enc.WriteFrame(fr); err != nil {
			enc.Close()
			t.Fatalf("write flac frame at %d: %v", start, err)
		}
	}
	// Close rewrites StreamInfo through the file's Seek and closes it.
	if err := enc.Close(); err != nil {
		t.Fatalf("close flac encoder: %v", err)
	}
}

// FLACBytes returns pcm encoded as a 16-bit FLAC file.
func FLACBytes(t testing.TB, pcm *audio.PCM) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "tone.flac")
	WriteFLAC(t, path, audio.OutputBitDepth, pcm)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return data
}
