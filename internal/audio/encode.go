package audio

import (
	"fmt"
	"os"
	"path/filepath"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavFormatPCM = 1

// WriteWAV writes pcm as a 16-bit PCM WAV file at path. The file is written
// to a temp file in the same directory and renamed into place, so a failed
// write never leaves a partial file at path. Returns the final size in bytes.
func WriteWAV(path string, pcm *PCM) (int64, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, &TranscodeError{Op: "write", Err: fmt.Errorf("mkdir %s: %w", dir, err)}
	}

	tmp, err := os.CreateTemp(dir, ".wav-*.tmp")
	if err != nil {
		return 0, &TranscodeError{Op: "write", Err: fmt.Errorf("create temp: %w", err)}
	}
	tmpPath := tmp.Name()
	fail := func(err error) (int64, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, &TranscodeError{Op: "write", Err: err}
	}

	enc := wav.NewEncoder(tmp, pcm.SampleRate, OutputBitDepth, pcm.Channels, wavFormatPCM)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: pcm.Channels, SampleRate: pcm.SampleRate},
		Data:           pcm.Samples,
		SourceBitDepth: OutputBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fail(fmt.Errorf("encode: %w", err))
	}
	if err := enc.Close(); err != nil {
		return fail(fmt.Errorf("finalize: %w", err))
	}

	info, err := tmp.Stat()
	if err != nil {
		return fail(fmt.Errorf("stat: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, &TranscodeError{Op: "write", Err: fmt.Errorf("close: %w", err)}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, &TranscodeError{Op: "write", Err: fmt.Errorf("rename: %w", err)}
	}
	return info.Size(), nil
}
