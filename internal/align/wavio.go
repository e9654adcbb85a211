package align

import (
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/nomusic/nomusic-go/internal/errors"
)

const readChunkFrames = 65536

// wavInfo carries the format of a decoded file.
type wavInfo struct {
	sampleRate int
	channels   int
	bitDepth   int
}

// readMonoWindow decodes up to maxFrames frames from the start of a WAV
// file, downmixed to mono float64 in [-1, 1].
func readMonoWindow(path string, maxFrames int) ([]float64, wavInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, wavInfo{}, errors.New(err).
			Component("align").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer func() { _ = f.Close() }()

	d := wav.NewDecoder(f)
	d.ReadInfo()
	if !d.IsValidFile() {
		return nil, wavInfo{}, errors.Newf("not a valid WAV file: %s", path).
			Component("align").
			Category(errors.CategoryInvalidInput).
			Context("path", path).
			Build()
	}

	info := wavInfo{
		sampleRate: int(d.SampleRate),
		channels:   int(d.NumChans),
		bitDepth:   int(d.BitDepth),
	}
	scale := 1.0 / float64(int(1)<<(info.bitDepth-1))

	mono := make([]float64, 0, maxFrames)
	buf := &audio.IntBuffer{
		Data:   make([]int, readChunkFrames*info.channels),
		Format: &audio.Format{NumChannels: info.channels, SampleRate: info.sampleRate},
	}
	for len(mono) < maxFrames {
		n, err := d.PCMBuffer(buf)
		if err != nil {
			return nil, wavInfo{}, errors.New(err).
				Component("align").
				Category(errors.CategoryFileIO).
				Context("path", path).
				Build()
		}
		if n == 0 {
			break
		}
		frames := n / info.channels
		for i := 0; i < frames && len(mono) < maxFrames; i++ {
			var sum float64
			for c := 0; c < info.channels; c++ {
				sum += float64(buf.Data[i*info.channels+c])
			}
			mono = append(mono, sum*scale/float64(info.channels))
		}
	}
	return mono, info, nil
}

// padWAV writes src to dst with padFrames frames of leading silence,
// streaming so long files never load fully into memory.
func padWAV(src, dst string, padFrames int) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.New(err).Component("align").Category(errors.CategoryFileIO).Context("path", src).Build()
	}
	defer func() { _ = in.Close() }()

	d := wav.NewDecoder(in)
	d.ReadInfo()
	if !d.IsValidFile() {
		return errors.Newf("not a valid WAV file: %s", src).
			Component("align").
			Category(errors.CategoryInvalidInput).
			Context("path", src).
			Build()
	}
	sampleRate := int(d.SampleRate)
	channels := int(d.NumChans)
	bitDepth := int(d.BitDepth)

	out, err := os.Create(dst)
	if err != nil {
		return errors.New(err).Component("align").Category(errors.CategoryFileIO).Context("path", dst).Build()
	}
	enc := wav.NewEncoder(out, sampleRate, bitDepth, channels, 1)

	writeErr := func(err error) error {
		_ = out.Close()
		_ = os.Remove(dst)
		return errors.New(err).Component("align").Category(errors.CategoryFileIO).Context("path", dst).Build()
	}

	format := &audio.Format{NumChannels: channels, SampleRate: sampleRate}
	if padFrames > 0 {
		silence := &audio.IntBuffer{
			Data:           make([]int, padFrames*channels),
			Format:         format,
			SourceBitDepth: bitDepth,
		}
		if err := enc.Write(silence); err != nil {
			return writeErr(err)
		}
	}

	buf := &audio.IntBuffer{
		Data:           make([]int, readChunkFrames*channels),
		Format:         format,
		SourceBitDepth: bitDepth,
	}
	for {
		n, err := d.PCMBuffer(buf)
		if err != nil {
			return writeErr(err)
		}
		if n == 0 {
			break
		}
		chunk := &audio.IntBuffer{Data: buf.Data[:n], Format: format, SourceBitDepth: bitDepth}
		if err := enc.Write(chunk); err != nil {
			return writeErr(err)
		}
	}

	if err := enc.Close(); err != nil {
		return writeErr(err)
	}
	if err := out.Close(); err != nil {
		return writeErr(err)
	}
	return nil
}
