package separator

import (
	"context"
	"os"
	"regexp"
	"strconv"

	"github.com/nomusic/nomusic-go/internal/errors"
)

// demucsModel is the pretrained model demucs runs with.
const demucsModel = "htdemucs"

var demucsPercentRe = regexp.MustCompile(`(\d{1,3})%`)

// Demucs drives the demucs CLI. Demucs prints progress bars with
// percentage tokens which map directly onto the progress callback. When
// CUDA is available the driver requests GPU mode and falls back to CPU
// once if the GPU run crashes.
type Demucs struct {
	// Bin is the demucs executable; defaults to "demucs".
	Bin string
}

func NewDemucs(bin string) *Demucs {
	if bin == "" {
		bin = "demucs"
	}
	return &Demucs{Bin: bin}
}

func (d *Demucs) Name() string { return "demucs" }

// Separate runs demucs on wavIn. Output lands at
// outDir/htdemucs/<input stem>/vocals.wav.
func (d *Demucs) Separate(ctx context.Context, wavIn, outDir string, progress ProgressFunc) (string, error) {
	device := "cpu"
	if CUDAAvailable() {
		device = "cuda"
	}

	err := d.run(ctx, wavIn, outDir, device, progress)
	if err != nil && device == "cuda" && isGPUFailure(OutputTail(err)) {
		progress(0, "Demucs GPU run failed, retrying on CPU")
		err = d.run(ctx, wavIn, outDir, "cpu", progress)
	}
	if err != nil {
		return "", err
	}

	vocal := vocalStemPath(outDir, wavIn, demucsModel)
	if _, err := os.Stat(vocal); err != nil {
		return "", errors.Newf("demucs produced no vocal stem at %s", vocal).
			Component("demucs").
			Category(errors.CategorySeparator).
			Context("which", "demucs").
			Build()
	}

	progress(100, "Demucs complete")
	return vocal, nil
}

func (d *Demucs) run(ctx context.Context, wavIn, outDir, device string, progress ProgressFunc) error {
	progress(1, "Starting Demucs ("+device+")")

	onLine := func(line string) {
		if pct, ok := parseDemucsProgress(line); ok {
			// Model download and separation both print bars; scale
			// conservatively so the callback stays monotonic.
			progress(pct*0.98, "Demucs separating")
		}
	}

	err := runScanned(ctx, onLine, d.Bin,
		"-n", demucsModel,
		"--two-stems", "vocals",
		"-d", device,
		"-o", outDir,
		wavIn,
	)
	if err != nil {
		return errors.New(err).
			Component("demucs").
			Category(errors.CategorySeparator).
			Context("which", "demucs").
			Context("device", device).
			Build()
	}
	return nil
}

// parseDemucsProgress extracts the last percentage token from a demucs
// output line.
func parseDemucsProgress(line string) (float64, bool) {
	matches := demucsPercentRe.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return 0, false
	}
	last := matches[len(matches)-1][1]
	pct, err := strconv.ParseFloat(last, 64)
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}

var _ Driver = (*Demucs)(nil)
