package separator

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/nomusic/nomusic-go/internal/errors"
)

// Spleeter drives the spleeter CLI with the 2stems model. Spleeter does
// not emit percentage progress, so the driver reports coarse phase
// updates keyed off its log lines.
type Spleeter struct {
	// Bin is the spleeter executable; defaults to "spleeter".
	Bin string
}

func NewSpleeter(bin string) *Spleeter {
	if bin == "" {
		bin = "spleeter"
	}
	return &Spleeter{Bin: bin}
}

func (s *Spleeter) Name() string { return "spleeter" }

// Separate runs spleeter on wavIn. Spleeter writes the stems into
// outDir/<input stem>/; the vocals stem is the result.
func (s *Spleeter) Separate(ctx context.Context, wavIn, outDir string, progress ProgressFunc) (string, error) {
	progress(2, "Starting Spleeter")

	onLine := func(line string) {
		lower := strings.ToLower(line)
		switch {
		case strings.Contains(lower, "loading"):
			progress(10, "Spleeter loading model")
		case strings.Contains(lower, "validating"):
			progress(20, "Spleeter processing")
		case strings.Contains(lower, "written succesfully"), strings.Contains(lower, "written successfully"):
			// Spleeter's own log message misspells "successfully";
			// match both in case upstream fixes it.
			progress(90, "Spleeter writing stems")
		}
	}

	err := runScanned(ctx, onLine, s.Bin,
		"separate",
		"-p", "spleeter:2stems",
		"-o", outDir,
		wavIn,
	)
	if err != nil {
		return "", errors.New(err).
			Component("spleeter").
			Category(errors.CategorySeparator).
			Context("which", "spleeter").
			Build()
	}

	vocal := vocalStemPath(outDir, wavIn)
	if _, err := os.Stat(vocal); err != nil {
		return "", errors.Newf("spleeter produced no vocal stem at %s", vocal).
			Component("spleeter").
			Category(errors.CategorySeparator).
			Context("which", "spleeter").
			Build()
	}

	progress(100, "Spleeter complete")
	return vocal, nil
}

var _ Driver = (*Spleeter)(nil)

// vocalStemPath builds the vocals output path both tools use:
// <outDir>[/<subdirs>]/<input stem>/vocals.wav.
func vocalStemPath(outDir, wavIn string, subdirs ...string) string {
	stem := strings.TrimSuffix(filepath.Base(wavIn), filepath.Ext(wavIn))
	parts := append([]string{outDir}, subdirs...)
	parts = append(parts, stem, "vocals.wav")
	return filepath.Join(parts...)
}
