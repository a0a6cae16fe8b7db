package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/docforge/docforge/constants"
)

// Ghostscript PDFSETTINGS presets.
var compressQualities = map[string]string{
	"screen":  "/screen",
	"ebook":   "/ebook",
	"printer": "/printer",
}

type compressOptions struct {
	Quality string `json:"quality,omitempty"`
}

// CompressEngine shrinks PDFs with Ghostscript and reports the achieved
// ratio (output bytes / input bytes).
type CompressEngine struct {
	bin         string
	artifactDir string
	runner      Runner
	log         *slog.Logger
}

func NewCompressEngine(bin, artifactDir string, runner Runner, logger *slog.Logger) *CompressEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompressEngine{bin: bin, artifactDir: artifactDir, runner: runner, log: logger}
}

func (e *CompressEngine) Run(ctx context.Context, inputRef string, options json.RawMessage) (*Result, error) {
	var opts compressOptions
	if len(options) > 0 {
		if err := json.Unmarshal(options, &opts); err != nil {
			return nil, WrapError(ClassPermanent, err, "malformed compress options")
		}
	}
	preset := compressQualities["ebook"]
	if opts.Quality != "" {
		p, ok := compressQualities[opts.Quality]
		if !ok {
			return nil, NewError(ClassPermanent, "unsupported compress quality %q", opts.Quality)
		}
		preset = p
	}

	in, err := statInput(inputRef)
	if err != nil {
		return nil, err
	}
	if constants.FormatForPath(inputRef) != constants.PDF {
		return nil, NewError(ClassPermanent, "compress expects a PDF input, got %q", filepath.Ext(inputRef))
	}

	out := filepath.Join(e.artifactDir, uuid.New().String()+".pdf")
	if err := os.MkdirAll(e.artifactDir, 0o755); err != nil {
		return nil, WrapError(ClassResource, err, "create artifact dir")
	}

	_, errb, err := e.runner.Run(ctx, e.bin,
		"-sDEVICE=pdfwrite",
		"-dCompatibilityLevel=1.4",
		"-dPDFSETTINGS="+preset,
		"-dNOPAUSE", "-dQUIET", "-dBATCH",
		"-sOutputFile="+out,
		inputRef,
	)
	if err != nil {
		cleanupErr := classifyRunError(err, string(errb), "ghostscript")
		cleanupErr.PartialRef = out
		return nil, cleanupErr
	}

	outInfo, err := os.Stat(out)
	if err != nil {
		return nil, WrapError(ClassResource, err, "compressed output missing")
	}

	ratio := 1.0
	if in.Size() > 0 {
		ratio = float64(outInfo.Size()) / float64(in.Size())
	}
	e.log.Info("compress.ok", "input", inputRef, "output", out,
		"in_bytes", in.Size(), "out_bytes", outInfo.Size(), "ratio", ratio)

	return &Result{
		OutputRef: out,
		Fields: map[string]any{
			"ratio":     ratio,
			"in_bytes":  in.Size(),
			"out_bytes": outInfo.Size(),
			"quality":   preset,
		},
	}, nil
}

// statInput classifies input-access failures: a missing input is bad input,
// a permission problem is a resource failure.
func statInput(path string) (os.FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, WrapError(ClassPermanent, err, fmt.Sprintf("input artifact %q does not exist", path))
		}
		if errors.Is(err, fs.ErrPermission) {
			return nil, WrapError(ClassResource, err, fmt.Sprintf("input artifact %q not readable", path))
		}
		return nil, WrapError(ClassResource, err, "stat input artifact")
	}
	return info, nil
}

// classifyRunError maps a Runner failure: missing binary is an environment
// problem, a context timeout is transient, everything else is a bad input.
func classifyRunError(err error, stderr, tool string) *Error {
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return WrapError(ClassEnvironment, err, tool+" binary not found")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return WrapError(ClassTransient, err, tool+" timed out")
	default:
		msg := tool + " failed"
		if stderr != "" {
			msg = fmt.Sprintf("%s failed: %s", tool, truncate(stderr, 512))
		}
		return WrapError(ClassPermanent, err, msg)
	}
}
