package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/docforge/docforge/constants"
)

var convertTargets = map[string]struct{}{
	"png": {}, "jpg": {}, "jpeg": {}, "tiff": {}, "pdf": {},
}

type convertOptions struct {
	TargetFormat string `json:"target_format"`
}

// ConvertEngine converts images between formats using an external converter
// (magick, heif-convert, or sips).
type ConvertEngine struct {
	converter   string
	artifactDir string
	runner      Runner
	log         *slog.Logger
}

func NewConvertEngine(converter, artifactDir string, runner Runner, logger *slog.Logger) *ConvertEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConvertEngine{converter: converter, artifactDir: artifactDir, runner: runner, log: logger}
}

func (e *ConvertEngine) Run(ctx context.Context, inputRef string, options json.RawMessage) (*Result, error) {
	var opts convertOptions
	if len(options) > 0 {
		if err := json.Unmarshal(options, &opts); err != nil {
			return nil, WrapError(ClassPermanent, err, "malformed convert options")
		}
	}
	target := constants.NormalizeExt(opts.TargetFormat)
	if target == "" {
		target = "png"
	}
	if _, ok := convertTargets[target]; !ok {
		return nil, NewError(ClassPermanent, "unsupported target format %q", opts.TargetFormat)
	}

	if _, err := statInput(inputRef); err != nil {
		return nil, err
	}
	if constants.FormatForPath(inputRef) == "" {
		return nil, NewError(ClassPermanent, "unsupported input format %q", filepath.Ext(inputRef))
	}

	if err := os.MkdirAll(e.artifactDir, 0o755); err != nil {
		return nil, WrapError(ClassResource, err, "create artifact dir")
	}
	out := filepath.Join(e.artifactDir, uuid.New().String()+"."+target)

	var errb []byte
	var err error
	switch e.converter {
	case "magick":
		_, errb, err = e.runner.Run(ctx, "magick", inputRef, out)
	case "heif-convert":
		_, errb, err = e.runner.Run(ctx, "heif-convert", inputRef, out)
	case "sips":
		_, errb, err = e.runner.Run(ctx, "sips", "-s", "format", target, inputRef, "--out", out)
	default:
		return nil, NewError(ClassEnvironment,
			"image conversion not supported: set HEIC_CONVERTER to one of: magick | heif-convert | sips")
	}
	if err != nil {
		runErr := classifyRunError(err, string(errb), e.converter)
		runErr.PartialRef = out
		return nil, runErr
	}

	outInfo, statErr := os.Stat(out)
	if statErr != nil {
		return nil, WrapError(ClassPermanent, statErr, "conversion produced no output")
	}

	e.log.Info("convert.ok", "input", inputRef, "output", out, "target", target)
	return &Result{
		OutputRef: out,
		Fields: map[string]any{
			"target_format": target,
			"out_bytes":     outInfo.Size(),
		},
	}, nil
}
