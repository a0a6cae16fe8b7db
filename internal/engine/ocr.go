package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/docforge/docforge/constants"
)

// minPDFTextChars is the threshold under which an embedded-text PDF is
// treated as a scan and sent through the raster OCR path.
const minPDFTextChars = 64

// OCRConfig names the external binaries and tuning knobs for text
// extraction.
type OCRConfig struct {
	Tesseract   string
	Pdftotext   string
	Pdftoppm    string
	TessdataDir string
	Language    string
	DPI         int
	MaxPages    int
	ArtifactDir string
}

type ocrOptions struct {
	Language string `json:"lang,omitempty"`
}

// OCREngine extracts text from PDFs and images. Text PDFs go through
// pdftotext; scanned PDFs are rendered with pdftoppm and OCRed page by page
// with tesseract, as are images.
type OCREngine struct {
	cfg    OCRConfig
	runner Runner
	log    *slog.Logger
}

func NewOCREngine(cfg OCRConfig, runner Runner, logger *slog.Logger) *OCREngine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.Language == "" {
		cfg.Language = "eng"
	}
	return &OCREngine{cfg: cfg, runner: runner, log: logger}
}

func (e *OCREngine) Run(ctx context.Context, inputRef string, options json.RawMessage) (*Result, error) {
	var opts ocrOptions
	if len(options) > 0 {
		if err := json.Unmarshal(options, &opts); err != nil {
			return nil, WrapError(ClassPermanent, err, "malformed ocr options")
		}
	}
	lang := e.cfg.Language
	if opts.Language != "" {
		lang = opts.Language
	}

	if _, err := statInput(inputRef); err != nil {
		return nil, err
	}

	var (
		text   string
		pages  int
		method string
		err    error
	)
	switch constants.FormatForPath(inputRef) {
	case constants.PDF:
		text, pages, method, err = e.extractPDF(ctx, inputRef, lang)
	case constants.IMAGE:
		text, err = e.tesseract(ctx, inputRef, lang)
		pages, method = 1, "image-ocr"
	case constants.TXT:
		b, readErr := os.ReadFile(inputRef)
		if readErr != nil {
			return nil, WrapError(ClassResource, readErr, "read text input")
		}
		text, pages, method = string(b), 1, "plain-text"
	default:
		return nil, NewError(ClassPermanent, "unsupported input format %q", filepath.Ext(inputRef))
	}
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(e.cfg.ArtifactDir, 0o755); err != nil {
		return nil, WrapError(ClassResource, err, "create artifact dir")
	}
	out := filepath.Join(e.cfg.ArtifactDir, uuid.New().String()+".txt")
	if err := os.WriteFile(out, []byte(text), 0o644); err != nil {
		return nil, WrapError(ClassResource, err, "write extracted text")
	}

	e.log.Info("ocr.ok", "input", inputRef, "method", method, "pages", pages, "chars", len(text))
	return &Result{
		OutputRef: out,
		Fields: map[string]any{
			"pages":    pages,
			"chars":    len(text),
			"method":   method,
			"language": lang,
		},
	}, nil
}

// extractPDF tries the embedded text layer first and falls back to raster
// OCR when the PDF is effectively a scan.
func (e *OCREngine) extractPDF(ctx context.Context, path, lang string) (string, int, string, error) {
	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return "", 0, "", classifyRunError(err, string(errb), "pdftotext")
	}
	text := string(out)
	// A form-feed \f is used as page separator by default.
	pages := 1 + strings.Count(text, "\f")

	if len(strings.TrimSpace(text)) >= minPDFTextChars {
		return text, pages, "pdf-text", nil
	}

	text, pages, err = e.pdfToOCR(ctx, path, lang)
	if err != nil {
		return "", 0, "", err
	}
	return text, pages, "pdf-ocr", nil
}

func (e *OCREngine) pdfToOCR(ctx context.Context, path, lang string) (string, int, error) {
	tmpDir, err := os.MkdirTemp("", "df-pp-*")
	if err != nil {
		return "", 0, WrapError(ClassResource, err, "create temp dir")
	}
	defer func() {
		if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
			e.log.Warn("failed to remove temp dir", "dir", tmpDir, "error", rmErr)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", fmt.Sprintf("%d", e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return "", 0, classifyRunError(err, string(errb), "pdftoppm")
	}

	// collect generated pngs (prefix-1.png, prefix-2.png, ...)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return "", 0, NewError(ClassPermanent, "pdftoppm rendered no pages")
	}

	var b strings.Builder
	for _, img := range matches {
		txt, ocrErr := e.tesseract(ctx, img, lang)
		if ocrErr != nil {
			return "", 0, ocrErr
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n") // keep a clear page break marker
		}
		b.WriteString(txt)
	}
	return b.String(), len(matches), nil
}

func (e *OCREngine) tesseract(ctx context.Context, path, lang string) (string, error) {
	args := []string{path, "stdout", "-l", lang}
	if e.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", e.cfg.TessdataDir)
	}

	// tesseract <file> stdout -l <lang>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, args...)
	if err != nil {
		return "", classifyRunError(err, string(errb), "tesseract")
	}
	return string(out), nil
}
