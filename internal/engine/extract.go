package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/docforge/docforge/constants"
	"github.com/docforge/docforge/internal/llm"
)

const invoiceSystemPrompt = `You extract structured data from invoice documents.
Read the document text and fill the provided JSON schema. Use null for fields
you cannot determine. Dates are YYYY-MM-DD. Amounts are decimal strings.`

const statementSystemPrompt = `You extract structured data from bank and card
statements. Read the document text and fill the provided JSON schema. Use null
for fields you cannot determine. Dates are YYYY-MM-DD. Amounts are decimal strings.`

// ExtractEngine runs AI field extraction over document text. PDF inputs are
// passed through pdftotext first; .txt inputs are read directly.
type ExtractEngine struct {
	kind      constants.JobType
	client    *llm.Client
	pdftotext string
	runner    Runner
	log       *slog.Logger
}

func NewExtractEngine(kind constants.JobType, client *llm.Client, pdftotext string, runner Runner, logger *slog.Logger) *ExtractEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExtractEngine{kind: kind, client: client, pdftotext: pdftotext, runner: runner, log: logger}
}

func (e *ExtractEngine) Run(ctx context.Context, inputRef string, options json.RawMessage) (*Result, error) {
	if e.client == nil {
		return nil, NewError(ClassEnvironment, "inference API not configured: OPENAI_API_KEY is empty")
	}

	text, err := e.documentText(ctx, inputRef)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, NewError(ClassPermanent, "input %q contains no extractable text", inputRef)
	}

	var schema map[string]any
	var sys string
	switch e.kind {
	case constants.JobTypeExtractInvoice:
		schema, sys = llm.BuildInvoiceJSONSchema(), invoiceSystemPrompt
	case constants.JobTypeExtractStatement:
		schema, sys = llm.BuildStatementJSONSchema(), statementSystemPrompt
	default:
		return nil, NewError(ClassEnvironment, "extract engine bound to unexpected job type %q", e.kind)
	}

	fields, _, err := e.client.Extract(ctx, llm.ExtractRequest{
		DocumentText: text,
		SystemPrompt: sys,
		Schema:       schema,
	})
	if err != nil {
		return nil, classifyLLMError(err)
	}

	return &Result{Fields: fields}, nil
}

func (e *ExtractEngine) documentText(ctx context.Context, inputRef string) (string, error) {
	if _, err := statInput(inputRef); err != nil {
		return "", err
	}
	switch constants.FormatForPath(inputRef) {
	case constants.TXT:
		b, err := os.ReadFile(inputRef)
		if err != nil {
			return "", WrapError(ClassResource, err, "read text input")
		}
		return string(b), nil
	case constants.PDF:
		out, errb, err := e.runner.Run(ctx, e.pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", inputRef, "-")
		if err != nil {
			return "", classifyRunError(err, string(errb), "pdftotext")
		}
		return string(out), nil
	default:
		return "", NewError(ClassPermanent, "extraction expects a PDF or text input")
	}
}

// classifyLLMError: 5xx and connectivity failures are worth retrying;
// 4xx means the request itself (prompt, schema, auth) can never succeed.
func classifyLLMError(err error) *Error {
	var httpErr *llm.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Status == 401 || httpErr.Status == 403:
			return WrapError(ClassEnvironment, err, "inference API rejected credentials")
		case httpErr.Status == 429 || httpErr.Status >= 500:
			return WrapError(ClassTransient, err, "inference API unavailable")
		default:
			return WrapError(ClassPermanent, err, "inference API rejected request")
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapError(ClassTransient, err, "inference API timed out")
	}
	if class := Classify(err); class == ClassTransient {
		return WrapError(ClassTransient, err, "inference API unreachable")
	}
	return WrapError(ClassPermanent, err, "extraction failed")
}
