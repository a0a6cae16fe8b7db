package engine

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct {
	log *slog.Logger
}

// NewRunner returns a Runner backed by os/exec.
func NewRunner(logger *slog.Logger) Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &execRunner{log: logger}
}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmdLine := strings.Join(append([]string{name}, args...), " ")
	r.log.Debug("running command", "cmd_line", cmdLine)

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		r.log.Error("exec failed",
			"cmd", name,
			"duration_ms", dur.Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10), // cap at 8KB
		)
	} else {
		r.log.Debug("exec ok",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"stdout_bytes", out.Len(),
			"stderr_bytes", errb.Len(),
		)
	}

	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
