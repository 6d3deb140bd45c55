package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/ashureev/schoolinfo/internal/query"
)

// processWaitDelay bounds how long Send waits for pipes after the process is killed.
const processWaitDelay = 2 * time.Second

// ProcessSender spawns a one-shot process per query. The query type and text
// are appended as the last two arguments and stdout is parsed as the reply.
type ProcessSender struct {
	command string
	args    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewProcessSender creates a process transport. A zero timeout waits indefinitely.
func NewProcessSender(command string, args []string, timeout time.Duration, logger *slog.Logger) *ProcessSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessSender{
		command: command,
		args:    append([]string(nil), args...),
		timeout: timeout,
		logger:  logger,
	}
}

// Name returns the transport name.
func (s *ProcessSender) Name() string { return "process" }

// Close is a no-op; every Send owns its process.
func (s *ProcessSender) Close() error { return nil }

// Send runs the process to completion.
// A non-zero exit status yields a reply with OK=false; stderr is only logged.
func (s *ProcessSender) Send(ctx context.Context, req query.Request) (*Reply, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	args := make([]string, 0, len(s.args)+2)
	args = append(args, s.args...)
	args = append(args, string(req.Type), req.Text)

	cmd := exec.CommandContext(ctx, s.command, args...)
	cmd.WaitDelay = processWaitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedBuffer{buf: &stdout, max: maxReplyBytes}
	cmd.Stderr = &limitedBuffer{buf: &stderr, max: maxReplyBytes}

	err := cmd.Run()

	if diag := strings.TrimSpace(stderr.String()); diag != "" {
		s.logger.Warn("Backend process wrote to stderr",
			"command", s.command,
			"query_type", req.Type,
			"stderr", diag,
		)
	}

	if ctx.Err() != nil {
		return nil, fmt.Errorf("backend process %s: %w", s.command, ctx.Err())
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &Reply{OK: false, Status: exitErr.ExitCode(), Body: stdout.Bytes()}, nil
		}
		return nil, fmt.Errorf("run backend process %s: %w", s.command, err)
	}

	return &Reply{OK: true, Status: 0, Body: stdout.Bytes()}, nil
}

// limitedBuffer drops writes beyond max bytes instead of failing the process.
type limitedBuffer struct {
	buf *bytes.Buffer
	max int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}
