// Package local runs task instances as subprocesses on the coordinating host.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/genoflow/genoflow/pkg/domain"
	"github.com/genoflow/genoflow/pkg/ports"
)

// Backend executes task bodies as local subprocesses. The task body is opaque
// and side-effecting; success is a zero exit code plus every declared output
// artifact present and non-empty.
type Backend struct {
	logger *zap.Logger

	// startRetries bounds retries of process start failures (fork/exec
	// errors, not non-zero exits; those are the tool's verdict).
	startRetries uint64
}

// New creates a local backend.
func New(logger *zap.Logger) *Backend {
	return &Backend{logger: logger, startRetries: 3}
}

// Name identifies the backend in logs and reports.
func (b *Backend) Name() string { return "local" }

// Execute runs the command, honoring ctx as the cancellation hook, then
// verifies declared outputs. Safe to retry with identical inputs: stages are
// required to be idempotent.
func (b *Backend) Execute(ctx context.Context, req ports.ExecRequest) (*ports.ExecResult, error) {
	if len(req.Argv) == 0 {
		return nil, &domain.ExecutionError{
			Node: req.Node, SampleID: req.SampleID, ExitCode: -1,
			Err: fmt.Errorf("empty command"),
		}
	}
	ctx, cancel := timeoutHint(ctx, req.Profile)
	defer cancel()

	if req.WorkDir != "" {
		if err := os.MkdirAll(req.WorkDir, 0o755); err != nil {
			return nil, &domain.ExecutionError{
				Node: req.Node, SampleID: req.SampleID, ExitCode: -1,
				Err: fmt.Errorf("creating work dir: %w", err),
			}
		}
	}

	var stderr bytes.Buffer
	run := func() error {
		stderr.Reset()
		cmd := exec.CommandContext(ctx, req.Argv[0], req.Argv[1:]...)
		cmd.Dir = req.WorkDir
		cmd.Stderr = &stderr
		cmd.Env = os.Environ()
		for k, v := range req.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}

		err := cmd.Run()
		if err == nil {
			return nil
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			// The tool ran and judged the inputs; retrying won't change that.
			return backoff.Permanent(&domain.ExecutionError{
				Node: req.Node, SampleID: req.SampleID,
				ExitCode: exitErr.ExitCode(),
				Err:      fmt.Errorf("%s: %s", exitErr, firstLine(stderr.Bytes())),
			})
		}
		if ctx.Err() != nil {
			return backoff.Permanent(&domain.ExecutionError{
				Node: req.Node, SampleID: req.SampleID, ExitCode: -1,
				Err: ctx.Err(),
			})
		}
		// Start failure (exec not found, resource blip): transient.
		b.logger.Warn("process start failed, retrying",
			zap.String("node", req.Node),
			zap.String("sample", req.SampleID),
			zap.Error(err))
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), b.startRetries)
	if err := backoff.Retry(run, backoff.WithContext(policy, ctx)); err != nil {
		var execErr *domain.ExecutionError
		if errors.As(err, &execErr) {
			return nil, execErr
		}
		return nil, &domain.ExecutionError{Node: req.Node, SampleID: req.SampleID, ExitCode: -1, Err: err}
	}

	if err := VerifyOutputs(req); err != nil {
		return nil, err
	}
	return &ports.ExecResult{ExitCode: 0, Artifacts: req.Outputs}, nil
}

// VerifyOutputs checks that every declared output exists and is non-empty,
// returning a MissingOutput execution error otherwise, even when the
// underlying process reported success.
func VerifyOutputs(req ports.ExecRequest) error {
	for _, out := range req.Outputs {
		info, err := os.Stat(out.Path)
		if err != nil || info.Size() == 0 {
			return &domain.ExecutionError{
				Node: req.Node, SampleID: req.SampleID, ExitCode: 0,
				Err: fmt.Errorf("%w: %s (%s)", domain.ErrMissingOutput, out.Name, out.Path),
			}
		}
	}
	return nil
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	const max = 200
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

// timeoutHint derives a context deadline from the profile's wall-clock hint.
func timeoutHint(ctx context.Context, p domain.ResourceProfile) (context.Context, context.CancelFunc) {
	if p.WallHint <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.WallHint)
}
