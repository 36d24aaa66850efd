// Package docker runs task instances inside containers via the docker CLI.
// It reuses the local backend's contract: same request, same output
// verification, swappable without touching scheduler or DAG logic.
package docker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/genoflow/genoflow/pkg/adapters/backend/local"
	"github.com/genoflow/genoflow/pkg/ports"
)

// Backend wraps each stage command in `docker run`, bind-mounting the work
// directory so declared outputs land where the scheduler expects them.
type Backend struct {
	inner        *local.Backend
	defaultImage string
	logger       *zap.Logger
}

// New creates a docker backend. defaultImage is used when a node declares none.
func New(defaultImage string, logger *zap.Logger) *Backend {
	return &Backend{
		inner:        local.New(logger),
		defaultImage: defaultImage,
		logger:       logger,
	}
}

// Name identifies the backend in logs and reports.
func (b *Backend) Name() string { return "docker" }

// Execute wraps the request command into a container invocation and delegates
// to the local backend, which handles retries, cancellation and output
// verification.
func (b *Backend) Execute(ctx context.Context, req ports.ExecRequest) (*ports.ExecResult, error) {
	argv, image := containerArgv(req, b.defaultImage)

	b.logger.Debug("containerized execution",
		zap.String("node", req.Node),
		zap.String("sample", req.SampleID),
		zap.String("image", image),
		zap.String("command", strings.Join(req.Argv, " ")))

	wrapped := req
	wrapped.Argv = argv
	wrapped.Env = nil // passed through -e flags above
	return b.inner.Execute(ctx, wrapped)
}

// containerArgv builds the docker invocation. Stage inputs live outside the
// per-stage work directory (raw reads, upstream artifacts, reference files),
// so every host directory in req.Mounts is bind-mounted at its host path.
func containerArgv(req ports.ExecRequest, defaultImage string) ([]string, string) {
	image := req.Image
	if image == "" {
		image = defaultImage
	}

	argv := []string{
		"docker", "run", "--rm",
		"--cpus", fmt.Sprintf("%d", req.Profile.CPUs),
		"--memory", fmt.Sprintf("%d", req.Profile.MemoryBytes),
	}
	mounts := req.Mounts
	if len(mounts) == 0 && req.WorkDir != "" {
		mounts = []string{req.WorkDir}
	}
	for _, m := range mounts {
		argv = append(argv, "-v", m+":"+m)
	}
	if req.WorkDir != "" {
		argv = append(argv, "-w", req.WorkDir)
	}
	keys := make([]string, 0, len(req.Env))
	for k := range req.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		argv = append(argv, "-e", k+"="+req.Env[k])
	}
	argv = append(argv, image)
	argv = append(argv, req.Argv...)
	return argv, image
}
