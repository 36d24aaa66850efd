package pipeline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/genoflow/genoflow/internal/dag"
	"github.com/genoflow/genoflow/pkg/domain"
)

// Publisher copies succeeded artifacts into the structured output tree:
//
//	<outdir>/<sample>/<category>/<basename>    per-sample stages
//	<outdir>/<category>/<basename>             aggregate stages
//
// Publishing is a pure side effect of success; failures are logged by the
// scheduler and never affect the run outcome.
type Publisher struct {
	outDir string
	logger *zap.Logger
}

// NewPublisher creates a publisher rooted at outDir.
func NewPublisher(outDir string, logger *zap.Logger) *Publisher {
	return &Publisher{outDir: outDir, logger: logger}
}

// Publish copies the instance's output artifacts into the node's category
// directory.
func (p *Publisher) Publish(node *dag.NodeSpec, inst *domain.TaskInstance) error {
	dir := filepath.Join(p.outDir, inst.SampleID, node.Category)
	if inst.SampleID == "" {
		dir = filepath.Join(p.outDir, node.Category)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating publish directory: %w", err)
	}

	for _, a := range inst.Outputs {
		dst := filepath.Join(dir, filepath.Base(a.Path))
		if err := copyFile(a.Path, dst); err != nil {
			return fmt.Errorf("publishing %s: %w", a.Name, err)
		}
		p.logger.Debug("published artifact",
			zap.String("node", node.Name),
			zap.String("sample", inst.SampleID),
			zap.String("artifact", a.Name),
			zap.String("path", dst))
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := out.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}
