// Package pipeline declares the germline/somatic variant-calling graph: its
// channels, stage nodes, resource profiles and external tool invocations.
package pipeline

import (
	"path/filepath"

	"github.com/genoflow/genoflow/internal/dag"
	"github.com/genoflow/genoflow/internal/dataflow"
	"github.com/genoflow/genoflow/pkg/domain"
)

const gib = uint64(1) << 30

// Options parameterizes the graph for one run.
type Options struct {
	// WorkDir is where stages write intermediate artifacts.
	WorkDir string
	// Image is the container image for every stage, used by docker backends.
	Image string
}

// Pipeline is the declared graph plus the initial channels the controller
// seeds: the per-sample read stream and the shared reference bundle.
type Pipeline struct {
	Samples *dataflow.Channel
	Ref     *dataflow.Channel
	Nodes   []*dag.NodeSpec
}

// New wires the stage graph. Stages subscribe to channels directly; fan-out
// happens wherever two stages read the same channel (raw reads feed both QC
// and trimming, recalibrated alignments feed both callers, the merged VCF
// feeds both evaluation and annotation). The merge stage is the one true
// keyed join: it pairs each sample's filtered germline and somatic calls.
func New(opts Options) *Pipeline {
	samples := dataflow.NewStream("samples")
	ref := dataflow.NewValue("reference")

	trimmed := dataflow.NewStream("trimmed-reads")
	aligned := dataflow.NewStream("aligned-bam")
	marked := dataflow.NewStream("markdup-bam")
	bqsrBam := dataflow.NewStream("bqsr-bam")
	germlineVcf := dataflow.NewStream("germline-vcf")
	somaticVcf := dataflow.NewStream("somatic-vcf")
	filteredGermline := dataflow.NewStream("filtered-germline-vcf")
	filteredSomatic := dataflow.NewStream("filtered-somatic-vcf")
	mergedVcf := dataflow.NewStream("merged-vcf")
	annotatedVcf := dataflow.NewStream("annotated-vcf")

	b := &builder{work: opts.WorkDir, image: opts.Image}

	nodes := []*dag.NodeSpec{
		{
			Name:     "fastqc",
			Inputs:   []*dataflow.Channel{samples},
			Profile:  domain.ResourceProfile{CPUs: 1, MemoryBytes: 1 * gib},
			Category: "qc",
			Run:      b.fastqc,
		},
		{
			Name:    "trim",
			Inputs:  []*dataflow.Channel{samples},
			Outputs: []*dataflow.Channel{trimmed},
			Profile: domain.ResourceProfile{CPUs: 2, MemoryBytes: 2 * gib},
			Run:     b.trim,
		},
		{
			Name:    "align",
			Inputs:  []*dataflow.Channel{trimmed, ref},
			Outputs: []*dataflow.Channel{aligned},
			Profile: domain.ResourceProfile{CPUs: 4, MemoryBytes: 8 * gib},
			Run:     b.align,
		},
		{
			Name:    "markdup",
			Inputs:  []*dataflow.Channel{aligned},
			Outputs: []*dataflow.Channel{marked},
			Profile: domain.ResourceProfile{CPUs: 2, MemoryBytes: 4 * gib},
			Run:     b.markdup,
		},
		{
			Name:     "bqsr",
			Inputs:   []*dataflow.Channel{marked, ref},
			Outputs:  []*dataflow.Channel{bqsrBam},
			Profile:  domain.ResourceProfile{CPUs: 2, MemoryBytes: 4 * gib},
			Category: "alignments",
			Run:      b.bqsr,
		},
		{
			Name:    "germline",
			Inputs:  []*dataflow.Channel{bqsrBam, ref},
			Outputs: []*dataflow.Channel{germlineVcf},
			Profile: domain.ResourceProfile{CPUs: 4, MemoryBytes: 8 * gib},
			Run:     b.germline,
		},
		{
			Name:    "somatic",
			Inputs:  []*dataflow.Channel{bqsrBam, ref},
			Outputs: []*dataflow.Channel{somaticVcf},
			Profile: domain.ResourceProfile{CPUs: 4, MemoryBytes: 8 * gib},
			Run:     b.somatic,
		},
		{
			Name:    "filter_germline",
			Inputs:  []*dataflow.Channel{germlineVcf, ref},
			Outputs: []*dataflow.Channel{filteredGermline},
			Profile: domain.ResourceProfile{CPUs: 1, MemoryBytes: 1 * gib},
			Run:     b.filterGermline,
		},
		{
			Name:    "filter_somatic",
			Inputs:  []*dataflow.Channel{somaticVcf, ref},
			Outputs: []*dataflow.Channel{filteredSomatic},
			Profile: domain.ResourceProfile{CPUs: 1, MemoryBytes: 1 * gib},
			Run:     b.filterSomatic,
		},
		{
			Name:     "merge",
			Inputs:   []*dataflow.Channel{filteredGermline, filteredSomatic},
			Outputs:  []*dataflow.Channel{mergedVcf},
			Profile:  domain.ResourceProfile{CPUs: 1, MemoryBytes: 1 * gib},
			Category: "analysis",
			Run:      b.merge,
		},
		{
			Name:      "vcfeval",
			Inputs:    []*dataflow.Channel{mergedVcf, ref},
			Profile:   domain.ResourceProfile{CPUs: 2, MemoryBytes: 4 * gib},
			Aggregate: true,
			Category:  "stats",
			Run:       b.vcfeval,
		},
		{
			Name:     "annotate",
			Inputs:   []*dataflow.Channel{mergedVcf, ref},
			Outputs:  []*dataflow.Channel{annotatedVcf},
			Profile:  domain.ResourceProfile{CPUs: 2, MemoryBytes: 4 * gib},
			Category: "analysis",
			Run:      b.annotate,
		},
	}

	return &Pipeline{Samples: samples, Ref: ref, Nodes: nodes}
}

// Initial returns the channels the controller seeds before the run starts.
func (p *Pipeline) Initial() []*dataflow.Channel {
	return []*dataflow.Channel{p.Samples, p.Ref}
}

// SampleTuple wraps one discovered sample for emission on the samples stream.
func SampleTuple(s domain.Sample) domain.Tuple {
	sample := s
	arts := []domain.Artifact{{Name: "r1", Path: s.R1}}
	if s.R2 != "" {
		arts = append(arts, domain.Artifact{Name: "r2", Path: s.R2})
	}
	return domain.Tuple{Key: s.ID, Sample: &sample, Artifacts: arts}
}

// RefTuple wraps the reference bundle for emission on the reference channel.
// Its artifacts participate in downstream fingerprints so a reference change
// invalidates cached results.
func RefTuple(ref *domain.ReferenceBundle) domain.Tuple {
	arts := []domain.Artifact{{Name: "ref_sequence", Path: ref.Sequence}}
	if ref.Dictionary != "" {
		arts = append(arts, domain.Artifact{Name: "ref_dict", Path: ref.Dictionary})
	}
	return domain.Tuple{Ref: ref, Artifacts: arts}
}

type builder struct {
	work  string
	image string
}

// stageDir places one instance's intermediates under work/<sample>/<stage>,
// or work/<stage> for aggregate stages.
func (b *builder) stageDir(stage, sampleID string) string {
	if sampleID == "" {
		return filepath.Join(b.work, stage)
	}
	return filepath.Join(b.work, sampleID, stage)
}
