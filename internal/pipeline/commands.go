package pipeline

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/genoflow/genoflow/internal/dag"
	"github.com/genoflow/genoflow/pkg/domain"
)

// Command builders. Each receives the instance's merged input tuple (stream
// artifacts plus the reference bundle where declared) and returns the tool
// invocation with its declared outputs. Multi-step stages go through bash so
// pipes and && behave.

func (b *builder) fastqc(in domain.Tuple) (dag.Command, error) {
	s, err := sampleOf(in)
	if err != nil {
		return dag.Command{}, err
	}
	dir := b.stageDir("fastqc", s.ID)
	argv := []string{"fastqc", "--outdir", dir, s.R1}
	outs := []domain.Artifact{
		{Name: "qc_report_r1", Path: filepath.Join(dir, readReportName(s.R1))},
	}
	if s.R2 != "" {
		argv = append(argv, s.R2)
		outs = append(outs, domain.Artifact{Name: "qc_report_r2", Path: filepath.Join(dir, readReportName(s.R2))})
	}
	return dag.Command{Argv: argv, WorkDir: dir, Image: b.image, Outputs: outs}, nil
}

func (b *builder) trim(in domain.Tuple) (dag.Command, error) {
	s, err := sampleOf(in)
	if err != nil {
		return dag.Command{}, err
	}
	dir := b.stageDir("trim", s.ID)
	out1 := filepath.Join(dir, s.ID+".trimmed_R1.fastq.gz")
	argv := []string{
		"fastp",
		"--in1", s.R1, "--out1", out1,
		"--json", filepath.Join(dir, s.ID+".fastp.json"),
		"--html", filepath.Join(dir, s.ID+".fastp.html"),
	}
	outs := []domain.Artifact{{Name: "trimmed_r1", Path: out1}}
	if s.R2 != "" {
		out2 := filepath.Join(dir, s.ID+".trimmed_R2.fastq.gz")
		argv = append(argv, "--in2", s.R2, "--out2", out2)
		outs = append(outs, domain.Artifact{Name: "trimmed_r2", Path: out2})
	}
	return dag.Command{Argv: argv, WorkDir: dir, Image: b.image, Outputs: outs}, nil
}

func (b *builder) align(in domain.Tuple) (dag.Command, error) {
	s, err := sampleOf(in)
	if err != nil {
		return dag.Command{}, err
	}
	r1, ok := in.Artifact("trimmed_r1")
	if !ok {
		return dag.Command{}, fmt.Errorf("align %s: no trimmed reads in input", s.ID)
	}
	reads := r1.Path
	if r2, ok := in.Artifact("trimmed_r2"); ok {
		reads += " " + r2.Path
	}
	dir := b.stageDir("align", s.ID)
	bam := filepath.Join(dir, s.ID+".sorted.bam")
	readGroup := fmt.Sprintf(`@RG\tID:%s\tSM:%s\tPL:ILLUMINA`, s.ID, s.ID)
	script := fmt.Sprintf("bwa mem -t 4 -R '%s' %s %s | samtools sort -@ 4 -o %s - && samtools index %s",
		readGroup, in.Ref.Sequence, reads, bam, bam)
	return dag.Command{
		Argv:    []string{"bash", "-c", script},
		WorkDir: dir,
		Image:   b.image,
		Outputs: []domain.Artifact{
			{Name: "bam", Path: bam},
			{Name: "bai", Path: bam + ".bai"},
		},
	}, nil
}

func (b *builder) markdup(in domain.Tuple) (dag.Command, error) {
	s, err := sampleOf(in)
	if err != nil {
		return dag.Command{}, err
	}
	bam, ok := in.Artifact("bam")
	if !ok {
		return dag.Command{}, fmt.Errorf("markdup %s: no aligned bam in input", s.ID)
	}
	dir := b.stageDir("markdup", s.ID)
	out := filepath.Join(dir, s.ID+".markdup.bam")
	metrics := filepath.Join(dir, s.ID+".markdup_metrics.txt")
	return dag.Command{
		Argv: []string{
			"gatk", "MarkDuplicates",
			"-I", bam.Path,
			"-O", out,
			"-M", metrics,
		},
		Env:     javaHeap(4 * gib),
		WorkDir: dir,
		Image:   b.image,
		Outputs: []domain.Artifact{
			{Name: "bam", Path: out},
			{Name: "markdup_metrics", Path: metrics},
		},
	}, nil
}

func (b *builder) bqsr(in domain.Tuple) (dag.Command, error) {
	s, err := sampleOf(in)
	if err != nil {
		return dag.Command{}, err
	}
	bam, ok := in.Artifact("bam")
	if !ok {
		return dag.Command{}, fmt.Errorf("bqsr %s: no markdup bam in input", s.ID)
	}
	dir := b.stageDir("bqsr", s.ID)
	table := filepath.Join(dir, s.ID+".recal.table")
	out := filepath.Join(dir, s.ID+".bqsr.bam")

	recal := []string{
		"gatk", "BaseRecalibrator",
		"-I", bam.Path,
		"-R", in.Ref.Sequence,
		"-O", table,
	}
	for _, sites := range in.Ref.KnownSites {
		recal = append(recal, "--known-sites", sites)
	}
	apply := []string{
		"gatk", "ApplyBQSR",
		"-I", bam.Path,
		"-R", in.Ref.Sequence,
		"--bqsr-recal-file", table,
		"-O", out,
	}
	script := strings.Join(recal, " ") + " && " + strings.Join(apply, " ")
	return dag.Command{
		Argv:    []string{"bash", "-c", script},
		Env:     javaHeap(4 * gib),
		WorkDir: dir,
		Image:   b.image,
		Outputs: []domain.Artifact{
			{Name: "bam", Path: out},
			{Name: "recal_table", Path: table},
		},
	}, nil
}

func (b *builder) germline(in domain.Tuple) (dag.Command, error) {
	s, err := sampleOf(in)
	if err != nil {
		return dag.Command{}, err
	}
	bam, ok := in.Artifact("bam")
	if !ok {
		return dag.Command{}, fmt.Errorf("germline %s: no recalibrated bam in input", s.ID)
	}
	dir := b.stageDir("germline", s.ID)
	vcf := filepath.Join(dir, s.ID+".germline.vcf.gz")
	return dag.Command{
		Argv: []string{
			"gatk", "HaplotypeCaller",
			"-I", bam.Path,
			"-R", in.Ref.Sequence,
			"-O", vcf,
		},
		Env:     javaHeap(8 * gib),
		WorkDir: dir,
		Image:   b.image,
		Outputs: []domain.Artifact{{Name: "germline_vcf", Path: vcf}},
	}, nil
}

// somatic runs tumor-only against the population panel; paired tumor/normal
// calling would need cross-sample wiring the graph does not model.
func (b *builder) somatic(in domain.Tuple) (dag.Command, error) {
	s, err := sampleOf(in)
	if err != nil {
		return dag.Command{}, err
	}
	bam, ok := in.Artifact("bam")
	if !ok {
		return dag.Command{}, fmt.Errorf("somatic %s: no recalibrated bam in input", s.ID)
	}
	dir := b.stageDir("somatic", s.ID)
	vcf := filepath.Join(dir, s.ID+".somatic.vcf.gz")
	argv := []string{
		"gatk", "Mutect2",
		"-I", bam.Path,
		"-R", in.Ref.Sequence,
		"-tumor", s.ID,
		"-O", vcf,
	}
	if in.Ref.PopulationPanel != "" {
		argv = append(argv, "--germline-resource", in.Ref.PopulationPanel)
	}
	return dag.Command{
		Argv:    argv,
		Env:     javaHeap(8 * gib),
		WorkDir: dir,
		Image:   b.image,
		Outputs: []domain.Artifact{{Name: "somatic_vcf", Path: vcf}},
	}, nil
}

func (b *builder) filterGermline(in domain.Tuple) (dag.Command, error) {
	return b.filterVcf(in, "filter_germline", "germline_vcf",
		[]string{"gatk", "VariantFiltration", "--filter-name", "lowqual", "--filter-expression", "QD < 2.0 || FS > 60.0"})
}

func (b *builder) filterSomatic(in domain.Tuple) (dag.Command, error) {
	return b.filterVcf(in, "filter_somatic", "somatic_vcf",
		[]string{"gatk", "FilterMutectCalls"})
}

func (b *builder) filterVcf(in domain.Tuple, stage, artifact string, tool []string) (dag.Command, error) {
	s, err := sampleOf(in)
	if err != nil {
		return dag.Command{}, err
	}
	vcf, ok := in.Artifact(artifact)
	if !ok {
		return dag.Command{}, fmt.Errorf("%s %s: no %s in input", stage, s.ID, artifact)
	}
	dir := b.stageDir(stage, s.ID)
	out := filepath.Join(dir, strings.TrimSuffix(filepath.Base(vcf.Path), ".vcf.gz")+".filtered.vcf.gz")
	argv := append(append([]string(nil), tool...),
		"-V", vcf.Path,
		"-R", in.Ref.Sequence,
		"-O", out,
	)
	return dag.Command{
		Argv:    argv,
		Env:     javaHeap(1 * gib),
		WorkDir: dir,
		Image:   b.image,
		Outputs: []domain.Artifact{{Name: artifact, Path: out}},
	}, nil
}

// merge pairs each sample's filtered germline and somatic calls into one VCF.
func (b *builder) merge(in domain.Tuple) (dag.Command, error) {
	s, err := sampleOf(in)
	if err != nil {
		return dag.Command{}, err
	}
	germline, ok := in.Artifact("germline_vcf")
	if !ok {
		return dag.Command{}, fmt.Errorf("merge %s: no filtered germline vcf in input", s.ID)
	}
	somatic, ok := in.Artifact("somatic_vcf")
	if !ok {
		return dag.Command{}, fmt.Errorf("merge %s: no filtered somatic vcf in input", s.ID)
	}
	dir := b.stageDir("merge", s.ID)
	out := filepath.Join(dir, s.ID+".merged.vcf.gz")
	script := fmt.Sprintf("bcftools concat -a %s %s -O z -o %s && bcftools index -t %s",
		germline.Path, somatic.Path, out, out)
	return dag.Command{
		Argv:    []string{"bash", "-c", script},
		WorkDir: dir,
		Image:   b.image,
		Outputs: []domain.Artifact{{Name: "merged_vcf", Path: out}},
	}, nil
}

// vcfeval evaluates every sample's merged calls in one aggregate pass.
func (b *builder) vcfeval(in domain.Tuple) (dag.Command, error) {
	var vcfs []string
	for _, a := range in.Artifacts {
		if a.Name == "merged_vcf" {
			vcfs = append(vcfs, a.Path)
		}
	}
	if len(vcfs) == 0 {
		return dag.Command{}, fmt.Errorf("vcfeval: no merged vcfs in input")
	}
	dir := b.stageDir("vcfeval", "")
	summary := filepath.Join(dir, "vcfeval_summary.txt")
	script := fmt.Sprintf("bcftools stats %s > %s", strings.Join(vcfs, " "), summary)
	return dag.Command{
		Argv:    []string{"bash", "-c", script},
		WorkDir: dir,
		Image:   b.image,
		Outputs: []domain.Artifact{{Name: "vcfeval_summary", Path: summary}},
	}, nil
}

func (b *builder) annotate(in domain.Tuple) (dag.Command, error) {
	s, err := sampleOf(in)
	if err != nil {
		return dag.Command{}, err
	}
	vcf, ok := in.Artifact("merged_vcf")
	if !ok {
		return dag.Command{}, fmt.Errorf("annotate %s: no merged vcf in input", s.ID)
	}
	dir := b.stageDir("annotate", s.ID)
	out := filepath.Join(dir, s.ID+".annotated.vcf.gz")
	return dag.Command{
		Argv: []string{
			"vep",
			"--input_file", vcf.Path,
			"--output_file", out,
			"--vcf", "--compress_output", "bgzip",
			"--fasta", in.Ref.Sequence,
			"--offline",
		},
		WorkDir: dir,
		Image:   b.image,
		Outputs: []domain.Artifact{{Name: "annotated_vcf", Path: out}},
	}, nil
}

func sampleOf(in domain.Tuple) (*domain.Sample, error) {
	if in.Sample == nil {
		return nil, fmt.Errorf("tuple %q carries no sample", in.Key)
	}
	return in.Sample, nil
}

// javaHeap caps the JVM at the stage's memory reservation so the ledger
// accounting holds for GATK stages.
func javaHeap(limit uint64) map[string]string {
	return map[string]string{
		"JAVA_TOOL_OPTIONS": fmt.Sprintf("-Xmx%dm", limit/(1<<20)),
	}
}

// readReportName maps a read file to the report FastQC writes for it:
// the input basename with fastq extensions replaced by _fastqc.html.
func readReportName(readPath string) string {
	base := filepath.Base(readPath)
	for _, ext := range []string{".fastq.gz", ".fq.gz", ".fastq", ".fq"} {
		if strings.HasSuffix(base, ext) {
			base = strings.TrimSuffix(base, ext)
			break
		}
	}
	return base + "_fastqc.html"
}
