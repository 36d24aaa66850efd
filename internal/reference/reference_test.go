package reference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genoflow/genoflow/pkg/domain"
)

const catalogTOML = `
[genomes.gatk38]
sequence = "/refs/gatk38/genome.fasta"
dictionary = "/refs/gatk38/genome.dict"
index = "/refs/gatk38/genome.fasta.fai"
known_sites = ["/refs/gatk38/dbsnp.vcf.gz", "/refs/gatk38/mills.vcf.gz"]
population_panel = "/refs/gatk38/af-only-gnomad.vcf.gz"

[genomes.grch38]
sequence = "/refs/grch38/genome.fasta"
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "genomes.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadKnownGenome(t *testing.T) {
	path := writeCatalog(t, catalogTOML)

	bundle, err := Load(path, "gatk38")
	require.NoError(t, err)

	assert.Equal(t, "gatk38", bundle.GenomeID)
	assert.Equal(t, "/refs/gatk38/genome.fasta", bundle.Sequence)
	assert.Equal(t, "/refs/gatk38/genome.dict", bundle.Dictionary)
	assert.Len(t, bundle.KnownSites, 2)
	assert.Equal(t, "/refs/gatk38/af-only-gnomad.vcf.gz", bundle.PopulationPanel)
}

func TestLoadSparseGenome(t *testing.T) {
	path := writeCatalog(t, catalogTOML)

	bundle, err := Load(path, "grch38")
	require.NoError(t, err)
	assert.Empty(t, bundle.Dictionary)
	assert.Empty(t, bundle.KnownSites)
}

func TestLoadUnknownGenomeIsFatal(t *testing.T) {
	path := writeCatalog(t, catalogTOML)

	_, err := Load(path, "mm10")
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "gatk38", "error names the known genomes")
}

func TestLoadMissingCatalogIsFatal(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"), "gatk38")
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadRejectsGenomeWithoutSequence(t *testing.T) {
	path := writeCatalog(t, "[genomes.broken]\ndictionary = \"/refs/x.dict\"\n")

	_, err := Load(path, "broken")
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
