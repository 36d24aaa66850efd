// Package reference loads reference-genome bundles from a TOML catalog.
package reference

import (
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/genoflow/genoflow/pkg/domain"
)

// catalog mirrors genomes.toml:
//
//	[genomes.gatk38]
//	sequence = "/refs/gatk38/genome.fasta"
//	dictionary = "/refs/gatk38/genome.dict"
//	index = "/refs/gatk38/genome.fasta.fai"
//	known_sites = ["/refs/gatk38/dbsnp.vcf.gz"]
//	population_panel = "/refs/gatk38/af-only-gnomad.vcf.gz"
type catalog struct {
	Genomes map[string]entry `toml:"genomes"`
}

type entry struct {
	Sequence        string   `toml:"sequence"`
	Dictionary      string   `toml:"dictionary"`
	Index           string   `toml:"index"`
	KnownSites      []string `toml:"known_sites"`
	PopulationPanel string   `toml:"population_panel"`
}

// Load reads the catalog at path and returns the bundle for genomeID. An
// unknown id or unreadable catalog is a fatal configuration error.
func Load(path, genomeID string) (*domain.ReferenceBundle, error) {
	var cat catalog
	if _, err := toml.DecodeFile(path, &cat); err != nil {
		if os.IsNotExist(err) {
			return nil, domain.Configf("genome catalog %s not found", path)
		}
		return nil, domain.Configf("parsing genome catalog %s: %v", path, err)
	}

	e, ok := cat.Genomes[genomeID]
	if !ok {
		return nil, domain.Configf("unknown genome %q, catalog has %v", genomeID, knownIDs(cat))
	}
	if e.Sequence == "" {
		return nil, domain.Configf("genome %q: sequence path is required", genomeID)
	}

	return &domain.ReferenceBundle{
		GenomeID:        genomeID,
		Sequence:        e.Sequence,
		Dictionary:      e.Dictionary,
		Index:           e.Index,
		KnownSites:      e.KnownSites,
		PopulationPanel: e.PopulationPanel,
	}, nil
}

func knownIDs(cat catalog) []string {
	ids := make([]string, 0, len(cat.Genomes))
	for id := range cat.Genomes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
