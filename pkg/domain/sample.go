package domain

// SampleStatus flags a sample as case (tumor) or control (normal).
type SampleStatus string

const (
	StatusCase    SampleStatus = "case"
	StatusControl SampleStatus = "control"
)

// Sample is one sequenced sample discovered at startup. It is immutable after
// discovery and flows through the graph as the join key.
type Sample struct {
	ID     string       `json:"id"`
	Gender string       `json:"gender,omitempty"`
	Status SampleStatus `json:"status"`

	// Paired-end read files.
	R1 string `json:"r1"`
	R2 string `json:"r2,omitempty"`
}

// ReferenceBundle is the set of reference-genome artifacts shared read-only by
// every task that needs them. Built once at startup, never mutated.
type ReferenceBundle struct {
	GenomeID        string   `json:"genome_id"`
	Sequence        string   `json:"sequence"`
	Dictionary      string   `json:"dictionary"`
	Index           string   `json:"index"`
	KnownSites      []string `json:"known_sites"`
	PopulationPanel string   `json:"population_panel"`
}
