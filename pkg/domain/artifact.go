package domain

import "sort"

// Artifact is one file produced or consumed by a task instance. Name is the
// logical name within the stage contract; Path is where the file lives.
type Artifact struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Tuple is one item flowing on a channel. Stream tuples carry a sample key;
// value tuples (reference bundles) carry an empty key.
type Tuple struct {
	Key       string           `json:"key,omitempty"`
	Sample    *Sample          `json:"sample,omitempty"`
	Ref       *ReferenceBundle `json:"ref,omitempty"`
	Artifacts []Artifact       `json:"artifacts,omitempty"`
}

// Artifact returns the named artifact carried by the tuple.
func (t Tuple) Artifact(name string) (Artifact, bool) {
	for _, a := range t.Artifacts {
		if a.Name == name {
			return a, true
		}
	}
	return Artifact{}, false
}

// MergeTuples combines tuples that share a key into one canonical tuple.
// Artifacts are sorted by (Name, Path) so the result does not depend on the
// order in which the inputs arrived or were listed.
func MergeTuples(tuples ...Tuple) Tuple {
	out := Tuple{}
	for _, t := range tuples {
		if out.Key == "" {
			out.Key = t.Key
		}
		if out.Sample == nil {
			out.Sample = t.Sample
		}
		if out.Ref == nil {
			out.Ref = t.Ref
		}
		out.Artifacts = append(out.Artifacts, t.Artifacts...)
	}
	sort.Slice(out.Artifacts, func(i, j int) bool {
		a, b := out.Artifacts[i], out.Artifacts[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Path < b.Path
	})
	return out
}
