package recognition

import (
	"math"
)

// Catalog is the immutable set of enrolled faces.
// Duplicate labels are allowed and all of them take part in matching.
type Catalog struct {
	entries []Entry
}

// NewCatalog builds a catalog from entries. The slice is copied.
func NewCatalog(entries []Entry) *Catalog {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &Catalog{entries: cp}
}

// Len returns the number of entries
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Labels returns the labels in enrollment order
func (c *Catalog) Labels() []string {
	if c == nil {
		return nil
	}
	labels := make([]string, len(c.entries))
	for i, e := range c.entries {
		labels[i] = e.Label
	}
	return labels
}

// Entries returns a copy of the entries
func (c *Catalog) Entries() []Entry {
	if c == nil {
		return nil
	}
	cp := make([]Entry, len(c.entries))
	copy(cp, c.entries)
	return cp
}

// Match finds the closest entry to probe. The face is known only when the
// closest distance is within tolerance; ties keep the first entry.
// An empty catalog always yields UnknownLabel.
func (c *Catalog) Match(probe Embedding, tolerance float64) Match {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	if c.Len() == 0 {
		return Match{Label: UnknownLabel, Distance: math.Inf(1)}
	}

	known := make([]Embedding, len(c.entries))
	for i, e := range c.entries {
		known[i] = e.Embedding
	}

	best := -1
	bestDist := math.Inf(1)
	for i, d := range Distances(known, probe) {
		if d < bestDist {
			best = i
			bestDist = d
		}
	}

	if best < 0 || bestDist > tolerance {
		return Match{Label: UnknownLabel, Distance: bestDist}
	}
	return Match{Label: c.entries[best].Label, Distance: bestDist, Known: true}
}
