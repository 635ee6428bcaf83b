// Package catalog carries the built-in table of model families the
// on-device runtime can serve, plus the prompt templates and token
// heuristics that depend on the family.
package catalog

import (
	"sort"
	"strings"
)

// Family selects the prompt template a model expects.
type Family string

const (
	FamilyChatML Family = "chatml"
	FamilyLlama3 Family = "llama3"
	FamilyGemma  Family = "gemma"
	FamilyPhi    Family = "phi"
)

type Entry struct {
	// ID is the catalog key, matched against model identifiers by
	// exact value first and then by prefix ("llama3.2" matches
	// "llama3.2:3b").
	ID          string
	DisplayName string
	Description string
	Family      Family

	ContextWindow int
	Vision        bool

	// Quantizations known to exist for this family's published files.
	Quantizations []string
}

type Catalog struct {
	entries map[string]Entry
}

// Builtin returns the compiled-in catalog.
func Builtin() *Catalog {
	return &Catalog{entries: knownModels}
}

// Lookup resolves a model identifier to its catalog entry. Exact match
// wins; otherwise the longest entry ID that prefixes the identifier.
func (c *Catalog) Lookup(modelID string) (Entry, bool) {
	if e, ok := c.entries[modelID]; ok {
		return e, true
	}

	base := modelID
	if i := strings.IndexByte(base, ':'); i >= 0 {
		base = base[:i]
	}
	if e, ok := c.entries[base]; ok {
		return e, true
	}

	var best Entry
	var found bool
	for id, e := range c.entries {
		if strings.HasPrefix(modelID, id) {
			if !found || len(id) > len(best.ID) {
				best, found = e, true
			}
		}
	}
	return best, found
}

// List returns all entries sorted by ID.
func (c *Catalog) List() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// VisionCapable reports whether the model can accept image input.
// Unknown models fall back to a name heuristic so remote servers with
// models outside the catalog still gate correctly.
func (c *Catalog) VisionCapable(modelID string) bool {
	if e, ok := c.Lookup(modelID); ok {
		return e.Vision
	}
	lower := strings.ToLower(modelID)
	for _, marker := range []string{"llava", "vision", "moondream", "bakllava", "minicpm-v"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ContextWindow returns the model's context window, or the given
// fallback for models outside the catalog.
func (c *Catalog) ContextWindow(modelID string, fallback int) int {
	if e, ok := c.Lookup(modelID); ok && e.ContextWindow > 0 {
		return e.ContextWindow
	}
	return fallback
}
