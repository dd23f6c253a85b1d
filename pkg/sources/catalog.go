package sources

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the declarative list of available packs, loaded from a YAML
// file.
type Catalog struct {
	packs map[string]SourcePack
}

type catalogFile struct {
	Packs []SourcePack `yaml:"packs"`
}

// LoadCatalog reads a catalog.yaml file.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sources: reading catalog %s: %w", path, err)
	}
	var cf catalogFile
	if err := yaml.Unmarshal(raw, &cf); err != nil {
		return nil, fmt.Errorf("sources: parsing catalog %s: %w", path, err)
	}
	return NewCatalog(cf.Packs), nil
}

// NewCatalog builds a Catalog from an in-memory pack list, used by tests and
// by embedded default catalogs.
func NewCatalog(packs []SourcePack) *Catalog {
	m := make(map[string]SourcePack, len(packs))
	for _, p := range packs {
		m[p.PackID] = p
	}
	return &Catalog{packs: m}
}

// Get returns a catalog entry by pack ID.
func (c *Catalog) Get(packID string) (SourcePack, bool) {
	p, ok := c.packs[packID]
	return p, ok
}

// All returns every catalog entry.
func (c *Catalog) All() []SourcePack {
	out := make([]SourcePack, 0, len(c.packs))
	for _, p := range c.packs {
		out = append(out, p)
	}
	return out
}
