// Package catalog holds the read-only list of model providers and the models
// each one offers. It backs both the selection UI and the model resolver.
package catalog

import (
	_ "embed"
	"fmt"

	"github.com/BurntSushi/toml"
)

//go:embed catalog.toml
var builtin []byte

// Model is a selectable model of a provider.
type Model struct {
	ID    string `toml:"id" json:"id"`
	Label string `toml:"label" json:"label"`
}

// Provider describes a model backend.
type Provider struct {
	Key         string  `toml:"key" json:"key"`
	Name        string  `toml:"name" json:"name"`
	RequiresKey bool    `toml:"requires_key" json:"requiresKey"`
	Models      []Model `toml:"models" json:"models"`
}

// DefaultModel returns the first listed model.
func (p Provider) DefaultModel() string {
	if len(p.Models) == 0 {
		return ""
	}
	return p.Models[0].ID
}

// Catalog is an immutable provider listing.
type Catalog struct {
	defaultKey string
	order      []string
	providers  map[string]Provider
}

type document struct {
	DefaultProvider string     `toml:"default_provider"`
	Providers       []Provider `toml:"providers"`
}

// Builtin parses the embedded catalog.
func Builtin() (*Catalog, error) {
	return Parse(builtin)
}

// MustBuiltin is Builtin for package initialisation and tests.
func MustBuiltin() *Catalog {
	c, err := Builtin()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse decodes a TOML catalog document.
func Parse(data []byte) (*Catalog, error) {
	var doc document
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(doc.Providers) == 0 {
		return nil, fmt.Errorf("catalog has no providers")
	}

	c := &Catalog{
		defaultKey: doc.DefaultProvider,
		providers:  make(map[string]Provider, len(doc.Providers)),
	}
	for _, p := range doc.Providers {
		if p.Key == "" {
			return nil, fmt.Errorf("catalog provider without key")
		}
		if _, dup := c.providers[p.Key]; dup {
			return nil, fmt.Errorf("duplicate catalog provider %q", p.Key)
		}
		c.order = append(c.order, p.Key)
		c.providers[p.Key] = p
	}
	if c.defaultKey == "" {
		c.defaultKey = c.order[0]
	}

	def, ok := c.providers[c.defaultKey]
	if !ok {
		return nil, fmt.Errorf("default provider %q not in catalog", c.defaultKey)
	}
	if def.RequiresKey || def.DefaultModel() == "" {
		return nil, fmt.Errorf("default provider %q must be keyless and list a model", c.defaultKey)
	}
	return c, nil
}

// Lookup finds a provider by key.
func (c *Catalog) Lookup(key string) (Provider, bool) {
	p, ok := c.providers[key]
	return p, ok
}

// Default returns the fallback provider.
func (c *Catalog) Default() Provider {
	return c.providers[c.defaultKey]
}

// List returns providers in declaration order.
func (c *Catalog) List() []Provider {
	out := make([]Provider, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.providers[key])
	}
	return out
}

// KeyedProviders returns the keys of providers that need a user credential.
func (c *Catalog) KeyedProviders() []string {
	var out []string
	for _, key := range c.order {
		if c.providers[key].RequiresKey {
			out = append(out, key)
		}
	}
	return out
}

// Names maps provider key to display name.
func (c *Catalog) Names() map[string]string {
	out := make(map[string]string, len(c.providers))
	for key, p := range c.providers {
		out[key] = p.Name
	}
	return out
}

// Models maps provider key to its model list.
func (c *Catalog) Models() map[string][]Model {
	out := make(map[string][]Model, len(c.providers))
	for key, p := range c.providers {
		out[key] = append([]Model(nil), p.Models...)
	}
	return out
}

// HasModel reports whether the provider lists modelID.
func (c *Catalog) HasModel(provider, modelID string) bool {
	p, ok := c.providers[provider]
	if !ok {
		return false
	}
	for _, m := range p.Models {
		if m.ID == modelID {
			return true
		}
	}
	return false
}
