// Package catalog provides the static list of food categories and
// restaurants a client chooses from during a run.
package catalog

import (
	_ "embed"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultYAML []byte

// Option is a selectable restaurant.
type Option struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Category groups options under a food type.
type Category struct {
	Name    string   `yaml:"name"`
	Options []Option `yaml:"options"`
}

type file struct {
	Categories []Category `yaml:"categories"`
}

// Catalog is read-only after construction and safe for concurrent use.
type Catalog struct {
	categories []Category
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("catalog: embedded catalog is invalid: %v", err))
	}
	return c
}

// Load reads a catalog from a YAML file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes and validates catalog YAML. Category names must be unique
// (case-insensitive), every category needs at least one option, and option
// ids must be unique within the catalog.
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("catalog has no categories")
	}

	seenCat := make(map[string]bool)
	seenOpt := make(map[string]bool)
	for _, cat := range f.Categories {
		key := strings.ToLower(strings.TrimSpace(cat.Name))
		if key == "" {
			return nil, fmt.Errorf("category with empty name")
		}
		if seenCat[key] {
			return nil, fmt.Errorf("duplicate category %q", cat.Name)
		}
		seenCat[key] = true
		if len(cat.Options) == 0 {
			return nil, fmt.Errorf("category %q has no options", cat.Name)
		}
		for _, opt := range cat.Options {
			if opt.ID == "" || opt.Name == "" {
				return nil, fmt.Errorf("category %q: option needs id and name", cat.Name)
			}
			if seenOpt[opt.ID] {
				return nil, fmt.Errorf("duplicate option id %q", opt.ID)
			}
			seenOpt[opt.ID] = true
		}
	}

	return &Catalog{categories: f.Categories}, nil
}

// Categories returns category names in file order.
func (c *Catalog) Categories() []string {
	names := make([]string, len(c.categories))
	for i, cat := range c.categories {
		names[i] = cat.Name
	}
	return names
}

// Category resolves name case-insensitively and returns the canonical name.
func (c *Catalog) Category(name string) (string, bool) {
	cat := c.lookup(name)
	if cat == nil {
		return "", false
	}
	return cat.Name, true
}

// Options returns the options of a category with ids obfuscated for sessionID.
func (c *Catalog) Options(sessionID, category string) ([]Option, bool) {
	cat := c.lookup(category)
	if cat == nil {
		return nil, false
	}
	out := make([]Option, len(cat.Options))
	for i, opt := range cat.Options {
		opt.ID = ObfuscateID(sessionID, opt.ID)
		out[i] = opt
	}
	return out, true
}

// Find looks up an option by its obfuscated id within a category.
func (c *Catalog) Find(sessionID, category, id string) (Option, bool) {
	opts, ok := c.Options(sessionID, category)
	if !ok {
		return Option{}, false
	}
	for _, opt := range opts {
		if opt.ID == id {
			return opt, true
		}
	}
	return Option{}, false
}

// Listing is the document served by the restaurant list resource.
type Listing struct {
	Title string   `json:"title"`
	Items []Option `json:"items"`
}

// List returns the categories when category is empty or unknown, otherwise
// that category's options as sessionID sees them.
func (c *Catalog) List(sessionID, category string) Listing {
	if category != "" {
		if opts, ok := c.Options(sessionID, category); ok {
			name, _ := c.Category(category)
			return Listing{Title: "Menus for " + name, Items: opts}
		}
	}
	items := make([]Option, len(c.categories))
	for i, cat := range c.categories {
		items[i] = Option{ID: cat.Name, Name: cat.Name}
	}
	return Listing{Title: "Available Food Categories", Items: items}
}

func (c *Catalog) lookup(name string) *Category {
	key := strings.ToLower(strings.TrimSpace(name))
	for i := range c.categories {
		if strings.ToLower(c.categories[i].Name) == key {
			return &c.categories[i]
		}
	}
	return nil
}

// ObfuscateID derives the per-session form of an option id. Deterministic,
// so the same session always sees the same ids.
func ObfuscateID(sessionID, id string) string {
	return base64.StdEncoding.EncodeToString([]byte(sessionID + ":" + id))
}
