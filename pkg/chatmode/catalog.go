// Package chatmode holds the typed catalog of selectable chat modes.
package chatmode

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed modes.yaml
var defaultCatalog []byte

// ErrInvalidCatalog is returned by Validate and Load for unusable catalogs.
var ErrInvalidCatalog = errors.New("invalid chat mode catalog")

// Mode is one named system-prompt configuration.
type Mode struct {
	Key            string `yaml:"key"`
	Name           string `yaml:"name"`
	WelcomeMessage string `yaml:"welcome_message"`
	Prompt         string `yaml:"prompt"`
}

type catalogDocument struct {
	Default string `yaml:"default"`
	Modes   []Mode `yaml:"modes"`
}

// Catalog is an ordered, validated set of modes.
type Catalog struct {
	defaultKey string
	order      []string
	modes      map[string]Mode
}

// New builds a catalog from modes in display order. An empty defaultKey
// selects the first mode.
func New(defaultKey string, modes []Mode) (*Catalog, error) {
	c := &Catalog{
		defaultKey: strings.TrimSpace(defaultKey),
		modes:      make(map[string]Mode, len(modes)),
	}
	for _, m := range modes {
		m.Key = strings.TrimSpace(m.Key)
		m.Prompt = strings.TrimSpace(m.Prompt)
		if _, dup := c.modes[m.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate mode key %q", ErrInvalidCatalog, m.Key)
		}
		c.modes[m.Key] = m
		c.order = append(c.order, m.Key)
	}
	if c.defaultKey == "" && len(c.order) > 0 {
		c.defaultKey = c.order[0]
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load reads a YAML catalog from path. An empty path loads the built-in
// catalog.
func Load(path string) (*Catalog, error) {
	data := defaultCatalog
	source := "built-in catalog"
	if strings.TrimSpace(path) != "" {
		clean := filepath.Clean(path)
		raw, err := os.ReadFile(clean)
		if err != nil {
			return nil, fmt.Errorf("read chat modes %q: %w", clean, err)
		}
		data = raw
		source = clean
	}
	return parse(data, source)
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := parse(defaultCatalog, "built-in catalog")
	if err != nil {
		panic(err)
	}
	return c
}

func parse(data []byte, source string) (*Catalog, error) {
	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse chat modes %s: %w", source, err)
	}
	c, err := New(doc.Default, doc.Modes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}
	return c, nil
}

// Validate checks the catalog is usable before serving traffic.
func (c *Catalog) Validate() error {
	if c == nil || len(c.order) == 0 {
		return fmt.Errorf("%w: no modes defined", ErrInvalidCatalog)
	}
	for _, key := range c.order {
		m := c.modes[key]
		var missing []string
		if key == "" {
			return fmt.Errorf("%w: mode with empty key", ErrInvalidCatalog)
		}
		if strings.TrimSpace(m.Name) == "" {
			missing = append(missing, "name")
		}
		if strings.TrimSpace(m.WelcomeMessage) == "" {
			missing = append(missing, "welcome_message")
		}
		if m.Prompt == "" {
			missing = append(missing, "prompt")
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: mode %q missing %s", ErrInvalidCatalog, key, strings.Join(missing, ", "))
		}
	}
	if _, ok := c.modes[c.defaultKey]; !ok {
		return fmt.Errorf("%w: default mode %q not defined", ErrInvalidCatalog, c.defaultKey)
	}
	return nil
}

// WithDefault returns a copy of the catalog using key as the default mode.
func (c *Catalog) WithDefault(key string) (*Catalog, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return c, nil
	}
	if _, ok := c.modes[key]; !ok {
		return nil, fmt.Errorf("%w: default mode %q not defined", ErrInvalidCatalog, key)
	}
	out := &Catalog{defaultKey: key, order: c.order, modes: c.modes}
	return out, nil
}

func (c *Catalog) Get(key string) (Mode, bool) {
	m, ok := c.modes[key]
	return m, ok
}

func (c *Catalog) Has(key string) bool {
	_, ok := c.modes[key]
	return ok
}

func (c *Catalog) Default() Mode {
	return c.modes[c.defaultKey]
}

// Modes returns all modes in declaration order.
func (c *Catalog) Modes() []Mode {
	out := make([]Mode, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.modes[key])
	}
	return out
}
