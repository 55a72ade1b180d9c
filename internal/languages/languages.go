// Package languages loads the catalogue of languages the gateway accepts.
package languages

import (
	_ "embed"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

//go:embed languages.yaml
var defaultCatalogue []byte

// Language describes one entry of the catalogue
type Language struct {
	Code     string `json:"code" yaml:"-"`
	Name     string `json:"name" yaml:"name"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	IsSource bool   `json:"is_source" yaml:"is_source"`
	IsTarget bool   `json:"is_target" yaml:"is_target"`
}

// rawLanguage keeps flags optional so missing keys default to true
type rawLanguage struct {
	Name     string `yaml:"name"`
	Enabled  *bool  `yaml:"enabled"`
	IsSource *bool  `yaml:"is_source"`
	IsTarget *bool  `yaml:"is_target"`
}

type document struct {
	Languages map[string]rawLanguage `yaml:"languages"`
}

// Catalogue is an immutable set of languages keyed by code
type Catalogue struct {
	byCode map[string]Language
	codes  []string
}

// Load reads the catalogue at path. An empty path yields the built-in catalogue.
func Load(path string) (*Catalogue, error) {
	if path == "" {
		return Parse(defaultCatalogue)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read language catalogue %s", path)
	}
	return Parse(data)
}

// LoadOrDefault reads the catalogue at path, falling back to the built-in one
// when the file does not exist
func LoadOrDefault(path string) (*Catalogue, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Default(), nil
}

// Default returns the built-in catalogue
func Default() *Catalogue {
	c, err := Parse(defaultCatalogue)
	if err != nil {
		panic(errors.Wrap(err, "built-in language catalogue is invalid"))
	}
	return c
}

// Parse decodes a YAML catalogue
func Parse(data []byte) (*Catalogue, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to parse language catalogue")
	}
	if len(doc.Languages) == 0 {
		return nil, errors.New("language catalogue is empty")
	}

	c := &Catalogue{byCode: make(map[string]Language, len(doc.Languages))}
	for code, raw := range doc.Languages {
		if raw.Name == "" {
			return nil, errors.Errorf("language %q has no name", code)
		}
		c.byCode[code] = Language{
			Code:     code,
			Name:     raw.Name,
			Enabled:  flag(raw.Enabled),
			IsSource: flag(raw.IsSource),
			IsTarget: flag(raw.IsTarget),
		}
		c.codes = append(c.codes, code)
	}
	sort.Strings(c.codes)
	return c, nil
}

func flag(v *bool) bool {
	return v == nil || *v
}

// Get returns the language for code
func (c *Catalogue) Get(code string) (Language, bool) {
	l, ok := c.byCode[code]
	return l, ok
}

// Enabled lists enabled languages ordered by code
func (c *Catalogue) Enabled() []Language {
	return c.filter(func(l Language) bool { return l.Enabled })
}

// Sources lists enabled source languages
func (c *Catalogue) Sources() []Language {
	return c.filter(func(l Language) bool { return l.Enabled && l.IsSource })
}

// Targets lists enabled target languages
func (c *Catalogue) Targets() []Language {
	return c.filter(func(l Language) bool { return l.Enabled && l.IsTarget })
}

// IsTarget reports whether code is an enabled target language
func (c *Catalogue) IsTarget(code string) bool {
	l, ok := c.byCode[code]
	return ok && l.Enabled && l.IsTarget
}

// IsSource reports whether code is an enabled source language
func (c *Catalogue) IsSource(code string) bool {
	l, ok := c.byCode[code]
	return ok && l.Enabled && l.IsSource
}

func (c *Catalogue) filter(keep func(Language) bool) []Language {
	out := make([]Language, 0, len(c.codes))
	for _, code := range c.codes {
		if l := c.byCode[code]; keep(l) {
			out = append(out, l)
		}
	}
	return out
}
