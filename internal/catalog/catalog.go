// Package catalog holds the static, localized text the assistant serves
// without calling the model: greetings, upgrade notices, fallback upgrade
// questions, and MBTI type names.
package catalog

import (
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ashureev/mbti-assistant/internal/domain"
	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embedded []byte

const defaultGroup = "analyst"

// TypeInfo describes one MBTI type or temperament color.
type TypeInfo struct {
	Group string            `yaml:"group"`
	Names map[string]string `yaml:"names"`
}

// Catalog is keyed by language tag, then by depth or type code.
type Catalog struct {
	DefaultLanguage  string                       `yaml:"default_language"`
	Greetings        map[string]map[string]string `yaml:"greetings"`
	UpgradeNotices   map[string]map[string]string `yaml:"upgrade_notices"`
	UpgradeFallbacks map[string]map[string]string `yaml:"upgrade_fallbacks"`
	Groups           map[string]map[string]string `yaml:"groups"`
	Types            map[string]TypeInfo          `yaml:"types"`
}

var (
	defaultOnce sync.Once
	defaultCat  *Catalog
)

// Default returns the embedded catalog. It panics if the embedded file is invalid.
func Default() *Catalog {
	defaultOnce.Do(func() {
		c, err := Parse(embedded)
		if err != nil {
			panic("catalog: " + err.Error())
		}
		defaultCat = c
	})
	return defaultCat
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if c.DefaultLanguage == "" {
		return nil, fmt.Errorf("default_language is required")
	}
	if _, ok := c.Greetings[c.DefaultLanguage]; !ok {
		return nil, fmt.Errorf("no greetings for default language %q", c.DefaultLanguage)
	}
	for code, info := range c.Types {
		if _, ok := c.Groups[info.Group]; !ok {
			return nil, fmt.Errorf("type %s references unknown group %q", code, info.Group)
		}
	}
	return &c, nil
}

// Greeting returns the opening message for a new session.
func (c *Catalog) Greeting(lang string, depth domain.Depth) string {
	return c.pick(c.Greetings, lang, string(depth))
}

// UpgradeNotice tells the user how many rounds remain after an upgrade.
func (c *Catalog) UpgradeNotice(lang string, to domain.Depth, remaining int) string {
	text := c.pick(c.UpgradeNotices, lang, string(to))
	return strings.ReplaceAll(text, "{remaining}", strconv.Itoa(remaining))
}

// UpgradeFallback is the deterministic transition question used when the
// model cannot produce one.
func (c *Catalog) UpgradeFallback(lang string, to domain.Depth, prediction string) string {
	text := c.pick(c.UpgradeFallbacks, lang, string(to))
	return strings.ReplaceAll(text, "{prediction}", prediction)
}

// TypeName returns the localized name of a type code, or the code itself.
func (c *Catalog) TypeName(lang, code string) string {
	info, ok := c.Types[code]
	if !ok {
		return code
	}
	if name, ok := info.Names[resolve(info.Names, lang, c.DefaultLanguage)]; ok {
		return name
	}
	return code
}

// Group returns the temperament group of a type code.
func (c *Catalog) Group(code string) string {
	if info, ok := c.Types[code]; ok {
		return info.Group
	}
	return defaultGroup
}

// GroupName returns the localized name of a group.
func (c *Catalog) GroupName(lang, group string) string {
	names, ok := c.Groups[group]
	if !ok {
		return group
	}
	if name, ok := names[resolve(names, lang, c.DefaultLanguage)]; ok {
		return name
	}
	return group
}

func (c *Catalog) pick(table map[string]map[string]string, lang, key string) string {
	entries := table[resolve(table, lang, c.DefaultLanguage)]
	if text, ok := entries[key]; ok {
		return text
	}
	return entries["default"]
}

// resolve maps a requested language onto a key present in table: exact match,
// then any zh* to zh-CN, then the default language.
func resolve[V any](table map[string]V, lang, fallback string) string {
	if _, ok := table[lang]; ok {
		return lang
	}
	if strings.HasPrefix(strings.ToLower(lang), "zh") {
		if _, ok := table["zh-CN"]; ok {
			return "zh-CN"
		}
	}
	return fallback
}
