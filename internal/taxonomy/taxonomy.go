// Package taxonomy maps free-text service names onto the fixed set of
// canonical categories used for routing enquiries to executives.
package taxonomy

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is a canonical service category.
type Category string

const (
	Environmental    Category = "Environmental Testing"
	Water            Category = "Water Testing"
	Food             Category = "Food Testing"
	SoilAgriculture  Category = "Soil & Agriculture Testing"
	BuildingMaterial Category = "Building Material Testing"
	Microbiology     Category = "Microbiology Testing"
	Calibration      Category = "Calibration Services"
	Others           Category = "Others"
)

//go:embed aliases.yaml
var aliasesYAML []byte

type aliasFile struct {
	Categories []struct {
		Name    string   `yaml:"name"`
		Aliases []string `yaml:"aliases"`
	} `yaml:"categories"`
}

type entry struct {
	key      string
	lower    string
	category Category
}

// table holds canonical names followed by their aliases, in file order.
var (
	canonical []Category
	exact     map[string]Category
	table     []entry
)

func init() {
	if err := load(aliasesYAML); err != nil {
		panic(fmt.Sprintf("taxonomy: %v", err))
	}
}

func load(data []byte) error {
	var file aliasFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse aliases: %w", err)
	}

	canonical = canonical[:0]
	exact = make(map[string]Category)
	table = table[:0]

	for _, c := range file.Categories {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return fmt.Errorf("category without name")
		}
		category := Category(name)
		if category == Others {
			return fmt.Errorf("%q is reserved for the catch-all", name)
		}
		canonical = append(canonical, category)
		table = append(table, entry{key: name, lower: strings.ToLower(name), category: category})
		for _, alias := range c.Aliases {
			alias = strings.TrimSpace(alias)
			if alias == "" {
				continue
			}
			if prev, dup := exact[alias]; dup && prev != category {
				return fmt.Errorf("alias %q maps to both %q and %q", alias, prev, category)
			}
			exact[alias] = category
			table = append(table, entry{key: alias, lower: strings.ToLower(alias), category: category})
		}
	}
	canonical = append(canonical, Others)
	return nil
}

// Categories returns the canonical categories in table order, Others last.
func Categories() []Category {
	out := make([]Category, len(canonical))
	copy(out, canonical)
	return out
}

// IsCanonical reports whether name is exactly a canonical category.
func IsCanonical(name string) bool {
	for _, c := range canonical {
		if string(c) == name {
			return true
		}
	}
	return false
}

// Resolve maps a raw service name to its canonical category. Matching runs
// exact canonical name, exact alias, then case-insensitive containment
// (input containing a key first, key containing input second). Anything
// unmatched, including blank input, resolves to Others.
func Resolve(raw string) Category {
	name := strings.TrimSpace(raw)
	if name == "" {
		return Others
	}
	if IsCanonical(name) {
		return Category(name)
	}
	if c, ok := exact[name]; ok {
		return c
	}

	lower := strings.ToLower(name)
	for _, e := range table {
		if e.lower == lower || strings.Contains(lower, e.lower) {
			return e.category
		}
	}
	for _, e := range table {
		if strings.Contains(e.lower, lower) {
			return e.category
		}
	}
	return Others
}

// ResolveVisitor resolves the category for a visitor's service fields. The
// more specific subservice wins when it maps to a real category.
func ResolveVisitor(service, subservice string) Category {
	if c := Resolve(subservice); c != Others {
		return c
	}
	return Resolve(service)
}
