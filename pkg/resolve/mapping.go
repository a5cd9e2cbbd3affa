package resolve

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mapping is the canonical-to-legacy section title table. Section
// titles have been renamed over the product's history and old records
// remain stored under obsolete spellings; the mapping is domain data,
// not an algorithm, and can be replaced wholesale from a YAML file
// when the deployment knows better.
type Mapping struct {
	legacyByCanonical map[string][]string
	canonicalByLegacy map[string]string
}

// NewMapping builds a Mapping from canonical title → legacy spellings.
func NewMapping(sections map[string][]string) *Mapping {
	m := &Mapping{
		legacyByCanonical: make(map[string][]string, len(sections)),
		canonicalByLegacy: make(map[string]string),
	}
	for canonical, legacy := range sections {
		canonical = normalizeTitle(canonical)
		spellings := make([]string, 0, len(legacy))
		// Case variants stay in the list: stored keys are matched
		// case-sensitively, so "Swot Analysis" is a distinct spelling.
		for _, l := range legacy {
			l = normalizeTitle(l)
			if l == "" || l == canonical {
				continue
			}
			spellings = append(spellings, l)
			m.canonicalByLegacy[strings.ToLower(l)] = canonical
		}
		m.legacyByCanonical[canonical] = spellings
	}
	return m
}

// DefaultMapping returns the built-in rename table for the journey's
// section titles.
func DefaultMapping() *Mapping {
	return NewMapping(map[string][]string{
		"SWOT Analysis":         {"SWOT", "Swot Analysis"},
		"Business Model Canvas": {"Business Model", "BMC", "Business Canvas"},
		"Value Proposition":     {"Value Proposition Canvas", "Unique Value Proposition"},
		"Financial Plan":        {"Finances", "Financial Projections"},
		"Market Research":       {"Market Analysis"},
		"Competitor Analysis":   {"Competition", "Competitor Research"},
		"Customer Personas":     {"Target Audience", "Personas"},
	})
}

type mappingFile struct {
	Sections []struct {
		Canonical string   `yaml:"canonical"`
		Legacy    []string `yaml:"legacy"`
	} `yaml:"sections"`
}

// LoadMapping reads a mapping from a YAML file of the form:
//
//	sections:
//	  - canonical: Business Model Canvas
//	    legacy: [BMC, Business Model]
func LoadMapping(path string) (*Mapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("resolve: read mapping: %w", err)
	}
	var file mappingFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("resolve: parse mapping: %w", err)
	}
	sections := make(map[string][]string, len(file.Sections))
	for _, s := range file.Sections {
		if strings.TrimSpace(s.Canonical) == "" {
			return nil, fmt.Errorf("resolve: mapping entry without canonical title")
		}
		sections[s.Canonical] = s.Legacy
	}
	return NewMapping(sections), nil
}

// Canonicalize maps a possibly-legacy section title to its canonical
// spelling. Unknown titles are returned whitespace-normalized.
func (m *Mapping) Canonicalize(title string) string {
	title = normalizeTitle(title)
	if canonical, ok := m.canonicalByLegacy[strings.ToLower(title)]; ok {
		return canonical
	}
	return title
}

// LegacySpellings returns the known obsolete spellings for a canonical
// title, in declaration order.
func (m *Mapping) LegacySpellings(canonical string) []string {
	return m.legacyByCanonical[normalizeTitle(canonical)]
}

// Canonicals returns every canonical title in the mapping, sorted.
func (m *Mapping) Canonicals() []string {
	out := make([]string, 0, len(m.legacyByCanonical))
	for c := range m.legacyByCanonical {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func normalizeTitle(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
