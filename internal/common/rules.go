package common

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Rules is the externally supplied pipeline configuration: boilerplate
// patterns for the merger and detection settings for the anonymizer.
type Rules struct {
	Boilerplate []string        `yaml:"boilerplate"`
	Anonymizer  AnonymizerRules `yaml:"anonymizer"`
}

// AnonymizerRules configures entity detection. Detectors are listed in
// precedence order; ties on identical spans go to the earlier detector.
type AnonymizerRules struct {
	Detectors []string       `yaml:"detectors"`
	Patterns  []PatternRule  `yaml:"patterns"`
	Entities  []LookupEntity `yaml:"entities"`
	Titles    []string       `yaml:"titles"`
	Labels    []string       `yaml:"labels"`
	// Keep lists surface forms that are never redacted (unit names, drug names
	// that look like surnames).
	Keep []string `yaml:"keep"`
}

// PatternRule is one structured-identifier format. Group selects the
// capture group to redact (0 = whole match).
type PatternRule struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Regex string `yaml:"regex"`
	Group int    `yaml:"group"`
}

// LookupEntity is a curated name with the surface forms it may appear as.
type LookupEntity struct {
	Type    string   `yaml:"type"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() *Rules {
	return &Rules{
		Boilerplate: []string{
			`(?i)^p[áa]gina\s+\d+(\s+(de|of)\s+\d+)?$`,
			`(?i)^page\s+\d+(\s+of\s+\d+)?$`,
			`^\d+\s*/\s*\d+$`,
			`(?i)^(centro hospitalar|hospital)\b.*\b(servi[çc]o|unidade) de queimados$`,
			`(?i)^documento processado (electronicamente|eletronicamente)`,
			`(?i)^confidencial$`,
		},
		Anonymizer: AnonymizerRules{
			Detectors: []string{"pattern", "lookup", "honorific"},
			Patterns: []PatternRule{
				{Name: "date_iso", Type: "DATE", Regex: `\b(?:19|20)\d{2}-(?:0?[1-9]|1[0-2])-(?:0?[1-9]|[12]\d|3[01])\b`},
				{Name: "date_dmy", Type: "DATE", Regex: `\b(?:0?[1-9]|[12]\d|3[01])[-/.](?:0?[1-9]|1[0-2])[-/.](?:19|20)\d{2}\b`},
				{Name: "date_pt_long", Type: "DATE", Regex: `(?i)\b\d{1,2}\s+de\s+(?:janeiro|fevereiro|mar[çc]o|abril|maio|junho|julho|agosto|setembro|outubro|novembro|dezembro)\s+de\s+(?:19|20)\d{2}\b`},
				{Name: "date_en_long", Type: "DATE", Regex: `(?i)\b\d{1,2}\s+(?:jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(?:19|20)\d{2}\b`},
				{Name: "email", Type: "EMAIL", Regex: `\b[\w.+-]+@[\w-]+(?:\.[\w-]+)+\b`},
				{Name: "phone_pt", Type: "PHONE", Regex: `(?:\+351\s?)?\b[29]\d{2}\s?\d{3}\s?\d{3}\b`},
				{Name: "phone_intl", Type: "PHONE", Regex: `\b\d{3}[-.\s]\d{3}[-.\s]\d{4}\b`},
				{Name: "labeled_id", Type: "ID", Regex: `(?i)\b(?:NIF|SNS|NSS|CC|BI|MRN|processo|proc\.?|n\.?º\s*processo)\s*(?:n\.?º|no\.?)?\s*[:#]?\s*(\d{5,12})\b`, Group: 1},
				{Name: "health_number", Type: "ID", Regex: `\b\d{9}\b`},
				{Name: "postal_code", Type: "ADDRESS", Regex: `\b\d{4}-\d{3}\b`},
			},
			Titles: []string{"Mr", "Mrs", "Ms", "Miss", "Dr", "Dra", "Sr", "Sra", "Enf", "Prof"},
			Labels: []string{"Patient", "Paciente", "Doente", "Utente", "Nome", "Name"},
		},
	}
}

// LoadRules reads and parses a YAML rules file on top of DefaultRules.
func LoadRules(path string) (*Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, rules.Validate()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	return rules, rules.Validate()
}

// Validate checks every regular expression compiles and detector names are known.
func (r *Rules) Validate() error {
	for i, p := range r.Boilerplate {
		if _, err := regexp.Compile(p); err != nil {
			return NewAppError("CONFIG_ERROR", fmt.Sprintf("boilerplate[%d] is not a valid regex", i), err)
		}
	}
	for i, p := range r.Anonymizer.Patterns {
		if p.Type == "" {
			return NewAppError("CONFIG_ERROR", fmt.Sprintf("anonymizer.patterns[%d] has no type", i), ErrInvalidInput)
		}
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return NewAppError("CONFIG_ERROR", fmt.Sprintf("anonymizer.patterns[%d] (%s) is not a valid regex", i, p.Name), err)
		}
		if p.Group < 0 || p.Group > re.NumSubexp() {
			return NewAppError("CONFIG_ERROR", fmt.Sprintf("anonymizer.patterns[%d] (%s) has no group %d", i, p.Name, p.Group), ErrInvalidInput)
		}
	}
	for i, e := range r.Anonymizer.Entities {
		if e.Name == "" {
			return NewAppError("CONFIG_ERROR", fmt.Sprintf("anonymizer.entities[%d] has no name", i), ErrInvalidInput)
		}
	}
	for _, d := range r.Anonymizer.Detectors {
		switch d {
		case "pattern", "lookup", "honorific":
		default:
			return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown detector %q", d), ErrInvalidInput)
		}
	}
	return nil
}
