package constants

import (
	"strings"
)

// DocumentKind identifies which note of a case a source document is.
type DocumentKind string

const (
	KindAdmission      DocumentKind = "admission"
	KindRelease        DocumentKind = "release"
	KindProvisoryDeath DocumentKind = "provisory_death_report"
	KindFinalDeath     DocumentKind = "final_death_report"
)

var allKinds = []DocumentKind{
	KindAdmission,
	KindRelease,
	KindProvisoryDeath,
	KindFinalDeath,
}

// Kinds returns every known document kind in merge order.
func Kinds() []DocumentKind {
	out := make([]DocumentKind, len(allKinds))
	copy(out, allKinds)
	return out
}

// KindsAsStrings is handy for enum constraints and error messages.
func KindsAsStrings() []string {
	result := make([]string, len(allKinds))
	for i, k := range allKinds {
		result[i] = string(k)
	}
	return result
}

// Order is the merge rank of the kind; unknown kinds sort last.
func (k DocumentKind) Order() int {
	for i, known := range allKinds {
		if k == known {
			return i
		}
	}
	return len(allKinds)
}

// Title is the heading used for the section marker of a document of this kind.
func (k DocumentKind) Title() string {
	switch k {
	case KindAdmission:
		return "ADMISSION NOTE"
	case KindRelease:
		return "RELEASE NOTE"
	case KindProvisoryDeath:
		return "PROVISORY DEATH REPORT"
	case KindFinalDeath:
		return "FINAL DEATH REPORT"
	}
	return strings.ToUpper(string(k))
}

// ParseKind canonicalizes user input (names, synonyms and filename suffixes).
func ParseKind(input string) (DocumentKind, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}

	synonyms := map[string]DocumentKind{
		"e":         KindAdmission,
		"entrada":   KindAdmission,
		"admissao":  KindAdmission,
		"admissão":  KindAdmission,
		"a":         KindRelease,
		"alta":      KindRelease,
		"discharge": KindRelease,
		"bic":       KindProvisoryDeath,
		"o":         KindFinalDeath,
		"obito":     KindFinalDeath,
		"óbito":     KindFinalDeath,
	}
	if k, ok := synonyms[normalized]; ok {
		return k, true
	}

	normalized = strings.NewReplacer(" - ", "_", " ", "_", "-", "_").Replace(normalized)
	for _, k := range allKinds {
		if normalized == string(k) {
			return k, true
		}
	}
	switch normalized {
	case "provisory_death", "provisory":
		return KindProvisoryDeath, true
	case "final_death", "death_report":
		return KindFinalDeath, true
	}
	return "", false
}

// ParseDocumentName splits an inbox file stem such as "1234E" or "1234BIC"
// into the case id and document kind.
func ParseDocumentName(stem string) (caseID string, kind DocumentKind, ok bool) {
	stem = strings.TrimSpace(stem)
	upper := strings.ToUpper(stem)
	switch {
	case strings.HasSuffix(upper, "BIC") && len(stem) > 3:
		return stem[:len(stem)-3], KindProvisoryDeath, true
	case len(stem) > 1:
		suffix := upper[len(upper)-1:]
		if suffix == "E" || suffix == "A" || suffix == "O" {
			k, _ := ParseKind(suffix)
			return stem[:len(stem)-1], k, true
		}
	}
	return "", "", false
}
