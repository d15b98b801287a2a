package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/infoburn/internal/entity"
)

// BuildSystemPrompt states the task, the output contract and the schema.
func BuildSystemPrompt(req ExtractRequest) string {
	parts := []string{
		"You extract structured data from clinical notes of a burns critical care unit.",
		"Return ONLY one JSON object that matches the provided JSON Schema " + req.Schema.String() + ".",
		"Use only information stated in the text. If a value is not stated, use null; never guess.",
		"Placeholders such as [NAME_1] or [DATE_2] replace redacted personal data. Copy them verbatim if a field needs them; do not try to infer the original.",
		"Keep enumerated values exactly as spelled in the schema.",
	}
	if d := strings.TrimSpace(req.Description); d != "" {
		parts = append(parts, "Record purpose: "+d)
	}
	if req.JSONSchema != nil {
		parts = append(parts, "JSON Schema:\n"+mustJSON(req.JSONSchema))
	}
	return strings.Join(parts, "\n")
}

// BuildUserPrompt carries the anonymized text and, on retries, the
// validation errors of the previous attempt.
func BuildUserPrompt(req ExtractRequest) string {
	var b strings.Builder
	if len(req.Hints) > 0 {
		fmt.Fprintf(&b, "Your previous answer (attempt %d) failed validation. Fix exactly these problems and keep every other field as before:\n", req.Attempt-1)
		b.WriteString(FormatHints(req.Hints))
		b.WriteString("\n\n")
	}
	b.WriteString("Clinical text:\n")
	b.WriteString(strings.TrimSpace(req.Text))
	return b.String()
}

// FormatHints renders FieldErrors as a numbered correction list.
func FormatHints(hints []entity.FieldError) string {
	lines := make([]string, len(hints))
	for i, h := range hints {
		line := fmt.Sprintf("%d. field %q violates %s", i+1, h.Path, h.Constraint)
		if h.Value != nil {
			line += fmt.Sprintf(" (got %s)", compactJSON(h.Value))
		}
		if h.Message != "" {
			line += ": " + h.Message
		}
		lines[i] = line
	}
	return strings.Join(lines, "\n")
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return truncate(string(b), 120)
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
