package llm

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/infoburn/internal/entity"
)

func TestParseContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    any
		wantErr bool
	}{
		{name: "plain", content: `{"tbsa": 12.5}`, want: map[string]any{"tbsa": json.Number("12.5")}},
		{name: "fenced", content: "```json\n{\"mechanism\": \"Heat\"}\n```", want: map[string]any{"mechanism": "Heat"}},
		{name: "prose around", content: "Here it is: {\"a\": 1} hope it helps", want: map[string]any{"a": json.Number("1")}},
		{name: "array", content: `[1, 2]`, wantErr: true},
		{name: "truncated", content: `{"a": `, wantErr: true},
		{name: "empty", content: ``, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseContent(tt.content)
			if tt.wantErr {
				var de *DecodeError
				assert.True(t, errors.As(err, &de))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSanitize(t *testing.T) {
	in := map[string]any{
		"agent":  "  fire ",
		"system": "Unknown",
		"notes":  "N/A",
		"burns":  []any{map[string]any{"laterality": "not specified"}, "none"},
	}
	out, nulled := Sanitize(in, "Unknown")
	assert.Equal(t, map[string]any{
		"agent":  "fire",
		"system": "Unknown",
		"notes":  nil,
		"burns":  []any{map[string]any{"laterality": nil}},
	}, out)
	assert.Equal(t, []string{"burns[]", "burns[].laterality", "notes"}, nulled)
}

func TestTransportErrorMatchesSentinel(t *testing.T) {
	var err error = &TransportError{Op: "send", Err: errors.New("connection refused")}
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "connection refused")

	err = &TransportError{Op: "post", StatusCode: 502, Err: errors.New("bad gateway")}
	assert.Contains(t, err.Error(), "status 502")
	assert.NotErrorIs(t, &DecodeError{Err: errors.New("x")}, ErrTransport)
}

func TestBuildUserPrompt_IncludesHintsOnRetry(t *testing.T) {
	req := ExtractRequest{
		Schema:  entity.SchemaRef{Name: "burns", Version: 1},
		Text:    "Patient: [NAME_1] admitted with flame burns",
		Attempt: 2,
		Hints: []entity.FieldError{
			{Path: "burns[0].depth", Constraint: entity.ConstraintRequired, Message: "is required"},
			{Path: "tbsa", Constraint: entity.ConstraintMax, Value: 140.0, Message: "must be <= 100"},
		},
	}
	p := BuildUserPrompt(req)
	assert.Contains(t, p, "attempt 1")
	assert.Contains(t, p, `1. field "burns[0].depth" violates required: is required`)
	assert.Contains(t, p, `2. field "tbsa" violates max (got 140): must be <= 100`)
	assert.Contains(t, p, "[NAME_1] admitted")

	req.Hints, req.Attempt = nil, 1
	assert.NotContains(t, BuildUserPrompt(req), "failed validation")
}

func TestBuildSystemPrompt_EmbedsSchema(t *testing.T) {
	p := BuildSystemPrompt(ExtractRequest{
		Schema:      entity.SchemaRef{Name: "burns", Version: 1},
		Description: "Burn injury characteristics.",
		JSONSchema:  map[string]any{"type": "object"},
	})
	assert.Contains(t, p, "burns@1")
	assert.Contains(t, p, "Burn injury characteristics.")
	assert.Contains(t, p, `"type": "object"`)
}
