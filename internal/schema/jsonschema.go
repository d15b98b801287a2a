package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONSchema renders s as a JSON-Schema (draft 2020-12 subset). It is handed
// to the model as a response-format hint and compiled for the secondary
// check in CheckJSON. Cross-field rules are not expressible and are omitted.
func (s *Schema) JSONSchema() map[string]any {
	s.jsonOnce.Do(s.compileJSONSchema)
	return s.jsonSchema
}

// CheckJSON validates raw JSON against the exported JSON-Schema.
func (s *Schema) CheckJSON(data []byte) error {
	s.jsonOnce.Do(s.compileJSONSchema)
	if s.compileError != nil {
		return s.compileError
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := s.compiled.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema %s: %w", s.Ref(), err)
	}
	return nil
}

func (s *Schema) compileJSONSchema() {
	doc := fieldJSONSchema(s.Root, true)
	doc["$schema"] = "https://json-schema.org/draft/2020-12/schema"
	doc["title"] = s.Ref().String()
	if s.Description != "" {
		doc["description"] = s.Description
	}
	s.jsonSchema = doc

	b, err := json.Marshal(doc)
	if err != nil {
		s.compileError = fmt.Errorf("marshal schema: %w", err)
		return
	}
	url := s.Ref().String() + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(b)); err != nil {
		s.compileError = fmt.Errorf("add schema: %w", err)
		return
	}
	s.compiled, s.compileError = compiler.Compile(url)
}

func fieldJSONSchema(f *Field, required bool) map[string]any {
	out := map[string]any{}
	if f.Description != "" {
		out["description"] = f.Description
	}

	var typ string
	switch f.Kind {
	case KindString:
		typ = "string"
		if f.MinLength != nil {
			out["minLength"] = *f.MinLength
		}
		if f.MaxLength != nil {
			out["maxLength"] = *f.MaxLength
		}
		if f.Pattern != "" {
			out["pattern"] = f.Pattern
		}
	case KindDate:
		typ = "string"
		if f.layout() == DefaultDateLayout {
			out["format"] = "date"
		} else {
			out["description"] = joinDescription(f.Description, "date in layout "+f.layout())
		}
	case KindEnum:
		typ = "string"
		values := make([]any, 0, len(f.Enum)+1)
		for _, e := range f.Enum {
			values = append(values, e)
		}
		if !required {
			values = append(values, nil)
		}
		out["enum"] = values
	case KindBoolean:
		typ = "boolean"
	case KindInteger, KindNumber:
		typ = string(f.Kind)
		if f.Min != nil {
			out["minimum"] = *f.Min
		}
		if f.Max != nil {
			out["maximum"] = *f.Max
		}
	case KindList:
		typ = "array"
		out["items"] = fieldJSONSchema(f.Items, true)
		if f.MinItems != nil {
			out["minItems"] = *f.MinItems
		}
		if f.MaxItems != nil {
			out["maxItems"] = *f.MaxItems
		}
	case KindObject:
		typ = "object"
		objectJSONSchema(out, f.Fields, f.AdditionalProperties)
	case KindUnion:
		var variants []any
		for _, v := range f.Variants {
			arm := map[string]any{"type": "object"}
			fields := append(append([]*Field(nil), f.Fields...), v.Fields...)
			objectJSONSchema(arm, fields, f.AdditionalProperties)
			props := arm["properties"].(map[string]any)
			props[f.Discriminator] = map[string]any{"const": v.Value}
			arm["required"] = append(arm["required"].([]string), f.Discriminator)
			variants = append(variants, arm)
		}
		if !required {
			variants = append(variants, map[string]any{"type": "null"})
		}
		out["oneOf"] = variants
		return out
	}

	if required {
		out["type"] = typ
	} else {
		out["type"] = []string{typ, "null"}
	}
	return out
}

func objectJSONSchema(out map[string]any, fields []*Field, additional bool) {
	props := make(map[string]any, len(fields))
	required := []string{}
	for _, c := range fields {
		props[c.Name] = fieldJSONSchema(c, c.Required)
		if c.Required {
			required = append(required, c.Name)
		}
	}
	out["properties"] = props
	out["required"] = required
	out["additionalProperties"] = additional
}

func joinDescription(a, b string) string {
	if a == "" {
		return b
	}
	return a + " (" + b + ")"
}
