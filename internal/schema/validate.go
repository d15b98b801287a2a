package schema

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/infoburn/internal/entity"
)

// Validate checks candidate against s. On success it returns the cleaned
// tree: declared optional fields that were absent are present as explicit
// nulls, numbers are int64 or float64, and numeric strings are coerced.
// Any FieldError means the returned tree must not be used.
func Validate(candidate any, s *Schema) (map[string]any, []entity.FieldError) {
	v := &validator{}
	out := v.node("$", s.Root, candidate, true)
	if len(v.errs) > 0 {
		return nil, v.errs
	}
	cleaned, _ := out.(map[string]any)
	for _, r := range s.Rules {
		v.dateOrder(s.Root, cleaned, r)
	}
	if len(v.errs) > 0 {
		return nil, v.errs
	}
	return cleaned, nil
}

type validator struct {
	errs []entity.FieldError
}

func (v *validator) fail(path, constraint string, value any, format string, args ...any) {
	v.errs = append(v.errs, entity.FieldError{
		Path:       path,
		Constraint: constraint,
		Value:      value,
		Message:    fmt.Sprintf(format, args...),
	})
}

// node validates one value. present reports whether the key existed.
func (v *validator) node(path string, f *Field, val any, present bool) any {
	if !present || val == nil {
		if f.Required {
			v.fail(path, entity.ConstraintRequired, val, "is required")
		}
		return nil
	}

	switch f.Kind {
	case KindString:
		s, ok := val.(string)
		if !ok {
			v.fail(path, entity.ConstraintType, val, "must be a string")
			return nil
		}
		v.stringConstraints(path, f, s)
		return s
	case KindEnum:
		s, ok := val.(string)
		if !ok {
			v.fail(path, entity.ConstraintType, val, "must be a string")
			return nil
		}
		for _, e := range f.Enum {
			if s == e {
				return s
			}
		}
		v.fail(path, entity.ConstraintEnum, val, "must be one of %s", strings.Join(f.Enum, ", "))
		return nil
	case KindDate:
		s, ok := val.(string)
		if !ok {
			v.fail(path, entity.ConstraintType, val, "must be a date string")
			return nil
		}
		if _, err := time.Parse(f.layout(), s); err != nil {
			v.fail(path, entity.ConstraintDate, val, "must be a date in layout %s", f.layout())
			return nil
		}
		return s
	case KindBoolean:
		switch b := val.(type) {
		case bool:
			return b
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
				return parsed
			}
		}
		v.fail(path, entity.ConstraintType, val, "must be a boolean")
		return nil
	case KindInteger:
		n, ok := toFloat(val)
		if !ok || n != math.Trunc(n) {
			v.fail(path, entity.ConstraintType, val, "must be an integer")
			return nil
		}
		v.bounds(path, f, n, val)
		return int64(n)
	case KindNumber:
		n, ok := toFloat(val)
		if !ok {
			v.fail(path, entity.ConstraintType, val, "must be a number")
			return nil
		}
		v.bounds(path, f, n, val)
		return n
	case KindList:
		items, ok := val.([]any)
		if !ok {
			v.fail(path, entity.ConstraintType, val, "must be a list")
			return nil
		}
		if f.MinItems != nil && len(items) < *f.MinItems {
			v.fail(path, entity.ConstraintMinItems, len(items), "must have at least %d items", *f.MinItems)
		}
		if f.MaxItems != nil && len(items) > *f.MaxItems {
			v.fail(path, entity.ConstraintMaxItems, len(items), "must have at most %d items", *f.MaxItems)
		}
		out := make([]any, len(items))
		for i, item := range items {
			ipath := fmt.Sprintf("%s[%d]", path, i)
			if item == nil {
				v.fail(ipath, entity.ConstraintRequired, nil, "list items cannot be null")
				continue
			}
			out[i] = v.node(ipath, f.Items, item, true)
		}
		return out
	case KindObject:
		obj, ok := val.(map[string]any)
		if !ok {
			v.fail(path, entity.ConstraintType, val, "must be an object")
			return nil
		}
		return v.object(path, f.Fields, f.AdditionalProperties, obj, "")
	case KindUnion:
		obj, ok := val.(map[string]any)
		if !ok {
			v.fail(path, entity.ConstraintType, val, "must be an object")
			return nil
		}
		dpath := joinPath(path, f.Discriminator)
		raw, ok := obj[f.Discriminator]
		if !ok || raw == nil {
			v.fail(dpath, entity.ConstraintRequired, nil, "discriminator is required")
			return nil
		}
		tag, _ := raw.(string)
		for _, variant := range f.Variants {
			if variant.Value == tag {
				fields := append(append([]*Field(nil), f.Fields...), variant.Fields...)
				out := v.object(path, fields, f.AdditionalProperties, obj, f.Discriminator)
				if out != nil {
					out[f.Discriminator] = tag
				}
				return out
			}
		}
		values := make([]string, len(f.Variants))
		for i, variant := range f.Variants {
			values[i] = variant.Value
		}
		v.fail(dpath, entity.ConstraintUnknownVariant, raw, "must be one of %s", strings.Join(values, ", "))
		return nil
	}
	v.fail(path, entity.ConstraintType, val, "unsupported kind %q", f.Kind)
	return nil
}

func (v *validator) object(path string, fields []*Field, additional bool, obj map[string]any, discriminator string) map[string]any {
	out := make(map[string]any, len(fields))
	declared := make(map[string]bool, len(fields))
	for _, c := range fields {
		declared[c.Name] = true
		val, present := obj[c.Name]
		out[c.Name] = v.node(joinPath(path, c.Name), c, val, present)
	}

	var extra []string
	for k := range obj {
		if !declared[k] && k != discriminator {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		if additional {
			out[k] = obj[k]
			continue
		}
		v.fail(joinPath(path, k), entity.ConstraintAdditional, obj[k], "is not a declared field")
	}
	return out
}

func (v *validator) stringConstraints(path string, f *Field, s string) {
	n := utf8.RuneCountInString(s)
	if f.MinLength != nil && n < *f.MinLength {
		v.fail(path, entity.ConstraintMinLength, s, "must be at least %d characters", *f.MinLength)
	}
	if f.MaxLength != nil && n > *f.MaxLength {
		v.fail(path, entity.ConstraintMaxLength, s, "must be at most %d characters", *f.MaxLength)
	}
	if f.re != nil && !f.re.MatchString(s) {
		v.fail(path, entity.ConstraintPattern, s, "must match %s", f.Pattern)
	}
}

func (v *validator) bounds(path string, f *Field, n float64, raw any) {
	if f.Min != nil && n < *f.Min {
		v.fail(path, entity.ConstraintMin, raw, "must be >= %v", *f.Min)
	}
	if f.Max != nil && n > *f.Max {
		v.fail(path, entity.ConstraintMax, raw, "must be <= %v", *f.Max)
	}
}

func (v *validator) dateOrder(root *Field, data map[string]any, r Rule) {
	var (
		prev     time.Time
		prevPath string
	)
	for _, path := range r.Fields {
		f := root.child(path)
		s, ok := lookup(data, path).(string)
		if f == nil || !ok {
			continue
		}
		t, err := time.Parse(f.layout(), s)
		if err != nil {
			continue
		}
		if prevPath != "" && t.Before(prev) {
			v.fail(path, entity.ConstraintDateOrder, s, "must not be before %s", prevPath)
		}
		prev, prevPath = t, path
	}
}

func toFloat(val any) (float64, bool) {
	switch n := val.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil && !math.IsNaN(f) && !math.IsInf(f, 0)
	}
	return 0, false
}

func lookup(data map[string]any, path string) any {
	var cur any = data
	for _, name := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[name]
	}
	return cur
}

func joinPath(parent, name string) string {
	if parent == "$" {
		return name
	}
	return parent + "." + name
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}
