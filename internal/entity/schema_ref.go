package entity

import (
	"fmt"
	"strconv"
	"strings"
)

// SchemaRef names one published schema version.
type SchemaRef struct {
	Name    string `json:"name" bson:"name"`
	Version int    `json:"version" bson:"version"`
}

func (r SchemaRef) String() string {
	return fmt.Sprintf("%s@%d", r.Name, r.Version)
}

// ParseSchemaRef parses "name@version". A missing version yields 0, meaning latest.
func ParseSchemaRef(s string) (SchemaRef, error) {
	name, ver, found := strings.Cut(strings.TrimSpace(s), "@")
	if name == "" {
		return SchemaRef{}, fmt.Errorf("schema ref %q: empty name", s)
	}
	if !found {
		return SchemaRef{Name: name}, nil
	}
	v, err := strconv.Atoi(strings.TrimPrefix(ver, "v"))
	if err != nil || v < 0 {
		return SchemaRef{}, fmt.Errorf("schema ref %q: bad version", s)
	}
	return SchemaRef{Name: name, Version: v}, nil
}
