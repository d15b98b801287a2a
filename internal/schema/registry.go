package schema

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/infoburn/internal/common"
	"github.com/joseph-ayodele/infoburn/internal/entity"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Registry holds published schemas by name and version. Publishing is a
// startup activity; after Freeze the registry is read-only and lookups take
// no lock.
type Registry struct {
	mu      sync.Mutex
	frozen  atomic.Bool
	schemas map[string]map[int]*Schema
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{schemas: make(map[string]map[int]*Schema), logger: logger}
}

// LoadRegistry publishes the built-in schemas plus any YAML definitions in
// dir, then freezes the registry. Any failure wraps ErrRegistryLoad.
func LoadRegistry(dir string, logger *slog.Logger) (*Registry, error) {
	r := NewRegistry(logger)
	if err := r.LoadFS(builtinFS, "builtin"); err != nil {
		return nil, fmt.Errorf("%w: builtin: %v", common.ErrRegistryLoad, err)
	}
	if dir != "" {
		if err := r.LoadFS(os.DirFS(dir), "."); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", common.ErrRegistryLoad, dir, err)
		}
	}
	r.Freeze()
	r.logger.Info("schema.registry.loaded", "schemas", len(r.List()), "dir", dir)
	return r, nil
}

// Publish adds s. A (name, version) pair can be published once.
func (r *Registry) Publish(s *Schema) error {
	if err := s.prepare(); err != nil {
		return common.WrapError(common.ErrInvalidInput, err.Error())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen.Load() {
		return common.NewAppError("REGISTRY_FROZEN", "registry is read-only", common.ErrInvalidInput)
	}
	versions := r.schemas[s.Name]
	if versions == nil {
		versions = make(map[int]*Schema)
		r.schemas[s.Name] = versions
	}
	if _, ok := versions[s.Version]; ok {
		return fmt.Errorf("%w: schema %s is already published", common.ErrConflict, s.Ref())
	}
	versions[s.Version] = s
	r.logger.Debug("schema.published", "schema", s.Ref().String())
	return nil
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen.Store(true)
}

// Lookup returns the schema name@version. Version 0 selects the latest.
func (r *Registry) Lookup(name string, version int) (*Schema, error) {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	versions := r.schemas[name]
	if version == 0 {
		for v := range versions {
			version = max(version, v)
		}
	}
	s, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s@%d", common.ErrSchemaNotFound, name, version)
	}
	return s, nil
}

func (r *Registry) Get(ref entity.SchemaRef) (*Schema, error) {
	return r.Lookup(ref.Name, ref.Version)
}

// List returns every published ref sorted by name then version.
func (r *Registry) List() []entity.SchemaRef {
	if !r.frozen.Load() {
		r.mu.Lock()
		defer r.mu.Unlock()
	}
	var refs []entity.SchemaRef
	for name, versions := range r.schemas {
		for v := range versions {
			refs = append(refs, entity.SchemaRef{Name: name, Version: v})
		}
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Name != refs[j].Name {
			return refs[i].Name < refs[j].Name
		}
		return refs[i].Version < refs[j].Version
	})
	return refs
}

// LoadFS publishes every *.yaml / *.yml file directly under dir in fsys.
func (r *Registry) LoadFS(fsys fs.FS, dir string) error {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		ext := strings.ToLower(path.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return err
		}
		s, err := Parse(data)
		if err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
		if err := r.Publish(s); err != nil {
			return fmt.Errorf("%s: %w", e.Name(), err)
		}
	}
	return nil
}

// Parse decodes one YAML schema definition.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	return &s, nil
}
