package normalize

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// TableSpec is the declarative contract for one typed table.
type TableSpec struct {
	Name       string
	PrimaryKey []string
	Fields     []Field
	// Aliases maps source field names to canonical field names. Matching is
	// case-insensitive on the source side.
	Aliases map[string]string
	// Explode, when set, turns one record holding a list into one record per element.
	Explode *Explode
	// Transforms flatten nested or inline-encoded values into scalar source keys before
	// aliasing. They run in order.
	Transforms []Transform
}

// Field returns the declared field with the given canonical name.
func (s *TableSpec) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns the declared column names in order.
func (s *TableSpec) FieldNames() []string {
	out := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = f.Name
	}
	return out
}

// Validate checks the structural invariants of the spec.
func (s *TableSpec) Validate() error {
	if s.Name == "" {
		return errors.New("table spec without name")
	}
	if len(s.PrimaryKey) == 0 {
		return fmt.Errorf("%s: empty primary key", s.Name)
	}
	seen := map[string]bool{}
	lower := map[string]string{}
	for _, f := range s.Fields {
		if f.Name == "" {
			return fmt.Errorf("%s: field without name", s.Name)
		}
		if seen[f.Name] {
			return fmt.Errorf("%s: duplicate field %q", s.Name, f.Name)
		}
		if other, ok := lower[strings.ToLower(f.Name)]; ok {
			return fmt.Errorf("%s: fields %q and %q differ only by case", s.Name, other, f.Name)
		}
		seen[f.Name] = true
		lower[strings.ToLower(f.Name)] = f.Name
	}
	for _, pk := range s.PrimaryKey {
		if !seen[pk] {
			return fmt.Errorf("%s: primary key %q has no declared type", s.Name, pk)
		}
	}
	for src, dst := range s.Aliases {
		if !seen[dst] {
			return fmt.Errorf("%s: alias %q targets undeclared field %q", s.Name, src, dst)
		}
	}
	return nil
}

// Registry holds table specs by name.
type Registry struct {
	specs map[string]*TableSpec
}

// NewRegistry validates every spec and rejects duplicate names.
func NewRegistry(specs ...TableSpec) (*Registry, error) {
	r := &Registry{specs: make(map[string]*TableSpec, len(specs))}
	for i := range specs {
		if err := r.Register(specs[i]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds one spec.
func (r *Registry) Register(spec TableSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	if _, ok := r.specs[spec.Name]; ok {
		return fmt.Errorf("duplicate table spec %q", spec.Name)
	}
	s := spec
	r.specs[spec.Name] = &s
	return nil
}

// Lookup returns the spec registered under name.
func (r *Registry) Lookup(name string) (*TableSpec, bool) {
	s, ok := r.specs[name]
	return s, ok
}

// Names returns every registered table name, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.specs))
	for n := range r.specs {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
