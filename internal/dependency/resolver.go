// Package dependency answers which features must be on before another one can be.
package dependency

import "farmgate/pkg/features"

// FlagReader is the slice of the flag store the resolver needs.
type FlagReader interface {
	IsEnabled(name features.Feature) bool
}

// Resolver looks prerequisites up in a flat table. Entries are used as-is:
// a dependency's own dependencies are never followed.
type Resolver struct {
	table map[features.Feature][]features.Feature
	flags FlagReader
}

func NewResolver(table map[features.Feature][]features.Feature, flags FlagReader) *Resolver {
	t := make(map[features.Feature][]features.Feature, len(table))
	for k, v := range table {
		t[k] = append([]features.Feature(nil), v...)
	}
	return &Resolver{table: t, flags: flags}
}

// Dependencies returns the declared prerequisites of name, empty for unknown names.
func (r *Resolver) Dependencies(name features.Feature) []features.Feature {
	return append([]features.Feature{}, r.table[name]...)
}

// CanEnable reports whether every prerequisite of name is enabled.
func (r *Resolver) CanEnable(name features.Feature) bool {
	for _, dep := range r.table[name] {
		if !r.flags.IsEnabled(dep) {
			return false
		}
	}
	return true
}

// Unmet lists the prerequisites of name that are currently disabled.
func (r *Resolver) Unmet(name features.Feature) []features.Feature {
	var out []features.Feature
	for _, dep := range r.table[name] {
		if !r.flags.IsEnabled(dep) {
			out = append(out, dep)
		}
	}
	return out
}
