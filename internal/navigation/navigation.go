// Package navigation decides which destinations a session can reach.
//
// Composition is a pure filter over a declarative table: no I/O, no hidden
// state, the same snapshot always yields the same ordered result.
package navigation

import (
	"slices"

	v1 "farmgate/pkg/api/v1"
	"farmgate/pkg/features"
)

type Section int

const (
	SectionAuth Section = iota // reachable only while signed out
	SectionHome                // first for signed-in users
	SectionRole                // role specific tooling
	SectionBase                // trailing entries such as profile
)

const (
	RoleBuyer          = "buyer"
	RoleSeller         = "seller"
	RoleServicePartner = "service_partner"
	RoleAdmin          = "admin"
)

type Destination struct {
	Name    string
	Screen  string
	Icon    string
	Label   string
	Section Section
	// Feature gates the destination on flag and load state; empty means always on.
	Feature features.Feature
	// Roles restricts the destination to these roles; empty means any role.
	Roles []string
}

// Snapshot is everything composition depends on.
type Snapshot struct {
	Authenticated bool
	Role          string
	Flags         map[features.Feature]bool
	Loaded        map[features.Feature]bool
}

// Compose returns the reachable destinations of table for snap.
// Signed-out sessions get the auth section only. Signed-in sessions get home,
// role and base sections in that order, each in table order.
func Compose(table []Destination, snap Snapshot) []Destination {
	if !snap.Authenticated {
		return filter(table, func(d Destination) bool { return d.Section == SectionAuth })
	}

	out := make([]Destination, 0, len(table))
	for _, section := range []Section{SectionHome, SectionRole, SectionBase} {
		out = append(out, filter(table, func(d Destination) bool {
			return d.Section == section && reachable(d, snap)
		})...)
	}
	return out
}

func reachable(d Destination, snap Snapshot) bool {
	if d.Feature != "" && !(snap.Flags[d.Feature] && snap.Loaded[d.Feature]) {
		return false
	}
	if len(d.Roles) > 0 && !slices.Contains(d.Roles, snap.Role) {
		return false
	}
	return true
}

func filter(table []Destination, keep func(Destination) bool) []Destination {
	out := []Destination{}
	for _, d := range table {
		if keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// ToAPI converts destinations into their wire form.
func ToAPI(ds []Destination) []v1.Destination {
	out := make([]v1.Destination, 0, len(ds))
	for _, d := range ds {
		out = append(out, v1.Destination{
			Name:   d.Name,
			Screen: d.Screen,
			Icon:   d.Icon,
			Label:  d.Label,
		})
	}
	return out
}
