package assets

import (
	"fmt"
	"sort"

	"github.com/d3lta02/zklabubu-desktop/internal/engine"
)

// Variant is a selectable character skin.
type Variant struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Player       string `json:"-"`
	PlayerShield string `json:"-"`
	PlayerDouble string `json:"-"`
}

var variants = map[string]Variant{
	"blue": {ID: "blue", Name: "Blue Labubu", Player: "labubu_blue", PlayerShield: "labubu_blue_shield", PlayerDouble: "labubu_blue_double"},
	"pink": {ID: "pink", Name: "Pink Labubu", Player: "labubu_pink", PlayerShield: "labubu_pink_shield", PlayerDouble: "labubu_pink_double"},
}

// sharedRoles bind the same resource regardless of variant.
var sharedRoles = map[string]string{
	engine.RoleYellowEgg:      "yellow_egg",
	engine.RoleBlueEgg:        "blue_egg",
	engine.RolePurpleEgg:      "purple_egg",
	engine.RoleRock:           "rock",
	engine.RoleShield:         "shield",
	engine.RoleDoublePoints:   "double_points",
	engine.RoleExtraLife:      "extra_life",
	engine.RoleSlowdown:       "slowdown",
	engine.RoleEggSound:       "egg",
	engine.RoleRockSound:      "rock_hit",
	engine.RoleShieldHitSound: "shield_hit",
}

// ListVariants returns the registered variants ordered by ID.
func ListVariants() []Variant {
	out := make([]Variant, 0, len(variants))
	for _, v := range variants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LookupVariant returns the variant registered under id.
func LookupVariant(id string) (Variant, bool) {
	v, ok := variants[id]
	return v, ok
}

// Bindings resolves the engine role bindings of variant against the
// library. Every bound resource must be present in the library.
func (l *Library) Bindings(variant string) (engine.Bindings, error) {
	v, ok := LookupVariant(variant)
	if !ok {
		return engine.Bindings{}, fmt.Errorf("assets: unknown variant %q", variant)
	}
	roles := make(map[string]string, len(sharedRoles)+3)
	for role, name := range sharedRoles {
		roles[role] = name
	}
	roles[engine.RolePlayer] = v.Player
	roles[engine.RolePlayerShield] = v.PlayerShield
	roles[engine.RolePlayerDouble] = v.PlayerDouble

	for role, name := range roles {
		if _, ok := l.Get(name); !ok {
			return engine.Bindings{}, fmt.Errorf("assets: variant %s role %s: resource %q not loaded", variant, role, name)
		}
	}
	return engine.Bindings{Variant: v.ID, Assets: roles}, nil
}
