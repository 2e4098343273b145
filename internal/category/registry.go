// Package category maps detector class ids to display names, render colors and threat tiers.
package category

import (
	"image/color"
	"sort"
	"strings"

	"github.com/threatlens/annotator/pkg/types"
)

// UnknownID is the id of the fallback category.
const UnknownID = 7

var table = []types.Category{
	{ID: 0, Name: "Person", Color: rgb(0, 165, 255), Threat: types.ThreatMedium},
	{ID: 1, Name: "Soldier", Color: rgb(255, 0, 0), Threat: types.ThreatHigh, Marker: types.MarkerCircle},
	{ID: 2, Name: "Civilian", Color: rgb(0, 255, 0), Threat: types.ThreatLow, Marker: types.MarkerSquare},
	{ID: 3, Name: "Vehicle", Color: rgb(255, 165, 0), Threat: types.ThreatMedium},
	{ID: 4, Name: "Drone", Color: rgb(255, 0, 255), Threat: types.ThreatHigh},
	{ID: 5, Name: "Aircraft", Color: rgb(0, 255, 255), Threat: types.ThreatHigh},
	{ID: 6, Name: "Weapon", Color: rgb(128, 0, 0), Threat: types.ThreatHigh},
	{ID: UnknownID, Name: "Unknown", Color: rgb(255, 255, 255), Threat: types.ThreatUnknown},
}

func rgb(r, g, b uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// Registry is a read-only lookup table. It is safe for concurrent use.
type Registry struct {
	byID    map[int]types.Category
	byName  map[string]types.Category
	unknown types.Category
}

var defaultRegistry = New(table, UnknownID)

// Default returns the process-wide registry built from the static table.
func Default() *Registry {
	return defaultRegistry
}

// New builds a registry from categories. unknownID must be present in categories.
func New(categories []types.Category, unknownID int) *Registry {
	r := &Registry{
		byID:   make(map[int]types.Category, len(categories)),
		byName: make(map[string]types.Category, len(categories)),
	}
	for _, c := range categories {
		r.byID[c.ID] = c
		r.byName[strings.ToLower(c.Name)] = c
	}
	unknown, ok := r.byID[unknownID]
	if !ok {
		panic("category: unknown fallback id not in table")
	}
	r.unknown = unknown
	return r
}

// Resolve returns the category for classID, or the Unknown category if it is unmapped.
func (r *Registry) Resolve(classID int) types.Category {
	c, _ := r.ResolveKnown(classID)
	return c
}

// ResolveKnown is Resolve that also reports whether classID was mapped.
func (r *Registry) ResolveKnown(classID int) (types.Category, bool) {
	if c, ok := r.byID[classID]; ok {
		return c, true
	}
	return r.unknown, false
}

// Lookup finds a category by case-insensitive name.
func (r *Registry) Lookup(name string) (types.Category, bool) {
	c, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Unknown returns the fallback category.
func (r *Registry) Unknown() types.Category {
	return r.unknown
}

// Categories returns every category ordered by id.
func (r *Registry) Categories() []types.Category {
	out := make([]types.Category, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
