package rutabaga

import "strings"

// Capset ids.
const (
	CapsetVirgl       uint32 = 1
	CapsetVirgl2      uint32 = 2
	CapsetGfxstream   uint32 = 3
	CapsetVenus       uint32 = 4
	CapsetCrossDomain uint32 = 5
	CapsetDrm         uint32 = 6
)

// CapsetInfo describes one capability set.
type CapsetInfo struct {
	ID        uint32
	Component ComponentType
	Name      string
}

var capsets = [...]CapsetInfo{
	{ID: CapsetVirgl, Component: VirglRenderer, Name: "virgl"},
	{ID: CapsetVirgl2, Component: VirglRenderer, Name: "virgl2"},
	{ID: CapsetGfxstream, Component: Gfxstream, Name: "gfxstream"},
	{ID: CapsetVenus, Component: VirglRenderer, Name: "venus"},
	{ID: CapsetCrossDomain, Component: CrossDomain, Name: "cross-domain"},
	{ID: CapsetDrm, Component: VirglRenderer, Name: "drm"},
}

// Capsets returns a copy of the capset catalog.
func Capsets() []CapsetInfo {
	out := make([]CapsetInfo, len(capsets))
	copy(out, capsets[:])
	return out
}

// LookupCapset returns the catalog entry for id.
func LookupCapset(id uint32) (CapsetInfo, bool) {
	for _, c := range capsets {
		if c.ID == id {
			return c, true
		}
	}
	return CapsetInfo{}, false
}

// CalculateContextMask converts a list of capset names into a bitmask
// with bit id set for each known name. Unknown names are ignored.
func CalculateContextMask(names []string) uint64 {
	var mask uint64
	for _, name := range names {
		for _, c := range capsets {
			if c.Name == name {
				mask |= 1 << c.ID
			}
		}
	}
	return mask
}

// ParseContextTypes splits a colon-separated capset list such as
// "virgl2:cross-domain" and returns its mask.
func ParseContextTypes(s string) uint64 {
	if s == "" {
		return 0
	}
	return CalculateContextMask(strings.Split(s, ":"))
}

// CalculateContextTypes converts a bitmask back to capset names in
// catalog order.
func CalculateContextTypes(mask uint64) []string {
	var names []string
	for _, c := range capsets {
		if mask&(1<<c.ID) != 0 {
			names = append(names, c.Name)
		}
	}
	return names
}
