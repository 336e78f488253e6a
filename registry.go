package rutabaga

import (
	"slices"
	"sync"
)

// Factory creates a component from the build configuration. fh is the
// handler for fences on the global timeline and on context rings.
type Factory func(cfg *Config, fh FenceHandler) (Component, error)

var (
	registryMu sync.RWMutex
	factories  = make(map[ComponentType]Factory)
)

// Register makes a component available to Build. It is called from the
// init function of each component package, so importing a component
// package is what compiles it in. Registering a type twice replaces the
// earlier factory.
func Register(ct ComponentType, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[ct] = f
}

// Unregister removes a component factory. Useful in tests.
func Unregister(ct ComponentType) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(factories, ct)
}

// IsRegistered reports whether a factory for ct is available.
func IsRegistered(ct ComponentType) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := factories[ct]
	return ok
}

// Available returns the registered component types in ascending order.
func Available() []ComponentType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]ComponentType, 0, len(factories))
	for ct := range factories {
		out = append(out, ct)
	}
	slices.Sort(out)
	return out
}

func factory(ct ComponentType) (Factory, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := factories[ct]
	return f, ok
}
