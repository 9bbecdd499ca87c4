package semantic

import "sync"

// Entities and predicates refer to their package by name and resolve it
// here, so a record can be materialized without holding the package.
var registry = struct {
	sync.RWMutex
	packages map[string]*Package
}{packages: make(map[string]*Package)}

// register installs p under its name. A package registered under an
// existing name replaces the previous one.
func register(p *Package) {
	registry.Lock()
	defer registry.Unlock()
	registry.packages[p.name] = p
}

// Lookup returns the package registered under name.
func Lookup(name string) (*Package, bool) {
	registry.RLock()
	defer registry.RUnlock()
	p, ok := registry.packages[name]
	return p, ok
}

// Unregister removes the package registered under name, if any.
func Unregister(name string) {
	registry.Lock()
	defer registry.Unlock()
	delete(registry.packages, name)
}

func lookupPackage(name string) (*Package, error) {
	if p, ok := Lookup(name); ok {
		return p, nil
	}
	return nil, logged(nil, &Error{
		Code:    ErrCodeUnknownPackage,
		Message: "no semantic package named " + name,
		Name:    name,
	})
}
