package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Engine)
)

// Register is called by each engine package's init() function.
// Thread-safe for concurrent init() calls.
func Register(e Engine) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[e.Type()] = e
}

// Get returns the engine for a database type, or an error if the type is
// not compiled in. Lookup is case-insensitive.
func Get(dbType string) (Engine, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	if e, ok := registry[strings.ToLower(dbType)]; ok {
		return e, nil
	}
	return nil, fmt.Errorf("unsupported database type: %s (not compiled in)", dbType)
}

// RegisteredTypes returns the sorted list of registered engine types.
// Used by operational endpoints to report which engines are available.
func RegisteredTypes() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
