package action

import (
	"fmt"
	"sort"
	"sync"

	moshpiterrors "github.com/metalab-io/moshpit/pkg/errors"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Action)
)

// Register adds an action implementation under its metadata name.
func Register(a Action) error {
	if a == nil {
		return moshpiterrors.NewActionError("", fmt.Errorf("action is nil"))
	}

	name := a.Metadata().Name
	if name == "" {
		return moshpiterrors.NewActionError(name, fmt.Errorf("action name is empty"))
	}

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[name]; exists {
		return moshpiterrors.NewActionError(name, fmt.Errorf("action already registered"))
	}

	registry[name] = a
	return nil
}

// Get retrieves an action by name.
func Get(name string) (Action, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	a, ok := registry[name]
	if !ok {
		return nil, moshpiterrors.NewActionError(name, fmt.Errorf("no action registered"))
	}
	return a, nil
}

// List returns all registered actions sorted by name.
func List() []Action {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)

	actions := make([]Action, 0, len(names))
	for _, name := range names {
		actions = append(actions, registry[name])
	}
	return actions
}

// Reset clears action registrations (for tests).
func Reset() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]Action)
}
