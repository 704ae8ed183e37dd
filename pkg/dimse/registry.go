package dimse

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNoStack is returned by Open for an unregistered name.
var ErrNoStack = errors.New("dimse stack not registered")

var (
	stacksMu sync.RWMutex
	stacks   = make(map[string]Stack)
)

// Register makes a stack available under name. It panics on a duplicate
// name or nil stack.
func Register(name string, s Stack) {
	stacksMu.Lock()
	defer stacksMu.Unlock()
	if s == nil {
		panic("dimse: Register stack is nil")
	}
	if _, dup := stacks[name]; dup {
		panic("dimse: Register called twice for stack " + name)
	}
	stacks[name] = s
}

// Open returns the stack registered under name.
func Open(name string) (Stack, error) {
	stacksMu.RLock()
	defer stacksMu.RUnlock()
	s, ok := stacks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrNoStack, name, stackNames())
	}
	return s, nil
}

// Stacks lists the registered stack names.
func Stacks() []string {
	stacksMu.RLock()
	defer stacksMu.RUnlock()
	return stackNames()
}

func stackNames() []string {
	names := make([]string, 0, len(stacks))
	for name := range stacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
