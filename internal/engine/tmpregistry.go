package engine

import (
	"os"
	"sync"
)

// globalTmpRegistry tracks temporary files and snapshot directories that
// are still being written, so an interrupted run can remove them.
var globalTmpRegistry = &tmpRegistry{}

type tmpRegistry struct {
	mu    sync.Mutex
	paths map[string]struct{}
}

// RegisterTmp adds a temporary path to the global registry.
func RegisterTmp(path string) {
	globalTmpRegistry.mu.Lock()
	defer globalTmpRegistry.mu.Unlock()
	if globalTmpRegistry.paths == nil {
		globalTmpRegistry.paths = make(map[string]struct{})
	}
	globalTmpRegistry.paths[path] = struct{}{}
}

// DeregisterTmp removes a temporary path from the global registry.
func DeregisterTmp(path string) {
	globalTmpRegistry.mu.Lock()
	defer globalTmpRegistry.mu.Unlock()
	delete(globalTmpRegistry.paths, path)
}

// CleanupTmpFiles removes all registered temporary paths and returns how
// many were registered.
func CleanupTmpFiles() int {
	globalTmpRegistry.mu.Lock()
	paths := make([]string, 0, len(globalTmpRegistry.paths))
	for p := range globalTmpRegistry.paths {
		paths = append(paths, p)
	}
	globalTmpRegistry.paths = nil
	globalTmpRegistry.mu.Unlock()

	for _, p := range paths {
		_ = os.RemoveAll(p)
	}
	return len(paths)
}
