// control/hotreload.go
// Process-wide hooks run after a configuration reload, e.g. on SIGHUP.

package control

import "sync"

var (
	hooksMu     sync.Mutex
	reloadHooks []func()
)

// RegisterReloadHook adds a component reload listener.
func RegisterReloadHook(fn func()) {
	hooksMu.Lock()
	reloadHooks = append(reloadHooks, fn)
	hooksMu.Unlock()
}

func hooks() []func() {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	return append([]func(){}, reloadHooks...)
}

// TriggerHotReload dispatches all reload hooks asynchronously.
func TriggerHotReload() {
	for _, fn := range hooks() {
		go fn()
	}
}

// TriggerHotReloadSync invokes all reload hooks synchronously (for test determinism).
func TriggerHotReloadSync() {
	for _, fn := range hooks() {
		fn()
	}
}
