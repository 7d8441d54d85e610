package core

import "sync"

// Should return true if the intercepted call must be aborted.
type FnOnDiagnostic func(d Diagnostic, userData interface{}) bool

type registeredCallback struct {
	id       uint64
	mask     Severity
	userData interface{}
	callback FnOnDiagnostic
}

// CallbackRegistry keeps the application's debug callbacks, each with its own severity mask.
type CallbackRegistry struct {
	mu        sync.RWMutex
	ids       *IDPool
	callbacks []*registeredCallback
}

func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{
		ids: NewIDPool(1),
	}
}

/**
 * Register a callback for diagnostics whose severity intersects mask.
 * @param mask The severities to listen for.
 * @param userData Passed back on every invocation. Can be nil.
 * @param onDiagnostic The callback to be invoked.
 * @returns the id to use with Unregister.
 */
func (cr *CallbackRegistry) Register(mask Severity, userData interface{}, onDiagnostic FnOnDiagnostic) uint64 {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	cb := &registeredCallback{
		mask:     mask,
		userData: userData,
		callback: onDiagnostic,
	}
	cb.id = cr.ids.Acquire(cb)
	cr.callbacks = append(cr.callbacks, cb)
	return cb.id
}

// Unregister returns false if no callback carries the id.
func (cr *CallbackRegistry) Unregister(id uint64) bool {
	cr.mu.Lock()
	defer cr.mu.Unlock()

	for i, cb := range cr.callbacks {
		if cb.id == id {
			cr.callbacks = append(cr.callbacks[:i], cr.callbacks[i+1:]...)
			_ = cr.ids.Release(id)
			return true
		}
	}
	return false
}

func (cr *CallbackRegistry) Len() int {
	cr.mu.RLock()
	defer cr.mu.RUnlock()
	return len(cr.callbacks)
}

/**
 * Fires a diagnostic to every matching callback. Unlike plain events every
 * callback sees the message, even after one asked to abort.
 * @returns true if any callback asked to abort.
 */
func (cr *CallbackRegistry) Fire(d Diagnostic) bool {
	cr.mu.RLock()
	callbacks := make([]*registeredCallback, len(cr.callbacks))
	copy(callbacks, cr.callbacks)
	cr.mu.RUnlock()

	abort := false
	for _, cb := range callbacks {
		if cb.mask&d.Severity == 0 {
			continue
		}
		if cb.callback(d, cb.userData) {
			abort = true
		}
	}
	return abort
}
