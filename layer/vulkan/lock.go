package vulkan

import "sync"

// lockPool serializes every access to the state of one device. Validation and recording
// each take it for their own duration only, never across the call into the driver.
type lockPool struct {
	mu sync.Mutex
}

// SafeCall runs a validation under the lock and hands back its skip result.
func (lp *lockPool) SafeCall(fn func() bool) bool {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	return fn()
}

// SafeRecord runs a state update under the lock.
func (lp *lockPool) SafeRecord(fn func()) {
	lp.mu.Lock()
	defer lp.mu.Unlock()

	fn()
}
