package core

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// IDPool hands out small integer ids, reusing released slots before growing.
type IDPool struct {
	mu     sync.Mutex
	owners []interface{}
	base   uint64
}

// NewIDPool creates a pool whose ids start at base. A base of 1 keeps 0 free as a null value.
func NewIDPool(base uint64) *IDPool {
	return &IDPool{
		owners: make([]interface{}, 0, 64),
		base:   base,
	}
}

func (p *IDPool) Acquire(owner interface{}) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if owner == nil {
		owner = struct{}{}
	}
	length := uint64(len(p.owners))
	for i := uint64(0); i < length; i++ {
		// Existing free spot. Take it.
		if p.owners[i] == nil {
			p.owners[i] = owner
			return p.base + i
		}
	}

	// If here, no existing free slots. Need a new id, so push one.
	p.owners = append(p.owners, owner)
	return p.base + uint64(len(p.owners)) - 1
}

func (p *IDPool) Release(id uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.owners) == 0 {
		return ErrIdentifierRelease
	}
	if id < p.base || id-p.base >= uint64(len(p.owners)) {
		return errors.Newf("identifier release: id '%d' out of range (max=%d). Nothing was done", id, p.base+uint64(len(p.owners))-1)
	}

	// Just zero out the entry, making it available for use.
	p.owners[id-p.base] = nil
	return nil
}

// Owner returns what acquired the id, or nil when the slot is free.
func (p *IDPool) Owner(id uint64) interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	if id < p.base || id-p.base >= uint64(len(p.owners)) {
		return nil
	}
	return p.owners[id-p.base]
}
