package vulkan

import (
	vk "github.com/goki/vulkan"
)

type fenceStatus int

const (
	fenceUnsignaled fenceStatus = iota
	fenceInflight
	fenceRetired
)

type fenceState struct {
	baseNode
	handle   Fence
	state    fenceStatus
	signaler *syncPoint
}

type semaphoreState struct {
	baseNode
	handle   Semaphore
	signaled bool
	// queue position of the pending signal, nil for an external signal or none at all
	signaler *syncPoint
}

type eventState struct {
	baseNode
	handle Event
	// stage mask of the last set that reached the device
	stageMask vk.PipelineStageFlags
}

// ============================================================================================
// Fences
// ============================================================================================

func (d *Device) RecordCreateFence(result vk.Result, fence Fence, flags vk.FenceCreateFlags) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		f := &fenceState{handle: fence, state: fenceUnsignaled}
		if flags&vk.FenceCreateFlags(vk.FenceCreateSignaledBit) != 0 {
			f.state = fenceRetired
		}
		d.fences[fence] = f
	})
}

func (d *Device) ValidateResetFences(fences []Fence) bool {
	return d.lock.SafeCall(func() bool {
		skip := false
		for _, h := range fences {
			f, ok := d.fences[h]
			if !ok {
				skip = d.invalidObject(Ref(h), "vkResetFences") || skip
				continue
			}
			if f.state == fenceInflight {
				skip = d.logError(Ref(h), CodeFenceInUse,
					"Fence 0x%x is in use.", uint64(h)) || skip
			}
		}
		return skip
	})
}

func (d *Device) RecordResetFences(result vk.Result, fences []Fence) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		for _, h := range fences {
			if f, ok := d.fences[h]; ok {
				f.state = fenceUnsignaled
				f.signaler = nil
			}
		}
	})
}

func (d *Device) ValidateDestroyFence(fence Fence) bool {
	return d.lock.SafeCall(func() bool {
		if fence == 0 {
			return false
		}
		f, ok := d.fences[fence]
		if !ok {
			return d.invalidObject(Ref(fence), "vkDestroyFence")
		}
		if f.state == fenceInflight {
			return d.logError(Ref(fence), CodeFenceInUse, "Fence 0x%x is in use.", uint64(fence))
		}
		return false
	})
}

func (d *Device) RecordDestroyFence(fence Fence) {
	d.lock.SafeRecord(func() {
		delete(d.fences, fence)
	})
}

// ============================================================================================
// Semaphores
// ============================================================================================

func (d *Device) RecordCreateSemaphore(result vk.Result, semaphore Semaphore) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		d.semaphores[semaphore] = &semaphoreState{handle: semaphore}
	})
}

func (d *Device) ValidateDestroySemaphore(semaphore Semaphore) bool {
	return d.lock.SafeCall(func() bool {
		if semaphore == 0 {
			return false
		}
		s, ok := d.semaphores[semaphore]
		if !ok {
			return d.invalidObject(Ref(semaphore), "vkDestroySemaphore")
		}
		return d.validateObjectNotInUse(&s.baseNode, Ref(semaphore), "vkDestroySemaphore")
	})
}

func (d *Device) RecordDestroySemaphore(semaphore Semaphore) {
	d.lock.SafeRecord(func() {
		delete(d.semaphores, semaphore)
	})
}

// ============================================================================================
// Events
// ============================================================================================

func (d *Device) RecordCreateEvent(result vk.Result, event Event) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		d.events[event] = &eventState{handle: event}
	})
}

func (d *Device) ValidateDestroyEvent(event Event) bool {
	return d.lock.SafeCall(func() bool {
		if event == 0 {
			return false
		}
		e, ok := d.events[event]
		if !ok {
			return d.invalidObject(Ref(event), "vkDestroyEvent")
		}
		return d.validateObjectNotInUse(&e.baseNode, Ref(event), "vkDestroyEvent")
	})
}

func (d *Device) RecordDestroyEvent(event Event) {
	d.lock.SafeRecord(func() {
		e, ok := d.events[event]
		if !ok {
			return
		}
		d.invalidateCommandBuffers(&e.baseNode, Ref(event), invalidatedDestroyed)
		delete(d.events, event)
		for _, q := range d.queues {
			delete(q.eventStages, event)
		}
	})
}

// ValidateSetEvent covers the host side vkSetEvent.
func (d *Device) ValidateSetEvent(event Event) bool {
	return d.lock.SafeCall(func() bool {
		e, ok := d.events[event]
		if !ok {
			return d.invalidObject(Ref(event), "vkSetEvent")
		}
		if e.inUse > 0 {
			return d.logError(Ref(event), CodeObjectInUse,
				"Cannot call vkSetEvent() on event 0x%x that is already in use by a command buffer.", uint64(event))
		}
		return false
	})
}

func (d *Device) RecordSetEvent(result vk.Result, event Event) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		e, ok := d.events[event]
		if !ok {
			return
		}
		e.stageMask = vk.PipelineStageFlags(vk.PipelineStageHostBit)
		for _, q := range d.queues {
			q.eventStages[event] = e.stageMask
		}
	})
}

func (d *Device) ValidateResetEvent(event Event) bool {
	return d.lock.SafeCall(func() bool {
		e, ok := d.events[event]
		if !ok {
			return d.invalidObject(Ref(event), "vkResetEvent")
		}
		if e.inUse > 0 {
			return d.logError(Ref(event), CodeObjectInUse,
				"Cannot call vkResetEvent() on event 0x%x that is already in use by a command buffer.", uint64(event))
		}
		return false
	})
}

func (d *Device) RecordResetEvent(result vk.Result, event Event) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		e, ok := d.events[event]
		if !ok {
			return
		}
		e.stageMask = 0
		for _, q := range d.queues {
			delete(q.eventStages, event)
		}
	})
}

// ValidateGetEventStatus only checks the handle. The status itself comes from the driver.
func (d *Device) ValidateGetEventStatus(event Event) bool {
	return d.lock.SafeCall(func() bool {
		if _, ok := d.events[event]; !ok {
			return d.invalidObject(Ref(event), "vkGetEventStatus")
		}
		return false
	})
}
