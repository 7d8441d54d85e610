package vulkan

import (
	vk "github.com/goki/vulkan"
)

type CommandPoolCreateInfo struct {
	Flags            vk.CommandPoolCreateFlags
	QueueFamilyIndex uint32
}

type commandPoolState struct {
	handle         CommandPool
	createInfo     CommandPoolCreateInfo
	commandBuffers map[CommandBuffer]struct{}
}

// canResetIndividually is true for pools that allow a single command buffer to be reset.
func (p *commandPoolState) canResetIndividually() bool {
	return p.createInfo.Flags&vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit) != 0
}

type CommandBufferAllocateInfo struct {
	CommandPool        CommandPool
	Level              vk.CommandBufferLevel
	CommandBufferCount uint32
}

func (d *Device) RecordCreateCommandPool(result vk.Result, pool CommandPool, info CommandPoolCreateInfo) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		d.commandPools[pool] = &commandPoolState{
			handle:         pool,
			createInfo:     info,
			commandBuffers: make(map[CommandBuffer]struct{}),
		}
	})
}

// validateCommandBuffersNotInFlight fails for every command buffer still pending on a queue.
func (d *Device) validateCommandBuffersNotInFlight(cbs []CommandBuffer, api string) bool {
	skip := false
	for _, h := range cbs {
		if d.globalInFlight[h] > 0 {
			skip = d.logError(Ref(h), CodeObjectInUse,
				"%s: attempt to free or reset command buffer (0x%x) which is in flight.", api, uint64(h)) || skip
		}
	}
	return skip
}

func (p *commandPoolState) list() []CommandBuffer {
	out := make([]CommandBuffer, 0, len(p.commandBuffers))
	for h := range p.commandBuffers {
		out = append(out, h)
	}
	return out
}

func (d *Device) ValidateDestroyCommandPool(pool CommandPool) bool {
	return d.lock.SafeCall(func() bool {
		if pool == 0 {
			return false
		}
		p, ok := d.commandPools[pool]
		if !ok {
			return d.invalidObject(Ref(pool), "vkDestroyCommandPool")
		}
		return d.validateCommandBuffersNotInFlight(p.list(), "vkDestroyCommandPool")
	})
}

func (d *Device) RecordDestroyCommandPool(pool CommandPool) {
	d.lock.SafeRecord(func() {
		p, ok := d.commandPools[pool]
		if !ok {
			return
		}
		for _, h := range p.list() {
			d.freeCommandBuffer(p, h)
		}
		delete(d.commandPools, pool)
	})
}

func (d *Device) ValidateResetCommandPool(pool CommandPool) bool {
	return d.lock.SafeCall(func() bool {
		p, ok := d.commandPools[pool]
		if !ok {
			return d.invalidObject(Ref(pool), "vkResetCommandPool")
		}
		return d.validateCommandBuffersNotInFlight(p.list(), "vkResetCommandPool")
	})
}

func (d *Device) RecordResetCommandPool(result vk.Result, pool CommandPool) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		if p, ok := d.commandPools[pool]; ok {
			for h := range p.commandBuffers {
				if cb, ok := d.commandBuffers[h]; ok {
					d.resetCommandBuffer(cb)
				}
			}
		}
	})
}

func (d *Device) RecordAllocateCommandBuffers(result vk.Result, info CommandBufferAllocateInfo, cbs []CommandBuffer) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		p, ok := d.commandPools[info.CommandPool]
		if !ok {
			return
		}
		for _, h := range cbs {
			p.commandBuffers[h] = struct{}{}
			d.commandBuffers[h] = newCommandBufferState(h, p, info.Level)
		}
	})
}

func (d *Device) ValidateFreeCommandBuffers(pool CommandPool, cbs []CommandBuffer) bool {
	return d.lock.SafeCall(func() bool {
		if _, ok := d.commandPools[pool]; !ok {
			return d.invalidObject(Ref(pool), "vkFreeCommandBuffers")
		}
		return d.validateCommandBuffersNotInFlight(cbs, "vkFreeCommandBuffers")
	})
}

func (d *Device) RecordFreeCommandBuffers(pool CommandPool, cbs []CommandBuffer) {
	d.lock.SafeRecord(func() {
		p, ok := d.commandPools[pool]
		if !ok {
			return
		}
		for _, h := range cbs {
			d.freeCommandBuffer(p, h)
		}
	})
}

// freeCommandBuffer drops a command buffer and invalidates the primaries that executed it.
func (d *Device) freeCommandBuffer(p *commandPoolState, h CommandBuffer) {
	cb, ok := d.commandBuffers[h]
	if !ok {
		return
	}
	d.invalidateCommandBuffers(&cb.baseNode, Ref(h), invalidatedDestroyed)
	cb.cbBindings = nil
	d.resetCommandBuffer(cb)
	delete(p.commandBuffers, h)
	delete(d.commandBuffers, h)
	delete(d.globalInFlight, h)
}
