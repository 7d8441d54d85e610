package vulkan

type invalidation int

const (
	invalidatedDestroyed invalidation = iota
	invalidatedUpdated
)

func (i invalidation) String() string {
	if i == invalidatedUpdated {
		return "updated"
	}
	return "destroyed"
}

// brokenBinding remembers why a command buffer became invalid.
type brokenBinding struct {
	object ObjectRef
	how    invalidation
}

// baseNode is embedded in the state of every object a command buffer can reference.
type baseNode struct {
	// command buffers that recorded a reference to this object
	cbBindings map[CommandBuffer]struct{}
	// pending submissions that reference this object
	inUse int
}

func (n *baseNode) addBinding(cb CommandBuffer) {
	if n.cbBindings == nil {
		n.cbBindings = make(map[CommandBuffer]struct{})
	}
	n.cbBindings[cb] = struct{}{}
}

func (n *baseNode) removeBinding(cb CommandBuffer) {
	delete(n.cbBindings, cb)
}

// node resolves any reference to its shared bookkeeping, or nil when the object is unknown.
func (d *Device) node(ref ObjectRef) *baseNode {
	h := ref.Handle
	switch ref.Kind {
	case ObjectKindDeviceMemory:
		if s, ok := d.memories[DeviceMemory(h)]; ok {
			return &s.baseNode
		}
	case ObjectKindBuffer:
		if s, ok := d.buffers[Buffer(h)]; ok {
			return &s.baseNode
		}
	case ObjectKindImage:
		if s, ok := d.images[Image(h)]; ok {
			return &s.baseNode
		}
	case ObjectKindBufferView:
		if s, ok := d.bufferViews[BufferView(h)]; ok {
			return &s.baseNode
		}
	case ObjectKindImageView:
		if s, ok := d.imageViews[ImageView(h)]; ok {
			return &s.baseNode
		}
	case ObjectKindSampler:
		if s, ok := d.samplers[Sampler(h)]; ok {
			return &s.baseNode
		}
	case ObjectKindPipeline:
		if s, ok := d.pipelines[Pipeline(h)]; ok {
			return &s.baseNode
		}
	case ObjectKindDescriptorSet:
		if s, ok := d.descriptorSets[DescriptorSet(h)]; ok {
			return &s.baseNode
		}
	case ObjectKindDescriptorPool:
		if s, ok := d.descriptorPools[DescriptorPool(h)]; ok {
			return &s.baseNode
		}
	case ObjectKindRenderPass:
		if s, ok := d.renderPasses[RenderPass(h)]; ok {
			return &s.baseNode
		}
	case ObjectKindFramebuffer:
		if s, ok := d.framebuffers[Framebuffer(h)]; ok {
			return &s.baseNode
		}
	case ObjectKindCommandBuffer:
		if s, ok := d.commandBuffers[CommandBuffer(h)]; ok {
			return &s.baseNode
		}
	case ObjectKindEvent:
		if s, ok := d.events[Event(h)]; ok {
			return &s.baseNode
		}
	case ObjectKindQueryPool:
		if s, ok := d.queryPools[QueryPool(h)]; ok {
			return &s.baseNode
		}
	case ObjectKindSemaphore:
		if s, ok := d.semaphores[Semaphore(h)]; ok {
			return &s.baseNode
		}
	case ObjectKindFence:
		if s, ok := d.fences[Fence(h)]; ok {
			return &s.baseNode
		}
	case ObjectKindPipelineLayout, ObjectKindDescriptorSetLayout, ObjectKindShaderModule,
		ObjectKindCommandPool, ObjectKindQueue, ObjectKindSwapchain, ObjectKindDevice, ObjectKindUnknown:
		// never recorded into a command buffer
	}
	return nil
}

// bindToCommandBuffer records that cb references ref, so destroying ref invalidates cb.
// Buffers and images also pull in the memory they are bound to.
func (d *Device) bindToCommandBuffer(cb *commandBufferState, ref ObjectRef) {
	n := d.node(ref)
	if n == nil {
		return
	}
	n.addBinding(cb.handle)
	cb.boundObjects[ref] = struct{}{}

	if mem := d.boundMemoryState(ref); mem != nil {
		mem.addBinding(cb.handle)
		cb.memObjs[mem.handle] = struct{}{}
	}
}

// invalidateCommandBuffers moves every command buffer bound to n to the invalid state.
// Primaries that execute an invalidated secondary are invalidated in turn.
func (d *Device) invalidateCommandBuffers(n *baseNode, ref ObjectRef, how invalidation) {
	for h := range n.cbBindings {
		cb, ok := d.commandBuffers[h]
		if !ok {
			continue
		}
		cb.state = COMMAND_BUFFER_STATE_INVALID
		cb.broken = append(cb.broken, brokenBinding{object: ref, how: how})
		if len(cb.cbBindings) > 0 {
			d.invalidateCommandBuffers(&cb.baseNode, Ref(cb.handle), how)
		}
	}
}

// validateObjectNotInUse fails when a pending submission still references the object.
func (d *Device) validateObjectNotInUse(n *baseNode, ref ObjectRef, api string) bool {
	if n == nil || n.inUse == 0 {
		return false
	}
	return d.logError(ref, CodeObjectInUse, "Cannot call %s on %s that is currently in use by a command buffer.", api, ref)
}
