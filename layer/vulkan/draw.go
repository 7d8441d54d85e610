package vulkan

import (
	vk "github.com/goki/vulkan"
)

// descriptorResource is the buffer or image a descriptor element ends up touching.
func (d *Device) descriptorResource(b *descriptorBinding, i uint32) []ObjectRef {
	var out []ObjectRef
	if h := b.buffers[i]; h != 0 {
		out = append(out, Ref(h))
	}
	if v := b.imageViews[i]; v != 0 {
		if _, img := d.viewImage(v); img != nil {
			out = append(out, Ref(img.handle))
		}
	}
	if v := b.bufferViews[i]; v != 0 {
		if bv, ok := d.bufferViews[v]; ok {
			out = append(out, Ref(bv.createInfo.Buffer))
		}
	}
	return out
}

func (d *Device) validateDescriptorElement(ref ObjectRef, api string, set DescriptorSet, binding uint32,
	b *descriptorBinding, i uint32, req descriptorReq) bool {
	skip := false
	if v := b.imageViews[i]; v != 0 {
		view, ok := d.imageViews[v]
		if !ok {
			return d.logError(ref, CodeUsesInvalidatedObject,
				"%s: descriptor set 0x%x binding #%d index %d references image view 0x%x which has been destroyed.",
				api, uint64(set), binding, i, uint64(v))
		}
		if mask := req & descriptorReqViewTypeMask; mask != 0 && mask&viewTypeReq(view.createInfo.ViewType) == 0 {
			skip = d.logError(ref, CodeDescriptorViewTypeMismatch,
				"%s: descriptor set 0x%x binding #%d index %d requires an image view of type mask 0x%x but got view type %d.",
				api, uint64(set), binding, i, uint32(mask), view.createInfo.ViewType) || skip
		}
		single := view.samples == vk.SampleCount1Bit || view.samples == 0
		if req&descriptorReqSingleSample != 0 && !single {
			skip = d.logError(ref, CodeDescriptorSampleCountMismatch,
				"%s: descriptor set 0x%x binding #%d index %d requires a single sample image but got %d samples.",
				api, uint64(set), binding, i, view.samples) || skip
		}
		if req&descriptorReqMultiSample != 0 && single {
			skip = d.logError(ref, CodeDescriptorSampleCountMismatch,
				"%s: descriptor set 0x%x binding #%d index %d requires a multisample image but got a single sample image.",
				api, uint64(set), binding, i) || skip
		}
	}
	for _, res := range d.descriptorResource(b, i) {
		skip = d.verifyBoundMemory(res, api) || skip
	}
	return skip
}

/**
 * @brief Checks every set the bound pipeline statically uses: bound, compatible with the
 * pipeline layout, fully written, and pointing at views the shaders can consume.
 */
func (d *Device) validateBoundDescriptors(cb *commandBufferState, bp *bindPointState, api string) bool {
	ref := Ref(cb.handle)
	p := bp.pipeline
	skip := false
	for _, setIndex := range sortedKeys(p.slots) {
		if int(setIndex) >= len(bp.sets) || bp.sets[setIndex].set == 0 {
			skip = d.logError(ref, CodeDescriptorSetNotBound,
				"%s: VkPipeline 0x%x uses set #%d but that set is not bound.", api, uint64(p.handle), setIndex) || skip
			continue
		}
		bound := bp.sets[setIndex]
		if ok, why := layoutsCompatibleForSet(bound.layout, p.layout, setIndex); !ok {
			skip = d.logError(ref, CodeIncompatibleLayout,
				"%s: VkDescriptorSet (0x%x) bound as set #%d is not compatible with overlapping VkPipelineLayout due to: %s",
				api, uint64(bound.set), setIndex, why) || skip
			continue
		}
		ds, ok := d.descriptorSets[bound.set]
		if !ok {
			skip = d.logError(ref, CodeUsesInvalidatedObject,
				"%s: descriptor set 0x%x bound as set #%d has been freed.", api, uint64(bound.set), setIndex) || skip
			continue
		}
		for _, binding := range sortedKeys(p.slots[setIndex]) {
			b, ok := ds.bindings[binding]
			if !ok {
				continue
			}
			if !b.fullyWritten() {
				skip = d.logError(Ref(bound.set), CodeDescriptorSetNotUpdated,
					"%s: Descriptor Set 0x%x bound but binding #%d was never updated. It is now being used to draw so this will result in undefined behavior.",
					api, uint64(bound.set), binding) || skip
				continue
			}
			req := p.slots[setIndex][binding]
			for i := uint32(0); i < uint32(len(b.written)); i++ {
				skip = d.validateDescriptorElement(ref, api, bound.set, binding, b, i, req) || skip
			}
		}
	}
	return skip
}

func (d *Device) validateDrawState(cb *commandBufferState, bindPoint vk.PipelineBindPoint, indexed bool, api string) bool {
	ref := Ref(cb.handle)
	bp := cb.bindPoints[bindPoint]
	if bp == nil || bp.pipeline == nil {
		kind := "Graphics"
		if bindPoint == vk.PipelineBindPointCompute {
			kind = "Compute"
		}
		return d.logError(ref, CodeNoPipelineBound,
			"%s: No %s pipeline bound to command buffer 0x%x.", api, kind, uint64(cb.handle))
	}
	p := bp.pipeline
	skip := false

	if bindPoint == vk.PipelineBindPointGraphics {
		if missing := statusAllDynamic &^ cb.status; missing != 0 {
			skip = d.logError(ref, CodeDynamicStateNotSet,
				"%s: Dynamic state not set for this command buffer: %s.", api, missing.names()) || skip
		}
		if indexed && cb.status&statusIndexBufferBound == 0 {
			skip = d.logError(ref, CodeIndexBufferNotBound,
				"%s: Index buffer object not bound to this command buffer when Indexed Draw attempted.", api) || skip
		}
		for _, vb := range p.vertexBindings {
			if _, ok := cb.vertexBuffers[vb.Binding]; !ok {
				skip = d.logError(ref, CodeVertexBufferNotBound,
					"%s: The Pipeline State Object (0x%x) expects that this Command Buffer's vertex binding Index %d should be set via vkCmdBindVertexBuffers.",
					api, uint64(p.handle), vb.Binding) || skip
			}
		}
		if cb.activeRenderPass != nil && p.renderPass != nil {
			if cb.activeRenderPass != p.renderPass {
				skip = d.validateRenderPassCompatibility(ref, api, "active render pass", cb.activeRenderPass,
					"pipeline state object", p.renderPass) || skip
			}
			if p.subpass != cb.activeSubpass {
				skip = d.logError(ref, CodeSubpassIndexMismatch,
					"%s: Pipeline was built for subpass %d but used in subpass %d.", api, p.subpass, cb.activeSubpass) || skip
			}
		}
	}

	return d.validateBoundDescriptors(cb, bp, api) || skip
}

/**
 * @brief Binds everything the draw reaches and queues the contents checks. Storage
 * descriptors may be written by the shader and are marked valid, everything else is read.
 */
func (d *Device) recordDrawState(cb *commandBufferState, bindPoint vk.PipelineBindPoint, indexed bool, api string) {
	cb.drawCount++
	bp := cb.bindPoints[bindPoint]
	if bp == nil || bp.pipeline == nil {
		return
	}
	p := bp.pipeline
	for _, setIndex := range sortedKeys(p.slots) {
		if int(setIndex) >= len(bp.sets) {
			continue
		}
		ds, ok := d.descriptorSets[bp.sets[setIndex].set]
		if !ok {
			continue
		}
		for _, binding := range sortedKeys(p.slots[setIndex]) {
			b, ok := ds.bindings[binding]
			if !ok {
				continue
			}
			storage := isStorageDescriptor(b.layout.DescriptorType)
			for i := uint32(0); i < uint32(len(b.written)); i++ {
				for _, obj := range b.references(i) {
					d.bindToCommandBuffer(cb, obj)
				}
				for _, res := range d.descriptorResource(b, i) {
					d.bindToCommandBuffer(cb, res)
					if storage {
						cb.addDeferred(setValidAction(res, true))
					} else {
						cb.addDeferred(checkValidAction(res, api))
					}
				}
			}
		}
	}
	if bindPoint != vk.PipelineBindPointGraphics {
		return
	}
	if indexed && cb.indexBuffer != 0 {
		cb.addDeferred(checkValidAction(Ref(cb.indexBuffer), api))
	}
	for _, vb := range p.vertexBindings {
		if h, ok := cb.vertexBuffers[vb.Binding]; ok {
			cb.addDeferred(checkValidAction(Ref(h), api))
		}
	}
}

// validateIndirectBuffer checks the buffer that holds the draw or dispatch parameters.
func (d *Device) validateIndirectBuffer(buffer Buffer, offset uint64, api string) bool {
	b, skip := d.transferBuffer(buffer, vk.BufferUsageIndirectBufferBit, api)
	if b == nil {
		return skip
	}
	if offset%4 != 0 {
		skip = d.logError(Ref(buffer), CodeMisalignedOffset,
			"%s: offset (0x%x) must be a multiple of 4.", api, offset) || skip
	}
	if offset >= b.createInfo.Size {
		skip = d.logError(Ref(buffer), CodeOffsetOutOfRange,
			"%s: offset 0x%x is not less than the size 0x%x of buffer 0x%x.", api, offset, b.createInfo.Size, uint64(buffer)) || skip
	}
	return skip
}

func (d *Device) validateDraw(h CommandBuffer, cmd cmdType, bindPoint vk.PipelineBindPoint, indexed bool,
	indirect Buffer, offset uint64) bool {
	return d.lock.SafeCall(func() bool {
		cb, skip := d.commandBuffer(h, cmd)
		if cb == nil {
			return skip
		}
		api := cmd.String()
		if indirect != 0 {
			skip = d.validateIndirectBuffer(indirect, offset, api) || skip
		}
		return d.validateDrawState(cb, bindPoint, indexed, api) || skip
	})
}

func (d *Device) recordDraw(h CommandBuffer, cmd cmdType, bindPoint vk.PipelineBindPoint, indexed bool, indirect Buffer) {
	d.recordCommand(h, func(cb *commandBufferState) {
		api := cmd.String()
		if indirect != 0 {
			d.bindToCommandBuffer(cb, Ref(indirect))
			cb.addDeferred(checkValidAction(Ref(indirect), api))
		}
		d.recordDrawState(cb, bindPoint, indexed, api)
	})
}

func (d *Device) ValidateCmdDraw(h CommandBuffer) bool {
	return d.validateDraw(h, cmdDraw, vk.PipelineBindPointGraphics, false, 0, 0)
}

func (d *Device) RecordCmdDraw(h CommandBuffer) {
	d.recordDraw(h, cmdDraw, vk.PipelineBindPointGraphics, false, 0)
}

func (d *Device) ValidateCmdDrawIndexed(h CommandBuffer) bool {
	return d.validateDraw(h, cmdDrawIndexed, vk.PipelineBindPointGraphics, true, 0, 0)
}

func (d *Device) RecordCmdDrawIndexed(h CommandBuffer) {
	d.recordDraw(h, cmdDrawIndexed, vk.PipelineBindPointGraphics, true, 0)
}

func (d *Device) ValidateCmdDrawIndirect(h CommandBuffer, buffer Buffer, offset uint64) bool {
	return d.validateDraw(h, cmdDrawIndirect, vk.PipelineBindPointGraphics, false, buffer, offset)
}

func (d *Device) RecordCmdDrawIndirect(h CommandBuffer, buffer Buffer, offset uint64) {
	d.recordDraw(h, cmdDrawIndirect, vk.PipelineBindPointGraphics, false, buffer)
}

func (d *Device) ValidateCmdDrawIndexedIndirect(h CommandBuffer, buffer Buffer, offset uint64) bool {
	return d.validateDraw(h, cmdDrawIndexedIndirect, vk.PipelineBindPointGraphics, true, buffer, offset)
}

func (d *Device) RecordCmdDrawIndexedIndirect(h CommandBuffer, buffer Buffer, offset uint64) {
	d.recordDraw(h, cmdDrawIndexedIndirect, vk.PipelineBindPointGraphics, true, buffer)
}

func (d *Device) ValidateCmdDispatch(h CommandBuffer, x, y, z uint32) bool {
	return d.lock.SafeCall(func() bool {
		cb, skip := d.commandBuffer(h, cmdDispatch)
		if cb == nil {
			return skip
		}
		limits := d.limits.MaxComputeWorkGroupCount
		counts := [3]uint32{x, y, z}
		for i, c := range counts {
			if limits[i] > 0 && c > limits[i] {
				skip = d.logError(Ref(h), CodeInvalidUsage,
					"vkCmdDispatch: group count %d of dimension %d exceeds maxComputeWorkGroupCount %d.", c, i, limits[i]) || skip
			}
		}
		return d.validateDrawState(cb, vk.PipelineBindPointCompute, false, "vkCmdDispatch") || skip
	})
}

func (d *Device) RecordCmdDispatch(h CommandBuffer, x, y, z uint32) {
	d.recordDraw(h, cmdDispatch, vk.PipelineBindPointCompute, false, 0)
}

func (d *Device) ValidateCmdDispatchIndirect(h CommandBuffer, buffer Buffer, offset uint64) bool {
	return d.validateDraw(h, cmdDispatchIndirect, vk.PipelineBindPointCompute, false, buffer, offset)
}

func (d *Device) RecordCmdDispatchIndirect(h CommandBuffer, buffer Buffer, offset uint64) {
	d.recordDraw(h, cmdDispatchIndirect, vk.PipelineBindPointCompute, false, buffer)
}
