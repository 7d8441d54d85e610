package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcheck/layer/math"
)

// maxUpdateBufferSize is the largest payload vkCmdUpdateBuffer accepts.
const maxUpdateBufferSize = 65536

func (d *Device) validateBufferUsage(b *bufferState, bit vk.BufferUsageFlagBits, api string) bool {
	if b.createInfo.Usage&vk.BufferUsageFlags(bit) != 0 {
		return false
	}
	return d.logError(Ref(b.handle), CodeInvalidUsage,
		"%s: Invalid usage flag for buffer 0x%x used by %s. In this case, buffer should have usage 0x%x set during creation.",
		api, uint64(b.handle), api, bit)
}

func (d *Device) validateImageUsage(img *imageState, bit vk.ImageUsageFlagBits, api string) bool {
	if img.createInfo.Usage&vk.ImageUsageFlags(bit) != 0 {
		return false
	}
	return d.logError(Ref(img.handle), CodeInvalidUsage,
		"%s: Invalid usage flag for image 0x%x used by %s. In this case, image should have usage 0x%x set during creation.",
		api, uint64(img.handle), api, bit)
}

// transferBuffer resolves a buffer operand of a transfer command and checks it.
func (d *Device) transferBuffer(h Buffer, bit vk.BufferUsageFlagBits, api string) (*bufferState, bool) {
	b, ok := d.buffers[h]
	if !ok {
		return nil, d.invalidObject(Ref(h), api)
	}
	skip := d.verifyBoundMemory(Ref(h), api)
	skip = d.validateBufferUsage(b, bit, api) || skip
	return b, skip
}

func (d *Device) transferImage(h Image, bit vk.ImageUsageFlagBits, api string) (*imageState, bool) {
	img, ok := d.images[h]
	if !ok {
		return nil, d.invalidObject(Ref(h), api)
	}
	skip := d.verifyBoundMemory(Ref(h), api)
	skip = d.validateImageUsage(img, bit, api) || skip
	return img, skip
}

// recordCommand looks up a recording command buffer for a vkCmd* record.
func (d *Device) recordCommand(h CommandBuffer, fn func(cb *commandBufferState)) {
	d.lock.SafeRecord(func() {
		if cb, ok := d.commandBuffers[h]; ok {
			fn(cb)
		}
	})
}

// recordTransfer binds the operands and queues the read check and the write.
func (d *Device) recordTransfer(cb *commandBufferState, api string, src, dst ObjectRef) {
	if src.Handle != 0 {
		d.bindToCommandBuffer(cb, src)
		cb.addDeferred(checkValidAction(src, api))
	}
	d.bindToCommandBuffer(cb, dst)
	cb.addDeferred(setValidAction(dst, true))
}

// ============================================================================================
// Bind
// ============================================================================================

func (d *Device) ValidateCmdBindPipeline(h CommandBuffer, bindPoint vk.PipelineBindPoint, pipeline Pipeline) bool {
	return d.lock.SafeCall(func() bool {
		cb, skip := d.commandBuffer(h, cmdBindPipeline)
		if cb == nil {
			return skip
		}
		p, ok := d.pipelines[pipeline]
		if !ok {
			return d.invalidObject(Ref(pipeline), "vkCmdBindPipeline") || skip
		}
		if p.bindPoint != bindPoint {
			skip = d.logError(Ref(h), CodeInvalidUsage,
				"vkCmdBindPipeline: pipeline 0x%x was created for bind point %d but is bound to %d.",
				uint64(pipeline), p.bindPoint, bindPoint) || skip
		}
		if bindPoint == vk.PipelineBindPointCompute &&
			d.queueFamilyFlags(cb.pool.createInfo.QueueFamilyIndex)&vk.QueueFlags(vk.QueueComputeBit) == 0 {
			skip = d.logError(Ref(h), CodeWrongQueueCapability,
				"vkCmdBindPipeline: compute pipeline bound on a command buffer from a queue family without compute support.") || skip
		}
		return skip
	})
}

func (d *Device) RecordCmdBindPipeline(h CommandBuffer, bindPoint vk.PipelineBindPoint, pipeline Pipeline) {
	d.recordCommand(h, func(cb *commandBufferState) {
		p, ok := d.pipelines[pipeline]
		if !ok {
			return
		}
		cb.bindPoint(bindPoint).pipeline = p
		if bindPoint == vk.PipelineBindPointGraphics {
			cb.status |= p.staticStatus
		}
		d.bindToCommandBuffer(cb, Ref(pipeline))
	})
}

type BindDescriptorSetsInfo struct {
	BindPoint      vk.PipelineBindPoint
	Layout         PipelineLayout
	FirstSet       uint32
	Sets           []DescriptorSet
	DynamicOffsets []uint32
}

func (d *Device) ValidateCmdBindDescriptorSets(h CommandBuffer, info BindDescriptorSetsInfo) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdBindDescriptorSets"
		cb, skip := d.commandBuffer(h, cmdBindDescriptorSets)
		if cb == nil {
			return skip
		}
		ref := Ref(h)
		layout, ok := d.pipelineLayouts[info.Layout]
		if !ok {
			return d.invalidObject(Ref(info.Layout), api) || skip
		}
		if last := uint64(info.FirstSet) + uint64(len(info.Sets)); last > uint64(len(layout.setLayouts)) {
			return d.logError(ref, CodeDescriptorSetIndexOutOfRange,
				"%s: firstSet (%d) plus descriptorSetCount (%d) is greater than the setLayoutCount (%d) of pipeline layout 0x%x.",
				api, info.FirstSet, len(info.Sets), len(layout.setLayouts), uint64(info.Layout)) || skip
		}

		var dynamic uint32
		for i, h := range info.Sets {
			set, ok := d.descriptorSets[h]
			if !ok {
				skip = d.invalidObject(Ref(h), api) || skip
				continue
			}
			index := info.FirstSet + uint32(i)
			if !setLayoutsEqual(set.layout, layout.setLayouts[index]) {
				skip = d.logError(Ref(h), CodeIncompatibleLayout,
					"%s: descriptorSet #%d being bound is not compatible with overlapping descriptorSetLayout at index %d of pipelineLayout 0x%x.",
					api, i, index, uint64(info.Layout)) || skip
			}
			for _, b := range set.layout.sorted {
				if !isDynamicDescriptor(b.DescriptorType) {
					continue
				}
				for e := uint32(0); e < b.DescriptorCount; e++ {
					if int(dynamic) < len(info.DynamicOffsets) {
						skip = d.validateDynamicOffset(ref, b.DescriptorType, dynamic, info.DynamicOffsets[dynamic], api) || skip
					}
					dynamic++
				}
			}
		}
		if dynamic != uint32(len(info.DynamicOffsets)) {
			skip = d.logError(ref, CodeDynamicOffsetCount,
				"%s: Attempting to bind %d descriptorSets with %d dynamic descriptors, but dynamicOffsetCount is %d. It should exactly match the number of dynamic descriptors.",
				api, len(info.Sets), dynamic, len(info.DynamicOffsets)) || skip
		}
		return skip
	})
}

func (d *Device) validateDynamicOffset(ref ObjectRef, t vk.DescriptorType, i, offset uint32, api string) bool {
	name, align := "minStorageBufferOffsetAlignment", uint64(d.limits.MinStorageBufferOffsetAlignment)
	if t == vk.DescriptorTypeUniformBufferDynamic {
		name, align = "minUniformBufferOffsetAlignment", uint64(d.limits.MinUniformBufferOffsetAlignment)
	}
	if math.IsAligned(uint64(offset), align) {
		return false
	}
	return d.logError(ref, CodeMisalignedOffset,
		"%s: pDynamicOffsets[%d] is 0x%x but must be a multiple of device limit %s 0x%x.",
		api, i, offset, name, align)
}

/**
 * @brief Binding sets disturbs the sets bound below and above them whose layouts are not
 * compatible with the new pipeline layout. Disturbed slots read as unbound at draw time.
 */
func (d *Device) RecordCmdBindDescriptorSets(h CommandBuffer, info BindDescriptorSetsInfo) {
	d.recordCommand(h, func(cb *commandBufferState) {
		layout, ok := d.pipelineLayouts[info.Layout]
		if !ok {
			return
		}
		bp := cb.bindPoint(info.BindPoint)
		for i := range bp.sets {
			index := uint32(i)
			if index >= info.FirstSet && index < info.FirstSet+uint32(len(info.Sets)) {
				continue
			}
			if ok, _ := layoutsCompatibleForSet(bp.sets[i].layout, layout, index); !ok {
				bp.sets[i] = boundSet{}
			}
		}
		need := int(info.FirstSet) + len(info.Sets)
		for len(bp.sets) < need {
			bp.sets = append(bp.sets, boundSet{})
		}

		offsets := info.DynamicOffsets
		for i, sh := range info.Sets {
			set, ok := d.descriptorSets[sh]
			if !ok {
				continue
			}
			bound := boundSet{set: sh, layout: layout}
			n := int(set.layout.dynamicCount)
			if n > len(offsets) {
				n = len(offsets)
			}
			bound.dynamicOffsets = append([]uint32(nil), offsets[:n]...)
			offsets = offsets[n:]
			bp.sets[int(info.FirstSet)+i] = bound
			d.bindToCommandBuffer(cb, Ref(sh))
		}
	})
}

func (d *Device) ValidateCmdBindIndexBuffer(h CommandBuffer, buffer Buffer, offset uint64, indexType vk.IndexType) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdBindIndexBuffer"
		cb, skip := d.commandBuffer(h, cmdBindIndexBuffer)
		if cb == nil {
			return skip
		}
		b, s := d.transferBuffer(buffer, vk.BufferUsageIndexBufferBit, api)
		skip = s || skip
		if b == nil {
			return skip
		}
		size := uint64(2)
		if indexType == vk.IndexTypeUint32 {
			size = 4
		}
		if !math.IsAligned(offset, size) {
			skip = d.logError(Ref(h), CodeMisalignedOffset,
				"%s: offset (0x%x) does not fall on alignment (%d) boundary.", api, offset, size) || skip
		}
		if offset >= b.createInfo.Size {
			skip = d.logError(Ref(buffer), CodeOffsetOutOfRange,
				"%s: offset 0x%x is not less than the size 0x%x of buffer 0x%x.", api, offset, b.createInfo.Size, uint64(buffer)) || skip
		}
		return skip
	})
}

func (d *Device) RecordCmdBindIndexBuffer(h CommandBuffer, buffer Buffer, offset uint64, indexType vk.IndexType) {
	d.recordCommand(h, func(cb *commandBufferState) {
		cb.indexBuffer = buffer
		cb.status |= statusIndexBufferBound
		d.bindToCommandBuffer(cb, Ref(buffer))
	})
}

func (d *Device) ValidateCmdBindVertexBuffers(h CommandBuffer, firstBinding uint32, buffers []Buffer, offsets []uint64) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdBindVertexBuffers"
		cb, skip := d.commandBuffer(h, cmdBindVertexBuffers)
		if cb == nil {
			return skip
		}
		for i, bh := range buffers {
			b, s := d.transferBuffer(bh, vk.BufferUsageVertexBufferBit, api)
			skip = s || skip
			if b == nil || i >= len(offsets) {
				continue
			}
			if offsets[i] >= b.createInfo.Size {
				skip = d.logError(Ref(bh), CodeOffsetOutOfRange,
					"%s: pOffsets[%d] 0x%x is not less than the size 0x%x of buffer 0x%x.",
					api, i, offsets[i], b.createInfo.Size, uint64(bh)) || skip
			}
		}
		return skip
	})
}

func (d *Device) RecordCmdBindVertexBuffers(h CommandBuffer, firstBinding uint32, buffers []Buffer, offsets []uint64) {
	d.recordCommand(h, func(cb *commandBufferState) {
		for i, bh := range buffers {
			cb.vertexBuffers[firstBinding+uint32(i)] = bh
			d.bindToCommandBuffer(cb, Ref(bh))
		}
	})
}

// ============================================================================================
// Dynamic state
// ============================================================================================

var setterStatus = map[cmdType]cbStatus{
	cmdSetViewport:           statusViewportSet,
	cmdSetScissor:            statusScissorSet,
	cmdSetLineWidth:          statusLineWidthSet,
	cmdSetDepthBias:          statusDepthBiasSet,
	cmdSetBlendConstants:     statusBlendConstantsSet,
	cmdSetDepthBounds:        statusDepthBoundsSet,
	cmdSetStencilCompareMask: statusStencilReadMaskSet,
	cmdSetStencilWriteMask:   statusStencilWriteMaskSet,
	cmdSetStencilReference:   statusStencilReferenceSet,
}

func (d *Device) validateSetter(h CommandBuffer, cmd cmdType, extra func(cb *commandBufferState) bool) bool {
	return d.lock.SafeCall(func() bool {
		cb, skip := d.commandBuffer(h, cmd)
		if cb == nil || extra == nil {
			return skip
		}
		return extra(cb) || skip
	})
}

func (d *Device) recordSetter(h CommandBuffer, cmd cmdType) {
	d.recordCommand(h, func(cb *commandBufferState) {
		cb.status |= setterStatus[cmd]
	})
}

func (d *Device) validateViewportCount(cb *commandBufferState, api string, first, count uint32) bool {
	limit := d.limits.MaxViewports
	if limit == 0 {
		limit = 1
	}
	if uint64(first)+uint64(count) <= uint64(limit) {
		return false
	}
	return d.logError(Ref(cb.handle), CodeInvalidUsage,
		"%s: firstViewport (%d) + count (%d) exceeds maxViewports (%d).", api, first, count, limit)
}

func (d *Device) ValidateCmdSetViewport(h CommandBuffer, first uint32, viewports []vk.Viewport) bool {
	return d.validateSetter(h, cmdSetViewport, func(cb *commandBufferState) bool {
		return d.validateViewportCount(cb, "vkCmdSetViewport", first, uint32(len(viewports)))
	})
}

func (d *Device) RecordCmdSetViewport(h CommandBuffer, first uint32, viewports []vk.Viewport) {
	d.recordSetter(h, cmdSetViewport)
}

func (d *Device) ValidateCmdSetScissor(h CommandBuffer, first uint32, scissors []vk.Rect2D) bool {
	return d.validateSetter(h, cmdSetScissor, func(cb *commandBufferState) bool {
		skip := d.validateViewportCount(cb, "vkCmdSetScissor", first, uint32(len(scissors)))
		for i, s := range scissors {
			if s.Offset.X < 0 || s.Offset.Y < 0 {
				skip = d.logError(Ref(h), CodeInvalidUsage,
					"vkCmdSetScissor: pScissors[%d].offset (%d, %d) must not be negative.", i, s.Offset.X, s.Offset.Y) || skip
			}
		}
		return skip
	})
}

func (d *Device) RecordCmdSetScissor(h CommandBuffer, first uint32, scissors []vk.Rect2D) {
	d.recordSetter(h, cmdSetScissor)
}

func (d *Device) ValidateCmdSetLineWidth(h CommandBuffer, width float32) bool {
	return d.validateSetter(h, cmdSetLineWidth, func(cb *commandBufferState) bool {
		if width != 1 && d.features.WideLines != vk.True {
			return d.logError(Ref(h), CodeFeatureNotEnabled,
				"vkCmdSetLineWidth: Attempt to set lineWidth to %f but physical device wideLines feature not supported/enabled so lineWidth must be 1.0f!",
				width)
		}
		return false
	})
}

func (d *Device) RecordCmdSetLineWidth(h CommandBuffer, width float32) {
	d.recordSetter(h, cmdSetLineWidth)
}

func (d *Device) ValidateCmdSetDepthBias(h CommandBuffer, constant, clamp, slope float32) bool {
	return d.validateSetter(h, cmdSetDepthBias, func(cb *commandBufferState) bool {
		if clamp != 0 && d.features.DepthBiasClamp != vk.True {
			return d.logError(Ref(h), CodeFeatureNotEnabled,
				"vkCmdSetDepthBias: the depthBiasClamp device feature is disabled: the depthBiasClamp parameter must be set to 0.0.")
		}
		return false
	})
}

func (d *Device) RecordCmdSetDepthBias(h CommandBuffer, constant, clamp, slope float32) {
	d.recordSetter(h, cmdSetDepthBias)
}

func (d *Device) ValidateCmdSetBlendConstants(h CommandBuffer) bool {
	return d.validateSetter(h, cmdSetBlendConstants, nil)
}

func (d *Device) RecordCmdSetBlendConstants(h CommandBuffer) {
	d.recordSetter(h, cmdSetBlendConstants)
}

func (d *Device) ValidateCmdSetDepthBounds(h CommandBuffer, minBounds, maxBounds float32) bool {
	return d.validateSetter(h, cmdSetDepthBounds, func(cb *commandBufferState) bool {
		if d.features.DepthBounds != vk.True {
			return d.logError(Ref(h), CodeFeatureNotEnabled,
				"vkCmdSetDepthBounds: the depthBounds device feature is not enabled.")
		}
		return false
	})
}

func (d *Device) RecordCmdSetDepthBounds(h CommandBuffer, minBounds, maxBounds float32) {
	d.recordSetter(h, cmdSetDepthBounds)
}

func (d *Device) ValidateCmdSetStencilCompareMask(h CommandBuffer) bool {
	return d.validateSetter(h, cmdSetStencilCompareMask, nil)
}

func (d *Device) RecordCmdSetStencilCompareMask(h CommandBuffer) {
	d.recordSetter(h, cmdSetStencilCompareMask)
}

func (d *Device) ValidateCmdSetStencilWriteMask(h CommandBuffer) bool {
	return d.validateSetter(h, cmdSetStencilWriteMask, nil)
}

func (d *Device) RecordCmdSetStencilWriteMask(h CommandBuffer) {
	d.recordSetter(h, cmdSetStencilWriteMask)
}

func (d *Device) ValidateCmdSetStencilReference(h CommandBuffer) bool {
	return d.validateSetter(h, cmdSetStencilReference, nil)
}

func (d *Device) RecordCmdSetStencilReference(h CommandBuffer) {
	d.recordSetter(h, cmdSetStencilReference)
}

func (d *Device) ValidateCmdPushConstants(h CommandBuffer, layout PipelineLayout, stages vk.ShaderStageFlags, offset, size uint32) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdPushConstants"
		cb, skip := d.commandBuffer(h, cmdPushConstants)
		if cb == nil {
			return skip
		}
		ref := Ref(h)
		l, ok := d.pipelineLayouts[layout]
		if !ok {
			return d.invalidObject(Ref(layout), api) || skip
		}
		if size == 0 || size%4 != 0 || offset%4 != 0 {
			return d.logError(ref, CodeInvalidPushConstantRange,
				"%s: push constant range (offset %d, size %d) must be non-empty and a multiple of 4.", api, offset, size) || skip
		}
		if limit := d.limits.MaxPushConstantsSize; limit > 0 && uint64(offset)+uint64(size) > uint64(limit) {
			return d.logError(ref, CodeInvalidPushConstantRange,
				"%s: push constant range (offset %d, size %d) exceeds maxPushConstantsSize of %d.", api, offset, size, limit) || skip
		}
		for _, r := range l.pushConstantRanges {
			if r.StageFlags&stages == stages && r.Offset <= offset && offset+size <= r.Offset+r.Size {
				return skip
			}
		}
		return d.logError(ref, CodeInvalidPushConstantRange,
			"%s: push constant range (offset %d, size %d) with stageFlags 0x%x is not contained in any range of pipeline layout 0x%x.",
			api, offset, size, stages, uint64(layout)) || skip
	})
}

// ============================================================================================
// Transfer
// ============================================================================================

func (d *Device) ValidateCmdCopyBuffer(h CommandBuffer, src, dst Buffer, regions []vk.BufferCopy) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdCopyBuffer"
		cb, skip := d.commandBuffer(h, cmdCopyBuffer)
		if cb == nil {
			return skip
		}
		sb, s := d.transferBuffer(src, vk.BufferUsageTransferSrcBit, api)
		skip = s || skip
		db, s := d.transferBuffer(dst, vk.BufferUsageTransferDstBit, api)
		skip = s || skip
		for i, r := range regions {
			if sb != nil && uint64(r.SrcOffset)+uint64(r.Size) > sb.createInfo.Size {
				skip = d.logError(Ref(src), CodeOffsetOutOfRange,
					"%s: pRegions[%d] source range [0x%x, 0x%x) exceeds the size 0x%x of buffer 0x%x.",
					api, i, uint64(r.SrcOffset), uint64(r.SrcOffset)+uint64(r.Size), sb.createInfo.Size, uint64(src)) || skip
			}
			if db != nil && uint64(r.DstOffset)+uint64(r.Size) > db.createInfo.Size {
				skip = d.logError(Ref(dst), CodeOffsetOutOfRange,
					"%s: pRegions[%d] destination range [0x%x, 0x%x) exceeds the size 0x%x of buffer 0x%x.",
					api, i, uint64(r.DstOffset), uint64(r.DstOffset)+uint64(r.Size), db.createInfo.Size, uint64(dst)) || skip
			}
		}
		return skip
	})
}

func (d *Device) RecordCmdCopyBuffer(h CommandBuffer, src, dst Buffer, regions []vk.BufferCopy) {
	d.recordCommand(h, func(cb *commandBufferState) {
		d.recordTransfer(cb, "vkCmdCopyBuffer", Ref(src), Ref(dst))
	})
}

func (d *Device) ValidateCmdCopyImage(h CommandBuffer, src, dst Image, regions []vk.ImageCopy) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdCopyImage"
		cb, skip := d.commandBuffer(h, cmdCopyImage)
		if cb == nil {
			return skip
		}
		si, s := d.transferImage(src, vk.ImageUsageTransferSrcBit, api)
		skip = s || skip
		di, s := d.transferImage(dst, vk.ImageUsageTransferDstBit, api)
		skip = s || skip
		if si != nil && di != nil && formatSize(si.createInfo.Format) != formatSize(di.createInfo.Format) {
			skip = d.logError(Ref(h), CodeInvalidUsage,
				"%s: source format %d and destination format %d are not size compatible.",
				api, si.createInfo.Format, di.createInfo.Format) || skip
		}
		return skip
	})
}

func (d *Device) RecordCmdCopyImage(h CommandBuffer, src, dst Image, regions []vk.ImageCopy) {
	d.recordCommand(h, func(cb *commandBufferState) {
		d.recordTransfer(cb, "vkCmdCopyImage", Ref(src), Ref(dst))
	})
}

func (d *Device) ValidateCmdCopyBufferToImage(h CommandBuffer, src Buffer, dst Image, regions []vk.BufferImageCopy) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdCopyBufferToImage"
		cb, skip := d.commandBuffer(h, cmdCopyBufferToImage)
		if cb == nil {
			return skip
		}
		_, s := d.transferBuffer(src, vk.BufferUsageTransferSrcBit, api)
		skip = s || skip
		_, s = d.transferImage(dst, vk.ImageUsageTransferDstBit, api)
		return s || skip
	})
}

func (d *Device) RecordCmdCopyBufferToImage(h CommandBuffer, src Buffer, dst Image, regions []vk.BufferImageCopy) {
	d.recordCommand(h, func(cb *commandBufferState) {
		d.recordTransfer(cb, "vkCmdCopyBufferToImage", Ref(src), Ref(dst))
	})
}

func (d *Device) ValidateCmdCopyImageToBuffer(h CommandBuffer, src Image, dst Buffer, regions []vk.BufferImageCopy) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdCopyImageToBuffer"
		cb, skip := d.commandBuffer(h, cmdCopyImageToBuffer)
		if cb == nil {
			return skip
		}
		_, s := d.transferImage(src, vk.ImageUsageTransferSrcBit, api)
		skip = s || skip
		_, s = d.transferBuffer(dst, vk.BufferUsageTransferDstBit, api)
		return s || skip
	})
}

func (d *Device) RecordCmdCopyImageToBuffer(h CommandBuffer, src Image, dst Buffer, regions []vk.BufferImageCopy) {
	d.recordCommand(h, func(cb *commandBufferState) {
		d.recordTransfer(cb, "vkCmdCopyImageToBuffer", Ref(src), Ref(dst))
	})
}

func (d *Device) ValidateCmdUpdateBuffer(h CommandBuffer, dst Buffer, offset, size uint64) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdUpdateBuffer"
		cb, skip := d.commandBuffer(h, cmdUpdateBuffer)
		if cb == nil {
			return skip
		}
		b, s := d.transferBuffer(dst, vk.BufferUsageTransferDstBit, api)
		skip = s || skip
		if offset%4 != 0 || size%4 != 0 || size == 0 || size > maxUpdateBufferSize {
			skip = d.logError(Ref(h), CodeInvalidUsage,
				"%s: dstOffset (0x%x) and dataSize (0x%x) must be multiples of 4 and dataSize must be in (0, %d].",
				api, offset, size, maxUpdateBufferSize) || skip
		}
		if b != nil && offset+size > b.createInfo.Size {
			skip = d.logError(Ref(dst), CodeOffsetOutOfRange,
				"%s: range [0x%x, 0x%x) exceeds the size 0x%x of buffer 0x%x.",
				api, offset, offset+size, b.createInfo.Size, uint64(dst)) || skip
		}
		return skip
	})
}

func (d *Device) RecordCmdUpdateBuffer(h CommandBuffer, dst Buffer, offset, size uint64) {
	d.recordCommand(h, func(cb *commandBufferState) {
		d.recordTransfer(cb, "vkCmdUpdateBuffer", ObjectRef{}, Ref(dst))
	})
}

func (d *Device) ValidateCmdFillBuffer(h CommandBuffer, dst Buffer, offset, size uint64) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdFillBuffer"
		cb, skip := d.commandBuffer(h, cmdFillBuffer)
		if cb == nil {
			return skip
		}
		b, s := d.transferBuffer(dst, vk.BufferUsageTransferDstBit, api)
		skip = s || skip
		if offset%4 != 0 || (size != WholeSize && size%4 != 0) {
			skip = d.logError(Ref(h), CodeInvalidUsage,
				"%s: dstOffset (0x%x) and size (0x%x) must be multiples of 4.", api, offset, size) || skip
		}
		if b != nil && offset >= b.createInfo.Size {
			skip = d.logError(Ref(dst), CodeOffsetOutOfRange,
				"%s: dstOffset 0x%x is not less than the size 0x%x of buffer 0x%x.", api, offset, b.createInfo.Size, uint64(dst)) || skip
		}
		return skip
	})
}

func (d *Device) RecordCmdFillBuffer(h CommandBuffer, dst Buffer, offset, size uint64) {
	d.recordCommand(h, func(cb *commandBufferState) {
		d.recordTransfer(cb, "vkCmdFillBuffer", ObjectRef{}, Ref(dst))
	})
}

func (d *Device) ValidateCmdClearColorImage(h CommandBuffer, image Image, ranges []vk.ImageSubresourceRange) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdClearColorImage"
		cb, skip := d.commandBuffer(h, cmdClearColorImage)
		if cb == nil {
			return skip
		}
		img, s := d.transferImage(image, vk.ImageUsageTransferDstBit, api)
		skip = s || skip
		if img != nil && isDepthOrStencil(img.createInfo.Format) {
			skip = d.logError(Ref(image), CodeInvalidUsage,
				"%s: image 0x%x has a depth/stencil format and cannot be cleared as color.", api, uint64(image)) || skip
		}
		return skip
	})
}

func (d *Device) RecordCmdClearColorImage(h CommandBuffer, image Image, ranges []vk.ImageSubresourceRange) {
	d.recordCommand(h, func(cb *commandBufferState) {
		d.recordTransfer(cb, "vkCmdClearColorImage", ObjectRef{}, Ref(image))
	})
}

func (d *Device) ValidateCmdClearDepthStencilImage(h CommandBuffer, image Image, ranges []vk.ImageSubresourceRange) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdClearDepthStencilImage"
		cb, skip := d.commandBuffer(h, cmdClearDepthStencilImage)
		if cb == nil {
			return skip
		}
		img, s := d.transferImage(image, vk.ImageUsageTransferDstBit, api)
		skip = s || skip
		if img != nil && !isDepthOrStencil(img.createInfo.Format) {
			skip = d.logError(Ref(image), CodeInvalidUsage,
				"%s: image 0x%x does not have a depth/stencil format.", api, uint64(image)) || skip
		}
		return skip
	})
}

func (d *Device) RecordCmdClearDepthStencilImage(h CommandBuffer, image Image, ranges []vk.ImageSubresourceRange) {
	d.recordCommand(h, func(cb *commandBufferState) {
		d.recordTransfer(cb, "vkCmdClearDepthStencilImage", ObjectRef{}, Ref(image))
	})
}

func (d *Device) ValidateCmdClearAttachments(h CommandBuffer, attachments []vk.ClearAttachment, rects []vk.ClearRect) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdClearAttachments"
		cb, skip := d.commandBuffer(h, cmdClearAttachments)
		if cb == nil || cb.activeRenderPass == nil {
			return skip
		}
		ref := Ref(h)
		if cb.drawCount == 0 && !cb.secondary() && cb.activeFramebuffer != nil {
			fb := cb.activeFramebuffer.createInfo
			for _, r := range rects {
				if r.Rect.Offset.X == 0 && r.Rect.Offset.Y == 0 &&
					r.Rect.Extent.Width == fb.Width && r.Rect.Extent.Height == fb.Height {
					skip = d.logPerf(ref, CodeClearAttachmentsBeforeDraw,
						"vkCmdClearAttachments() issued on command buffer object 0x%x prior to any Draw Cmds. It is recommended you use RenderPass LOAD_OP_CLEAR on Attachments prior to any Draw.",
						uint64(h)) || skip
					break
				}
			}
		}
		sp := &cb.activeRenderPass.createInfo.Subpasses[cb.activeSubpass]
		color := vk.ImageAspectFlags(vk.ImageAspectColorBit)
		for i, a := range attachments {
			if a.AspectMask&color != 0 {
				if a.ColorAttachment >= uint32(len(sp.ColorAttachments)) {
					skip = d.logError(ref, CodeInvalidAttachmentIndex,
						"%s: pAttachments[%d].colorAttachment %d is not a valid color attachment index of subpass %d (count %d).",
						api, i, a.ColorAttachment, cb.activeSubpass, len(sp.ColorAttachments)) || skip
				}
			} else if sp.DepthStencilAttachment == nil || sp.DepthStencilAttachment.Attachment == attachmentUnused {
				skip = d.logError(ref, CodeInvalidAttachmentIndex,
					"%s: pAttachments[%d] clears depth/stencil but subpass %d has no depth/stencil attachment.",
					api, i, cb.activeSubpass) || skip
			}
		}
		return skip
	})
}

// ============================================================================================
// Synchronization
// ============================================================================================

type PipelineBarrierInfo struct {
	SrcStageMask    vk.PipelineStageFlags
	DstStageMask    vk.PipelineStageFlags
	DependencyFlags vk.DependencyFlags
	Buffers         []Buffer
	Images          []Image
}

func (d *Device) validateBarrierResources(info *PipelineBarrierInfo, api string) bool {
	skip := false
	for _, b := range info.Buffers {
		if _, ok := d.buffers[b]; !ok {
			skip = d.invalidObject(Ref(b), api) || skip
			continue
		}
		skip = d.verifyBoundMemory(Ref(b), api) || skip
	}
	for _, img := range info.Images {
		if _, ok := d.images[img]; !ok {
			skip = d.invalidObject(Ref(img), api) || skip
			continue
		}
		skip = d.verifyBoundMemory(Ref(img), api) || skip
	}
	return skip
}

func (d *Device) ValidateCmdPipelineBarrier(h CommandBuffer, info PipelineBarrierInfo) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdPipelineBarrier"
		cb, skip := d.commandBuffer(h, cmdPipelineBarrier)
		if cb == nil {
			return skip
		}
		if rp := cb.activeRenderPass; rp != nil {
			if cb.activeSubpass >= uint32(len(rp.selfDependency)) || !rp.selfDependency[cb.activeSubpass] {
				skip = d.logError(Ref(h), CodeBarrierWithoutSelfDependency,
					"%s: Barriers cannot be set during subpass %d of renderPass 0x%x with no self dependency specified.",
					api, cb.activeSubpass, uint64(rp.handle)) || skip
			}
			if len(info.Buffers) > 0 {
				skip = d.logError(Ref(h), CodeBarrierWithoutSelfDependency,
					"%s: Buffer memory barriers are not allowed inside a render pass (0x%x).", api, uint64(rp.handle)) || skip
			}
		}
		return d.validateBarrierResources(&info, api) || skip
	})
}

func (d *Device) RecordCmdPipelineBarrier(h CommandBuffer, info PipelineBarrierInfo) {
	d.recordCommand(h, func(cb *commandBufferState) {
		for _, b := range info.Buffers {
			d.bindToCommandBuffer(cb, Ref(b))
		}
		for _, img := range info.Images {
			d.bindToCommandBuffer(cb, Ref(img))
		}
	})
}

func (d *Device) ValidateCmdSetEvent(h CommandBuffer, event Event, stage vk.PipelineStageFlags) bool {
	return d.lock.SafeCall(func() bool {
		cb, skip := d.commandBuffer(h, cmdSetEvent)
		if cb == nil {
			return skip
		}
		if _, ok := d.events[event]; !ok {
			skip = d.invalidObject(Ref(event), "vkCmdSetEvent") || skip
		}
		return skip
	})
}

func (d *Device) RecordCmdSetEvent(h CommandBuffer, event Event, stage vk.PipelineStageFlags) {
	d.recordCommand(h, func(cb *commandBufferState) {
		d.bindToCommandBuffer(cb, Ref(event))
		cb.addDeferred(setEventStageAction(event, stage))
	})
}

func (d *Device) ValidateCmdResetEvent(h CommandBuffer, event Event, stage vk.PipelineStageFlags) bool {
	return d.lock.SafeCall(func() bool {
		cb, skip := d.commandBuffer(h, cmdResetEvent)
		if cb == nil {
			return skip
		}
		if _, ok := d.events[event]; !ok {
			skip = d.invalidObject(Ref(event), "vkCmdResetEvent") || skip
		}
		return skip
	})
}

func (d *Device) RecordCmdResetEvent(h CommandBuffer, event Event, stage vk.PipelineStageFlags) {
	d.recordCommand(h, func(cb *commandBufferState) {
		d.bindToCommandBuffer(cb, Ref(event))
		cb.addDeferred(setEventStageAction(event, 0))
	})
}

func (d *Device) ValidateCmdWaitEvents(h CommandBuffer, events []Event, info PipelineBarrierInfo) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdWaitEvents"
		cb, skip := d.commandBuffer(h, cmdWaitEvents)
		if cb == nil {
			return skip
		}
		for _, e := range events {
			if _, ok := d.events[e]; !ok {
				skip = d.invalidObject(Ref(e), api) || skip
			}
		}
		return d.validateBarrierResources(&info, api) || skip
	})
}

func (d *Device) RecordCmdWaitEvents(h CommandBuffer, events []Event, info PipelineBarrierInfo) {
	d.recordCommand(h, func(cb *commandBufferState) {
		for _, e := range events {
			d.bindToCommandBuffer(cb, Ref(e))
		}
		cb.addDeferred(checkEventStageAction(events, info.SrcStageMask))
	})
}

// ============================================================================================
// Render pass
// ============================================================================================

type RenderPassBeginInfo struct {
	RenderPass      RenderPass
	Framebuffer     Framebuffer
	RenderArea      vk.Rect2D
	ClearValueCount uint32
}

// clearValuesNeeded is one past the highest attachment index cleared on load.
func clearValuesNeeded(info *RenderPassCreateInfo) uint32 {
	var need uint32
	for i, a := range info.Attachments {
		if a.LoadOp == vk.AttachmentLoadOpClear || a.StencilLoadOp == vk.AttachmentLoadOpClear {
			need = uint32(i) + 1
		}
	}
	return need
}

func (d *Device) ValidateCmdBeginRenderPass(h CommandBuffer, info RenderPassBeginInfo, contents vk.SubpassContents) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdBeginRenderPass"
		cb, skip := d.commandBuffer(h, cmdBeginRenderPass)
		if cb == nil {
			return skip
		}
		ref := Ref(h)
		rp, ok := d.renderPasses[info.RenderPass]
		if !ok {
			return d.invalidObject(Ref(info.RenderPass), api) || skip
		}
		fb, ok := d.framebuffers[info.Framebuffer]
		if !ok {
			return d.invalidObject(Ref(info.Framebuffer), api) || skip
		}
		if fb.renderPass != nil {
			skip = d.validateRenderPassCompatibility(ref, api, "framebuffer", fb.renderPass, "render pass", rp) || skip
		}

		need := clearValuesNeeded(&rp.createInfo)
		if info.ClearValueCount < need {
			skip = d.logError(Ref(info.RenderPass), CodeClearValueCount,
				"In %s the VkRenderPassBeginInfo struct has a clearValueCount of %d but there must be at least %d entries in pClearValues array to account for the highest index attachment in renderPass 0x%x that uses VK_ATTACHMENT_LOAD_OP_CLEAR is %d.",
				api, info.ClearValueCount, need, uint64(info.RenderPass), need) || skip
		} else if info.ClearValueCount > need {
			skip = d.logPerf(Ref(info.RenderPass), CodeExtraClearValues,
				"In %s the VkRenderPassBeginInfo struct has a clearValueCount of %d but only first %d entries in pClearValues array are used. The highest index attachment in renderPass 0x%x that uses VK_ATTACHMENT_LOAD_OP_CLEAR is %d - other pClearValues are ignored.",
				api, info.ClearValueCount, need, uint64(info.RenderPass), need) || skip
		}

		area := info.RenderArea
		if area.Offset.X < 0 || area.Offset.Y < 0 ||
			uint64(area.Offset.X)+uint64(area.Extent.Width) > uint64(fb.createInfo.Width) ||
			uint64(area.Offset.Y)+uint64(area.Extent.Height) > uint64(fb.createInfo.Height) {
			skip = d.logError(ref, CodeFramebufferExtent,
				"%s: renderArea (%d, %d, %d, %d) exceeds framebuffer dimensions (%d, %d).",
				api, area.Offset.X, area.Offset.Y, area.Extent.Width, area.Extent.Height,
				fb.createInfo.Width, fb.createInfo.Height) || skip
		}
		for i, view := range fb.createInfo.Attachments {
			_, img := d.viewImage(view)
			if img == nil {
				skip = d.invalidObject(Ref(view), api) || skip
				continue
			}
			skip = d.verifyBoundMemory(Ref(img.handle), fmt.Sprintf("%s pAttachments[%d]", api, i)) || skip
		}
		return skip
	})
}

/**
 * @brief Load ops decide the contents of every attachment at the start of the render pass.
 * CLEAR writes it, DONT_CARE leaves it undefined, LOAD reads it. An attachment whose first
 * use is a read is checked as well.
 */
func (d *Device) RecordCmdBeginRenderPass(h CommandBuffer, info RenderPassBeginInfo, contents vk.SubpassContents) {
	d.recordCommand(h, func(cb *commandBufferState) {
		rp, ok := d.renderPasses[info.RenderPass]
		if !ok {
			return
		}
		fb := d.framebuffers[info.Framebuffer]
		cb.activeRenderPass = rp
		cb.activeSubpass = 0
		cb.activeFramebuffer = fb
		cb.activeContents = contents
		d.bindToCommandBuffer(cb, Ref(info.RenderPass))
		if fb == nil {
			return
		}
		d.bindToCommandBuffer(cb, Ref(info.Framebuffer))

		for i, view := range fb.createInfo.Attachments {
			_, img := d.viewImage(view)
			if img == nil || i >= len(rp.createInfo.Attachments) {
				continue
			}
			d.bindToCommandBuffer(cb, Ref(view))
			d.bindToCommandBuffer(cb, Ref(img.handle))
			target := Ref(img.handle)
			desc := rp.createInfo.Attachments[i]
			switch desc.LoadOp {
			case vk.AttachmentLoadOpClear:
				cb.addDeferred(setValidAction(target, true))
			case vk.AttachmentLoadOpDontCare:
				cb.addDeferred(setValidAction(target, false))
			case vk.AttachmentLoadOpLoad:
				cb.addDeferred(checkValidAction(target, "vkCmdBeginRenderPass"))
			}
			if i < len(rp.attachmentFirstRead) && rp.attachmentFirstRead[i] {
				cb.addDeferred(checkValidAction(target, "vkCmdBeginRenderPass"))
			}
		}
	})
}

func (d *Device) ValidateCmdNextSubpass(h CommandBuffer, contents vk.SubpassContents) bool {
	return d.lock.SafeCall(func() bool {
		cb, skip := d.commandBuffer(h, cmdNextSubpass)
		if cb == nil || cb.activeRenderPass == nil {
			return skip
		}
		if cb.activeSubpass+1 >= cb.activeRenderPass.subpassCount() {
			skip = d.logError(Ref(h), CodeSubpassOutOfRange,
				"vkCmdNextSubpass(): Attempted to advance beyond final subpass.") || skip
		}
		return skip
	})
}

func (d *Device) RecordCmdNextSubpass(h CommandBuffer, contents vk.SubpassContents) {
	d.recordCommand(h, func(cb *commandBufferState) {
		cb.activeSubpass++
		cb.activeContents = contents
	})
}

func (d *Device) ValidateCmdEndRenderPass(h CommandBuffer) bool {
	return d.lock.SafeCall(func() bool {
		cb, skip := d.commandBuffer(h, cmdEndRenderPass)
		if cb == nil || cb.activeRenderPass == nil {
			return skip
		}
		if cb.activeSubpass+1 != cb.activeRenderPass.subpassCount() {
			skip = d.logError(Ref(h), CodeSubpassOutOfRange,
				"vkCmdEndRenderPass(): Called before reaching final subpass.") || skip
		}
		return skip
	})
}

func (d *Device) RecordCmdEndRenderPass(h CommandBuffer) {
	d.recordCommand(h, func(cb *commandBufferState) {
		rp, fb := cb.activeRenderPass, cb.activeFramebuffer
		if rp != nil && fb != nil {
			for i, view := range fb.createInfo.Attachments {
				_, img := d.viewImage(view)
				if img == nil || i >= len(rp.createInfo.Attachments) {
					continue
				}
				switch rp.createInfo.Attachments[i].StoreOp {
				case vk.AttachmentStoreOpStore:
					cb.addDeferred(setValidAction(Ref(img.handle), true))
				case vk.AttachmentStoreOpDontCare:
					cb.addDeferred(setValidAction(Ref(img.handle), false))
				}
			}
		}
		cb.activeRenderPass = nil
		cb.activeSubpass = 0
		cb.activeFramebuffer = nil
		cb.activeContents = vk.SubpassContentsInline
	})
}

// ============================================================================================
// Secondary command buffers
// ============================================================================================

func (d *Device) validateSecondaryInRenderPass(cb, sec *commandBufferState, api string) bool {
	ref := Ref(sec.handle)
	if !sec.hasFlag(vk.CommandBufferUsageRenderPassContinueBit) {
		return d.logError(ref, CodeInvalidSecondaryCommandBuffer,
			"%s: Secondary Command Buffer (0x%x) executed within render pass (0x%x) must have had vkBeginCommandBuffer() called w/ VK_COMMAND_BUFFER_USAGE_RENDER_PASS_CONTINUE_BIT set.",
			api, uint64(sec.handle), uint64(cb.activeRenderPass.handle))
	}
	inh := sec.inheritance
	if inh == nil {
		return false
	}
	skip := false
	if inherited, ok := d.renderPasses[inh.RenderPass]; ok && inherited != cb.activeRenderPass {
		skip = d.validateRenderPassCompatibility(ref, api, "primary command buffer", cb.activeRenderPass,
			"secondary command buffer", inherited) || skip
	}
	if inh.Subpass != cb.activeSubpass {
		skip = d.logError(ref, CodeInvalidInheritance,
			"%s: Secondary Command Buffer (0x%x) inherits subpass %d but the primary is in subpass %d.",
			api, uint64(sec.handle), inh.Subpass, cb.activeSubpass) || skip
	}
	if inh.Framebuffer != 0 && cb.activeFramebuffer != nil && inh.Framebuffer != cb.activeFramebuffer.handle {
		skip = d.logError(ref, CodeInvalidInheritance,
			"%s: Cannot execute cmd buffer using image (0x%x) [cmd buffer framebuffer 0x%x] that is not the same as the primary command buffer's current active framebuffer (0x%x).",
			api, uint64(sec.handle), uint64(inh.Framebuffer), uint64(cb.activeFramebuffer.handle)) || skip
	}
	return skip
}

func (d *Device) ValidateCmdExecuteCommands(h CommandBuffer, secondaries []CommandBuffer) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCmdExecuteCommands"
		cb, skip := d.commandBuffer(h, cmdExecuteCommands)
		if cb == nil {
			return skip
		}
		seen := make(map[CommandBuffer]int)
		for _, sh := range secondaries {
			sec, ok := d.commandBuffers[sh]
			if !ok {
				skip = d.invalidObject(Ref(sh), api) || skip
				continue
			}
			ref := Ref(sh)
			if !sec.secondary() {
				skip = d.logError(ref, CodeInvalidSecondaryCommandBuffer,
					"%s: Cannot execute a non-secondary command buffer (0x%x).", api, uint64(sh)) || skip
				continue
			}
			switch sec.state {
			case COMMAND_BUFFER_STATE_INVALID:
				skip = d.reportInvalidated(sec, api) || skip
				continue
			case COMMAND_BUFFER_STATE_EXECUTABLE, COMMAND_BUFFER_STATE_PENDING:
			default:
				skip = d.logError(ref, CodeCommandBufferNotExecutable,
					"%s: Secondary command buffer 0x%x is in the %s state and cannot be executed.", api, uint64(sh), sec.state) || skip
				continue
			}
			if cb.activeRenderPass != nil {
				skip = d.validateSecondaryInRenderPass(cb, sec, api) || skip
			}

			seen[sh]++
			if !sec.hasFlag(vk.CommandBufferUsageSimultaneousUseBit) {
				_, already := cb.secondaries[sh]
				if d.globalInFlight[sh] > 0 || seen[sh] > 1 || already {
					skip = d.logError(ref, CodeSimultaneousUseViolation,
						"Attempt to simultaneously execute command buffer 0x%x without VK_COMMAND_BUFFER_USAGE_SIMULTANEOUS_USE_BIT set!",
						uint64(sh)) || skip
				}
				if cb.hasFlag(vk.CommandBufferUsageSimultaneousUseBit) {
					skip = d.logWarning(ref, CodeSecondarySimultaneousUseDemote,
						"%s: Secondary Command Buffer (0x%x) does not have VK_COMMAND_BUFFER_USAGE_SIMULTANEOUS_USE_BIT set and will cause primary command buffer (0x%x) to be treated as if it does not have VK_COMMAND_BUFFER_USAGE_SIMULTANEOUS_USE_BIT set, even though it does.",
						api, uint64(sh), uint64(h)) || skip
				}
			}
		}
		return skip
	})
}

func (d *Device) RecordCmdExecuteCommands(h CommandBuffer, secondaries []CommandBuffer) {
	d.recordCommand(h, func(cb *commandBufferState) {
		for _, sh := range secondaries {
			sec, ok := d.commandBuffers[sh]
			if !ok {
				continue
			}
			if !sec.hasFlag(vk.CommandBufferUsageSimultaneousUseBit) {
				cb.beginFlags &^= vk.CommandBufferUsageFlags(vk.CommandBufferUsageSimultaneousUseBit)
			}
			cb.secondaries[sh] = struct{}{}
			d.bindToCommandBuffer(cb, Ref(sh))
			cb.deferred = append(cb.deferred, sec.deferred...)
		}
	})
}
