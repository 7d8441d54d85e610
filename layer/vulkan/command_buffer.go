package vulkan

import (
	"strings"

	vk "github.com/goki/vulkan"
)

type CommandBufferState int

const (
	COMMAND_BUFFER_STATE_INITIAL CommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_EXECUTABLE
	COMMAND_BUFFER_STATE_PENDING
	COMMAND_BUFFER_STATE_INVALID
)

func (s CommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_INITIAL:
		return "initial"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "recording"
	case COMMAND_BUFFER_STATE_EXECUTABLE:
		return "executable"
	case COMMAND_BUFFER_STATE_PENDING:
		return "pending"
	case COMMAND_BUFFER_STATE_INVALID:
		return "invalid"
	}
	return "unknown"
}

// cbStatus tracks which pieces of dynamic state a command buffer has set.
type cbStatus uint32

const (
	statusViewportSet cbStatus = 1 << iota
	statusScissorSet
	statusLineWidthSet
	statusDepthBiasSet
	statusBlendConstantsSet
	statusDepthBoundsSet
	statusStencilReadMaskSet
	statusStencilWriteMaskSet
	statusStencilReferenceSet
	statusIndexBufferBound

	statusAllDynamic = statusViewportSet | statusScissorSet | statusLineWidthSet | statusDepthBiasSet |
		statusBlendConstantsSet | statusDepthBoundsSet | statusStencilReadMaskSet | statusStencilWriteMaskSet |
		statusStencilReferenceSet
)

var statusNames = []struct {
	bit  cbStatus
	name string
}{
	{statusViewportSet, "viewport"},
	{statusScissorSet, "scissor"},
	{statusLineWidthSet, "line width"},
	{statusDepthBiasSet, "depth bias"},
	{statusBlendConstantsSet, "blend constants"},
	{statusDepthBoundsSet, "depth bounds"},
	{statusStencilReadMaskSet, "stencil read mask"},
	{statusStencilWriteMaskSet, "stencil write mask"},
	{statusStencilReferenceSet, "stencil reference"},
}

func (s cbStatus) names() string {
	var parts []string
	for _, n := range statusNames {
		if s&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, ", ")
}

type CommandBufferInheritanceInfo struct {
	RenderPass           RenderPass
	Subpass              uint32
	Framebuffer          Framebuffer
	OcclusionQueryEnable bool
}

type CommandBufferBeginInfo struct {
	Flags       vk.CommandBufferUsageFlags
	Inheritance *CommandBufferInheritanceInfo
}

// boundSet is one descriptor set slot of a bind point.
type boundSet struct {
	set DescriptorSet
	// layout the set was bound with
	layout         *pipelineLayoutState
	dynamicOffsets []uint32
}

type bindPointState struct {
	pipeline *pipelineState
	sets     []boundSet
}

type commandBufferState struct {
	baseNode
	handle      CommandBuffer
	pool        *commandPoolState
	level       vk.CommandBufferLevel
	state       CommandBufferState
	beginFlags  vk.CommandBufferUsageFlags
	inheritance *CommandBufferInheritanceInfo
	// why the command buffer became invalid
	broken       []brokenBinding
	boundObjects map[ObjectRef]struct{}
	memObjs      map[DeviceMemory]struct{}
	submitCount  int

	status        cbStatus
	bindPoints    map[vk.PipelineBindPoint]*bindPointState
	indexBuffer   Buffer
	vertexBuffers map[uint32]Buffer
	drawCount     int

	activeRenderPass  *renderPassState
	activeSubpass     uint32
	activeFramebuffer *framebufferState
	activeContents    vk.SubpassContents
	activeQueries     map[QueryObject]struct{}

	// replayed at submit time, in recording order
	deferred    []deferredAction
	secondaries map[CommandBuffer]struct{}
}

func newCommandBufferState(h CommandBuffer, pool *commandPoolState, level vk.CommandBufferLevel) *commandBufferState {
	cb := &commandBufferState{handle: h, pool: pool, level: level}
	cb.clear()
	return cb
}

// clear returns every recorded field to its allocation time value.
func (cb *commandBufferState) clear() {
	cb.state = COMMAND_BUFFER_STATE_INITIAL
	cb.beginFlags = 0
	cb.inheritance = nil
	cb.broken = nil
	cb.boundObjects = make(map[ObjectRef]struct{})
	cb.memObjs = make(map[DeviceMemory]struct{})
	cb.submitCount = 0
	cb.status = 0
	cb.bindPoints = make(map[vk.PipelineBindPoint]*bindPointState)
	cb.indexBuffer = 0
	cb.vertexBuffers = make(map[uint32]Buffer)
	cb.drawCount = 0
	cb.activeRenderPass = nil
	cb.activeSubpass = 0
	cb.activeFramebuffer = nil
	cb.activeContents = vk.SubpassContentsInline
	cb.activeQueries = make(map[QueryObject]struct{})
	cb.deferred = nil
	cb.secondaries = make(map[CommandBuffer]struct{})
}

func (cb *commandBufferState) bindPoint(bp vk.PipelineBindPoint) *bindPointState {
	s, ok := cb.bindPoints[bp]
	if !ok {
		s = &bindPointState{}
		cb.bindPoints[bp] = s
	}
	return s
}

func (cb *commandBufferState) secondary() bool {
	return cb.level == vk.CommandBufferLevelSecondary
}

func (cb *commandBufferState) hasFlag(bit vk.CommandBufferUsageFlagBits) bool {
	return cb.beginFlags&vk.CommandBufferUsageFlags(bit) != 0
}

// continuesRenderPass is true for a secondary recorded entirely inside a render pass.
func (cb *commandBufferState) continuesRenderPass() bool {
	return cb.secondary() && cb.hasFlag(vk.CommandBufferUsageRenderPassContinueBit)
}

func (cb *commandBufferState) addDeferred(a deferredAction) {
	cb.deferred = append(cb.deferred, a)
}

/**
 * @brief Unlinks a command buffer from everything it recorded. Primaries that executed it
 * become invalid.
 */
func (d *Device) resetCommandBuffer(cb *commandBufferState) {
	for ref := range cb.boundObjects {
		if n := d.node(ref); n != nil {
			n.removeBinding(cb.handle)
		}
	}
	for mem := range cb.memObjs {
		if m, ok := d.memories[mem]; ok {
			m.removeBinding(cb.handle)
		}
	}
	if len(cb.cbBindings) > 0 {
		d.invalidateCommandBuffers(&cb.baseNode, Ref(cb.handle), invalidatedUpdated)
		cb.cbBindings = nil
	}
	cb.clear()
}

// reportInvalidated explains why an invalid command buffer can't be used.
func (d *Device) reportInvalidated(cb *commandBufferState, api string) bool {
	if len(cb.broken) == 0 {
		return d.logError(Ref(cb.handle), CodeUsesInvalidatedObject,
			"%s: command buffer 0x%x is invalid.", api, uint64(cb.handle))
	}
	skip := false
	for _, b := range cb.broken {
		skip = d.logError(Ref(cb.handle), CodeUsesInvalidatedObject,
			"%s: You are adding %s to command buffer 0x%x that is invalid because bound %s was %s.",
			api, api, uint64(cb.handle), b.object, b.how) || skip
	}
	return skip
}

// ============================================================================================
// Command table
// ============================================================================================

type cmdType int

const (
	cmdBindPipeline cmdType = iota
	cmdBindDescriptorSets
	cmdBindIndexBuffer
	cmdBindVertexBuffers
	cmdSetViewport
	cmdSetScissor
	cmdSetLineWidth
	cmdSetDepthBias
	cmdSetBlendConstants
	cmdSetDepthBounds
	cmdSetStencilCompareMask
	cmdSetStencilWriteMask
	cmdSetStencilReference
	cmdPushConstants
	cmdDraw
	cmdDrawIndexed
	cmdDrawIndirect
	cmdDrawIndexedIndirect
	cmdDispatch
	cmdDispatchIndirect
	cmdCopyBuffer
	cmdCopyImage
	cmdCopyBufferToImage
	cmdCopyImageToBuffer
	cmdUpdateBuffer
	cmdFillBuffer
	cmdClearColorImage
	cmdClearDepthStencilImage
	cmdClearAttachments
	cmdPipelineBarrier
	cmdSetEvent
	cmdResetEvent
	cmdWaitEvents
	cmdBeginQuery
	cmdEndQuery
	cmdResetQueryPool
	cmdCopyQueryPoolResults
	cmdWriteTimestamp
	cmdBeginRenderPass
	cmdNextSubpass
	cmdEndRenderPass
	cmdExecuteCommands
)

type renderPassScope int

const (
	scopeAny renderPassScope = iota
	scopeInside
	scopeOutside
)

type cmdInfo struct {
	name        string
	queues      vk.QueueFlagBits
	scope       renderPassScope
	primaryOnly bool
}

const (
	qG   = vk.QueueGraphicsBit
	qGC  = vk.QueueGraphicsBit | vk.QueueComputeBit
	qGCT = vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit
)

var commandTable = map[cmdType]cmdInfo{
	cmdBindPipeline:           {"vkCmdBindPipeline", qGC, scopeAny, false},
	cmdBindDescriptorSets:     {"vkCmdBindDescriptorSets", qGC, scopeAny, false},
	cmdBindIndexBuffer:        {"vkCmdBindIndexBuffer", qG, scopeAny, false},
	cmdBindVertexBuffers:      {"vkCmdBindVertexBuffers", qG, scopeAny, false},
	cmdSetViewport:            {"vkCmdSetViewport", qG, scopeAny, false},
	cmdSetScissor:             {"vkCmdSetScissor", qG, scopeAny, false},
	cmdSetLineWidth:           {"vkCmdSetLineWidth", qG, scopeAny, false},
	cmdSetDepthBias:           {"vkCmdSetDepthBias", qG, scopeAny, false},
	cmdSetBlendConstants:      {"vkCmdSetBlendConstants", qG, scopeAny, false},
	cmdSetDepthBounds:         {"vkCmdSetDepthBounds", qG, scopeAny, false},
	cmdSetStencilCompareMask:  {"vkCmdSetStencilCompareMask", qG, scopeAny, false},
	cmdSetStencilWriteMask:    {"vkCmdSetStencilWriteMask", qG, scopeAny, false},
	cmdSetStencilReference:    {"vkCmdSetStencilReference", qG, scopeAny, false},
	cmdPushConstants:          {"vkCmdPushConstants", qGC, scopeAny, false},
	cmdDraw:                   {"vkCmdDraw", qG, scopeInside, false},
	cmdDrawIndexed:            {"vkCmdDrawIndexed", qG, scopeInside, false},
	cmdDrawIndirect:           {"vkCmdDrawIndirect", qG, scopeInside, false},
	cmdDrawIndexedIndirect:    {"vkCmdDrawIndexedIndirect", qG, scopeInside, false},
	cmdDispatch:               {"vkCmdDispatch", vk.QueueComputeBit, scopeOutside, false},
	cmdDispatchIndirect:       {"vkCmdDispatchIndirect", vk.QueueComputeBit, scopeOutside, false},
	cmdCopyBuffer:             {"vkCmdCopyBuffer", qGCT, scopeOutside, false},
	cmdCopyImage:              {"vkCmdCopyImage", qGCT, scopeOutside, false},
	cmdCopyBufferToImage:      {"vkCmdCopyBufferToImage", qGCT, scopeOutside, false},
	cmdCopyImageToBuffer:      {"vkCmdCopyImageToBuffer", qGCT, scopeOutside, false},
	cmdUpdateBuffer:           {"vkCmdUpdateBuffer", qGCT, scopeOutside, false},
	cmdFillBuffer:             {"vkCmdFillBuffer", qGCT, scopeOutside, false},
	cmdClearColorImage:        {"vkCmdClearColorImage", qGC, scopeOutside, false},
	cmdClearDepthStencilImage: {"vkCmdClearDepthStencilImage", qG, scopeOutside, false},
	cmdClearAttachments:       {"vkCmdClearAttachments", qG, scopeInside, false},
	cmdPipelineBarrier:        {"vkCmdPipelineBarrier", qGCT, scopeAny, false},
	cmdSetEvent:               {"vkCmdSetEvent", qGC, scopeOutside, false},
	cmdResetEvent:             {"vkCmdResetEvent", qGC, scopeOutside, false},
	cmdWaitEvents:             {"vkCmdWaitEvents", qGC, scopeAny, false},
	cmdBeginQuery:             {"vkCmdBeginQuery", qGC, scopeAny, false},
	cmdEndQuery:               {"vkCmdEndQuery", qGC, scopeAny, false},
	cmdResetQueryPool:         {"vkCmdResetQueryPool", qGC, scopeOutside, false},
	cmdCopyQueryPoolResults:   {"vkCmdCopyQueryPoolResults", qGC, scopeOutside, false},
	cmdWriteTimestamp:         {"vkCmdWriteTimestamp", qGCT, scopeAny, false},
	cmdBeginRenderPass:        {"vkCmdBeginRenderPass", qG, scopeOutside, true},
	cmdNextSubpass:            {"vkCmdNextSubpass", qG, scopeInside, true},
	cmdEndRenderPass:          {"vkCmdEndRenderPass", qG, scopeInside, true},
	cmdExecuteCommands:        {"vkCmdExecuteCommands", qGCT, scopeAny, true},
}

func (c cmdType) String() string {
	return commandTable[c].name
}

/**
 * @brief Checks shared by every vkCmd* entry point: the command buffer is recording, its
 * queue family can run the command, and the render pass scope fits.
 */
func (d *Device) validateCommand(cb *commandBufferState, cmd cmdType) bool {
	info := commandTable[cmd]
	ref := Ref(cb.handle)

	switch cb.state {
	case COMMAND_BUFFER_STATE_RECORDING:
	case COMMAND_BUFFER_STATE_INVALID:
		return d.reportInvalidated(cb, info.name)
	default:
		return d.logError(ref, CodeNotRecording,
			"You must call vkBeginCommandBuffer() before this call to %s", info.name)
	}

	skip := false
	if flags := d.queueFamilyFlags(cb.pool.createInfo.QueueFamilyIndex); flags&vk.QueueFlags(info.queues) == 0 {
		skip = d.logError(ref, CodeWrongQueueCapability,
			"Cannot call %s on a command buffer allocated from a pool without the queue capability 0x%x.",
			info.name, info.queues) || skip
	}
	if info.primaryOnly && cb.secondary() {
		skip = d.logError(ref, CodePrimaryOnly,
			"Cannot execute command %s on a secondary command buffer.", info.name) || skip
	}

	inside := cb.activeRenderPass != nil
	switch {
	case info.scope == scopeInside && !inside:
		skip = d.logError(ref, CodeNotInsideRenderPass,
			"%s: This call must be issued inside an active render pass.", info.name) || skip
	case info.scope == scopeOutside && inside:
		skip = d.logError(ref, CodeInsideRenderPass,
			"%s: It is invalid to issue this call inside an active render pass (0x%x).",
			info.name, uint64(cb.activeRenderPass.handle)) || skip
	}

	if inside && !cb.secondary() {
		switch cmd {
		case cmdExecuteCommands:
			if cb.activeContents != vk.SubpassContentsSecondaryCommandBuffers {
				skip = d.logError(ref, CodeWrongSubpassContents,
					"vkCmdExecuteCommands() called in a subpass recorded with VK_SUBPASS_CONTENTS_INLINE.") || skip
			}
		case cmdNextSubpass, cmdEndRenderPass:
		default:
			if cb.activeContents == vk.SubpassContentsSecondaryCommandBuffers {
				skip = d.logError(ref, CodeWrongSubpassContents,
					"%s() cannot be called in a subpass using secondary command buffers.", info.name) || skip
			}
		}
	}
	return skip
}

// commandBuffer looks up a command buffer for a vkCmd* validation and runs the shared checks.
func (d *Device) commandBuffer(h CommandBuffer, cmd cmdType) (*commandBufferState, bool) {
	cb, ok := d.commandBuffers[h]
	if !ok {
		return nil, d.invalidObject(Ref(h), cmd.String())
	}
	return cb, d.validateCommand(cb, cmd)
}

// ============================================================================================
// Begin, end, reset
// ============================================================================================

func (d *Device) validateInheritance(cb *commandBufferState, info *CommandBufferBeginInfo) bool {
	const api = "vkBeginCommandBuffer"
	ref := Ref(cb.handle)
	inh := info.Inheritance
	if inh == nil {
		return d.logError(ref, CodeInvalidInheritance,
			"vkBeginCommandBuffer(): Secondary Command Buffers (0x%x) must specify a valid VkCommandBufferInheritanceInfo pointer.",
			uint64(cb.handle))
	}
	if info.Flags&vk.CommandBufferUsageFlags(vk.CommandBufferUsageRenderPassContinueBit) == 0 {
		return false
	}
	rp, ok := d.renderPasses[inh.RenderPass]
	if !ok {
		return d.logError(ref, CodeInvalidInheritance,
			"vkBeginCommandBuffer(): Secondary Command Buffers (0x%x) must specify a valid renderpass parameter when VK_COMMAND_BUFFER_USAGE_RENDER_PASS_CONTINUE_BIT is set.",
			uint64(cb.handle))
	}
	skip := false
	if inh.Subpass >= rp.subpassCount() {
		skip = d.logError(ref, CodeInvalidInheritance,
			"vkBeginCommandBuffer(): inherited subpass %d is out of range for renderPass 0x%x with %d subpasses.",
			inh.Subpass, uint64(inh.RenderPass), rp.subpassCount()) || skip
	}
	if inh.Framebuffer != 0 {
		fb, ok := d.framebuffers[inh.Framebuffer]
		if !ok {
			skip = d.invalidObject(Ref(inh.Framebuffer), api) || skip
		} else if fb.renderPass != nil {
			skip = d.validateRenderPassCompatibility(ref, api, "framebuffer", fb.renderPass,
				"inherited", rp) || skip
		}
	}
	return skip
}

func (d *Device) ValidateBeginCommandBuffer(h CommandBuffer, info CommandBufferBeginInfo) bool {
	return d.lock.SafeCall(func() bool {
		cb, ok := d.commandBuffers[h]
		if !ok {
			return d.invalidObject(Ref(h), "vkBeginCommandBuffer")
		}
		ref := Ref(h)
		if d.globalInFlight[h] > 0 {
			return d.logError(ref, CodeObjectInUse,
				"Calling vkBeginCommandBuffer() on active command buffer 0x%x before it has completed. You must check command buffer fence before this call.",
				uint64(h))
		}
		skip := false
		switch cb.state {
		case COMMAND_BUFFER_STATE_RECORDING:
			skip = d.logError(ref, CodeAlreadyRecording,
				"vkBeginCommandBuffer(): Cannot call Begin on command buffer (0x%x) in the RECORDING state. Must first call vkEndCommandBuffer().",
				uint64(h)) || skip
		case COMMAND_BUFFER_STATE_EXECUTABLE, COMMAND_BUFFER_STATE_INVALID:
			if !cb.pool.canResetIndividually() {
				skip = d.logError(ref, CodeResetNotAllowed,
					"Call to vkBeginCommandBuffer() on command buffer (0x%x) attempts to implicitly reset cmdBuffer created from command pool (0x%x) that does NOT have the VK_COMMAND_POOL_CREATE_RESET_COMMAND_BUFFER_BIT bit set.",
					uint64(h), uint64(cb.pool.handle)) || skip
			}
		}
		if cb.secondary() {
			skip = d.validateInheritance(cb, &info) || skip
		}
		return skip
	})
}

func (d *Device) RecordBeginCommandBuffer(result vk.Result, h CommandBuffer, info CommandBufferBeginInfo) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		cb, ok := d.commandBuffers[h]
		if !ok {
			return
		}
		if cb.state != COMMAND_BUFFER_STATE_INITIAL {
			d.resetCommandBuffer(cb)
		}
		cb.state = COMMAND_BUFFER_STATE_RECORDING
		cb.beginFlags = info.Flags
		if cb.secondary() && info.Inheritance != nil {
			inh := *info.Inheritance
			cb.inheritance = &inh
			if cb.continuesRenderPass() {
				cb.activeRenderPass = d.renderPasses[inh.RenderPass]
				cb.activeSubpass = inh.Subpass
				cb.activeFramebuffer = d.framebuffers[inh.Framebuffer]
				if cb.activeRenderPass != nil {
					d.bindToCommandBuffer(cb, Ref(inh.RenderPass))
				}
				if cb.activeFramebuffer != nil {
					d.bindToCommandBuffer(cb, Ref(inh.Framebuffer))
				}
			}
		}
	})
}

func (d *Device) ValidateEndCommandBuffer(h CommandBuffer) bool {
	return d.lock.SafeCall(func() bool {
		cb, ok := d.commandBuffers[h]
		if !ok {
			return d.invalidObject(Ref(h), "vkEndCommandBuffer")
		}
		ref := Ref(h)
		switch cb.state {
		case COMMAND_BUFFER_STATE_RECORDING:
		case COMMAND_BUFFER_STATE_INVALID:
			return d.reportInvalidated(cb, "vkEndCommandBuffer")
		default:
			return d.logError(ref, CodeNotRecording,
				"vkEndCommandBuffer(): Cannot call End on command buffer (0x%x) in the %s state.", uint64(h), cb.state)
		}
		skip := false
		if cb.activeRenderPass != nil && !cb.continuesRenderPass() {
			skip = d.logError(ref, CodeStillInsideRenderPass,
				"vkEndCommandBuffer(): It is invalid to issue this call inside an active render pass (0x%x).",
				uint64(cb.activeRenderPass.handle)) || skip
		}
		for q := range cb.activeQueries {
			skip = d.logError(ref, CodeQueryStillActive,
				"Ending command buffer with in progress query: queryPool 0x%x, index %d.", uint64(q.Pool), q.Index) || skip
		}
		return skip
	})
}

func (d *Device) RecordEndCommandBuffer(result vk.Result, h CommandBuffer) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		if cb, ok := d.commandBuffers[h]; ok && cb.state == COMMAND_BUFFER_STATE_RECORDING {
			cb.state = COMMAND_BUFFER_STATE_EXECUTABLE
		}
	})
}

func (d *Device) ValidateResetCommandBuffer(h CommandBuffer) bool {
	return d.lock.SafeCall(func() bool {
		cb, ok := d.commandBuffers[h]
		if !ok {
			return d.invalidObject(Ref(h), "vkResetCommandBuffer")
		}
		skip := false
		if !cb.pool.canResetIndividually() {
			skip = d.logError(Ref(h), CodeResetNotAllowed,
				"Attempt to reset command buffer (0x%x) created from command pool (0x%x) that does NOT have the VK_COMMAND_POOL_CREATE_RESET_COMMAND_BUFFER_BIT bit set.",
				uint64(h), uint64(cb.pool.handle)) || skip
		}
		skip = d.validateCommandBuffersNotInFlight([]CommandBuffer{h}, "vkResetCommandBuffer") || skip
		return skip
	})
}

func (d *Device) RecordResetCommandBuffer(result vk.Result, h CommandBuffer) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		if cb, ok := d.commandBuffers[h]; ok {
			d.resetCommandBuffer(cb)
		}
	})
}
