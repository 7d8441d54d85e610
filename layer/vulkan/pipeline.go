package vulkan

import (
	"sort"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcheck/layer/core"
	"github.com/spaghettifunk/vkcheck/layer/spirv"
)

type GraphicsPipelineCreateInfo struct {
	Stages           []PipelineShaderStageCreateInfo
	VertexBindings   []vk.VertexInputBindingDescription
	VertexAttributes []vk.VertexInputAttributeDescription
	DynamicStates    []vk.DynamicState
	Layout           PipelineLayout
	RenderPass       RenderPass
	Subpass          uint32
}

type ComputePipelineCreateInfo struct {
	Stage  PipelineShaderStageCreateInfo
	Layout PipelineLayout
}

type pipelineState struct {
	baseNode
	handle     Pipeline
	bindPoint  vk.PipelineBindPoint
	layout     *pipelineLayoutState
	renderPass *renderPassState
	subpass    uint32
	stages     vk.ShaderStageFlags
	// state the pipeline fixes at bind time; the rest must be set by commands
	staticStatus   cbStatus
	vertexBindings []vk.VertexInputBindingDescription
	slots          activeSlots
}

var dynamicStateStatus = map[vk.DynamicState]cbStatus{
	vk.DynamicStateViewport:           statusViewportSet,
	vk.DynamicStateScissor:            statusScissorSet,
	vk.DynamicStateLineWidth:          statusLineWidthSet,
	vk.DynamicStateDepthBias:          statusDepthBiasSet,
	vk.DynamicStateBlendConstants:     statusBlendConstantsSet,
	vk.DynamicStateDepthBounds:        statusDepthBoundsSet,
	vk.DynamicStateStencilCompareMask: statusStencilReadMaskSet,
	vk.DynamicStateStencilWriteMask:   statusStencilWriteMaskSet,
	vk.DynamicStateStencilReference:   statusStencilReferenceSet,
}

func staticStatusFor(dynamic []vk.DynamicState) cbStatus {
	s := statusAllDynamic
	for _, ds := range dynamic {
		s &^= dynamicStateStatus[ds]
	}
	return s
}

func sortedKeys[V any](m map[uint32]V) []uint32 {
	keys := make([]uint32, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// graphicsStageOrder is the order data flows through the graphics stages.
var graphicsStageOrder = []vk.ShaderStageFlagBits{
	vk.ShaderStageVertexBit,
	vk.ShaderStageTessellationControlBit,
	vk.ShaderStageTessellationEvaluationBit,
	vk.ShaderStageGeometryBit,
	vk.ShaderStageFragmentBit,
}

// ============================================================================================
// Graphics
// ============================================================================================

func (d *Device) ValidateCreateGraphicsPipelines(infos []GraphicsPipelineCreateInfo) bool {
	return d.lock.SafeCall(func() bool {
		skip := false
		for i := range infos {
			skip = d.validateGraphicsPipeline(&infos[i]) || skip
		}
		return skip
	})
}

func (d *Device) validateGraphicsPipeline(info *GraphicsPipelineCreateInfo) bool {
	const api = "vkCreateGraphicsPipelines"
	ref := ObjectRef{Kind: ObjectKindDevice}

	skip := false
	layout, ok := d.pipelineLayouts[info.Layout]
	if !ok {
		return d.invalidObject(Ref(info.Layout), api)
	}
	rp, ok := d.renderPasses[info.RenderPass]
	if !ok {
		return d.invalidObject(Ref(info.RenderPass), api)
	}
	if info.Subpass >= rp.subpassCount() {
		skip = d.logError(Ref(info.RenderPass), CodeSubpassOutOfRange,
			"%s: subpass %d is out of range for this renderpass (0..%d).", api, info.Subpass, rp.subpassCount()-1) || skip
	}

	var present vk.ShaderStageFlags
	byStage := make(map[vk.ShaderStageFlagBits]*stageContext)
	slots := make(activeSlots)
	for i := range info.Stages {
		st := &info.Stages[i]
		if present&vk.ShaderStageFlags(st.Stage) != 0 {
			skip = d.logError(ref, CodeDuplicateShaderStage,
				"%s: multiple shaders provided for stage 0x%x.", api, st.Stage) || skip
			continue
		}
		present |= vk.ShaderStageFlags(st.Stage)
		ctx, stageSkip := d.validatePipelineShaderStage(ref, api, st, layout, slots)
		skip = stageSkip || skip
		if ctx != nil {
			byStage[st.Stage] = ctx
		}
	}

	if present&vk.ShaderStageFlags(vk.ShaderStageVertexBit) == 0 {
		skip = d.logError(ref, CodeMissingShaderStage, "%s: a vertex shader stage is required.", api) || skip
	}
	tesc := present&vk.ShaderStageFlags(vk.ShaderStageTessellationControlBit) != 0
	tese := present&vk.ShaderStageFlags(vk.ShaderStageTessellationEvaluationBit) != 0
	if tesc != tese {
		skip = d.logError(ref, CodeMissingShaderStage,
			"%s: tessellation control and evaluation shaders must be provided together.", api) || skip
	}
	if present&vk.ShaderStageFlags(vk.ShaderStageComputeBit) != 0 {
		skip = d.logError(ref, CodeMissingShaderStage,
			"%s: a compute stage can't be part of a graphics pipeline.", api) || skip
	}

	skip = d.validateVertexInput(ref, info, byStage[vk.ShaderStageVertexBit]) || skip

	// adjacent stages must agree on their interface
	var producer *stageContext
	for _, stage := range graphicsStageOrder {
		consumer := byStage[stage]
		if consumer == nil {
			if present&vk.ShaderStageFlags(stage) != 0 {
				// present but unresolved, so the chain is broken here
				producer = nil
			}
			continue
		}
		if producer != nil {
			skip = d.validateStageInterface(ref, producer, consumer) || skip
		}
		producer = consumer
	}

	if fs := byStage[vk.ShaderStageFragmentBit]; fs != nil && info.Subpass < rp.subpassCount() {
		sp := &rp.createInfo.Subpasses[info.Subpass]
		skip = d.validateFragmentOutputs(ref, fs, rp, sp) || skip
		skip = d.validateInputAttachments(ref, fs, rp, sp) || skip
	}
	return skip
}

func (d *Device) validateVertexInput(ref ObjectRef, info *GraphicsPipelineCreateInfo, vs *stageContext) bool {
	skip := false
	bindings := make(map[uint32]struct{})
	for _, b := range info.VertexBindings {
		if _, dup := bindings[b.Binding]; dup {
			skip = d.logError(ref, CodeDuplicateVertexBinding,
				"Duplicate vertex input binding descriptions for binding %d", b.Binding) || skip
			continue
		}
		bindings[b.Binding] = struct{}{}
	}

	attribs := make(map[uint32]vk.VertexInputAttributeDescription)
	for _, a := range info.VertexAttributes {
		if _, ok := bindings[a.Binding]; !ok {
			skip = d.logError(ref, CodeVertexBindingNotFound,
				"Vertex attribute at location %d references binding %d which has no description", a.Location, a.Binding) || skip
		}
		attribs[a.Location] = a
	}
	if vs == nil {
		return skip
	}

	m := vs.module.module
	inputs := make(map[uint32]spirv.InterfaceVar)
	for _, lv := range m.CollectInterfaceByLocation(vs.ep, spirv.StorageClassInput, false) {
		if _, seen := inputs[lv.Location.Location]; !seen {
			inputs[lv.Location.Location] = lv.Var
		}
	}

	for _, loc := range sortedKeys(attribs) {
		a := attribs[loc]
		in, ok := inputs[loc]
		if !ok {
			skip = d.logPerf(ref, CodeVertexAttributeNotConsumed,
				"Vertex attribute at location %d not consumed by vertex shader", loc) || skip
			continue
		}
		attribType := formatFundamental(a.Format)
		inputType := m.FundamentalType(in.TypeID)
		if attribType != 0 && attribType&inputType == 0 {
			skip = d.logError(ref, CodeVertexAttributeTypeMismatch,
				"Attribute type of `%s` at location %d does not match vertex shader input type of `%s`",
				attribType, loc, m.DescribeType(in.TypeID)) || skip
			continue
		}
		if fi, known := lookupFormat(a.Format); known && fi.wide != (m.ScalarWidth(in.TypeID) == 64) {
			skip = d.logError(ref, CodeVertexAttributeNarrowed,
				"Attribute at location %d has a %d byte format but the vertex shader input is `%s`",
				loc, fi.size, m.DescribeType(in.TypeID)) || skip
		}
	}
	for _, loc := range sortedKeys(inputs) {
		if _, ok := attribs[loc]; !ok {
			skip = d.logError(ref, CodeVertexInputNotProvided,
				"Vertex shader consumes input at location %d but not provided", loc) || skip
		}
	}
	return skip
}

func (d *Device) validateStageInterface(ref ObjectRef, producer, consumer *stageContext) bool {
	skip := false
	findings := spirv.ValidateInterfaceBetweenStages(
		producer.module.module, producer.ep, spirv.StageInfoFor(producer.model()),
		consumer.module.module, consumer.ep, spirv.StageInfoFor(consumer.model()))
	for _, f := range findings {
		switch f.Kind {
		case spirv.FindingOutputNotConsumed:
			skip = d.logPerf(ref, CodeOutputNotConsumed, "%s", f.Message) || skip
		case spirv.FindingInputNotProduced:
			skip = d.logError(ref, CodeInputNotProduced, "%s", f.Message) || skip
		case spirv.FindingTypeMismatch:
			skip = d.logError(ref, CodeInterfaceTypeMismatch, "%s", f.Message) || skip
		case spirv.FindingPatchMismatch, spirv.FindingPrecisionMismatch:
			skip = d.logError(ref, CodeInterfaceDecorationMismatch, "%s", f.Message) || skip
		}
	}
	return skip
}

/**
 * @brief Matches fragment shader outputs against the color attachments of the subpass.
 * A missing write or an unused output is a warning, a numeric class mismatch is an error.
 */
func (d *Device) validateFragmentOutputs(ref ObjectRef, fs *stageContext, rp *renderPassState, sp *SubpassDescription) bool {
	skip := false
	m := fs.module.module

	outputs := make(map[uint32]spirv.InterfaceVar)
	for _, lv := range m.CollectInterfaceByLocation(fs.ep, spirv.StorageClassOutput, false) {
		if _, seen := outputs[lv.Location.Location]; !seen {
			outputs[lv.Location.Location] = lv.Var
		}
	}
	colors := make(map[uint32]vk.Format)
	for i, r := range sp.ColorAttachments {
		if r.Attachment != attachmentUnused && int(r.Attachment) < len(rp.createInfo.Attachments) {
			colors[uint32(i)] = rp.createInfo.Attachments[r.Attachment].Format
		}
	}

	for _, loc := range sortedKeys(outputs) {
		if _, ok := colors[loc]; !ok {
			skip = d.logWarning(ref, CodeFragmentOutputNotConsumed,
				"fragment shader writes to output location %d with no matching attachment", loc) || skip
		}
	}
	for _, loc := range sortedKeys(colors) {
		out, ok := outputs[loc]
		if !ok {
			skip = d.logWarning(ref, CodeFragmentOutputNotWritten,
				"Attachment %d not written by fragment shader", loc) || skip
			continue
		}
		attType := formatFundamental(colors[loc])
		outType := m.FundamentalType(out.TypeID)
		if attType != 0 && attType&outType == 0 {
			skip = d.logError(ref, CodeFragmentOutputTypeMismatch,
				"Attachment %d of type `%s` does not match fragment shader output type of `%s`",
				loc, attType, m.DescribeType(out.TypeID)) || skip
		}
	}
	return skip
}

func (d *Device) validateInputAttachments(ref ObjectRef, fs *stageContext, rp *renderPassState, sp *SubpassDescription) bool {
	skip := false
	m := fs.module.module
	reported := make(map[uint32]struct{})
	for _, use := range m.CollectInputAttachments(fs.accessible) {
		if _, done := reported[use.Index]; done {
			continue
		}
		if int(use.Index) >= len(sp.InputAttachments) || sp.InputAttachments[use.Index].Attachment == attachmentUnused {
			reported[use.Index] = struct{}{}
			skip = d.logError(ref, CodeInputAttachmentMismatch,
				"Shader consumes input attachment index %d but not provided in subpass", use.Index) || skip
			continue
		}
		a := sp.InputAttachments[use.Index].Attachment
		if int(a) >= len(rp.createInfo.Attachments) {
			continue
		}
		img, ok := m.ImageInfo(use.Var.TypeID)
		if !ok {
			continue
		}
		attType := formatFundamental(rp.createInfo.Attachments[a].Format)
		inType := img.SampledType
		if attType != 0 && attType&inType == 0 {
			reported[use.Index] = struct{}{}
			skip = d.logError(ref, CodeInputAttachmentMismatch,
				"Subpass input attachment %d format of %s does not match type used in shader `%s`",
				use.Index, attType, m.DescribeType(use.Var.TypeID)) || skip
		}
	}
	return skip
}

// collectActiveSlots gathers the descriptor slots of every resolvable stage without reporting.
func (d *Device) collectActiveSlots(stages []PipelineShaderStageCreateInfo) (activeSlots, vk.ShaderStageFlags) {
	slots := make(activeSlots)
	var present vk.ShaderStageFlags
	for i := range stages {
		st := &stages[i]
		present |= vk.ShaderStageFlags(st.Stage)
		mod, ok := d.shaderModules[st.Module]
		if !ok || !mod.valid {
			continue
		}
		model, ok := executionModelFor(st.Stage)
		if !ok {
			continue
		}
		ep, ok := mod.module.FindEntrypoint(st.Name, model)
		if !ok {
			continue
		}
		m := mod.module
		for _, use := range m.CollectInterfaceByDescriptorSlot(mod.accessibleIDs(ep)) {
			slots.add(use.Set, use.Binding, descriptorReqsFor(m, use.Var.TypeID))
		}
	}
	return slots, present
}

func (d *Device) RecordCreateGraphicsPipelines(result vk.Result, infos []GraphicsPipelineCreateInfo, pipelines []Pipeline) {
	d.lock.SafeRecord(func() {
		for i := range infos {
			// a partial failure leaves null handles for the pipelines that were not created
			if i >= len(pipelines) || pipelines[i] == 0 {
				continue
			}
			info := &infos[i]
			slots, present := d.collectActiveSlots(info.Stages)
			d.pipelines[pipelines[i]] = &pipelineState{
				handle:         pipelines[i],
				bindPoint:      vk.PipelineBindPointGraphics,
				layout:         d.pipelineLayouts[info.Layout],
				renderPass:     d.renderPasses[info.RenderPass],
				subpass:        info.Subpass,
				stages:         present,
				staticStatus:   staticStatusFor(info.DynamicStates),
				vertexBindings: append([]vk.VertexInputBindingDescription(nil), info.VertexBindings...),
				slots:          slots,
			}
		}
		if result != vk.Success {
			core.Logger("device", d.id.String(), "result", int32(result)).Warn("graphics pipeline creation partially failed")
		}
	})
}

// ============================================================================================
// Compute
// ============================================================================================

func (d *Device) ValidateCreateComputePipelines(infos []ComputePipelineCreateInfo) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCreateComputePipelines"
		ref := ObjectRef{Kind: ObjectKindDevice}
		skip := false
		for i := range infos {
			info := &infos[i]
			layout, ok := d.pipelineLayouts[info.Layout]
			if !ok {
				skip = d.invalidObject(Ref(info.Layout), api) || skip
				continue
			}
			if info.Stage.Stage != vk.ShaderStageComputeBit {
				skip = d.logError(ref, CodeMissingShaderStage,
					"%s: pCreateInfos[%d] stage must be VK_SHADER_STAGE_COMPUTE_BIT.", api, i) || skip
				continue
			}
			_, stageSkip := d.validatePipelineShaderStage(ref, api, &info.Stage, layout, make(activeSlots))
			skip = stageSkip || skip
		}
		return skip
	})
}

func (d *Device) RecordCreateComputePipelines(result vk.Result, infos []ComputePipelineCreateInfo, pipelines []Pipeline) {
	d.lock.SafeRecord(func() {
		for i := range infos {
			if i >= len(pipelines) || pipelines[i] == 0 {
				continue
			}
			info := &infos[i]
			slots, present := d.collectActiveSlots([]PipelineShaderStageCreateInfo{info.Stage})
			d.pipelines[pipelines[i]] = &pipelineState{
				handle:       pipelines[i],
				bindPoint:    vk.PipelineBindPointCompute,
				layout:       d.pipelineLayouts[info.Layout],
				stages:       present,
				staticStatus: statusAllDynamic,
				slots:        slots,
			}
		}
	})
}

func (d *Device) ValidateDestroyPipeline(pipeline Pipeline) bool {
	return d.lock.SafeCall(func() bool {
		if pipeline == 0 {
			return false
		}
		p, ok := d.pipelines[pipeline]
		if !ok {
			return d.invalidObject(Ref(pipeline), "vkDestroyPipeline")
		}
		return d.validateObjectNotInUse(&p.baseNode, Ref(pipeline), "vkDestroyPipeline")
	})
}

func (d *Device) RecordDestroyPipeline(pipeline Pipeline) {
	d.lock.SafeRecord(func() {
		if p, ok := d.pipelines[pipeline]; ok {
			d.invalidateCommandBuffers(&p.baseNode, Ref(pipeline), invalidatedDestroyed)
			delete(d.pipelines, pipeline)
		}
	})
}
