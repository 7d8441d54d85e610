package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcheck/layer/core"
	"github.com/spaghettifunk/vkcheck/layer/spirv"
)

type shaderModuleState struct {
	handle ShaderModule
	module *spirv.Module
	// malformed modules are kept so later uses are not reported again
	valid bool
	// ids reachable from each entry point, filled on first use
	accessible map[string]spirv.IDSet
}

func (s *shaderModuleState) accessibleIDs(ep *spirv.Entrypoint) spirv.IDSet {
	key := fmt.Sprintf("%s/%d", ep.Name, ep.Model)
	if ids, ok := s.accessible[key]; ok {
		return ids
	}
	ids := s.module.MarkAccessibleIDs(ep)
	s.accessible[key] = ids
	return ids
}

func (d *Device) ValidateCreateShaderModule(code []byte) bool {
	return d.lock.SafeCall(func() bool {
		if !d.settings.CheckShaders {
			return false
		}
		m := spirv.ParseBytes(code)
		if m.Valid() {
			return false
		}
		return d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeInvalidShaderModule,
			"vkCreateShaderModule: SPIR-V module not valid: %v", m.Err())
	})
}

func (d *Device) RecordCreateShaderModule(result vk.Result, module ShaderModule, code []byte) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		m := spirv.ParseBytes(code)
		d.shaderModules[module] = &shaderModuleState{
			handle:     module,
			module:     m,
			valid:      m.Valid(),
			accessible: make(map[string]spirv.IDSet),
		}
		if !m.Valid() {
			core.Logger("module", fmt.Sprintf("0x%x", uint64(module)), "err", m.Err()).Debug("shader module kept as invalid")
		}
	})
}

func (d *Device) RecordDestroyShaderModule(module ShaderModule) {
	d.lock.SafeRecord(func() {
		delete(d.shaderModules, module)
	})
}

func executionModelFor(stage vk.ShaderStageFlagBits) (spirv.ExecutionModel, bool) {
	switch stage {
	case vk.ShaderStageVertexBit:
		return spirv.ExecutionModelVertex, true
	case vk.ShaderStageTessellationControlBit:
		return spirv.ExecutionModelTessellationControl, true
	case vk.ShaderStageTessellationEvaluationBit:
		return spirv.ExecutionModelTessellationEvaluation, true
	case vk.ShaderStageGeometryBit:
		return spirv.ExecutionModelGeometry, true
	case vk.ShaderStageFragmentBit:
		return spirv.ExecutionModelFragment, true
	case vk.ShaderStageComputeBit:
		return spirv.ExecutionModelGLCompute, true
	}
	return 0, false
}

// ============================================================================================
// Capabilities
// ============================================================================================

type featureCheck struct {
	name string
	// nil means the capability is always available
	enabled func(f *vk.PhysicalDeviceFeatures) bool
}

func always() featureCheck {
	return featureCheck{}
}

func feature(name string, enabled func(f *vk.PhysicalDeviceFeatures) bool) featureCheck {
	return featureCheck{name: name, enabled: enabled}
}

// Capabilities outside this table are rejected.
var capabilityFeatures = map[spirv.Capability]featureCheck{
	spirv.CapabilityMatrix:            always(),
	spirv.CapabilityShader:            always(),
	spirv.CapabilityInputAttachment:   always(),
	spirv.CapabilitySampled1D:         always(),
	spirv.CapabilityImage1D:           always(),
	spirv.CapabilitySampledBuffer:     always(),
	spirv.CapabilityImageBuffer:       always(),
	spirv.CapabilityImageQuery:        always(),
	spirv.CapabilityDerivativeControl: always(),

	spirv.CapabilityGeometry: feature("geometryShader", func(f *vk.PhysicalDeviceFeatures) bool { return f.GeometryShader == vk.True }),
	spirv.CapabilityTessellation: feature("tessellationShader", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.TessellationShader == vk.True
	}),
	spirv.CapabilityFloat64: feature("shaderFloat64", func(f *vk.PhysicalDeviceFeatures) bool { return f.ShaderFloat64 == vk.True }),
	spirv.CapabilityInt64:   feature("shaderInt64", func(f *vk.PhysicalDeviceFeatures) bool { return f.ShaderInt64 == vk.True }),
	spirv.CapabilityInt16:   feature("shaderInt16", func(f *vk.PhysicalDeviceFeatures) bool { return f.ShaderInt16 == vk.True }),
	spirv.CapabilityTessellationPointSize: feature("shaderTessellationAndGeometryPointSize", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.ShaderTessellationAndGeometryPointSize == vk.True
	}),
	spirv.CapabilityGeometryPointSize: feature("shaderTessellationAndGeometryPointSize", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.ShaderTessellationAndGeometryPointSize == vk.True
	}),
	spirv.CapabilityImageGatherExtended: feature("shaderImageGatherExtended", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.ShaderImageGatherExtended == vk.True
	}),
	spirv.CapabilityStorageImageMultisample: feature("shaderStorageImageMultisample", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.ShaderStorageImageMultisample == vk.True
	}),
	spirv.CapabilityUniformBufferArrayDynamicIndexing: feature("shaderUniformBufferArrayDynamicIndexing", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.ShaderUniformBufferArrayDynamicIndexing == vk.True
	}),
	spirv.CapabilitySampledImageArrayDynamicIndexing: feature("shaderSampledImageArrayDynamicIndexing", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.ShaderSampledImageArrayDynamicIndexing == vk.True
	}),
	spirv.CapabilityStorageBufferArrayDynamicIndexing: feature("shaderStorageBufferArrayDynamicIndexing", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.ShaderStorageBufferArrayDynamicIndexing == vk.True
	}),
	spirv.CapabilityStorageImageArrayDynamicIndexing: feature("shaderStorageImageArrayDynamicIndexing", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.ShaderStorageImageArrayDynamicIndexing == vk.True
	}),
	spirv.CapabilityClipDistance: feature("shaderClipDistance", func(f *vk.PhysicalDeviceFeatures) bool { return f.ShaderClipDistance == vk.True }),
	spirv.CapabilityCullDistance: feature("shaderCullDistance", func(f *vk.PhysicalDeviceFeatures) bool { return f.ShaderCullDistance == vk.True }),
	spirv.CapabilityImageCubeArray: feature("imageCubeArray", func(f *vk.PhysicalDeviceFeatures) bool { return f.ImageCubeArray == vk.True }),
	spirv.CapabilitySampledCubeArray: feature("imageCubeArray", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.ImageCubeArray == vk.True
	}),
	spirv.CapabilitySampleRateShading: feature("sampleRateShading", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.SampleRateShading == vk.True
	}),
	spirv.CapabilityInterpolationFunction: feature("sampleRateShading", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.SampleRateShading == vk.True
	}),
	spirv.CapabilitySparseResidency: feature("shaderResourceResidency", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.ShaderResourceResidency == vk.True
	}),
	spirv.CapabilityMinLod: feature("shaderResourceMinLod", func(f *vk.PhysicalDeviceFeatures) bool { return f.ShaderResourceMinLod == vk.True }),
	spirv.CapabilityImageMSArray: feature("shaderStorageImageMultisample", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.ShaderStorageImageMultisample == vk.True
	}),
	spirv.CapabilityStorageImageExtendedFormats: feature("shaderStorageImageExtendedFormats", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.ShaderStorageImageExtendedFormats == vk.True
	}),
	spirv.CapabilityStorageImageReadWithoutFormat: feature("shaderStorageImageReadWithoutFormat", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.ShaderStorageImageReadWithoutFormat == vk.True
	}),
	spirv.CapabilityStorageImageWriteWithoutFormat: feature("shaderStorageImageWriteWithoutFormat", func(f *vk.PhysicalDeviceFeatures) bool {
		return f.ShaderStorageImageWriteWithoutFormat == vk.True
	}),
	spirv.CapabilityMultiViewport: feature("multiViewport", func(f *vk.PhysicalDeviceFeatures) bool { return f.MultiViewport == vk.True }),
}

func (d *Device) validateShaderCapabilities(ref ObjectRef, m *spirv.Module) bool {
	skip := false
	for _, c := range m.Capabilities() {
		check, ok := capabilityFeatures[c]
		if !ok {
			skip = d.logError(ref, CodeUnknownCapability,
				"Shader declares capability %d, not supported in Vulkan.", c) || skip
			continue
		}
		if check.enabled != nil && !check.enabled(&d.features) {
			skip = d.logError(ref, CodeFeatureNotEnabled,
				"Shader requires VkPhysicalDeviceFeatures::%s but is not enabled on the device", check.name) || skip
		}
	}
	return skip
}

// ============================================================================================
// Descriptor requirements
// ============================================================================================

// descriptorReq is what a shader needs from the view bound to a descriptor: one bit per
// acceptable image view type, plus the sample count.
type descriptorReq uint32

const (
	descriptorReqViewTypeMask descriptorReq = 0x7f
	descriptorReqSingleSample descriptorReq = 1 << 7
	descriptorReqMultiSample  descriptorReq = 1 << 8
)

func viewTypeReq(t vk.ImageViewType) descriptorReq {
	return descriptorReq(1) << uint32(t)
}

func descriptorReqsFor(m *spirv.Module, typeID uint32) descriptorReq {
	img, ok := m.ImageInfo(typeID)
	if !ok {
		return 0
	}
	ms := descriptorReqSingleSample
	if img.MS {
		ms = descriptorReqMultiSample
	}
	switch img.Dim {
	case spirv.Dim1D:
		if img.Arrayed {
			return viewTypeReq(vk.ImageViewType1dArray)
		}
		return viewTypeReq(vk.ImageViewType1d)
	case spirv.Dim2D:
		if img.Arrayed {
			return ms | viewTypeReq(vk.ImageViewType2dArray)
		}
		return ms | viewTypeReq(vk.ImageViewType2d)
	case spirv.Dim3D:
		return viewTypeReq(vk.ImageViewType3d)
	case spirv.DimCube:
		if img.Arrayed {
			return viewTypeReq(vk.ImageViewTypeCubeArray)
		}
		return viewTypeReq(vk.ImageViewTypeCube)
	case spirv.DimSubpassData:
		return ms
	}
	// rect and buffer images carry no view requirement
	return 0
}

/**
 * @brief Lists the descriptor types that may back a shader resource variable.
 * @param typeID the pointer type of the variable.
 */
func descriptorTypesFor(m *spirv.Module, typeID uint32) []vk.DescriptorType {
	ptr, ok := m.Def(typeID)
	if !ok || ptr.Opcode() != spirv.OpTypePointer {
		return nil
	}
	sc := spirv.StorageClass(ptr.Word(2))
	insn, ok := m.StripArrays(typeID)
	if !ok {
		return nil
	}
	switch insn.Opcode() {
	case spirv.OpTypeStruct:
		deco := m.Decorations(insn.Word(1))
		if sc == spirv.StorageClassStorageBuffer || deco.BufferBlock {
			return []vk.DescriptorType{vk.DescriptorTypeStorageBuffer, vk.DescriptorTypeStorageBufferDynamic}
		}
		if deco.Block {
			return []vk.DescriptorType{vk.DescriptorTypeUniformBuffer, vk.DescriptorTypeUniformBufferDynamic}
		}
		return nil
	case spirv.OpTypeSampler:
		return []vk.DescriptorType{vk.DescriptorTypeSampler, vk.DescriptorTypeCombinedImageSampler}
	case spirv.OpTypeSampledImage:
		if img, ok := m.ImageInfo(typeID); ok && img.Dim == spirv.DimBuffer {
			// a texel buffer can't be combined with a sampler
			return []vk.DescriptorType{vk.DescriptorTypeUniformTexelBuffer}
		}
		return []vk.DescriptorType{vk.DescriptorTypeCombinedImageSampler}
	case spirv.OpTypeImage:
		img, _ := m.ImageInfo(typeID)
		switch {
		case img.Dim == spirv.DimSubpassData:
			return []vk.DescriptorType{vk.DescriptorTypeInputAttachment}
		case img.Dim == spirv.DimBuffer && img.Sampled == 1:
			return []vk.DescriptorType{vk.DescriptorTypeUniformTexelBuffer}
		case img.Dim == spirv.DimBuffer && img.Sampled == 2:
			return []vk.DescriptorType{vk.DescriptorTypeStorageTexelBuffer}
		case img.Sampled == 1:
			return []vk.DescriptorType{vk.DescriptorTypeSampledImage, vk.DescriptorTypeCombinedImageSampler}
		case img.Sampled == 2:
			return []vk.DescriptorType{vk.DescriptorTypeStorageImage}
		}
	}
	return nil
}

func containsDescriptorType(types []vk.DescriptorType, t vk.DescriptorType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

// ============================================================================================
// Per stage checks
// ============================================================================================

type SpecializationMapEntry struct {
	ConstantID uint32
	Offset     uint32
	Size       uint64
}

type SpecializationInfo struct {
	MapEntries []SpecializationMapEntry
	DataSize   uint64
}

type PipelineShaderStageCreateInfo struct {
	Stage          vk.ShaderStageFlagBits
	Module         ShaderModule
	Name           string
	Specialization *SpecializationInfo
}

// activeSlots maps set -> binding -> what the shaders need from the descriptor.
type activeSlots map[uint32]map[uint32]descriptorReq

func (s activeSlots) add(set, binding uint32, req descriptorReq) {
	if s[set] == nil {
		s[set] = make(map[uint32]descriptorReq)
	}
	s[set][binding] |= req
}

// stageContext is one resolved pipeline stage, kept for the cross stage checks.
type stageContext struct {
	info       *PipelineShaderStageCreateInfo
	module     *shaderModuleState
	ep         *spirv.Entrypoint
	accessible spirv.IDSet
}

func (s *stageContext) model() spirv.ExecutionModel {
	return s.ep.Model
}

/**
 * @brief Resolves the entry point of one stage and checks it against the device features
 * and the pipeline layout. Descriptor slots the stage touches are added to slots.
 * @returns the resolved stage, nil when the module is invalid or the entry point is missing.
 */
func (d *Device) validatePipelineShaderStage(ref ObjectRef, api string, st *PipelineShaderStageCreateInfo,
	layout *pipelineLayoutState, slots activeSlots) (*stageContext, bool) {
	mod, ok := d.shaderModules[st.Module]
	if !ok {
		return nil, d.invalidObject(Ref(st.Module), api)
	}
	if !mod.valid {
		// reported when the module was created
		return nil, false
	}
	model, ok := executionModelFor(st.Stage)
	if !ok {
		return nil, d.logError(ref, CodeMissingEntrypoint, "%s: stage 0x%x is not a single shader stage.", api, st.Stage)
	}
	ep, ok := mod.module.FindEntrypoint(st.Name, model)
	if !ok {
		return nil, d.logError(ref, CodeMissingEntrypoint,
			"%s: No entrypoint found named `%s` for stage %s.", api, st.Name, model)
	}
	ctx := &stageContext{info: st, module: mod, ep: ep, accessible: mod.accessibleIDs(ep)}

	skip := d.validateShaderCapabilities(ref, mod.module)
	skip = d.validateSpecialization(ref, api, st) || skip
	skip = d.validatePushConstantUsage(ref, ctx, layout) || skip
	skip = d.validateDescriptorUsage(ref, ctx, layout, slots) || skip
	return ctx, skip
}

func (d *Device) validateSpecialization(ref ObjectRef, api string, st *PipelineShaderStageCreateInfo) bool {
	if st.Specialization == nil {
		return false
	}
	skip := false
	for i, e := range st.Specialization.MapEntries {
		if uint64(e.Offset)+e.Size > st.Specialization.DataSize {
			skip = d.logError(ref, CodeSpecializationOutOfRange,
				"%s: specialization entry %d (for constant id %d) references memory outside provided specialization data (bytes %d..%d; %d bytes provided).",
				api, i, e.ConstantID, e.Offset, uint64(e.Offset)+e.Size-1, st.Specialization.DataSize) || skip
		}
	}
	return skip
}

func (d *Device) validatePushConstantUsage(ref ObjectRef, ctx *stageContext, layout *pipelineLayoutState) bool {
	skip := false
	stage := vk.ShaderStageFlags(ctx.info.Stage)
	for _, block := range ctx.module.module.PushConstantBlocks(ctx.accessible) {
		for _, off := range block.Offsets {
			found := false
			for _, r := range layout.pushConstantRanges {
				if off >= r.Offset && off < r.Offset+r.Size {
					found = true
					if r.StageFlags&stage == 0 {
						skip = d.logError(ref, CodePushConstantNotInRange,
							"Push constant range covering variable starting at offset %d not accessible from stage %s",
							off, ctx.model()) || skip
					}
					break
				}
			}
			if !found {
				skip = d.logError(ref, CodePushConstantNotInRange,
					"Push constant range covering variable starting at offset %d not declared in layout", off) || skip
			}
		}
	}
	return skip
}

func (d *Device) writableDescriptorsAllowed(model spirv.ExecutionModel) bool {
	switch model {
	case spirv.ExecutionModelFragment:
		return d.features.FragmentStoresAndAtomics == vk.True
	case spirv.ExecutionModelGLCompute:
		return true
	}
	return d.features.VertexPipelineStoresAndAtomics == vk.True
}

func (d *Device) validateDescriptorUsage(ref ObjectRef, ctx *stageContext, layout *pipelineLayoutState, slots activeSlots) bool {
	skip := false
	m := ctx.module.module
	stage := vk.ShaderStageFlags(ctx.info.Stage)
	reportedWritable := false

	for _, use := range m.CollectInterfaceByDescriptorSlot(ctx.accessible) {
		slots.add(use.Set, use.Binding, descriptorReqsFor(m, use.Var.TypeID))

		if use.Writable && !reportedWritable && !d.writableDescriptorsAllowed(ctx.model()) {
			reportedWritable = true
			skip = d.logError(ref, CodeWritableDescriptorNotAllowed,
				"Shader requires vertexPipelineStoresAndAtomics or fragmentStoresAndAtomics but is not enabled on the device") || skip
		}

		var lb DescriptorSetLayoutBinding
		found := false
		if int(use.Set) < len(layout.setLayouts) && layout.setLayouts[use.Set] != nil {
			lb, found = layout.setLayouts[use.Set].binding(use.Binding)
		}
		if !found {
			skip = d.logError(ref, CodeMissingDescriptor,
				"Shader uses descriptor slot %d.%d (used as type `%s`) but not declared in pipeline layout",
				use.Set, use.Binding, m.DescribeType(use.Var.TypeID)) || skip
			continue
		}
		if lb.StageFlags&stage == 0 {
			skip = d.logError(ref, CodeDescriptorNotAccessible,
				"Shader uses descriptor slot %d.%d (used as type `%s`) but descriptor not accessible from stage %s",
				use.Set, use.Binding, m.DescribeType(use.Var.TypeID), ctx.model()) || skip
		}
		if types := descriptorTypesFor(m, use.Var.TypeID); !containsDescriptorType(types, lb.DescriptorType) {
			skip = d.logError(ref, CodeDescriptorTypeMismatch,
				"Type mismatch on descriptor slot %d.%d (used as type `%s`) but descriptor of type %d",
				use.Set, use.Binding, m.DescribeType(use.Var.TypeID), lb.DescriptorType) || skip
		}
		if required := m.DescriptorCount(use.Var.TypeID); required > lb.DescriptorCount {
			skip = d.logError(ref, CodeDescriptorCountTooSmall,
				"Shader expects at least %d descriptors for binding %d.%d (used as type `%s`) but only %d provided",
				required, use.Set, use.Binding, m.DescribeType(use.Var.TypeID), lb.DescriptorCount) || skip
		}
	}
	return skip
}
