package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

type PipelineLayoutCreateInfo struct {
	SetLayouts         []DescriptorSetLayout
	PushConstantRanges []vk.PushConstantRange
}

type pipelineLayoutState struct {
	handle             PipelineLayout
	setLayouts         []*descriptorSetLayoutState
	pushConstantRanges []vk.PushConstantRange
}

func (d *Device) ValidateCreatePipelineLayout(info PipelineLayoutCreateInfo) bool {
	return d.lock.SafeCall(func() bool {
		skip := false
		if limit := d.limits.MaxBoundDescriptorSets; limit > 0 && uint32(len(info.SetLayouts)) > limit {
			skip = d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeDescriptorSetIndexOutOfRange,
				"vkCreatePipelineLayout: setLayoutCount (%d) exceeds physical device maxBoundDescriptorSets limit (%d).",
				len(info.SetLayouts), limit) || skip
		}
		for _, l := range info.SetLayouts {
			if _, ok := d.descriptorSetLayouts[l]; !ok {
				skip = d.invalidObject(Ref(l), "vkCreatePipelineLayout") || skip
			}
		}
		for i, r := range info.PushConstantRanges {
			skip = d.validatePushConstantRange(i, r) || skip
		}
		return skip
	})
}

func (d *Device) validatePushConstantRange(i int, r vk.PushConstantRange) bool {
	skip := false
	if r.Size == 0 || r.Size%4 != 0 {
		skip = d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeInvalidPushConstantRange,
			"vkCreatePipelineLayout: pPushConstantRanges[%d] size %d must be greater than zero and a multiple of 4.", i, r.Size) || skip
	}
	if r.Offset%4 != 0 {
		skip = d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeInvalidPushConstantRange,
			"vkCreatePipelineLayout: pPushConstantRanges[%d] offset %d must be a multiple of 4.", i, r.Offset) || skip
	}
	if limit := d.limits.MaxPushConstantsSize; limit > 0 && r.Offset+r.Size > limit {
		skip = d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeInvalidPushConstantRange,
			"vkCreatePipelineLayout: pPushConstantRanges[%d] [%d, %d) exceeds maxPushConstantsSize of %d.",
			i, r.Offset, r.Offset+r.Size, limit) || skip
	}
	if r.StageFlags == 0 {
		skip = d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeInvalidPushConstantRange,
			"vkCreatePipelineLayout: pPushConstantRanges[%d] stageFlags must not be 0.", i) || skip
	}
	return skip
}

func (d *Device) RecordCreatePipelineLayout(result vk.Result, layout PipelineLayout, info PipelineLayoutCreateInfo) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		pl := &pipelineLayoutState{
			handle:             layout,
			pushConstantRanges: append([]vk.PushConstantRange(nil), info.PushConstantRanges...),
		}
		for _, l := range info.SetLayouts {
			// a nil entry keeps set numbering intact when a layout is unknown
			pl.setLayouts = append(pl.setLayouts, d.descriptorSetLayouts[l])
		}
		d.pipelineLayouts[layout] = pl
	})
}

func (d *Device) RecordDestroyPipelineLayout(layout PipelineLayout) {
	d.lock.SafeRecord(func() {
		delete(d.pipelineLayouts, layout)
	})
}

// setLayoutsEqual compares two set layouts by content, so layouts created twice with the
// same bindings are interchangeable.
func setLayoutsEqual(a, b *descriptorSetLayoutState) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil || len(a.sorted) != len(b.sorted) {
		return false
	}
	for i := range a.sorted {
		if a.sorted[i] != b.sorted[i] {
			return false
		}
	}
	return true
}

func pushConstantRangesEqual(a, b []vk.PushConstantRange) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].StageFlags != b[i].StageFlags || a[i].Offset != b[i].Offset || a[i].Size != b[i].Size {
			return false
		}
	}
	return true
}

/**
 * @brief Two pipeline layouts are compatible for set N when they were created with
 * identical push constant ranges and identical descriptor set layouts for sets 0 to N.
 * @returns false and the reason when they are not.
 */
func layoutsCompatibleForSet(a, b *pipelineLayoutState, set uint32) (bool, string) {
	if a == nil || b == nil {
		return false, "pipeline layout is unknown"
	}
	if a == b {
		return true, ""
	}
	if int(set) >= len(a.setLayouts) || int(set) >= len(b.setLayouts) {
		return false, "set index is out of range for one of the layouts"
	}
	if !pushConstantRangesEqual(a.pushConstantRanges, b.pushConstantRanges) {
		return false, "push constant ranges differ"
	}
	for i := uint32(0); i <= set; i++ {
		if !setLayoutsEqual(a.setLayouts[i], b.setLayouts[i]) {
			return false, fmt.Sprintf("descriptor set layouts differ at set %d", i)
		}
	}
	return true, ""
}
