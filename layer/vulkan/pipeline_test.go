package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcheck/layer/spirv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// subpassInputShader is a fragment shader reading input attachment 0 with the given sampled type.
func subpassInputShader(integer bool) []byte {
	b := spirv.NewBuilder()
	b.Capability(spirv.CapabilityShader)
	sampled := b.TypeFloat(32)
	if integer {
		sampled = b.TypeInt(32, true)
	}
	subpass := b.TypeImage(sampled, spirv.DimSubpassData, 0, false, false, 2)
	input := b.Variable(b.TypePointer(spirv.StorageClassUniformConstant, subpass), spirv.StorageClassUniformConstant)
	b.Decorate(input, spirv.DecorationInputAttachmentIndex, 0)
	b.Decorate(input, spirv.DecorationDescriptorSet, 0)
	b.Decorate(input, spirv.DecorationBinding, 0)

	void := b.TypeVoid()
	fn := b.Function(void, b.TypeFunction(void))
	b.Load(subpass, input)
	b.FunctionEnd()
	b.EntryPoint(spirv.ExecutionModelFragment, fn, "main")
	return b.Bytes()
}

func TestInputAttachmentTypeMustMatchFormat(t *testing.T) {
	f := newFakeDriver(t)

	subpasses := emptySubpasses(1)
	subpasses[0].InputAttachments = []vk.AttachmentReference{inputRef(0)}
	rp, ok := f.renderPass(RenderPassCreateInfo{
		Attachments: []vk.AttachmentDescription{colorAttachment(vk.AttachmentLoadOpLoad, vk.AttachmentStoreOpStore)},
		Subpasses:   subpasses,
	})
	require.True(t, ok)
	layout := f.pipelineLayout(f.setLayout(DescriptorSetLayoutBinding{
		Binding:         0,
		DescriptorType:  vk.DescriptorTypeInputAttachment,
		DescriptorCount: 1,
		StageFlags:      vk.ShaderStageFlags(vk.ShaderStageFragmentBit),
	}))

	pipeline := func(integer bool) GraphicsPipelineCreateInfo {
		return GraphicsPipelineCreateInfo{
			Stages: []PipelineShaderStageCreateInfo{{
				Stage:  vk.ShaderStageFragmentBit,
				Module: f.shaderModule(subpassInputShader(integer)),
				Name:   "main",
			}},
			Layout:     layout,
			RenderPass: rp,
		}
	}

	// the attachment is unorm, so a float subpassInput matches
	f.clear()
	f.dev.ValidateCreateGraphicsPipelines([]GraphicsPipelineCreateInfo{pipeline(false)})
	assert.Zero(t, f.count(CodeInputAttachmentMismatch))

	f.clear()
	f.dev.ValidateCreateGraphicsPipelines([]GraphicsPipelineCreateInfo{pipeline(true)})
	assert.Equal(t, 1, f.count(CodeInputAttachmentMismatch))
	require.NotEmpty(t, f.messages(CodeInputAttachmentMismatch))
	assert.Contains(t, f.messages(CodeInputAttachmentMismatch)[0], "Subpass input attachment 0")
}
