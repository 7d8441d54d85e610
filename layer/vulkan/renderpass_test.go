package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fakeDriver) imageView(img Image, format vk.Format) ImageView {
	f.t.Helper()
	h := ImageView(f.handle())
	info := ImageViewCreateInfo{
		Image:    img,
		ViewType: vk.ImageViewType2d,
		Format:   format,
		SubresourceRange: vk.ImageSubresourceRange{
			AspectMask: vk.ImageAspectFlags(vk.ImageAspectColorBit),
			LevelCount: 1,
			LayerCount: 1,
		},
	}
	res := Intercept(
		func() bool { return f.dev.ValidateCreateImageView(info) },
		succeed,
		func(r vk.Result) { f.dev.RecordCreateImageView(r, h, info) })
	require.Equal(f.t, vk.Success, res)
	return h
}

// colorTarget is a bound 16x16 image usable as color and input attachment.
func (f *fakeDriver) colorTarget() (Image, ImageView) {
	f.t.Helper()
	mem := f.allocate(1<<16, memoryTypeDeviceLocal)
	img := f.image(16, 16, vk.FormatR8g8b8a8Unorm, vk.ImageTilingOptimal,
		vk.ImageUsageColorAttachmentBit|vk.ImageUsageInputAttachmentBit)
	require.Equal(f.t, vk.Success, f.bindImage(img, mem, 0))
	return img, f.imageView(img, vk.FormatR8g8b8a8Unorm)
}

// writeThenRead renders attachment 0 in subpass 0 and reads it as an input in subpass 1.
func writeThenRead(deps ...vk.SubpassDependency) RenderPassCreateInfo {
	subpasses := emptySubpasses(2)
	subpasses[0].ColorAttachments = []vk.AttachmentReference{colorRef(0)}
	subpasses[1].InputAttachments = []vk.AttachmentReference{inputRef(0)}
	return RenderPassCreateInfo{
		Attachments:  []vk.AttachmentDescription{colorAttachment(vk.AttachmentLoadOpClear, vk.AttachmentStoreOpStore)},
		Subpasses:    subpasses,
		Dependencies: deps,
	}
}

func dependency(src, dst uint32) vk.SubpassDependency {
	return vk.SubpassDependency{
		SrcSubpass:    src,
		DstSubpass:    dst,
		SrcStageMask:  vk.PipelineStageFlags(vk.PipelineStageColorAttachmentOutputBit),
		DstStageMask:  vk.PipelineStageFlags(vk.PipelineStageFragmentShaderBit),
		SrcAccessMask: vk.AccessFlags(vk.AccessColorAttachmentWriteBit),
		DstAccessMask: vk.AccessFlags(vk.AccessInputAttachmentReadBit),
	}
}

func TestMissingSubpassDependencyIsReportedOnce(t *testing.T) {
	f := newFakeDriver(t)

	_, ok := f.renderPass(writeThenRead())
	assert.False(t, ok)
	require.Equal(t, []Code{CodeMissingSubpassDependency}, f.codes())
	assert.Contains(t, f.messages(CodeMissingSubpassDependency)[0], "subpasses 0 and 1")

	f.clear()
	rp, ok := f.renderPass(writeThenRead(dependency(0, 1)))
	require.True(t, ok)
	f.requireClean()

	dag := f.dev.RenderPassDAG(rp)
	require.Len(t, dag, 2)
	assert.Equal(t, []uint32{1}, dag[0].Next)
	assert.Empty(t, dag[0].Prev)
	assert.Equal(t, []uint32{0}, dag[1].Prev)
	assert.False(t, dag[1].SelfDependency)
}

func TestDependencyThroughAnIntermediateSubpass(t *testing.T) {
	f := newFakeDriver(t)
	subpasses := emptySubpasses(3)
	subpasses[0].ColorAttachments = []vk.AttachmentReference{colorRef(0)}
	subpasses[2].InputAttachments = []vk.AttachmentReference{inputRef(0)}
	info := RenderPassCreateInfo{
		Attachments:  []vk.AttachmentDescription{colorAttachment(vk.AttachmentLoadOpClear, vk.AttachmentStoreOpStore)},
		Subpasses:    subpasses,
		Dependencies: []vk.SubpassDependency{dependency(0, 1), dependency(1, 2)},
	}

	// ordered transitively, but subpass 1 drops the attachment
	_, ok := f.renderPass(info)
	assert.False(t, ok)
	require.Equal(t, []Code{CodeAttachmentNotPreserved}, f.codes())
	assert.Contains(t, f.messages(CodeAttachmentNotPreserved)[0], "subpass 1")

	f.clear()
	info.Subpasses[1].PreserveAttachments = []uint32{0}
	_, ok = f.renderPass(info)
	assert.True(t, ok)
	f.requireClean()
}

func TestDependencyShape(t *testing.T) {
	f := newFakeDriver(t)

	_, ok := f.renderPass(RenderPassCreateInfo{
		Subpasses:    emptySubpasses(2),
		Dependencies: []vk.SubpassDependency{dependency(1, 0)},
	})
	assert.False(t, ok)
	assert.Equal(t, []Code{CodeBackwardDependency}, f.codes())

	f.clear()
	_, ok = f.renderPass(RenderPassCreateInfo{
		Subpasses:    emptySubpasses(1),
		Dependencies: []vk.SubpassDependency{dependency(subpassExternal, subpassExternal), dependency(0, 4)},
	})
	assert.False(t, ok)
	assert.Equal(t, []Code{CodeSelfReferentialExternal, CodeInvalidSubpassIndex}, f.codes())

	f.clear()
	rp, ok := f.renderPass(RenderPassCreateInfo{
		Subpasses:    emptySubpasses(2),
		Dependencies: []vk.SubpassDependency{dependency(subpassExternal, 0), dependency(1, 1)},
	})
	require.True(t, ok)
	f.requireClean()
	dag := f.dev.RenderPassDAG(rp)
	require.Len(t, dag, 2)
	assert.Empty(t, dag[0].Next)
	assert.True(t, dag[1].SelfDependency)
}

func TestAttachmentReferencesAreChecked(t *testing.T) {
	f := newFakeDriver(t)
	subpasses := emptySubpasses(1)
	subpasses[0].ColorAttachments = []vk.AttachmentReference{colorRef(0), colorRef(3)}
	subpasses[0].PreserveAttachments = []uint32{0}

	_, ok := f.renderPass(RenderPassCreateInfo{
		Attachments: []vk.AttachmentDescription{colorAttachment(vk.AttachmentLoadOpLoad, vk.AttachmentStoreOpStore)},
		Subpasses:   subpasses,
	})
	assert.False(t, ok)
	assert.Equal(t, []Code{CodeInvalidAttachmentIndex, CodeInvalidPreserveAttachment}, f.codes())
}

func TestBeginRenderPassRequiresACompatibleFramebuffer(t *testing.T) {
	f := newFakeDriver(t)
	two, ok := f.renderPass(RenderPassCreateInfo{Subpasses: emptySubpasses(2)})
	require.True(t, ok)
	three, ok := f.renderPass(RenderPassCreateInfo{Subpasses: emptySubpasses(3)})
	require.True(t, ok)
	fb := f.framebuffer(two, nil, 64, 64)

	cb := f.commandBuffer(vk.CommandBufferLevelPrimary)
	require.Equal(t, vk.Success, f.begin(cb, 0))
	begin := RenderPassBeginInfo{
		RenderPass:  three,
		Framebuffer: fb,
		RenderArea:  vk.Rect2D{Extent: vk.Extent2D{Width: 64, Height: 64}},
	}
	assert.True(t, f.dev.ValidateCmdBeginRenderPass(cb, begin, vk.SubpassContentsInline))
	require.Equal(t, []Code{CodeRenderPassIncompatible}, f.codes())
	msg := f.messages(CodeRenderPassIncompatible)[0]
	assert.Contains(t, msg, "subpassCount of 2")
	assert.Contains(t, msg, "subpassCount of 3")

	f.clear()
	begin.RenderPass = two
	begin.RenderArea.Extent.Width = 128
	assert.True(t, f.dev.ValidateCmdBeginRenderPass(cb, begin, vk.SubpassContentsInline))
	assert.Equal(t, []Code{CodeFramebufferExtent}, f.codes())
}

func TestSubpassWalk(t *testing.T) {
	f := newFakeDriver(t)
	rp, ok := f.renderPass(RenderPassCreateInfo{Subpasses: emptySubpasses(2)})
	require.True(t, ok)
	fb := f.framebuffer(rp, nil, 16, 16)

	cb := f.commandBuffer(vk.CommandBufferLevelPrimary)
	require.Equal(t, vk.Success, f.begin(cb, 0))
	begin := RenderPassBeginInfo{RenderPass: rp, Framebuffer: fb, RenderArea: vk.Rect2D{Extent: vk.Extent2D{Width: 16, Height: 16}}}
	require.False(t, f.dev.ValidateCmdBeginRenderPass(cb, begin, vk.SubpassContentsInline))
	f.dev.RecordCmdBeginRenderPass(cb, begin, vk.SubpassContentsInline)

	assert.True(t, f.dev.ValidateCmdEndRenderPass(cb))
	assert.Equal(t, ErrorValidationFailed, f.end(cb))
	assert.Equal(t, []Code{CodeSubpassOutOfRange, CodeStillInsideRenderPass}, f.codes())

	f.clear()
	require.False(t, f.dev.ValidateCmdNextSubpass(cb, vk.SubpassContentsInline))
	f.dev.RecordCmdNextSubpass(cb, vk.SubpassContentsInline)
	assert.True(t, f.dev.ValidateCmdNextSubpass(cb, vk.SubpassContentsInline))
	assert.Equal(t, []Code{CodeSubpassOutOfRange}, f.codes())

	f.clear()
	require.False(t, f.dev.ValidateCmdEndRenderPass(cb))
	f.dev.RecordCmdEndRenderPass(cb)
	require.Equal(t, vk.Success, f.end(cb))
	f.requireClean()
}

func TestClearValueCount(t *testing.T) {
	f := newFakeDriver(t)
	_, view := f.colorTarget()
	subpasses := emptySubpasses(1)
	subpasses[0].ColorAttachments = []vk.AttachmentReference{colorRef(0)}
	rp, ok := f.renderPass(RenderPassCreateInfo{
		Attachments: []vk.AttachmentDescription{colorAttachment(vk.AttachmentLoadOpClear, vk.AttachmentStoreOpStore)},
		Subpasses:   subpasses,
	})
	require.True(t, ok)
	fb := f.framebuffer(rp, []ImageView{view}, 16, 16)

	cb := f.commandBuffer(vk.CommandBufferLevelPrimary)
	require.Equal(t, vk.Success, f.begin(cb, 0))
	begin := RenderPassBeginInfo{RenderPass: rp, Framebuffer: fb, RenderArea: vk.Rect2D{Extent: vk.Extent2D{Width: 16, Height: 16}}}

	assert.True(t, f.dev.ValidateCmdBeginRenderPass(cb, begin, vk.SubpassContentsInline))
	assert.Equal(t, []Code{CodeClearValueCount}, f.codes())

	// too many is only a performance warning
	f.clear()
	begin.ClearValueCount = 4
	assert.False(t, f.dev.ValidateCmdBeginRenderPass(cb, begin, vk.SubpassContentsInline))
	assert.Equal(t, []Code{CodeExtraClearValues}, f.codes())

	f.clear()
	begin.ClearValueCount = 1
	assert.False(t, f.dev.ValidateCmdBeginRenderPass(cb, begin, vk.SubpassContentsInline))
	f.requireClean()
}

func TestAliasedFramebufferAttachmentsNeedADependency(t *testing.T) {
	f := newFakeDriver(t)
	img, first := f.colorTarget()
	second := f.imageView(img, vk.FormatR8g8b8a8Unorm)

	// attachment 1 reads what attachment 0 wrote, through the same image
	subpasses := emptySubpasses(2)
	subpasses[0].ColorAttachments = []vk.AttachmentReference{colorRef(0)}
	subpasses[1].InputAttachments = []vk.AttachmentReference{inputRef(1)}
	rp, ok := f.renderPass(RenderPassCreateInfo{
		Attachments: []vk.AttachmentDescription{
			colorAttachment(vk.AttachmentLoadOpClear, vk.AttachmentStoreOpStore),
			colorAttachment(vk.AttachmentLoadOpLoad, vk.AttachmentStoreOpStore),
		},
		Subpasses: subpasses,
	})
	require.True(t, ok)
	f.requireClean()

	info := FramebufferCreateInfo{RenderPass: rp, Attachments: []ImageView{first, second}, Width: 16, Height: 16, Layers: 1}
	assert.True(t, f.dev.ValidateCreateFramebuffer(info))
	assert.Equal(t, []Code{CodeMissingSubpassDependency}, f.codes())

	// distinct images do not alias
	f.clear()
	_, other := f.colorTarget()
	info.Attachments = []ImageView{first, other}
	assert.False(t, f.dev.ValidateCreateFramebuffer(info))
	f.requireClean()
}

func TestBlockedFramebufferReportsAgainOnRetry(t *testing.T) {
	f := newFakeDriver(t)
	img, first := f.colorTarget()
	second := f.imageView(img, vk.FormatR8g8b8a8Unorm)

	subpasses := emptySubpasses(2)
	subpasses[0].ColorAttachments = []vk.AttachmentReference{colorRef(0)}
	subpasses[1].InputAttachments = []vk.AttachmentReference{inputRef(1)}
	rp, ok := f.renderPass(RenderPassCreateInfo{
		Attachments: []vk.AttachmentDescription{
			colorAttachment(vk.AttachmentLoadOpClear, vk.AttachmentStoreOpStore),
			colorAttachment(vk.AttachmentLoadOpLoad, vk.AttachmentStoreOpStore),
		},
		Subpasses: subpasses,
	})
	require.True(t, ok)
	f.requireClean()

	info := FramebufferCreateInfo{RenderPass: rp, Attachments: []ImageView{first, second}, Width: 16, Height: 16, Layers: 1}
	for attempt := 0; attempt < 2; attempt++ {
		assert.True(t, f.dev.ValidateCreateFramebuffer(info), "attempt %d", attempt)
		assert.Equal(t, []Code{CodeMissingSubpassDependency}, f.codes(), "attempt %d", attempt)
		f.clear()
	}
}

func TestImagesSharingMemoryAliasInAFramebuffer(t *testing.T) {
	f := newFakeDriver(t)
	mem := f.allocate(1<<16, memoryTypeDeviceLocal)
	usage := vk.ImageUsageColorAttachmentBit | vk.ImageUsageInputAttachmentBit
	a := f.image(16, 16, vk.FormatR8g8b8a8Unorm, vk.ImageTilingOptimal, usage)
	b := f.image(16, 16, vk.FormatR8g8b8a8Unorm, vk.ImageTilingOptimal, usage)
	require.Equal(t, vk.Success, f.bindImage(a, mem, 0))
	require.Equal(t, vk.Success, f.bindImage(b, mem, 0))
	c := f.image(16, 16, vk.FormatR8g8b8a8Unorm, vk.ImageTilingOptimal, usage)
	require.Equal(t, vk.Success, f.bindImage(c, mem, 2048))

	subpasses := emptySubpasses(2)
	subpasses[0].ColorAttachments = []vk.AttachmentReference{colorRef(0)}
	subpasses[1].InputAttachments = []vk.AttachmentReference{inputRef(1)}
	rp, ok := f.renderPass(RenderPassCreateInfo{
		Attachments: []vk.AttachmentDescription{
			colorAttachment(vk.AttachmentLoadOpClear, vk.AttachmentStoreOpStore),
			colorAttachment(vk.AttachmentLoadOpLoad, vk.AttachmentStoreOpStore),
		},
		Subpasses: subpasses,
	})
	require.True(t, ok)
	f.clear()

	first := f.imageView(a, vk.FormatR8g8b8a8Unorm)
	info := FramebufferCreateInfo{RenderPass: rp, Width: 16, Height: 16, Layers: 1,
		Attachments: []ImageView{first, f.imageView(b, vk.FormatR8g8b8a8Unorm)}}
	assert.True(t, f.dev.ValidateCreateFramebuffer(info))
	assert.Equal(t, []Code{CodeMissingSubpassDependency}, f.codes())

	// 16x16x4 bytes at offset 0 end before offset 2048
	f.clear()
	info.Attachments = []ImageView{first, f.imageView(c, vk.FormatR8g8b8a8Unorm)}
	assert.False(t, f.dev.ValidateCreateFramebuffer(info))
	f.requireClean()
}
