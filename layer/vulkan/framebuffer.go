package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcheck/layer/math"
)

type FramebufferCreateInfo struct {
	RenderPass  RenderPass
	Attachments []ImageView
	Width       uint32
	Height      uint32
	Layers      uint32
}

type framebufferState struct {
	baseNode
	handle     Framebuffer
	createInfo FramebufferCreateInfo
	renderPass *renderPassState
}

func levelSpan(r vk.ImageSubresourceRange, total uint32) (uint32, uint32) {
	if r.LevelCount == remainingLevels {
		return r.BaseMipLevel, total - r.BaseMipLevel
	}
	return r.BaseMipLevel, r.LevelCount
}

func layerSpan(r vk.ImageSubresourceRange, total uint32) (uint32, uint32) {
	if r.LayerCount == remainingLevels {
		return r.BaseArrayLayer, total - r.BaseArrayLayer
	}
	return r.BaseArrayLayer, r.LayerCount
}

/**
 * @brief Two framebuffer attachments alias when they are the same view, views of
 * overlapping subresources of one image, or images bound to overlapping memory.
 */
func (d *Device) viewsAlias(a, b ImageView) bool {
	if a == b {
		return true
	}
	va, ia := d.viewImage(a)
	vb, ib := d.viewImage(b)
	if va == nil || vb == nil || ia == nil || ib == nil {
		return false
	}
	if ia == ib {
		la, lac := levelSpan(va.createInfo.SubresourceRange, ia.createInfo.MipLevels)
		lb, lbc := levelSpan(vb.createInfo.SubresourceRange, ib.createInfo.MipLevels)
		ya, yac := layerSpan(va.createInfo.SubresourceRange, ia.createInfo.ArrayLayers)
		yb, ybc := layerSpan(vb.createInfo.SubresourceRange, ib.createInfo.ArrayLayers)
		return math.SpansOverlap(la, lac, lb, lbc) && math.SpansOverlap(ya, yac, yb, ybc)
	}
	ba, bb := ia.binding, ib.binding
	if ba.state != bindingBound || bb.state != bindingBound || ba.mem != bb.mem {
		return false
	}
	return math.SpansOverlap(ba.offset, ba.size, bb.offset, bb.size)
}

func (d *Device) framebufferAliases(views []ImageView) ([][]uint32, bool) {
	aliases := make([][]uint32, len(views))
	found := false
	for i := range views {
		for j := i + 1; j < len(views); j++ {
			if d.viewsAlias(views[i], views[j]) {
				aliases[i] = append(aliases[i], uint32(j))
				aliases[j] = append(aliases[j], uint32(i))
				found = true
			}
		}
	}
	return aliases, found
}

// attachmentUsage returns the image usage each attachment of the render pass needs.
func attachmentUsage(info *RenderPassCreateInfo) []vk.ImageUsageFlags {
	out := make([]vk.ImageUsageFlags, len(info.Attachments))
	set := func(a uint32, u vk.ImageUsageFlagBits) {
		if a < uint32(len(out)) {
			out[a] |= vk.ImageUsageFlags(u)
		}
	}
	for i := range info.Subpasses {
		sp := &info.Subpasses[i]
		for _, r := range sp.InputAttachments {
			set(r.Attachment, vk.ImageUsageInputAttachmentBit)
		}
		for _, r := range sp.ColorAttachments {
			set(r.Attachment, vk.ImageUsageColorAttachmentBit)
		}
		for _, r := range sp.ResolveAttachments {
			set(r.Attachment, vk.ImageUsageColorAttachmentBit)
		}
		if sp.DepthStencilAttachment != nil {
			set(sp.DepthStencilAttachment.Attachment, vk.ImageUsageDepthStencilAttachmentBit)
		}
	}
	return out
}

func (d *Device) ValidateCreateFramebuffer(info FramebufferCreateInfo) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkCreateFramebuffer"
		rp, ok := d.renderPasses[info.RenderPass]
		if !ok {
			return d.invalidObject(Ref(info.RenderPass), api)
		}
		ref := Ref(info.RenderPass)
		if len(info.Attachments) != len(rp.createInfo.Attachments) {
			return d.logError(ref, CodeFramebufferAttachmentCount,
				"%s: attachmentCount of %d does not match attachmentCount of %d of renderPass (0x%x) being used to create Framebuffer.",
				api, len(info.Attachments), len(rp.createInfo.Attachments), uint64(info.RenderPass))
		}

		skip := false
		usage := attachmentUsage(&rp.createInfo)
		for i, view := range info.Attachments {
			v, img := d.viewImage(view)
			if v == nil {
				skip = d.invalidObject(Ref(view), api) || skip
				continue
			}
			desc := rp.createInfo.Attachments[i]
			if v.createInfo.Format != desc.Format {
				skip = d.logError(Ref(view), CodeFramebufferAttachmentMismatch,
					"%s: pAttachments[%d] has format of %d that does not match the format of %d used by the corresponding attachment for renderPass (0x%x).",
					api, i, v.createInfo.Format, desc.Format, uint64(info.RenderPass)) || skip
			}
			if desc.Samples != 0 && v.samples != desc.Samples {
				skip = d.logError(Ref(view), CodeFramebufferAttachmentMismatch,
					"%s: pAttachments[%d] has %d samples that do not match the %d samples used by the corresponding attachment for renderPass (0x%x).",
					api, i, v.samples, desc.Samples, uint64(info.RenderPass)) || skip
			}
			if img == nil {
				continue
			}
			_, levels := levelSpan(v.createInfo.SubresourceRange, img.createInfo.MipLevels)
			if levels != 1 {
				skip = d.logError(Ref(view), CodeFramebufferAttachmentMismatch,
					"%s: pAttachments[%d] has mip levelCount of %d but only a single mip level (levelCount == 1) is allowed when creating a Framebuffer.",
					api, i, levels) || skip
			}
			if need := usage[i]; img.createInfo.Usage&need != need {
				skip = d.logError(Ref(view), CodeFramebufferUsage,
					"%s: pAttachments[%d] image usage 0x%x lacks 0x%x required by its use in renderPass (0x%x).",
					api, i, img.createInfo.Usage, need, uint64(info.RenderPass)) || skip
			}
			base := v.createInfo.SubresourceRange.BaseMipLevel
			width := math.Max(img.createInfo.Extent.Width>>base, 1)
			height := math.Max(img.createInfo.Extent.Height>>base, 1)
			_, layers := layerSpan(v.createInfo.SubresourceRange, img.createInfo.ArrayLayers)
			if width < info.Width || height < info.Height || layers < info.Layers {
				skip = d.logError(Ref(view), CodeFramebufferExtent,
					"%s: pAttachments[%d] mip level %d has dimensions (%d,%d,%d) smaller than the corresponding framebuffer dimensions (%d,%d,%d).",
					api, i, base, width, height, layers, info.Width, info.Height, info.Layers) || skip
			}
		}

		if aliases, found := d.framebufferAliases(info.Attachments); found {
			skip = d.validateDependencies(ref, api, rp, aliases, true) || skip
		}
		return skip
	})
}

func (d *Device) RecordCreateFramebuffer(result vk.Result, framebuffer Framebuffer, info FramebufferCreateInfo) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		info.Attachments = append([]ImageView(nil), info.Attachments...)
		d.framebuffers[framebuffer] = &framebufferState{
			handle:     framebuffer,
			createInfo: info,
			renderPass: d.renderPasses[info.RenderPass],
		}
	})
}

func (d *Device) ValidateDestroyFramebuffer(framebuffer Framebuffer) bool {
	return d.lock.SafeCall(func() bool {
		if framebuffer == 0 {
			return false
		}
		fb, ok := d.framebuffers[framebuffer]
		if !ok {
			return d.invalidObject(Ref(framebuffer), "vkDestroyFramebuffer")
		}
		return d.validateObjectNotInUse(&fb.baseNode, Ref(framebuffer), "vkDestroyFramebuffer")
	})
}

func (d *Device) RecordDestroyFramebuffer(framebuffer Framebuffer) {
	d.lock.SafeRecord(func() {
		if fb, ok := d.framebuffers[framebuffer]; ok {
			d.invalidateCommandBuffers(&fb.baseNode, Ref(framebuffer), invalidatedDestroyed)
			delete(d.framebuffers, framebuffer)
		}
	})
}
