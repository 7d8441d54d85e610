package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcheck/layer/math"
)

const (
	// VK_IMAGE_CREATE_ALIAS_BIT
	imageCreateAliasBit = 0x400
	// VK_REMAINING_MIP_LEVELS and VK_REMAINING_ARRAY_LAYERS
	remainingLevels = ^uint32(0)
)

type BufferCreateInfo struct {
	Flags       vk.BufferCreateFlags
	Size        uint64
	Usage       vk.BufferUsageFlags
	SharingMode vk.SharingMode
}

type bufferState struct {
	resourceState
	handle     Buffer
	createInfo BufferCreateInfo
}

type ImageCreateInfo struct {
	Flags       vk.ImageCreateFlags
	ImageType   vk.ImageType
	Format      vk.Format
	Extent      vk.Extent3D
	MipLevels   uint32
	ArrayLayers uint32
	Samples     vk.SampleCountFlagBits
	Tiling      vk.ImageTiling
	Usage       vk.ImageUsageFlags
}

type imageState struct {
	resourceState
	handle     Image
	createInfo ImageCreateInfo
}

func (img *imageState) linear() bool {
	return img.createInfo.Tiling == vk.ImageTilingLinear
}

type BufferViewCreateInfo struct {
	Buffer Buffer
	Format vk.Format
	Offset uint64
	Range  uint64
}

type bufferViewState struct {
	baseNode
	handle     BufferView
	createInfo BufferViewCreateInfo
}

type ImageViewCreateInfo struct {
	Image            Image
	ViewType         vk.ImageViewType
	Format           vk.Format
	SubresourceRange vk.ImageSubresourceRange
}

type imageViewState struct {
	baseNode
	handle     ImageView
	createInfo ImageViewCreateInfo
	// copied from the image so draw checks survive the image being destroyed
	samples vk.SampleCountFlagBits
}

type samplerState struct {
	baseNode
	handle Sampler
}

// defaultRequirements stands in until the application queries the real ones.
func defaultRequirements(size uint64) vk.MemoryRequirements {
	return vk.MemoryRequirements{
		Size:           vk.DeviceSize(size),
		Alignment:      1,
		MemoryTypeBits: ^uint32(0),
	}
}

// ============================================================================================
// Buffers
// ============================================================================================

func (d *Device) ValidateCreateBuffer(info BufferCreateInfo) bool {
	return d.lock.SafeCall(func() bool {
		if info.Size == 0 {
			return d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeInvalidUsage,
				"vkCreateBuffer: size must be greater than 0.")
		}
		if info.Usage == 0 {
			return d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeInvalidUsage,
				"vkCreateBuffer: usage must not be 0.")
		}
		return false
	})
}

func (d *Device) RecordCreateBuffer(result vk.Result, buffer Buffer, info BufferCreateInfo) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		b := &bufferState{handle: buffer, createInfo: info}
		b.requirements = defaultRequirements(info.Size)
		if info.Flags&vk.BufferCreateFlags(vk.BufferCreateSparseBindingBit) != 0 {
			b.binding.state = bindingSparse
		}
		d.buffers[buffer] = b
	})
}

func (d *Device) RecordGetBufferMemoryRequirements(buffer Buffer, req vk.MemoryRequirements) {
	d.lock.SafeRecord(func() {
		if b, ok := d.buffers[buffer]; ok {
			b.requirementsQueried = true
			b.requirements = req
		}
	})
}

type offsetLimit struct {
	name      string
	alignment uint64
}

// bufferOffsetAlignments lists the device limits that apply to a buffer of the given usage.
func (d *Device) bufferOffsetAlignments(usage vk.BufferUsageFlags) []offsetLimit {
	var out []offsetLimit
	texel := vk.BufferUsageFlags(vk.BufferUsageUniformTexelBufferBit | vk.BufferUsageStorageTexelBufferBit)
	if usage&texel != 0 {
		out = append(out, offsetLimit{"minTexelBufferOffsetAlignment", uint64(d.limits.MinTexelBufferOffsetAlignment)})
	}
	if usage&vk.BufferUsageFlags(vk.BufferUsageUniformBufferBit) != 0 {
		out = append(out, offsetLimit{"minUniformBufferOffsetAlignment", uint64(d.limits.MinUniformBufferOffsetAlignment)})
	}
	if usage&vk.BufferUsageFlags(vk.BufferUsageStorageBufferBit) != 0 {
		out = append(out, offsetLimit{"minStorageBufferOffsetAlignment", uint64(d.limits.MinStorageBufferOffsetAlignment)})
	}
	return out
}

func (d *Device) ValidateBindBufferMemory(buffer Buffer, mem DeviceMemory, offset uint64) bool {
	return d.lock.SafeCall(func() bool {
		b, ok := d.buffers[buffer]
		if !ok {
			return d.invalidObject(Ref(buffer), "vkBindBufferMemory")
		}
		skip := d.validateBindMemory(Ref(buffer), &b.resourceState, mem, offset, "vkBindBufferMemory")
		for _, a := range d.bufferOffsetAlignments(b.createInfo.Usage) {
			if !math.IsAligned(offset, a.alignment) {
				skip = d.logError(Ref(buffer), CodeMisalignedOffset,
					"vkBindBufferMemory: memoryOffset 0x%x must be a multiple of device limit %s 0x%x.",
					offset, a.name, a.alignment) || skip
			}
		}
		return skip
	})
}

func (d *Device) RecordBindBufferMemory(result vk.Result, buffer Buffer, mem DeviceMemory, offset uint64) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		if b, ok := d.buffers[buffer]; ok {
			d.recordBindMemory(Ref(buffer), &b.resourceState, mem, offset, true)
		}
	})
}

func (d *Device) ValidateDestroyBuffer(buffer Buffer) bool {
	return d.lock.SafeCall(func() bool {
		if buffer == 0 {
			return false
		}
		b, ok := d.buffers[buffer]
		if !ok {
			return d.invalidObject(Ref(buffer), "vkDestroyBuffer")
		}
		return d.validateObjectNotInUse(&b.baseNode, Ref(buffer), "vkDestroyBuffer")
	})
}

func (d *Device) RecordDestroyBuffer(buffer Buffer) {
	d.lock.SafeRecord(func() {
		b, ok := d.buffers[buffer]
		if !ok {
			return
		}
		d.releaseResource(Ref(buffer), &b.resourceState)
		delete(d.buffers, buffer)
	})
}

// releaseResource drops the bound range of a buffer or image and invalidates its users.
func (d *Device) releaseResource(ref ObjectRef, res *resourceState) {
	if res.binding.state == bindingBound {
		if m, ok := d.memories[res.binding.mem]; ok {
			d.removeRange(m, res.binding.rangeID)
		}
	}
	d.invalidateCommandBuffers(&res.baseNode, ref, invalidatedDestroyed)
}

// ============================================================================================
// Images
// ============================================================================================

func (d *Device) ValidateCreateImage(info ImageCreateInfo) bool {
	return d.lock.SafeCall(func() bool {
		skip := false
		if info.Extent.Width == 0 || info.Extent.Height == 0 || info.Extent.Depth == 0 {
			skip = d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeInvalidUsage,
				"vkCreateImage: extent (%d, %d, %d) must not have a zero dimension.",
				info.Extent.Width, info.Extent.Height, info.Extent.Depth) || skip
		}
		if info.MipLevels == 0 || info.ArrayLayers == 0 {
			skip = d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeInvalidUsage,
				"vkCreateImage: mipLevels (%d) and arrayLayers (%d) must be greater than 0.",
				info.MipLevels, info.ArrayLayers) || skip
		}
		return skip
	})
}

func (d *Device) RecordCreateImage(result vk.Result, image Image, info ImageCreateInfo) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		img := &imageState{handle: image, createInfo: info}
		texels := uint64(info.Extent.Width) * uint64(info.Extent.Height) * uint64(info.Extent.Depth) * uint64(info.ArrayLayers)
		img.requirements = defaultRequirements(texels * uint64(formatSize(info.Format)))
		img.aliasable = info.Flags&vk.ImageCreateFlags(imageCreateAliasBit) != 0
		if info.Flags&vk.ImageCreateFlags(vk.ImageCreateSparseBindingBit) != 0 {
			img.binding.state = bindingSparse
		}
		d.images[image] = img
	})
}

func (d *Device) RecordGetImageMemoryRequirements(image Image, req vk.MemoryRequirements) {
	d.lock.SafeRecord(func() {
		if img, ok := d.images[image]; ok {
			img.requirementsQueried = true
			img.requirements = req
		}
	})
}

func (d *Device) ValidateBindImageMemory(image Image, mem DeviceMemory, offset uint64) bool {
	return d.lock.SafeCall(func() bool {
		img, ok := d.images[image]
		if !ok {
			return d.invalidObject(Ref(image), "vkBindImageMemory")
		}
		return d.validateBindMemory(Ref(image), &img.resourceState, mem, offset, "vkBindImageMemory")
	})
}

func (d *Device) RecordBindImageMemory(result vk.Result, image Image, mem DeviceMemory, offset uint64) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		if img, ok := d.images[image]; ok {
			d.recordBindMemory(Ref(image), &img.resourceState, mem, offset, img.linear())
		}
	})
}

func (d *Device) ValidateDestroyImage(image Image) bool {
	return d.lock.SafeCall(func() bool {
		if image == 0 {
			return false
		}
		img, ok := d.images[image]
		if !ok {
			return d.invalidObject(Ref(image), "vkDestroyImage")
		}
		if img.binding.state == bindingSwapchain {
			return d.logError(Ref(image), CodeInvalidUsage,
				"vkDestroyImage: %s is owned by swapchain 0x%x and is destroyed with it.", Ref(image), uint64(img.binding.swapchain))
		}
		return d.validateObjectNotInUse(&img.baseNode, Ref(image), "vkDestroyImage")
	})
}

func (d *Device) RecordDestroyImage(image Image) {
	d.lock.SafeRecord(func() {
		img, ok := d.images[image]
		if !ok {
			return
		}
		d.releaseResource(Ref(image), &img.resourceState)
		delete(d.images, image)
	})
}

// ============================================================================================
// Views and samplers
// ============================================================================================

func (d *Device) ValidateCreateBufferView(info BufferViewCreateInfo) bool {
	return d.lock.SafeCall(func() bool {
		b, ok := d.buffers[info.Buffer]
		if !ok {
			return d.invalidObject(Ref(info.Buffer), "vkCreateBufferView")
		}
		skip := d.verifyBoundMemory(Ref(info.Buffer), "vkCreateBufferView")
		texel := vk.BufferUsageFlags(vk.BufferUsageUniformTexelBufferBit | vk.BufferUsageStorageTexelBufferBit)
		if b.createInfo.Usage&texel == 0 {
			skip = d.logError(Ref(info.Buffer), CodeInvalidUsage,
				"vkCreateBufferView: %s must have a texel buffer usage bit set.", Ref(info.Buffer)) || skip
		}
		if info.Offset >= b.createInfo.Size {
			skip = d.logError(Ref(info.Buffer), CodeOffsetOutOfRange,
				"vkCreateBufferView: offset 0x%x must be less than the buffer size 0x%x.", info.Offset, b.createInfo.Size) || skip
		} else if info.Range != WholeSize && info.Offset+info.Range > b.createInfo.Size {
			skip = d.logError(Ref(info.Buffer), CodeOffsetOutOfRange,
				"vkCreateBufferView: offset 0x%x plus range 0x%x exceeds the buffer size 0x%x.",
				info.Offset, info.Range, b.createInfo.Size) || skip
		}
		if !math.IsAligned(info.Offset, uint64(d.limits.MinTexelBufferOffsetAlignment)) {
			skip = d.logError(Ref(info.Buffer), CodeMisalignedOffset,
				"vkCreateBufferView: offset 0x%x must be a multiple of minTexelBufferOffsetAlignment 0x%x.",
				info.Offset, uint64(d.limits.MinTexelBufferOffsetAlignment)) || skip
		}
		return skip
	})
}

func (d *Device) RecordCreateBufferView(result vk.Result, view BufferView, info BufferViewCreateInfo) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		d.bufferViews[view] = &bufferViewState{handle: view, createInfo: info}
	})
}

func (d *Device) ValidateDestroyBufferView(view BufferView) bool {
	return d.lock.SafeCall(func() bool {
		if view == 0 {
			return false
		}
		v, ok := d.bufferViews[view]
		if !ok {
			return d.invalidObject(Ref(view), "vkDestroyBufferView")
		}
		return d.validateObjectNotInUse(&v.baseNode, Ref(view), "vkDestroyBufferView")
	})
}

func (d *Device) RecordDestroyBufferView(view BufferView) {
	d.lock.SafeRecord(func() {
		if v, ok := d.bufferViews[view]; ok {
			d.invalidateCommandBuffers(&v.baseNode, Ref(view), invalidatedDestroyed)
			delete(d.bufferViews, view)
		}
	})
}

func (d *Device) ValidateCreateImageView(info ImageViewCreateInfo) bool {
	return d.lock.SafeCall(func() bool {
		img, ok := d.images[info.Image]
		if !ok {
			return d.invalidObject(Ref(info.Image), "vkCreateImageView")
		}
		skip := false
		if img.binding.state != bindingSwapchain && img.binding.state != bindingSparse {
			skip = d.verifyBoundMemory(Ref(info.Image), "vkCreateImageView")
		}
		r := info.SubresourceRange
		if r.LevelCount != remainingLevels && r.BaseMipLevel+r.LevelCount > img.createInfo.MipLevels {
			skip = d.logError(Ref(info.Image), CodeInvalidUsage,
				"vkCreateImageView: mip levels [%d, %d) exceed the %d levels of %s.",
				r.BaseMipLevel, r.BaseMipLevel+r.LevelCount, img.createInfo.MipLevels, Ref(info.Image)) || skip
		}
		if r.LayerCount != remainingLevels && r.BaseArrayLayer+r.LayerCount > img.createInfo.ArrayLayers {
			skip = d.logError(Ref(info.Image), CodeInvalidUsage,
				"vkCreateImageView: array layers [%d, %d) exceed the %d layers of %s.",
				r.BaseArrayLayer, r.BaseArrayLayer+r.LayerCount, img.createInfo.ArrayLayers, Ref(info.Image)) || skip
		}
		return skip
	})
}

func (d *Device) RecordCreateImageView(result vk.Result, view ImageView, info ImageViewCreateInfo) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		v := &imageViewState{handle: view, createInfo: info, samples: vk.SampleCount1Bit}
		if img, ok := d.images[info.Image]; ok && img.createInfo.Samples != 0 {
			v.samples = img.createInfo.Samples
		}
		d.imageViews[view] = v
	})
}

func (d *Device) ValidateDestroyImageView(view ImageView) bool {
	return d.lock.SafeCall(func() bool {
		if view == 0 {
			return false
		}
		v, ok := d.imageViews[view]
		if !ok {
			return d.invalidObject(Ref(view), "vkDestroyImageView")
		}
		return d.validateObjectNotInUse(&v.baseNode, Ref(view), "vkDestroyImageView")
	})
}

func (d *Device) RecordDestroyImageView(view ImageView) {
	d.lock.SafeRecord(func() {
		if v, ok := d.imageViews[view]; ok {
			d.invalidateCommandBuffers(&v.baseNode, Ref(view), invalidatedDestroyed)
			delete(d.imageViews, view)
		}
	})
}

func (d *Device) RecordCreateSampler(result vk.Result, sampler Sampler) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		d.samplers[sampler] = &samplerState{handle: sampler}
	})
}

func (d *Device) ValidateDestroySampler(sampler Sampler) bool {
	return d.lock.SafeCall(func() bool {
		if sampler == 0 {
			return false
		}
		s, ok := d.samplers[sampler]
		if !ok {
			return d.invalidObject(Ref(sampler), "vkDestroySampler")
		}
		return d.validateObjectNotInUse(&s.baseNode, Ref(sampler), "vkDestroySampler")
	})
}

func (d *Device) RecordDestroySampler(sampler Sampler) {
	d.lock.SafeRecord(func() {
		if s, ok := d.samplers[sampler]; ok {
			d.invalidateCommandBuffers(&s.baseNode, Ref(sampler), invalidatedDestroyed)
			delete(d.samplers, sampler)
		}
	})
}

// viewImage resolves an image view to its image, nil when either is gone.
func (d *Device) viewImage(view ImageView) (*imageViewState, *imageState) {
	v, ok := d.imageViews[view]
	if !ok {
		return nil, nil
	}
	return v, d.images[v.createInfo.Image]
}
