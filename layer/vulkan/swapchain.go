package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcheck/layer/core"
)

type SwapchainCreateInfo struct {
	Format        vk.Format
	Extent        vk.Extent2D
	ImageUsage    vk.ImageUsageFlags
	MinImageCount uint32
}

type swapchainState struct {
	handle   Swapchain
	info     SwapchainCreateInfo
	images   []Image
	acquired map[uint32]bool
}

func (s *swapchainState) acquiredCount() int {
	n := 0
	for _, a := range s.acquired {
		if a {
			n++
		}
	}
	return n
}

type PresentInfo struct {
	WaitSemaphores []Semaphore
	Swapchains     []Swapchain
	ImageIndices   []uint32
}

func (d *Device) RecordCreateSwapchain(result vk.Result, swapchain Swapchain, info SwapchainCreateInfo) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		d.swapchains[swapchain] = &swapchainState{
			handle:   swapchain,
			info:     info,
			acquired: make(map[uint32]bool),
		}
	})
}

// RecordGetSwapchainImages starts tracking the presentable images. They are owned by the
// swapchain and never bound to application memory.
func (d *Device) RecordGetSwapchainImages(result vk.Result, swapchain Swapchain, images []Image) {
	if result != vk.Success && result != vk.Incomplete {
		return
	}
	d.lock.SafeRecord(func() {
		sc, ok := d.swapchains[swapchain]
		if !ok {
			return
		}
		for _, h := range images[min(len(sc.images), len(images)):] {
			img := &imageState{
				handle: h,
				createInfo: ImageCreateInfo{
					ImageType:   vk.ImageType2d,
					Format:      sc.info.Format,
					Extent:      vk.Extent3D{Width: sc.info.Extent.Width, Height: sc.info.Extent.Height, Depth: 1},
					MipLevels:   1,
					ArrayLayers: 1,
					Samples:     vk.SampleCount1Bit,
					Tiling:      vk.ImageTilingOptimal,
					Usage:       sc.info.ImageUsage,
				},
			}
			img.binding = memoryBinding{state: bindingSwapchain, swapchain: swapchain}
			d.images[h] = img
			sc.images = append(sc.images, h)
		}
		core.Logger("device", d.id.String(), "swapchain", uint64(swapchain), "count", len(sc.images)).Debug("swapchain images tracked")
	})
}

func (d *Device) ValidateDestroySwapchain(swapchain Swapchain) bool {
	return d.lock.SafeCall(func() bool {
		if swapchain == 0 {
			return false
		}
		sc, ok := d.swapchains[swapchain]
		if !ok {
			return d.invalidObject(Ref(swapchain), "vkDestroySwapchainKHR")
		}
		skip := false
		for _, h := range sc.images {
			if img, ok := d.images[h]; ok {
				skip = d.validateObjectNotInUse(&img.baseNode, Ref(h), "vkDestroySwapchainKHR") || skip
			}
		}
		return skip
	})
}

func (d *Device) RecordDestroySwapchain(swapchain Swapchain) {
	d.lock.SafeRecord(func() {
		sc, ok := d.swapchains[swapchain]
		if !ok {
			return
		}
		for _, h := range sc.images {
			if img, ok := d.images[h]; ok {
				d.invalidateCommandBuffers(&img.baseNode, Ref(h), invalidatedDestroyed)
				delete(d.images, h)
			}
		}
		delete(d.swapchains, swapchain)
	})
}

func (d *Device) ValidateAcquireNextImage(swapchain Swapchain, semaphore Semaphore, fence Fence) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkAcquireNextImageKHR"
		sc, ok := d.swapchains[swapchain]
		if !ok {
			return d.invalidObject(Ref(swapchain), api)
		}
		skip := false
		if semaphore != 0 {
			s, ok := d.semaphores[semaphore]
			switch {
			case !ok:
				skip = d.invalidObject(Ref(semaphore), api) || skip
			case s.signaled:
				skip = d.logError(Ref(semaphore), CodeSemaphoreAlreadySignaled,
					"%s: Semaphore must not be currently signaled or in a wait state.", api) || skip
			}
		}
		skip = d.validateFenceForSubmit(fence, api) || skip

		// images the application may hold at once without blocking forever
		if len(sc.images) > 0 {
			limit := len(sc.images) - int(sc.info.MinImageCount) + 1
			if limit < 1 {
				limit = 1
			}
			if sc.acquiredCount() >= limit {
				skip = d.logError(Ref(swapchain), CodeTooManyImagesAcquired,
					"%s: Application has already acquired the maximum number of images (0x%x).", api, sc.acquiredCount()) || skip
			}
		}
		return skip
	})
}

func (d *Device) RecordAcquireNextImage(result vk.Result, swapchain Swapchain, semaphore Semaphore, fence Fence, index uint32) {
	if result != vk.Success && result != vk.Suboptimal {
		return
	}
	d.lock.SafeRecord(func() {
		sc, ok := d.swapchains[swapchain]
		if !ok {
			return
		}
		sc.acquired[index] = true
		if s, ok := d.semaphores[semaphore]; ok {
			s.signaled = true
			s.signaler = nil
		}
		if f, ok := d.fences[fence]; ok {
			f.state = fenceRetired
			f.signaler = nil
		}
	})
}

func (d *Device) ValidateQueuePresent(queue Queue, info PresentInfo) bool {
	return d.lock.SafeCall(func() bool {
		const api = "vkQueuePresentKHR"
		if _, ok := d.queues[queue]; !ok {
			return d.invalidObject(Ref(queue), api)
		}
		skip := false
		for _, h := range info.WaitSemaphores {
			s, ok := d.semaphores[h]
			if !ok {
				skip = d.invalidObject(Ref(h), api) || skip
				continue
			}
			if !s.signaled {
				skip = d.logError(Ref(h), CodeSemaphoreNeverSignaled,
					"%s: Queue 0x%x is waiting on semaphore 0x%x that has no way to be signaled.",
					api, uint64(queue), uint64(h)) || skip
			}
		}
		for i, h := range info.Swapchains {
			sc, ok := d.swapchains[h]
			if !ok {
				skip = d.invalidObject(Ref(h), api) || skip
				continue
			}
			if i >= len(info.ImageIndices) {
				break
			}
			index := info.ImageIndices[i]
			if index >= uint32(len(sc.images)) {
				skip = d.logError(Ref(h), CodeSwapchainImageIndex,
					"%s: Swapchain image index too large (%d). There are only %d images in this swapchain.",
					api, index, len(sc.images)) || skip
				continue
			}
			if !sc.acquired[index] {
				skip = d.logError(Ref(h), CodeImageNotAcquired,
					"%s: Swapchain image index %d has not been acquired.", api, index) || skip
			}
		}
		return skip
	})
}

func (d *Device) RecordQueuePresent(result vk.Result, queue Queue, info PresentInfo) {
	if result != vk.Success && result != vk.Suboptimal {
		return
	}
	d.lock.SafeRecord(func() {
		for _, h := range info.WaitSemaphores {
			if s, ok := d.semaphores[h]; ok {
				s.signaled = false
				s.signaler = nil
			}
		}
		for i, h := range info.Swapchains {
			sc, ok := d.swapchains[h]
			if !ok || i >= len(info.ImageIndices) {
				continue
			}
			index := info.ImageIndices[i]
			sc.acquired[index] = false
			if index < uint32(len(sc.images)) {
				// the presentation engine owns the contents again
				d.setContentsValid(Ref(sc.images[index]), false)
			}
		}
	})
}
