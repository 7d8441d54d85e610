package vulkan

import (
	"sort"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcheck/layer/core"
	"github.com/spaghettifunk/vkcheck/layer/math"
)

type bindingState int

const (
	bindingUnbound bindingState = iota
	bindingBound
	// the memory the resource was bound to has been freed
	bindingFreed
	// owned by the presentation engine
	bindingSwapchain
	bindingSparse
)

type memoryBinding struct {
	state     bindingState
	mem       DeviceMemory
	offset    uint64
	size      uint64
	rangeID   uint64
	swapchain Swapchain
}

// resourceState is the part of buffer and image state that deals with memory.
type resourceState struct {
	baseNode
	binding             memoryBinding
	requirementsQueried bool
	requirements        vk.MemoryRequirements
	// created with permission to alias other resources
	aliasable bool
	sparse    sparseBindings
	// contents validity of swapchain images, which have no bound range
	valid bool
}

// boundRange is a span of an allocation used by one resource. end is inclusive.
type boundRange struct {
	id        uint64
	owner     ObjectRef
	start     uint64
	end       uint64
	linear    bool
	aliasable bool
	valid     bool
	aliases   map[uint64]struct{}
}

type memoryState struct {
	baseNode
	handle    DeviceMemory
	size      uint64
	typeIndex uint32
	// arena of bound ranges keyed by range id
	ranges  map[uint64]*boundRange
	mapping *mappedRange
}

// sortedRanges returns the ranges in id order so diagnostics come out deterministically.
func (m *memoryState) sortedRanges() []*boundRange {
	out := make([]*boundRange, 0, len(m.ranges))
	for _, r := range m.ranges {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

type MemoryAllocateInfo struct {
	AllocationSize  uint64
	MemoryTypeIndex uint32
}

func (d *Device) ValidateAllocateMemory(info MemoryAllocateInfo) bool {
	return d.lock.SafeCall(func() bool {
		if int(info.MemoryTypeIndex) >= len(d.memoryTypes) {
			return d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeInvalidMemoryType,
				"vkAllocateMemory: memoryTypeIndex %d is not less than the device memory type count %d",
				info.MemoryTypeIndex, len(d.memoryTypes))
		}
		return false
	})
}

func (d *Device) RecordAllocateMemory(result vk.Result, mem DeviceMemory, info MemoryAllocateInfo) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		d.memories[mem] = &memoryState{
			handle:    mem,
			size:      info.AllocationSize,
			typeIndex: info.MemoryTypeIndex,
			ranges:    make(map[uint64]*boundRange),
		}
	})
}

func (d *Device) ValidateFreeMemory(mem DeviceMemory) bool {
	return d.lock.SafeCall(func() bool {
		if mem == 0 {
			return false
		}
		m, ok := d.memories[mem]
		if !ok {
			return d.invalidObject(Ref(mem), "vkFreeMemory")
		}
		skip := d.validateObjectNotInUse(&m.baseNode, Ref(mem), "vkFreeMemory")
		for _, r := range m.sortedRanges() {
			if n := d.node(r.owner); n != nil && n.inUse > 0 {
				skip = d.logError(Ref(mem), CodeObjectInUse,
					"Cannot free memory 0x%x while %s bound to it is in use by a command buffer.", uint64(mem), r.owner) || skip
			}
		}
		return skip
	})
}

// RecordFreeMemory unbinds everything bound to mem. Those resources keep a freed binding so
// a later use can be told apart from one that was never bound.
func (d *Device) RecordFreeMemory(mem DeviceMemory) {
	d.lock.SafeRecord(func() {
		m, ok := d.memories[mem]
		if !ok {
			return
		}
		for _, r := range m.sortedRanges() {
			if res := d.resource(r.owner); res != nil {
				res.binding.state = bindingFreed
				res.binding.rangeID = 0
			}
			d.removeRange(m, r.id)
		}
		m.mapping = nil
		d.invalidateCommandBuffers(&m.baseNode, Ref(mem), invalidatedDestroyed)
		delete(d.memories, mem)
	})
}

// resource returns the memory part of a buffer or image.
func (d *Device) resource(ref ObjectRef) *resourceState {
	switch ref.Kind {
	case ObjectKindBuffer:
		if b, ok := d.buffers[Buffer(ref.Handle)]; ok {
			return &b.resourceState
		}
	case ObjectKindImage:
		if img, ok := d.images[Image(ref.Handle)]; ok {
			return &img.resourceState
		}
	}
	return nil
}

func (d *Device) boundMemoryState(ref ObjectRef) *memoryState {
	res := d.resource(ref)
	if res == nil || res.binding.state != bindingBound {
		return nil
	}
	return d.memories[res.binding.mem]
}

/**
 * @brief Checks shared by vkBindBufferMemory and vkBindImageMemory.
 * @returns true when the bind must be skipped.
 */
func (d *Device) validateBindMemory(ref ObjectRef, res *resourceState, mem DeviceMemory, offset uint64, api string) bool {
	skip := false

	switch res.binding.state {
	case bindingBound, bindingFreed:
		skip = d.logError(ref, CodeAlreadyBound,
			"%s: %s is already bound to memory object 0x%x. Rebinding is not allowed.", api, ref, uint64(res.binding.mem)) || skip
	case bindingSparse:
		skip = d.logError(ref, CodeAlreadyBound,
			"%s: %s was created with sparse memory flags and must be bound with vkQueueBindSparse.", api, ref) || skip
	case bindingSwapchain:
		skip = d.logError(ref, CodeSwapchainImageNotBindable,
			"%s: %s is owned by swapchain 0x%x and cannot be bound to memory.", api, ref, uint64(res.binding.swapchain)) || skip
	}

	m, ok := d.memories[mem]
	if !ok {
		return d.invalidObject(Ref(mem), api) || skip
	}

	if !res.requirementsQueried {
		skip = d.logWarning(ref, CodeRequirementsNotQueried,
			"%s: binding memory to %s but the memory requirements were never queried.", api, ref) || skip
	}

	req := res.requirements
	if offset >= m.size {
		skip = d.logError(ref, CodeOffsetOutOfRange,
			"%s: attempting to bind memory 0x%x to %s at offset 0x%x which is not less than the allocation size 0x%x.",
			api, uint64(mem), ref, offset, m.size) || skip
	} else if uint64(req.Size) > m.size-offset {
		skip = d.logError(ref, CodeSizeExceedsAllocation,
			"%s: memory size minus offset (0x%x) must be at least the size required by %s (0x%x).",
			api, m.size-offset, ref, uint64(req.Size)) || skip
	}
	if !math.IsAligned(offset, uint64(req.Alignment)) {
		skip = d.logError(ref, CodeMisalignedOffset,
			"%s: memoryOffset 0x%x must be an integer multiple of the alignment 0x%x required by %s.",
			api, offset, uint64(req.Alignment), ref) || skip
	}
	if res.requirementsQueried && req.MemoryTypeBits&(1<<m.typeIndex) == 0 {
		skip = d.logError(ref, CodeMemoryTypeMismatch,
			"%s: memory type %d of 0x%x is not one of the types allowed by %s (memoryTypeBits 0x%x).",
			api, m.typeIndex, uint64(mem), ref, req.MemoryTypeBits) || skip
	}
	return skip
}

func (d *Device) recordBindMemory(ref ObjectRef, res *resourceState, mem DeviceMemory, offset uint64, linear bool) {
	m, ok := d.memories[mem]
	if !ok {
		return
	}
	size := uint64(res.requirements.Size)
	r := d.insertRange(m, ref, res, offset, size, linear)
	res.binding = memoryBinding{
		state:   bindingBound,
		mem:     mem,
		offset:  offset,
		size:    size,
		rangeID: r.id,
	}
}

// rangesIntersect pads both spans to the buffer-image granularity when exactly one side is
// linear. Ranges of the same class use a plain numeric test.
func (d *Device) rangesIntersect(a, b *boundRange) bool {
	pad := uint64(1)
	if a.linear != b.linear && d.limits.BufferImageGranularity > 0 {
		pad = uint64(d.limits.BufferImageGranularity)
	}
	if math.AlignDown(a.end, pad) < math.AlignDown(b.start, pad) {
		return false
	}
	if math.AlignDown(a.start, pad) > math.AlignDown(b.end, pad) {
		return false
	}
	return true
}

/**
 * @brief Adds a bound range to an allocation and links it with every range it overlaps.
 * The alias sets are always updated on both sides.
 */
func (d *Device) insertRange(m *memoryState, owner ObjectRef, res *resourceState, offset, size uint64, linear bool) *boundRange {
	r := &boundRange{
		owner:     owner,
		start:     offset,
		end:       math.InclusiveEnd(offset, size),
		linear:    linear,
		aliasable: res.aliasable,
		aliases:   make(map[uint64]struct{}),
	}
	r.id = d.rangeIDs.Acquire(owner)

	for _, other := range m.sortedRanges() {
		if !d.rangesIntersect(r, other) {
			continue
		}
		r.aliases[other.id] = struct{}{}
		other.aliases[r.id] = struct{}{}

		if r.linear != other.linear && !(r.aliasable && other.aliasable) {
			linearRef, optimalRef := r.owner, other.owner
			if !r.linear {
				linearRef, optimalRef = other.owner, r.owner
			}
			d.logWarning(owner, CodeInvalidAliasing,
				"linear %s is aliased with non-linear %s in memory 0x%x which may indicate a bug. "+
					"For further info refer to the Buffer-Image Granularity section of the Vulkan specification.",
				linearRef, optimalRef, uint64(m.handle))
		}
	}
	m.ranges[r.id] = r
	return r
}

func (d *Device) removeRange(m *memoryState, id uint64) {
	r, ok := m.ranges[id]
	if !ok {
		return
	}
	for alias := range r.aliases {
		if other, ok := m.ranges[alias]; ok {
			delete(other.aliases, id)
		}
	}
	delete(m.ranges, id)
	if err := d.rangeIDs.Release(id); err != nil {
		core.Logger("id", id, "err", err).Warn("releasing bound range id")
	}
}

// verifyBoundMemory fails when a non-sparse buffer or image has no live memory behind it.
func (d *Device) verifyBoundMemory(ref ObjectRef, api string) bool {
	res := d.resource(ref)
	if res == nil {
		return false
	}
	bindAPI := "vkBindBufferMemory"
	if ref.Kind == ObjectKindImage {
		bindAPI = "vkBindImageMemory"
	}
	switch res.binding.state {
	case bindingUnbound:
		return d.logError(ref, CodeMemoryNotBound,
			"%s: %s used with no memory bound. Memory should be bound by calling %s().", api, ref, bindAPI)
	case bindingFreed:
		return d.logError(ref, CodeBoundMemoryFreed,
			"%s: %s used with no memory bound and previously bound memory 0x%x was freed. Memory must not be freed prior to this operation.",
			api, ref, uint64(res.binding.mem))
	}
	return false
}

// contentsValid looks up the valid flag tracked for a resource. tracked is false for
// unbound and sparse resources.
func (d *Device) contentsValid(ref ObjectRef) (valid, tracked bool) {
	res := d.resource(ref)
	if res == nil {
		return false, false
	}
	switch res.binding.state {
	case bindingSwapchain:
		return res.valid, true
	case bindingBound:
		if m, ok := d.memories[res.binding.mem]; ok {
			if r, ok := m.ranges[res.binding.rangeID]; ok {
				return r.valid, true
			}
		}
	}
	return false, false
}

func (d *Device) setContentsValid(ref ObjectRef, valid bool) {
	res := d.resource(ref)
	if res == nil {
		return
	}
	switch res.binding.state {
	case bindingSwapchain:
		res.valid = valid
	case bindingBound:
		if m, ok := d.memories[res.binding.mem]; ok {
			if r, ok := m.ranges[res.binding.rangeID]; ok {
				r.valid = valid
			}
		}
	}
}

// validateRead warns when a resource is read before anything wrote it. valid is the flag
// as seen at this point of a submission.
func (d *Device) validateRead(ref ObjectRef, valid bool, api string) bool {
	if valid || !d.settings.CheckReadBeforeWrite {
		return false
	}
	res := d.resource(ref)
	if res == nil {
		return false
	}
	if res.binding.state == bindingSwapchain {
		return d.logWarning(ref, CodeReadBeforeWrite,
			"%s: Cannot read invalid swapchain image %s, please fill the memory before using.", api, ref)
	}
	return d.logWarning(ref, CodeReadBeforeWrite,
		"%s: Cannot read invalid region of memory allocation 0x%x for bound %s, please fill the memory before using.",
		api, uint64(res.binding.mem), ref)
}
