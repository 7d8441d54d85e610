package vulkan

import (
	"sort"

	vk "github.com/goki/vulkan"
)

type SparseMemoryBind struct {
	ResourceOffset uint64
	Size           uint64
	// 0 unbinds the range
	Memory       DeviceMemory
	MemoryOffset uint64
}

type SparseBufferMemoryBindInfo struct {
	Buffer Buffer
	Binds  []SparseMemoryBind
}

type SparseImageOpaqueMemoryBindInfo struct {
	Image Image
	Binds []SparseMemoryBind
}

type BindSparseInfo struct {
	WaitSemaphores   []Semaphore
	BufferBinds      []SparseBufferMemoryBindInfo
	ImageOpaqueBinds []SparseImageOpaqueMemoryBindInfo
	SignalSemaphores []Semaphore
}

type sparseBind struct {
	resourceOffset uint64
	size           uint64
	mem            DeviceMemory
	memoryOffset   uint64
}

func (b sparseBind) end() uint64 {
	return b.resourceOffset + b.size
}

// sparseBindings is kept sorted by resource offset and never holds overlapping binds.
type sparseBindings []sparseBind

/**
 * @brief Lays b over the list. Older binds it covers are dropped, binds it partly covers
 * are shrunk, and a bind it lands inside of is split in two.
 */
func (l sparseBindings) add(b sparseBind) sparseBindings {
	out := make(sparseBindings, 0, len(l)+2)
	for _, e := range l {
		if e.end() <= b.resourceOffset || e.resourceOffset >= b.end() {
			out = append(out, e)
			continue
		}
		if e.resourceOffset < b.resourceOffset {
			head := e
			head.size = b.resourceOffset - e.resourceOffset
			out = append(out, head)
		}
		if e.end() > b.end() {
			cut := b.end() - e.resourceOffset
			tail := e
			tail.resourceOffset += cut
			tail.memoryOffset += cut
			tail.size -= cut
			out = append(out, tail)
		}
	}
	if b.mem != 0 && b.size > 0 {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].resourceOffset < out[j].resourceOffset })
	return out
}

// releaseMemory drops every bind that points into mem.
func (l sparseBindings) releaseMemory(mem DeviceMemory) sparseBindings {
	out := l[:0]
	for _, e := range l {
		if e.mem != mem {
			out = append(out, e)
		}
	}
	return out
}

func (d *Device) validateSparseBinds(ref ObjectRef, res *resourceState, resourceSize uint64, binds []SparseMemoryBind) bool {
	skip := false
	if res.binding.state != bindingSparse {
		return d.logError(ref, CodeNotSparseResource,
			"vkQueueBindSparse: %s was not created with a sparse binding flag.", ref)
	}
	for i, b := range binds {
		if resourceSize > 0 && b.ResourceOffset+b.Size > resourceSize {
			skip = d.logError(ref, CodeSparseBindOutOfRange,
				"vkQueueBindSparse: bind %d covers [0x%x, 0x%x) which is outside of %s of size 0x%x.",
				i, b.ResourceOffset, b.ResourceOffset+b.Size, ref, resourceSize) || skip
		}
		if b.Memory == 0 {
			continue
		}
		m, ok := d.memories[b.Memory]
		if !ok {
			skip = d.invalidObject(Ref(b.Memory), "vkQueueBindSparse") || skip
			continue
		}
		if b.MemoryOffset+b.Size > m.size {
			skip = d.logError(ref, CodeSparseBindOutOfRange,
				"vkQueueBindSparse: bind %d uses [0x%x, 0x%x) of memory 0x%x which is only 0x%x bytes.",
				i, b.MemoryOffset, b.MemoryOffset+b.Size, uint64(b.Memory), m.size) || skip
		}
	}
	return skip
}

func (d *Device) ValidateQueueBindSparse(queue Queue, infos []BindSparseInfo, fence Fence) bool {
	return d.lock.SafeCall(func() bool {
		q, ok := d.queues[queue]
		if !ok {
			return d.invalidObject(Ref(queue), "vkQueueBindSparse")
		}
		skip := false
		if d.queueFamilyFlags(q.family)&vk.QueueFlags(vk.QueueSparseBindingBit) == 0 {
			skip = d.logError(Ref(queue), CodeQueueNotSparseCapable,
				"vkQueueBindSparse: queue family %d of %s does not support sparse binding.", q.family, Ref(queue)) || skip
		}
		skip = d.validateFenceForSubmit(fence, "vkQueueBindSparse") || skip

		batches := make([]submitBatch, 0, len(infos))
		for _, info := range infos {
			batches = append(batches, submitBatch{waits: info.WaitSemaphores, signals: info.SignalSemaphores})
			for _, bb := range info.BufferBinds {
				b, ok := d.buffers[bb.Buffer]
				if !ok {
					skip = d.invalidObject(Ref(bb.Buffer), "vkQueueBindSparse") || skip
					continue
				}
				skip = d.validateSparseBinds(Ref(bb.Buffer), &b.resourceState, b.createInfo.Size, bb.Binds) || skip
			}
			for _, ib := range info.ImageOpaqueBinds {
				img, ok := d.images[ib.Image]
				if !ok {
					skip = d.invalidObject(Ref(ib.Image), "vkQueueBindSparse") || skip
					continue
				}
				size := uint64(0)
				if img.requirementsQueried {
					size = uint64(img.requirements.Size)
				}
				skip = d.validateSparseBinds(Ref(ib.Image), &img.resourceState, size, ib.Binds) || skip
			}
		}
		skip = d.validateSemaphores(Ref(queue), batches, "vkQueueBindSparse") || skip
		return skip
	})
}

func (d *Device) RecordQueueBindSparse(result vk.Result, queue Queue, infos []BindSparseInfo, fence Fence) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		q, ok := d.queues[queue]
		if !ok {
			return
		}
		batches := make([]submitBatch, 0, len(infos))
		for _, info := range infos {
			for _, bb := range info.BufferBinds {
				if b, ok := d.buffers[bb.Buffer]; ok {
					for _, sb := range bb.Binds {
						b.sparse = b.sparse.add(sparseBind{sb.ResourceOffset, sb.Size, sb.Memory, sb.MemoryOffset})
					}
				}
			}
			for _, ib := range info.ImageOpaqueBinds {
				if img, ok := d.images[ib.Image]; ok {
					for _, sb := range ib.Binds {
						img.sparse = img.sparse.add(sparseBind{sb.ResourceOffset, sb.Size, sb.Memory, sb.MemoryOffset})
					}
				}
			}
			batches = append(batches, submitBatch{waits: info.WaitSemaphores, signals: info.SignalSemaphores})
		}
		d.recordSubmission(q, batches, fence)
	})
}
