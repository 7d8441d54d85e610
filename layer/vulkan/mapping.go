package vulkan

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcheck/layer/math"
)

// WholeSize maps or flushes everything from the offset to the end of the allocation.
const WholeSize = ^uint64(0)

// Fill pattern of the guard bands around a shadowed mapping.
const noncoherentFill = 0x0b

// mappedRange is a live vkMapMemory. Non-coherent memory is handed to the application as a
// shadow copy framed by guard bands; flushes check the guards and copy the span to the driver.
type mappedRange struct {
	offset uint64
	size   uint64
	// memory returned by the driver
	driver []byte
	// guard + size + guard bytes, nil for coherent memory
	shadow []byte
	guard  uint64
}

func (m *mappedRange) interior() []byte {
	return m.shadow[m.guard : m.guard+m.size]
}

type MappedMemoryRange struct {
	Memory DeviceMemory
	Offset uint64
	Size   uint64
}

func (d *Device) guardSize() uint64 {
	if d.settings.ShadowGuardSize > 0 {
		return d.settings.ShadowGuardSize
	}
	return math.Max(uint64(d.limits.MinMemoryMapAlignment), 64)
}

func (d *Device) isCoherent(m *memoryState) bool {
	return d.memoryTypeFlags(m.typeIndex)&vk.MemoryPropertyFlags(vk.MemoryPropertyHostCoherentBit) != 0
}

func (d *Device) ValidateMapMemory(mem DeviceMemory, offset, size uint64) bool {
	return d.lock.SafeCall(func() bool {
		m, ok := d.memories[mem]
		if !ok {
			return d.invalidObject(Ref(mem), "vkMapMemory")
		}
		skip := false
		if d.memoryTypeFlags(m.typeIndex)&vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit) == 0 {
			skip = d.logError(Ref(mem), CodeMemoryNotHostVisible,
				"vkMapMemory: mapping memory 0x%x of memory type %d without VK_MEMORY_PROPERTY_HOST_VISIBLE_BIT set.",
				uint64(mem), m.typeIndex) || skip
		}
		if m.mapping != nil {
			skip = d.logError(Ref(mem), CodeMemoryAlreadyMapped,
				"vkMapMemory: memory 0x%x is already mapped.", uint64(mem)) || skip
		}
		if size == 0 {
			skip = d.logError(Ref(mem), CodeInvalidMapRange,
				"vkMapMemory: attempting to map memory range of size zero") || skip
		} else if offset >= m.size {
			skip = d.logError(Ref(mem), CodeInvalidMapRange,
				"vkMapMemory: offset 0x%x is not less than the allocation size 0x%x.", offset, m.size) || skip
		} else if size != WholeSize && offset+size > m.size {
			skip = d.logError(Ref(mem), CodeInvalidMapRange,
				"vkMapMemory: mapping 0x%x bytes at offset 0x%x oversteps the allocation size 0x%x.", size, offset, m.size) || skip
		}
		return skip
	})
}

/**
 * @brief Records a successful vkMapMemory.
 * @param data the memory the driver returned.
 * @returns the memory the application must write through. For non-coherent memory this
 * is the inside of the shadow copy.
 */
func (d *Device) RecordMapMemory(result vk.Result, mem DeviceMemory, offset, size uint64, data []byte) []byte {
	if result != vk.Success {
		return data
	}
	out := data
	d.lock.SafeRecord(func() {
		m, ok := d.memories[mem]
		if !ok {
			return
		}
		if size == WholeSize {
			size = m.size - offset
		}
		mr := &mappedRange{offset: offset, size: size, driver: data}
		if !d.isCoherent(m) {
			mr.guard = d.guardSize()
			mr.shadow = make([]byte, size+2*mr.guard)
			for i := range mr.shadow {
				mr.shadow[i] = noncoherentFill
			}
			copy(mr.interior(), data)
			out = mr.interior()
		}
		m.mapping = mr
	})
	return out
}

// checkGuards reports writes that landed in the guard bands of a shadowed mapping.
func (d *Device) checkGuards(m *memoryState, api string) bool {
	mr := m.mapping
	if mr == nil || mr.shadow == nil {
		return false
	}
	skip := false
	for i := uint64(0); i < mr.guard; i++ {
		if mr.shadow[i] != noncoherentFill {
			skip = d.logError(Ref(m.handle), CodeMapGuardOverwritten,
				"%s: memory underflow was detected on memory 0x%x at guard byte %d", api, uint64(m.handle), i) || skip
			break
		}
	}
	tail := mr.guard + mr.size
	for i := tail; i < uint64(len(mr.shadow)); i++ {
		if mr.shadow[i] != noncoherentFill {
			skip = d.logError(Ref(m.handle), CodeMapGuardOverwritten,
				"%s: memory overflow was detected on memory 0x%x at guard byte %d", api, uint64(m.handle), i-tail) || skip
			break
		}
	}
	return skip
}

func (d *Device) validateMappedRanges(ranges []MappedMemoryRange, api string) bool {
	skip := false
	for _, r := range ranges {
		m, ok := d.memories[r.Memory]
		if !ok {
			skip = d.invalidObject(Ref(r.Memory), api) || skip
			continue
		}
		mr := m.mapping
		if mr == nil {
			skip = d.logError(Ref(r.Memory), CodeMemoryNotMapped,
				"%s: attempting to use memory 0x%x that is not currently host mapped.", api, uint64(r.Memory)) || skip
			continue
		}
		if r.Offset < mr.offset {
			skip = d.logError(Ref(r.Memory), CodeInvalidFlushRange,
				"%s: flush/invalidate offset 0x%x is less than the mapped offset 0x%x.", api, r.Offset, mr.offset) || skip
		}
		if r.Size != WholeSize && r.Offset+r.Size > mr.offset+mr.size {
			skip = d.logError(Ref(r.Memory), CodeInvalidFlushRange,
				"%s: flush/invalidate upper bound 0x%x exceeds the mapped upper bound 0x%x.", api, r.Offset+r.Size, mr.offset+mr.size) || skip
		}
	}
	return skip
}

// ValidateFlushMappedMemoryRanges checks the ranges and the guard bands. When the flush may
// proceed the shadow copies are written to the driver memory, ahead of the driver flush.
func (d *Device) ValidateFlushMappedMemoryRanges(ranges []MappedMemoryRange) bool {
	return d.lock.SafeCall(func() bool {
		skip := d.validateMappedRanges(ranges, "vkFlushMappedMemoryRanges")
		for _, r := range ranges {
			if m, ok := d.memories[r.Memory]; ok {
				skip = d.checkGuards(m, "vkFlushMappedMemoryRanges") || skip
			}
		}
		if skip {
			return true
		}
		for _, r := range ranges {
			if m, ok := d.memories[r.Memory]; ok && m.mapping != nil && m.mapping.shadow != nil {
				copy(m.mapping.driver, m.mapping.interior())
			}
		}
		return false
	})
}

func (d *Device) ValidateInvalidateMappedMemoryRanges(ranges []MappedMemoryRange) bool {
	return d.lock.SafeCall(func() bool {
		return d.validateMappedRanges(ranges, "vkInvalidateMappedMemoryRanges")
	})
}

// RecordInvalidateMappedMemoryRanges refreshes the shadow copy from the driver.
func (d *Device) RecordInvalidateMappedMemoryRanges(result vk.Result, ranges []MappedMemoryRange) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		for _, r := range ranges {
			if m, ok := d.memories[r.Memory]; ok && m.mapping != nil && m.mapping.shadow != nil {
				copy(m.mapping.interior(), m.mapping.driver)
			}
		}
	})
}

func (d *Device) ValidateUnmapMemory(mem DeviceMemory) bool {
	return d.lock.SafeCall(func() bool {
		m, ok := d.memories[mem]
		if !ok {
			return d.invalidObject(Ref(mem), "vkUnmapMemory")
		}
		if m.mapping == nil {
			return d.logError(Ref(mem), CodeMemoryNotMapped,
				"vkUnmapMemory: unmapping memory 0x%x that is not mapped.", uint64(mem))
		}
		if d.checkGuards(m, "vkUnmapMemory") {
			return true
		}
		if m.mapping.shadow != nil {
			copy(m.mapping.driver, m.mapping.interior())
		}
		return false
	})
}

func (d *Device) RecordUnmapMemory(mem DeviceMemory) {
	d.lock.SafeRecord(func() {
		m, ok := d.memories[mem]
		if !ok {
			return
		}
		m.mapping = nil
	})
}
