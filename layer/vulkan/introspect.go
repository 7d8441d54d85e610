package vulkan

import (
	"sort"
)

// Read only views of tracked state for tools and tests. Every accessor takes the device
// lock and returns copies.

type BufferBindingInfo struct {
	Memory DeviceMemory
	Offset uint64
	Size   uint64
	Bound  bool
	// the allocation was freed while the buffer was bound to it
	Freed bool
}

type MemoryRange struct {
	Owner   ObjectRef
	Start   uint64
	End     uint64
	Linear  bool
	Valid   bool
	Aliases []ObjectRef
}

type SubpassNode struct {
	Prev           []uint32
	Next           []uint32
	SelfDependency bool
}

// CommandBufferState reports the lifecycle state, false when the handle is unknown.
func (d *Device) CommandBufferState(h CommandBuffer) (CommandBufferState, bool) {
	var state CommandBufferState
	var found bool
	d.lock.SafeRecord(func() {
		if cb, ok := d.commandBuffers[h]; ok {
			state, found = cb.state, true
		}
	})
	return state, found
}

func (d *Device) BufferBinding(h Buffer) (BufferBindingInfo, bool) {
	var info BufferBindingInfo
	var found bool
	d.lock.SafeRecord(func() {
		b, ok := d.buffers[h]
		if !ok {
			return
		}
		found = true
		info = BufferBindingInfo{
			Memory: b.binding.mem,
			Offset: b.binding.offset,
			Size:   b.binding.size,
			Bound:  b.binding.state == bindingBound,
			Freed:  b.binding.state == bindingFreed,
		}
	})
	return info, found
}

// MemoryRanges lists the bound ranges of an allocation ordered by start offset.
func (d *Device) MemoryRanges(mem DeviceMemory) []MemoryRange {
	var out []MemoryRange
	d.lock.SafeRecord(func() {
		m, ok := d.memories[mem]
		if !ok {
			return
		}
		for _, r := range m.sortedRanges() {
			mr := MemoryRange{Owner: r.owner, Start: r.start, End: r.end, Linear: r.linear, Valid: r.valid}
			for id := range r.aliases {
				if other, ok := m.ranges[id]; ok {
					mr.Aliases = append(mr.Aliases, other.owner)
				}
			}
			sort.Slice(mr.Aliases, func(i, j int) bool { return mr.Aliases[i].Handle < mr.Aliases[j].Handle })
			out = append(out, mr)
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// PipelineActiveSlots returns set -> binding for every descriptor the pipeline's shaders use.
func (d *Device) PipelineActiveSlots(h Pipeline) map[uint32][]uint32 {
	out := make(map[uint32][]uint32)
	d.lock.SafeRecord(func() {
		p, ok := d.pipelines[h]
		if !ok {
			return
		}
		for set, bindings := range p.slots {
			out[set] = sortedKeys(bindings)
		}
	})
	return out
}

func (d *Device) RenderPassDAG(h RenderPass) []SubpassNode {
	var out []SubpassNode
	d.lock.SafeRecord(func() {
		rp, ok := d.renderPasses[h]
		if !ok {
			return
		}
		for i, n := range rp.dag {
			out = append(out, SubpassNode{
				Prev:           append([]uint32(nil), n.prev...),
				Next:           append([]uint32(nil), n.next...),
				SelfDependency: i < len(rp.selfDependency) && rp.selfDependency[i],
			})
		}
	})
	return out
}
