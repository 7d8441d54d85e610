package vulkan

import (
	"sort"

	vk "github.com/goki/vulkan"
)

type DescriptorSetLayoutBinding struct {
	Binding         uint32
	DescriptorType  vk.DescriptorType
	DescriptorCount uint32
	StageFlags      vk.ShaderStageFlags
}

type descriptorSetLayoutState struct {
	handle   DescriptorSetLayout
	bindings map[uint32]DescriptorSetLayoutBinding
	// bindings sorted by binding number
	sorted []DescriptorSetLayoutBinding
	// descriptors of the dynamic buffer types, each needs one dynamic offset
	dynamicCount uint32
}

func (l *descriptorSetLayoutState) binding(b uint32) (DescriptorSetLayoutBinding, bool) {
	lb, ok := l.bindings[b]
	return lb, ok
}

type DescriptorPoolCreateInfo struct {
	Flags     vk.DescriptorPoolCreateFlags
	MaxSets   uint32
	PoolSizes []vk.DescriptorPoolSize
}

type descriptorPoolState struct {
	baseNode
	handle        DescriptorPool
	createInfo    DescriptorPoolCreateInfo
	availableSets uint32
	available     map[vk.DescriptorType]uint32
	sets          map[DescriptorSet]struct{}
}

func (p *descriptorPoolState) canFree() bool {
	return p.createInfo.Flags&vk.DescriptorPoolCreateFlags(vk.DescriptorPoolCreateFreeDescriptorSetBit) != 0
}

type DescriptorSetAllocateInfo struct {
	DescriptorPool DescriptorPool
	SetLayouts     []DescriptorSetLayout
}

// descriptorBinding holds what one binding of a set currently points at.
type descriptorBinding struct {
	layout      DescriptorSetLayoutBinding
	written     []bool
	buffers     []Buffer
	imageViews  []ImageView
	samplers    []Sampler
	bufferViews []BufferView
}

func newDescriptorBinding(lb DescriptorSetLayoutBinding) *descriptorBinding {
	n := lb.DescriptorCount
	return &descriptorBinding{
		layout:      lb,
		written:     make([]bool, n),
		buffers:     make([]Buffer, n),
		imageViews:  make([]ImageView, n),
		samplers:    make([]Sampler, n),
		bufferViews: make([]BufferView, n),
	}
}

func (b *descriptorBinding) fullyWritten() bool {
	for _, w := range b.written {
		if !w {
			return false
		}
	}
	return true
}

// references lists every object element i points at.
func (b *descriptorBinding) references(i uint32) []ObjectRef {
	var out []ObjectRef
	if b.buffers[i] != 0 {
		out = append(out, Ref(b.buffers[i]))
	}
	if b.imageViews[i] != 0 {
		out = append(out, Ref(b.imageViews[i]))
	}
	if b.samplers[i] != 0 {
		out = append(out, Ref(b.samplers[i]))
	}
	if b.bufferViews[i] != 0 {
		out = append(out, Ref(b.bufferViews[i]))
	}
	return out
}

type descriptorSetState struct {
	baseNode
	handle DescriptorSet
	pool   DescriptorPool
	// snapshot, outlives a destroyed layout handle
	layout   *descriptorSetLayoutState
	bindings map[uint32]*descriptorBinding
}

type DescriptorBufferInfo struct {
	Buffer Buffer
	Offset uint64
	Range  uint64
}

type DescriptorImageInfo struct {
	Sampler     Sampler
	ImageView   ImageView
	ImageLayout vk.ImageLayout
}

type WriteDescriptorSet struct {
	DstSet          DescriptorSet
	DstBinding      uint32
	DstArrayElement uint32
	DescriptorType  vk.DescriptorType
	ImageInfo       []DescriptorImageInfo
	BufferInfo      []DescriptorBufferInfo
	TexelBufferView []BufferView
}

// count is the number of descriptors the write carries for its type.
func (w *WriteDescriptorSet) count() uint32 {
	switch {
	case isBufferDescriptor(w.DescriptorType):
		return uint32(len(w.BufferInfo))
	case isTexelBufferDescriptor(w.DescriptorType):
		return uint32(len(w.TexelBufferView))
	}
	return uint32(len(w.ImageInfo))
}

type CopyDescriptorSet struct {
	SrcSet          DescriptorSet
	SrcBinding      uint32
	SrcArrayElement uint32
	DstSet          DescriptorSet
	DstBinding      uint32
	DstArrayElement uint32
	DescriptorCount uint32
}

func isDynamicDescriptor(t vk.DescriptorType) bool {
	return t == vk.DescriptorTypeUniformBufferDynamic || t == vk.DescriptorTypeStorageBufferDynamic
}

func isBufferDescriptor(t vk.DescriptorType) bool {
	switch t {
	case vk.DescriptorTypeUniformBuffer, vk.DescriptorTypeStorageBuffer,
		vk.DescriptorTypeUniformBufferDynamic, vk.DescriptorTypeStorageBufferDynamic:
		return true
	}
	return false
}

func isTexelBufferDescriptor(t vk.DescriptorType) bool {
	return t == vk.DescriptorTypeUniformTexelBuffer || t == vk.DescriptorTypeStorageTexelBuffer
}

// isStorageDescriptor reports descriptor types a shader may write through.
func isStorageDescriptor(t vk.DescriptorType) bool {
	switch t {
	case vk.DescriptorTypeStorageBuffer, vk.DescriptorTypeStorageBufferDynamic,
		vk.DescriptorTypeStorageImage, vk.DescriptorTypeStorageTexelBuffer:
		return true
	}
	return false
}

// ============================================================================================
// Layouts
// ============================================================================================

func (d *Device) ValidateCreateDescriptorSetLayout(bindings []DescriptorSetLayoutBinding) bool {
	return d.lock.SafeCall(func() bool {
		skip := false
		seen := make(map[uint32]struct{}, len(bindings))
		for i, b := range bindings {
			if _, dup := seen[b.Binding]; dup {
				skip = d.logError(ObjectRef{Kind: ObjectKindDevice}, CodeInvalidDescriptorBinding,
					"vkCreateDescriptorSetLayout: binding number %d of pBindings[%d] is used by an earlier binding.",
					b.Binding, i) || skip
			}
			seen[b.Binding] = struct{}{}
		}
		return skip
	})
}

func (d *Device) RecordCreateDescriptorSetLayout(result vk.Result, layout DescriptorSetLayout, bindings []DescriptorSetLayoutBinding) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		l := &descriptorSetLayoutState{
			handle:   layout,
			bindings: make(map[uint32]DescriptorSetLayoutBinding, len(bindings)),
		}
		for _, b := range bindings {
			l.bindings[b.Binding] = b
			l.sorted = append(l.sorted, b)
			if isDynamicDescriptor(b.DescriptorType) {
				l.dynamicCount += b.DescriptorCount
			}
		}
		sort.Slice(l.sorted, func(i, j int) bool { return l.sorted[i].Binding < l.sorted[j].Binding })
		d.descriptorSetLayouts[layout] = l
	})
}

func (d *Device) RecordDestroyDescriptorSetLayout(layout DescriptorSetLayout) {
	d.lock.SafeRecord(func() {
		delete(d.descriptorSetLayouts, layout)
	})
}

// ============================================================================================
// Pools
// ============================================================================================

func (d *Device) RecordCreateDescriptorPool(result vk.Result, pool DescriptorPool, info DescriptorPoolCreateInfo) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		p := &descriptorPoolState{
			handle:        pool,
			createInfo:    info,
			availableSets: info.MaxSets,
			available:     make(map[vk.DescriptorType]uint32),
			sets:          make(map[DescriptorSet]struct{}),
		}
		for _, size := range info.PoolSizes {
			p.available[size.Type] += size.DescriptorCount
		}
		d.descriptorPools[pool] = p
	})
}

func (d *Device) validatePoolSetsNotInUse(p *descriptorPoolState, api string) bool {
	skip := d.validateObjectNotInUse(&p.baseNode, Ref(p.handle), api)
	for set := range p.sets {
		if s, ok := d.descriptorSets[set]; ok {
			skip = d.validateObjectNotInUse(&s.baseNode, Ref(set), api) || skip
		}
	}
	return skip
}

func (d *Device) ValidateDestroyDescriptorPool(pool DescriptorPool) bool {
	return d.lock.SafeCall(func() bool {
		if pool == 0 {
			return false
		}
		p, ok := d.descriptorPools[pool]
		if !ok {
			return d.invalidObject(Ref(pool), "vkDestroyDescriptorPool")
		}
		return d.validatePoolSetsNotInUse(p, "vkDestroyDescriptorPool")
	})
}

func (d *Device) RecordDestroyDescriptorPool(pool DescriptorPool) {
	d.lock.SafeRecord(func() {
		p, ok := d.descriptorPools[pool]
		if !ok {
			return
		}
		d.freeAllDescriptorSets(p)
		d.invalidateCommandBuffers(&p.baseNode, Ref(pool), invalidatedDestroyed)
		delete(d.descriptorPools, pool)
	})
}

func (d *Device) ValidateResetDescriptorPool(pool DescriptorPool) bool {
	return d.lock.SafeCall(func() bool {
		p, ok := d.descriptorPools[pool]
		if !ok {
			return d.invalidObject(Ref(pool), "vkResetDescriptorPool")
		}
		return d.validatePoolSetsNotInUse(p, "vkResetDescriptorPool")
	})
}

func (d *Device) RecordResetDescriptorPool(result vk.Result, pool DescriptorPool) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		if p, ok := d.descriptorPools[pool]; ok {
			d.freeAllDescriptorSets(p)
		}
	})
}

func (d *Device) freeAllDescriptorSets(p *descriptorPoolState) {
	sets := make([]DescriptorSet, 0, len(p.sets))
	for set := range p.sets {
		sets = append(sets, set)
	}
	for _, set := range sets {
		d.freeDescriptorSet(p, set)
	}
}

// freeDescriptorSet returns the descriptors of one set to its pool.
func (d *Device) freeDescriptorSet(p *descriptorPoolState, set DescriptorSet) {
	s, ok := d.descriptorSets[set]
	if !ok {
		return
	}
	for _, b := range s.layout.sorted {
		p.available[b.DescriptorType] += b.DescriptorCount
	}
	p.availableSets++
	delete(p.sets, set)
	d.invalidateCommandBuffers(&s.baseNode, Ref(set), invalidatedDestroyed)
	delete(d.descriptorSets, set)
}

// ============================================================================================
// Sets
// ============================================================================================

func (d *Device) ValidateAllocateDescriptorSets(info DescriptorSetAllocateInfo) bool {
	return d.lock.SafeCall(func() bool {
		p, ok := d.descriptorPools[info.DescriptorPool]
		if !ok {
			return d.invalidObject(Ref(info.DescriptorPool), "vkAllocateDescriptorSets")
		}
		skip := false
		if uint32(len(info.SetLayouts)) > p.availableSets {
			skip = d.logError(Ref(info.DescriptorPool), CodeDescriptorPoolExhausted,
				"vkAllocateDescriptorSets: unable to allocate %d descriptor sets from %s. This pool only has %d descriptor sets remaining.",
				len(info.SetLayouts), Ref(info.DescriptorPool), p.availableSets) || skip
		}
		required := make(map[vk.DescriptorType]uint32)
		for _, lh := range info.SetLayouts {
			l, ok := d.descriptorSetLayouts[lh]
			if !ok {
				skip = d.invalidObject(Ref(lh), "vkAllocateDescriptorSets") || skip
				continue
			}
			for _, b := range l.sorted {
				required[b.DescriptorType] += b.DescriptorCount
			}
		}
		types := make([]vk.DescriptorType, 0, len(required))
		for t := range required {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
		for _, t := range types {
			if required[t] > p.available[t] {
				skip = d.logError(Ref(info.DescriptorPool), CodeDescriptorPoolExhausted,
					"vkAllocateDescriptorSets: unable to allocate %d descriptors of type %d from %s. This pool only has %d descriptors of this type remaining.",
					required[t], t, Ref(info.DescriptorPool), p.available[t]) || skip
			}
		}
		return skip
	})
}

func (d *Device) RecordAllocateDescriptorSets(result vk.Result, info DescriptorSetAllocateInfo, sets []DescriptorSet) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		p, ok := d.descriptorPools[info.DescriptorPool]
		if !ok {
			return
		}
		for i, set := range sets {
			if i >= len(info.SetLayouts) {
				break
			}
			l, ok := d.descriptorSetLayouts[info.SetLayouts[i]]
			if !ok {
				continue
			}
			s := &descriptorSetState{
				handle:   set,
				pool:     info.DescriptorPool,
				layout:   l,
				bindings: make(map[uint32]*descriptorBinding, len(l.sorted)),
			}
			for _, b := range l.sorted {
				s.bindings[b.Binding] = newDescriptorBinding(b)
				p.available[b.DescriptorType] -= b.DescriptorCount
			}
			p.availableSets--
			p.sets[set] = struct{}{}
			d.descriptorSets[set] = s
		}
	})
}

func (d *Device) ValidateFreeDescriptorSets(pool DescriptorPool, sets []DescriptorSet) bool {
	return d.lock.SafeCall(func() bool {
		p, ok := d.descriptorPools[pool]
		if !ok {
			return d.invalidObject(Ref(pool), "vkFreeDescriptorSets")
		}
		skip := false
		if !p.canFree() {
			skip = d.logError(Ref(pool), CodeFreeNotAllowed,
				"It is invalid to call vkFreeDescriptorSets() with a pool created without setting VK_DESCRIPTOR_POOL_CREATE_FREE_DESCRIPTOR_SET_BIT.") || skip
		}
		for _, set := range sets {
			if set == 0 {
				continue
			}
			s, ok := d.descriptorSets[set]
			if !ok {
				skip = d.invalidObject(Ref(set), "vkFreeDescriptorSets") || skip
				continue
			}
			skip = d.validateObjectNotInUse(&s.baseNode, Ref(set), "vkFreeDescriptorSets") || skip
		}
		return skip
	})
}

func (d *Device) RecordFreeDescriptorSets(result vk.Result, pool DescriptorPool, sets []DescriptorSet) {
	if result != vk.Success {
		return
	}
	d.lock.SafeRecord(func() {
		p, ok := d.descriptorPools[pool]
		if !ok {
			return
		}
		for _, set := range sets {
			d.freeDescriptorSet(p, set)
		}
	})
}

// ============================================================================================
// Updates
// ============================================================================================

func (d *Device) validateWriteDescriptor(i int, w *WriteDescriptorSet) bool {
	s, ok := d.descriptorSets[w.DstSet]
	if !ok {
		return d.invalidObject(Ref(w.DstSet), "vkUpdateDescriptorSets")
	}
	b, ok := s.bindings[w.DstBinding]
	if !ok {
		return d.logError(Ref(w.DstSet), CodeInvalidDescriptorBinding,
			"vkUpdateDescriptorSets: pDescriptorWrites[%d] targets binding %d which does not exist in %s.",
			i, w.DstBinding, Ref(w.DstSet))
	}
	skip := false
	if b.layout.DescriptorType != w.DescriptorType {
		skip = d.logError(Ref(w.DstSet), CodeDescriptorWriteTypeMismatch,
			"vkUpdateDescriptorSets: pDescriptorWrites[%d] has descriptorType %d but binding %d of %s is of type %d.",
			i, w.DescriptorType, w.DstBinding, Ref(w.DstSet), b.layout.DescriptorType) || skip
	}
	if n := w.count(); w.DstArrayElement+n > b.layout.DescriptorCount {
		skip = d.logError(Ref(w.DstSet), CodeDescriptorWriteOutOfBounds,
			"vkUpdateDescriptorSets: pDescriptorWrites[%d] writes elements [%d, %d) of binding %d which only has %d descriptors.",
			i, w.DstArrayElement, w.DstArrayElement+n, w.DstBinding, b.layout.DescriptorCount) || skip
	}
	for _, bi := range w.BufferInfo {
		if _, ok := d.buffers[bi.Buffer]; !ok {
			skip = d.invalidObject(Ref(bi.Buffer), "vkUpdateDescriptorSets") || skip
			continue
		}
		skip = d.verifyBoundMemory(Ref(bi.Buffer), "vkUpdateDescriptorSets") || skip
	}
	for _, ii := range w.ImageInfo {
		if ii.ImageView != 0 {
			if _, ok := d.imageViews[ii.ImageView]; !ok {
				skip = d.invalidObject(Ref(ii.ImageView), "vkUpdateDescriptorSets") || skip
			}
		}
		if ii.Sampler != 0 {
			if _, ok := d.samplers[ii.Sampler]; !ok {
				skip = d.invalidObject(Ref(ii.Sampler), "vkUpdateDescriptorSets") || skip
			}
		}
	}
	for _, v := range w.TexelBufferView {
		if _, ok := d.bufferViews[v]; !ok {
			skip = d.invalidObject(Ref(v), "vkUpdateDescriptorSets") || skip
		}
	}
	return skip
}

func (d *Device) validateCopyDescriptor(i int, c *CopyDescriptorSet) bool {
	src, ok := d.descriptorSets[c.SrcSet]
	if !ok {
		return d.invalidObject(Ref(c.SrcSet), "vkUpdateDescriptorSets")
	}
	dst, ok := d.descriptorSets[c.DstSet]
	if !ok {
		return d.invalidObject(Ref(c.DstSet), "vkUpdateDescriptorSets")
	}
	sb, ok := src.bindings[c.SrcBinding]
	if !ok {
		return d.logError(Ref(c.SrcSet), CodeInvalidDescriptorBinding,
			"vkUpdateDescriptorSets: pDescriptorCopies[%d] reads binding %d which does not exist in %s.", i, c.SrcBinding, Ref(c.SrcSet))
	}
	db, ok := dst.bindings[c.DstBinding]
	if !ok {
		return d.logError(Ref(c.DstSet), CodeInvalidDescriptorBinding,
			"vkUpdateDescriptorSets: pDescriptorCopies[%d] writes binding %d which does not exist in %s.", i, c.DstBinding, Ref(c.DstSet))
	}
	skip := false
	if sb.layout.DescriptorType != db.layout.DescriptorType {
		skip = d.logError(Ref(c.DstSet), CodeDescriptorWriteTypeMismatch,
			"vkUpdateDescriptorSets: pDescriptorCopies[%d] copies descriptors of type %d into a binding of type %d.",
			i, sb.layout.DescriptorType, db.layout.DescriptorType) || skip
	}
	if c.SrcArrayElement+c.DescriptorCount > sb.layout.DescriptorCount {
		skip = d.logError(Ref(c.SrcSet), CodeDescriptorWriteOutOfBounds,
			"vkUpdateDescriptorSets: pDescriptorCopies[%d] reads past the %d descriptors of binding %d.",
			i, sb.layout.DescriptorCount, c.SrcBinding) || skip
	}
	if c.DstArrayElement+c.DescriptorCount > db.layout.DescriptorCount {
		skip = d.logError(Ref(c.DstSet), CodeDescriptorWriteOutOfBounds,
			"vkUpdateDescriptorSets: pDescriptorCopies[%d] writes past the %d descriptors of binding %d.",
			i, db.layout.DescriptorCount, c.DstBinding) || skip
	}
	return skip
}

func (d *Device) ValidateUpdateDescriptorSets(writes []WriteDescriptorSet, copies []CopyDescriptorSet) bool {
	return d.lock.SafeCall(func() bool {
		skip := false
		for i := range writes {
			skip = d.validateWriteDescriptor(i, &writes[i]) || skip
		}
		for i := range copies {
			skip = d.validateCopyDescriptor(i, &copies[i]) || skip
		}
		return skip
	})
}

// RecordUpdateDescriptorSets applies the writes and copies. Command buffers that bound an
// updated set become invalid.
func (d *Device) RecordUpdateDescriptorSets(writes []WriteDescriptorSet, copies []CopyDescriptorSet) {
	d.lock.SafeRecord(func() {
		touched := make(map[DescriptorSet]struct{})
		for i := range writes {
			w := &writes[i]
			s, ok := d.descriptorSets[w.DstSet]
			if !ok {
				continue
			}
			b, ok := s.bindings[w.DstBinding]
			if !ok {
				continue
			}
			n := w.count()
			for j := uint32(0); j < n; j++ {
				e := w.DstArrayElement + j
				if e >= uint32(len(b.written)) {
					break
				}
				b.written[e] = true
				switch {
				case isBufferDescriptor(w.DescriptorType):
					b.buffers[e] = w.BufferInfo[j].Buffer
				case isTexelBufferDescriptor(w.DescriptorType):
					b.bufferViews[e] = w.TexelBufferView[j]
				default:
					b.imageViews[e] = w.ImageInfo[j].ImageView
					b.samplers[e] = w.ImageInfo[j].Sampler
				}
			}
			touched[w.DstSet] = struct{}{}
		}
		for i := range copies {
			c := &copies[i]
			src, ok1 := d.descriptorSets[c.SrcSet]
			dst, ok2 := d.descriptorSets[c.DstSet]
			if !ok1 || !ok2 {
				continue
			}
			sb, ok1 := src.bindings[c.SrcBinding]
			db, ok2 := dst.bindings[c.DstBinding]
			if !ok1 || !ok2 {
				continue
			}
			for j := uint32(0); j < c.DescriptorCount; j++ {
				se, de := c.SrcArrayElement+j, c.DstArrayElement+j
				if se >= uint32(len(sb.written)) || de >= uint32(len(db.written)) {
					break
				}
				db.written[de] = sb.written[se]
				db.buffers[de] = sb.buffers[se]
				db.imageViews[de] = sb.imageViews[se]
				db.samplers[de] = sb.samplers[se]
				db.bufferViews[de] = sb.bufferViews[se]
			}
			touched[c.DstSet] = struct{}{}
		}
		for set := range touched {
			if s, ok := d.descriptorSets[set]; ok {
				d.invalidateCommandBuffers(&s.baseNode, Ref(set), invalidatedUpdated)
			}
		}
	})
}
