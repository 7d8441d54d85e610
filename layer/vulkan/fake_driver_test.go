package vulkan

import (
	"sync"
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcheck/layer/config"
	"github.com/spaghettifunk/vkcheck/layer/core"
	"github.com/spaghettifunk/vkcheck/layer/spirv"
	"github.com/stretchr/testify/require"
)

// Memory types exposed by the fake physical device.
const (
	memoryTypeDeviceLocal uint32 = iota
	memoryTypeHostCoherent
	memoryTypeHostCached
)

// fakeDriver stands in for the driver below the layer. It mints handles, always succeeds,
// and keeps every diagnostic the device reports.
type fakeDriver struct {
	t    *testing.T
	dev  *Device
	ids  *core.IDPool
	pool CommandPool

	mu    sync.Mutex
	diags []core.Diagnostic
}

func newFakeDriver(t *testing.T) *fakeDriver {
	t.Helper()
	f := &fakeDriver{t: t, ids: core.NewIDPool(0x1000)}

	reporter := core.NewReporter()
	reporter.Callbacks().Register(core.SeverityAll, nil, func(d core.Diagnostic, _ interface{}) bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.diags = append(f.diags, d)
		return false
	})

	info := DeviceCreateInfo{
		Limits: vk.PhysicalDeviceLimits{
			MinMemoryMapAlignment:  64,
			BufferImageGranularity: 1024,
			MaxBoundDescriptorSets: 4,
			MaxPushConstantsSize:   128,
		},
		MemoryTypes: []vk.MemoryType{
			{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)},
			{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)},
			{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCachedBit)},
		},
		QueueFamilies: []vk.QueueFlags{
			vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit | vk.QueueSparseBindingBit),
		},
	}
	f.dev = NewDevice(info, reporter, config.Default().Validation)

	f.pool = CommandPool(f.handle())
	f.dev.RecordCreateCommandPool(vk.Success, f.pool, CommandPoolCreateInfo{
		Flags: vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	})
	return f
}

func (f *fakeDriver) handle() uint64 {
	return f.ids.Acquire(nil)
}

func succeed() vk.Result {
	return vk.Success
}

// codes lists the codes reported since the last clear, in order.
func (f *fakeDriver) codes() []Code {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Code, 0, len(f.diags))
	for _, d := range f.diags {
		out = append(out, Code(d.Code))
	}
	return out
}

func (f *fakeDriver) count(code Code) int {
	n := 0
	for _, c := range f.codes() {
		if c == code {
			n++
		}
	}
	return n
}

func (f *fakeDriver) messages(code Code) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, d := range f.diags {
		if Code(d.Code) == code {
			out = append(out, d.Message)
		}
	}
	return out
}

func (f *fakeDriver) clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.diags = nil
}

// requireClean fails the test when anything was reported.
func (f *fakeDriver) requireClean() {
	f.t.Helper()
	require.Empty(f.t, f.codes())
}

// ============================================================================================
// Objects
// ============================================================================================

func (f *fakeDriver) queue() Queue {
	q := Queue(f.handle())
	f.dev.RecordGetDeviceQueue(0, 0, q)
	return q
}

func (f *fakeDriver) allocate(size uint64, typeIndex uint32) DeviceMemory {
	f.t.Helper()
	mem := DeviceMemory(f.handle())
	info := MemoryAllocateInfo{AllocationSize: size, MemoryTypeIndex: typeIndex}
	res := Intercept(
		func() bool { return f.dev.ValidateAllocateMemory(info) },
		succeed,
		func(r vk.Result) { f.dev.RecordAllocateMemory(r, mem, info) })
	require.Equal(f.t, vk.Success, res)
	return mem
}

func (f *fakeDriver) free(mem DeviceMemory) vk.Result {
	return Intercept(
		func() bool { return f.dev.ValidateFreeMemory(mem) },
		succeed,
		func(vk.Result) { f.dev.RecordFreeMemory(mem) })
}

// buffer creates a buffer and queries its requirements.
func (f *fakeDriver) buffer(size uint64, usage vk.BufferUsageFlagBits) Buffer {
	f.t.Helper()
	b := Buffer(f.handle())
	info := BufferCreateInfo{Size: size, Usage: vk.BufferUsageFlags(usage)}
	res := Intercept(
		func() bool { return f.dev.ValidateCreateBuffer(info) },
		succeed,
		func(r vk.Result) { f.dev.RecordCreateBuffer(r, b, info) })
	require.Equal(f.t, vk.Success, res)
	f.dev.RecordGetBufferMemoryRequirements(b, vk.MemoryRequirements{
		Size:           vk.DeviceSize(size),
		Alignment:      16,
		MemoryTypeBits: 0x7,
	})
	return b
}

func (f *fakeDriver) bindBuffer(b Buffer, mem DeviceMemory, offset uint64) vk.Result {
	return Intercept(
		func() bool { return f.dev.ValidateBindBufferMemory(b, mem, offset) },
		succeed,
		func(r vk.Result) { f.dev.RecordBindBufferMemory(r, b, mem, offset) })
}

// image creates a single level 2D image and queries its requirements.
func (f *fakeDriver) image(width, height uint32, format vk.Format, tiling vk.ImageTiling, usage vk.ImageUsageFlagBits) Image {
	f.t.Helper()
	img := Image(f.handle())
	info := ImageCreateInfo{
		ImageType:   vk.ImageType2d,
		Format:      format,
		Extent:      vk.Extent3D{Width: width, Height: height, Depth: 1},
		MipLevels:   1,
		ArrayLayers: 1,
		Samples:     vk.SampleCount1Bit,
		Tiling:      tiling,
		Usage:       vk.ImageUsageFlags(usage),
	}
	res := Intercept(
		func() bool { return f.dev.ValidateCreateImage(info) },
		succeed,
		func(r vk.Result) { f.dev.RecordCreateImage(r, img, info) })
	require.Equal(f.t, vk.Success, res)
	f.dev.RecordGetImageMemoryRequirements(img, vk.MemoryRequirements{
		Size:           vk.DeviceSize(width * height * 4),
		Alignment:      1024,
		MemoryTypeBits: 0x7,
	})
	return img
}

func (f *fakeDriver) bindImage(img Image, mem DeviceMemory, offset uint64) vk.Result {
	return Intercept(
		func() bool { return f.dev.ValidateBindImageMemory(img, mem, offset) },
		succeed,
		func(r vk.Result) { f.dev.RecordBindImageMemory(r, img, mem, offset) })
}

func (f *fakeDriver) fence(signaled bool) Fence {
	h := Fence(f.handle())
	var flags vk.FenceCreateFlags
	if signaled {
		flags = vk.FenceCreateFlags(vk.FenceCreateSignaledBit)
	}
	f.dev.RecordCreateFence(vk.Success, h, flags)
	return h
}

func (f *fakeDriver) semaphore() Semaphore {
	h := Semaphore(f.handle())
	f.dev.RecordCreateSemaphore(vk.Success, h)
	return h
}

// ============================================================================================
// Command buffers
// ============================================================================================

func (f *fakeDriver) commandBuffer(level vk.CommandBufferLevel) CommandBuffer {
	cb := CommandBuffer(f.handle())
	f.dev.RecordAllocateCommandBuffers(vk.Success, CommandBufferAllocateInfo{
		CommandPool:        f.pool,
		Level:              level,
		CommandBufferCount: 1,
	}, []CommandBuffer{cb})
	return cb
}

func (f *fakeDriver) begin(cb CommandBuffer, flags vk.CommandBufferUsageFlagBits) vk.Result {
	info := CommandBufferBeginInfo{Flags: vk.CommandBufferUsageFlags(flags)}
	return Intercept(
		func() bool { return f.dev.ValidateBeginCommandBuffer(cb, info) },
		succeed,
		func(r vk.Result) { f.dev.RecordBeginCommandBuffer(r, cb, info) })
}

func (f *fakeDriver) end(cb CommandBuffer) vk.Result {
	return Intercept(
		func() bool { return f.dev.ValidateEndCommandBuffer(cb) },
		succeed,
		func(r vk.Result) { f.dev.RecordEndCommandBuffer(r, cb) })
}

// recorded returns an executable primary command buffer with nothing in it.
func (f *fakeDriver) recorded() CommandBuffer {
	f.t.Helper()
	cb := f.commandBuffer(vk.CommandBufferLevelPrimary)
	require.Equal(f.t, vk.Success, f.begin(cb, 0))
	require.Equal(f.t, vk.Success, f.end(cb))
	return cb
}

func (f *fakeDriver) submit(q Queue, fence Fence, submits ...SubmitInfo) vk.Result {
	return Intercept(
		func() bool { return f.dev.ValidateQueueSubmit(q, submits, fence) },
		succeed,
		func(r vk.Result) { f.dev.RecordQueueSubmit(r, q, submits, fence) })
}

func (f *fakeDriver) waitForFences(fences ...Fence) vk.Result {
	return Intercept(
		func() bool { return f.dev.ValidateWaitForFences(fences, true) },
		succeed,
		func(r vk.Result) { f.dev.RecordWaitForFences(r, fences, true) })
}

func (f *fakeDriver) requireState(cb CommandBuffer, want CommandBufferState) {
	f.t.Helper()
	got, ok := f.dev.CommandBufferState(cb)
	require.True(f.t, ok)
	require.Equal(f.t, want, got, "command buffer is %s, expected %s", got, want)
}

// ============================================================================================
// Shaders and pipelines
// ============================================================================================

// storageBufferComputeShader reads one storage buffer at set 0, binding 0.
func storageBufferComputeShader() []byte {
	b := spirv.NewBuilder()
	b.Capability(spirv.CapabilityShader)
	f32 := b.TypeFloat(32)
	vec4 := b.TypeVector(f32, 4)
	block := b.TypeStruct(b.TypeRuntimeArray(vec4))
	b.Decorate(block, spirv.DecorationBufferBlock)
	data := b.Variable(b.TypePointer(spirv.StorageClassUniform, block), spirv.StorageClassUniform)
	b.Decorate(data, spirv.DecorationDescriptorSet, 0)
	b.Decorate(data, spirv.DecorationBinding, 0)

	void := b.TypeVoid()
	main := b.Function(void, b.TypeFunction(void))
	zero := b.Constant(b.TypeInt(32, false), 0)
	b.Load(vec4, b.AccessChain(b.TypePointer(spirv.StorageClassUniform, vec4), data, zero, zero))
	b.FunctionEnd()
	b.EntryPoint(spirv.ExecutionModelGLCompute, main, "main")
	return b.Bytes()
}

func (f *fakeDriver) shaderModule(code []byte) ShaderModule {
	h := ShaderModule(f.handle())
	Intercept(
		func() bool { return f.dev.ValidateCreateShaderModule(code) },
		succeed,
		func(r vk.Result) { f.dev.RecordCreateShaderModule(r, h, code) })
	return h
}

func (f *fakeDriver) setLayout(bindings ...DescriptorSetLayoutBinding) DescriptorSetLayout {
	h := DescriptorSetLayout(f.handle())
	f.dev.RecordCreateDescriptorSetLayout(vk.Success, h, bindings)
	return h
}

func (f *fakeDriver) pipelineLayout(sets ...DescriptorSetLayout) PipelineLayout {
	h := PipelineLayout(f.handle())
	f.dev.RecordCreatePipelineLayout(vk.Success, h, PipelineLayoutCreateInfo{SetLayouts: sets})
	return h
}

func (f *fakeDriver) computePipeline(layout PipelineLayout, module ShaderModule) Pipeline {
	h := Pipeline(f.handle())
	infos := []ComputePipelineCreateInfo{{
		Stage:  PipelineShaderStageCreateInfo{Stage: vk.ShaderStageComputeBit, Module: module, Name: "main"},
		Layout: layout,
	}}
	Intercept(
		func() bool { return f.dev.ValidateCreateComputePipelines(infos) },
		succeed,
		func(r vk.Result) { f.dev.RecordCreateComputePipelines(r, infos, []Pipeline{h}) })
	return h
}

// ============================================================================================
// Render passes
// ============================================================================================

func colorAttachment(load vk.AttachmentLoadOp, store vk.AttachmentStoreOp) vk.AttachmentDescription {
	return vk.AttachmentDescription{
		Format:         vk.FormatR8g8b8a8Unorm,
		Samples:        vk.SampleCount1Bit,
		LoadOp:         load,
		StoreOp:        store,
		StencilLoadOp:  vk.AttachmentLoadOpDontCare,
		StencilStoreOp: vk.AttachmentStoreOpDontCare,
		InitialLayout:  vk.ImageLayoutUndefined,
		FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
	}
}

func colorRef(a uint32) vk.AttachmentReference {
	return vk.AttachmentReference{Attachment: a, Layout: vk.ImageLayoutColorAttachmentOptimal}
}

func inputRef(a uint32) vk.AttachmentReference {
	return vk.AttachmentReference{Attachment: a, Layout: vk.ImageLayoutShaderReadOnlyOptimal}
}

// emptySubpasses builds n graphics subpasses without attachments.
func emptySubpasses(n int) []SubpassDescription {
	out := make([]SubpassDescription, n)
	for i := range out {
		out[i].PipelineBindPoint = vk.PipelineBindPointGraphics
	}
	return out
}

func (f *fakeDriver) renderPass(info RenderPassCreateInfo) (RenderPass, bool) {
	h := RenderPass(f.handle())
	res := Intercept(
		func() bool { return f.dev.ValidateCreateRenderPass(info) },
		succeed,
		func(r vk.Result) { f.dev.RecordCreateRenderPass(r, h, info) })
	return h, res == vk.Success
}

func (f *fakeDriver) framebuffer(rp RenderPass, views []ImageView, width, height uint32) Framebuffer {
	f.t.Helper()
	h := Framebuffer(f.handle())
	info := FramebufferCreateInfo{RenderPass: rp, Attachments: views, Width: width, Height: height, Layers: 1}
	res := Intercept(
		func() bool { return f.dev.ValidateCreateFramebuffer(info) },
		succeed,
		func(r vk.Result) { f.dev.RecordCreateFramebuffer(r, h, info) })
	require.Equal(f.t, vk.Success, res)
	return h
}
