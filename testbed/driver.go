package testbed

import (
	"sync"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcheck/layer/core"
	"github.com/spaghettifunk/vkcheck/layer/vulkan"
)

// Memory type indices of the reference device.
const (
	MemoryTypeDeviceLocal uint32 = iota
	MemoryTypeHostCoherent
	MemoryTypeHostCached
)

// Driver plays the part of the ICD below the layer. Every call goes through the device's
// validate/record pair and succeeds unless validation asks to skip it.
type Driver struct {
	Device *vulkan.Device

	ids      *core.IDPool
	pool     vulkan.CommandPool
	callback uint64

	mutex sync.Mutex
	diags []core.Diagnostic
}

func NewDriver(dev *vulkan.Device) *Driver {
	d := &Driver{
		Device: dev,
		ids:    core.NewIDPool(0x1000),
	}

	id := dev.ID().String()
	d.callback = dev.Reporter().Callbacks().Register(core.SeverityAll, nil, func(diag core.Diagnostic, _ interface{}) bool {
		if diag.Device != id {
			return false
		}
		d.mutex.Lock()
		d.diags = append(d.diags, diag)
		d.mutex.Unlock()
		return false
	})

	d.pool = vulkan.CommandPool(d.Handle())
	dev.RecordCreateCommandPool(vk.Success, d.pool, vulkan.CommandPoolCreateInfo{
		Flags: vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
	})
	return d
}

// Close stops collecting diagnostics.
func (d *Driver) Close() {
	d.Device.Reporter().Callbacks().Unregister(d.callback)
}

func (d *Driver) Handle() uint64 {
	return d.ids.Acquire(nil)
}

func succeed() vk.Result {
	return vk.Success
}

// Codes lists the codes reported since the last Clear, in order.
func (d *Driver) Codes() []vulkan.Code {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	out := make([]vulkan.Code, 0, len(d.diags))
	for _, diag := range d.diags {
		out = append(out, vulkan.Code(diag.Code))
	}
	return out
}

func (d *Driver) Diagnostics() []core.Diagnostic {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	out := make([]core.Diagnostic, len(d.diags))
	copy(out, d.diags)
	return out
}

func (d *Driver) Clear() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.diags = nil
}

// Cmd records a command unless validation asked to skip it.
func (d *Driver) Cmd(validate func() bool, record func()) bool {
	if validate() {
		return false
	}
	record()
	return true
}

func (d *Driver) Queue() vulkan.Queue {
	q := vulkan.Queue(d.Handle())
	d.Device.RecordGetDeviceQueue(0, 0, q)
	return q
}

func (d *Driver) Allocate(size uint64, typeIndex uint32) (vulkan.DeviceMemory, error) {
	mem := vulkan.DeviceMemory(d.Handle())
	info := vulkan.MemoryAllocateInfo{AllocationSize: size, MemoryTypeIndex: typeIndex}
	res := vulkan.Intercept(
		func() bool { return d.Device.ValidateAllocateMemory(info) },
		succeed,
		func(r vk.Result) { d.Device.RecordAllocateMemory(r, mem, info) })
	if res != vk.Success {
		return 0, errors.Newf("vkAllocateMemory of %d bytes failed", size)
	}
	return mem, nil
}

func (d *Driver) Free(mem vulkan.DeviceMemory) vk.Result {
	return vulkan.Intercept(
		func() bool { return d.Device.ValidateFreeMemory(mem) },
		succeed,
		func(vk.Result) { d.Device.RecordFreeMemory(mem) })
}

// Buffer creates a buffer and queries its requirements.
func (d *Driver) Buffer(size uint64, usage vk.BufferUsageFlagBits) (vulkan.Buffer, error) {
	b := vulkan.Buffer(d.Handle())
	info := vulkan.BufferCreateInfo{Size: size, Usage: vk.BufferUsageFlags(usage)}
	res := vulkan.Intercept(
		func() bool { return d.Device.ValidateCreateBuffer(info) },
		succeed,
		func(r vk.Result) { d.Device.RecordCreateBuffer(r, b, info) })
	if res != vk.Success {
		return 0, errors.Newf("vkCreateBuffer of %d bytes failed", size)
	}
	d.Device.RecordGetBufferMemoryRequirements(b, vk.MemoryRequirements{
		Size:           vk.DeviceSize(size),
		Alignment:      16,
		MemoryTypeBits: 0x7,
	})
	return b, nil
}

func (d *Driver) BindBuffer(b vulkan.Buffer, mem vulkan.DeviceMemory, offset uint64) vk.Result {
	return vulkan.Intercept(
		func() bool { return d.Device.ValidateBindBufferMemory(b, mem, offset) },
		succeed,
		func(r vk.Result) { d.Device.RecordBindBufferMemory(r, b, mem, offset) })
}

func (d *Driver) CommandBuffer(level vk.CommandBufferLevel) vulkan.CommandBuffer {
	cb := vulkan.CommandBuffer(d.Handle())
	d.Device.RecordAllocateCommandBuffers(vk.Success, vulkan.CommandBufferAllocateInfo{
		CommandPool:        d.pool,
		Level:              level,
		CommandBufferCount: 1,
	}, []vulkan.CommandBuffer{cb})
	return cb
}

func (d *Driver) Begin(cb vulkan.CommandBuffer) vk.Result {
	return d.BeginWith(cb, vulkan.CommandBufferBeginInfo{})
}

func (d *Driver) BeginWith(cb vulkan.CommandBuffer, info vulkan.CommandBufferBeginInfo) vk.Result {
	return vulkan.Intercept(
		func() bool { return d.Device.ValidateBeginCommandBuffer(cb, info) },
		succeed,
		func(r vk.Result) { d.Device.RecordBeginCommandBuffer(r, cb, info) })
}

func (d *Driver) End(cb vulkan.CommandBuffer) vk.Result {
	return vulkan.Intercept(
		func() bool { return d.Device.ValidateEndCommandBuffer(cb) },
		succeed,
		func(r vk.Result) { d.Device.RecordEndCommandBuffer(r, cb) })
}

func (d *Driver) Submit(q vulkan.Queue, fence vulkan.Fence, submits ...vulkan.SubmitInfo) vk.Result {
	return vulkan.Intercept(
		func() bool { return d.Device.ValidateQueueSubmit(q, submits, fence) },
		succeed,
		func(r vk.Result) { d.Device.RecordQueueSubmit(r, q, submits, fence) })
}

func (d *Driver) RenderPass(info vulkan.RenderPassCreateInfo) (vulkan.RenderPass, vk.Result) {
	h := vulkan.RenderPass(d.Handle())
	res := vulkan.Intercept(
		func() bool { return d.Device.ValidateCreateRenderPass(info) },
		succeed,
		func(r vk.Result) { d.Device.RecordCreateRenderPass(r, h, info) })
	return h, res
}

func (d *Driver) Framebuffer(rp vulkan.RenderPass, views []vulkan.ImageView, width, height uint32) (vulkan.Framebuffer, vk.Result) {
	h := vulkan.Framebuffer(d.Handle())
	info := vulkan.FramebufferCreateInfo{RenderPass: rp, Attachments: views, Width: width, Height: height, Layers: 1}
	res := vulkan.Intercept(
		func() bool { return d.Device.ValidateCreateFramebuffer(info) },
		succeed,
		func(r vk.Result) { d.Device.RecordCreateFramebuffer(r, h, info) })
	return h, res
}

// MapMemory maps the range over driverMemory, which stands in for the driver's mapping.
func (d *Driver) MapMemory(mem vulkan.DeviceMemory, offset, size uint64, driverMemory []byte) ([]byte, error) {
	if d.Device.ValidateMapMemory(mem, offset, size) {
		return nil, errors.Newf("vkMapMemory of 0x%x failed", uint64(mem))
	}
	return d.Device.RecordMapMemory(vk.Success, mem, offset, size, driverMemory), nil
}

func (d *Driver) ShaderModule(code []byte) (vulkan.ShaderModule, vk.Result) {
	h := vulkan.ShaderModule(d.Handle())
	res := vulkan.Intercept(
		func() bool { return d.Device.ValidateCreateShaderModule(code) },
		succeed,
		func(r vk.Result) { d.Device.RecordCreateShaderModule(r, h, code) })
	return h, res
}

func (d *Driver) SetLayout(bindings ...vulkan.DescriptorSetLayoutBinding) vulkan.DescriptorSetLayout {
	h := vulkan.DescriptorSetLayout(d.Handle())
	d.Device.RecordCreateDescriptorSetLayout(vk.Success, h, bindings)
	return h
}

func (d *Driver) PipelineLayout(sets ...vulkan.DescriptorSetLayout) vulkan.PipelineLayout {
	h := vulkan.PipelineLayout(d.Handle())
	d.Device.RecordCreatePipelineLayout(vk.Success, h, vulkan.PipelineLayoutCreateInfo{SetLayouts: sets})
	return h
}

// ComputePipeline creates a pipeline running the "main" entry point of module.
func (d *Driver) ComputePipeline(layout vulkan.PipelineLayout, module vulkan.ShaderModule) (vulkan.Pipeline, vk.Result) {
	h := vulkan.Pipeline(d.Handle())
	infos := []vulkan.ComputePipelineCreateInfo{{
		Stage:  vulkan.PipelineShaderStageCreateInfo{Stage: vk.ShaderStageComputeBit, Module: module, Name: "main"},
		Layout: layout,
	}}
	res := vulkan.Intercept(
		func() bool { return d.Device.ValidateCreateComputePipelines(infos) },
		succeed,
		func(r vk.Result) { d.Device.RecordCreateComputePipelines(r, infos, []vulkan.Pipeline{h}) })
	return h, res
}

// GraphicsSubpasses builds n graphics subpasses without attachments.
func GraphicsSubpasses(n int) []vulkan.SubpassDescription {
	out := make([]vulkan.SubpassDescription, n)
	for i := range out {
		out[i].PipelineBindPoint = vk.PipelineBindPointGraphics
	}
	return out
}
