package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

// Dispatchable and non-dispatchable handles are tracked as plain 64-bit values. 0 is null.
type (
	Queue               uint64
	CommandBuffer       uint64
	Semaphore           uint64
	Fence               uint64
	DeviceMemory        uint64
	Buffer              uint64
	Image               uint64
	Event               uint64
	QueryPool           uint64
	BufferView          uint64
	ImageView           uint64
	ShaderModule        uint64
	PipelineLayout      uint64
	RenderPass          uint64
	Pipeline            uint64
	DescriptorSetLayout uint64
	Sampler             uint64
	DescriptorPool      uint64
	DescriptorSet       uint64
	Framebuffer         uint64
	CommandPool         uint64
	Swapchain           uint64
)

type ObjectKind int

const (
	ObjectKindUnknown ObjectKind = iota
	ObjectKindDevice
	ObjectKindQueue
	ObjectKindSemaphore
	ObjectKindCommandBuffer
	ObjectKindFence
	ObjectKindDeviceMemory
	ObjectKindBuffer
	ObjectKindImage
	ObjectKindEvent
	ObjectKindQueryPool
	ObjectKindBufferView
	ObjectKindImageView
	ObjectKindShaderModule
	ObjectKindPipelineLayout
	ObjectKindRenderPass
	ObjectKindPipeline
	ObjectKindDescriptorSetLayout
	ObjectKindSampler
	ObjectKindDescriptorPool
	ObjectKindDescriptorSet
	ObjectKindFramebuffer
	ObjectKindCommandPool
	ObjectKindSwapchain
)

var objectKindInfo = map[ObjectKind]struct {
	name string
	// VkDebugReportObjectTypeEXT value
	reportType int32
}{
	ObjectKindUnknown:             {"VkUnknownObject", 0},
	ObjectKindDevice:              {"VkDevice", 3},
	ObjectKindQueue:               {"VkQueue", 4},
	ObjectKindSemaphore:           {"VkSemaphore", 5},
	ObjectKindCommandBuffer:       {"VkCommandBuffer", 6},
	ObjectKindFence:               {"VkFence", 7},
	ObjectKindDeviceMemory:        {"VkDeviceMemory", 8},
	ObjectKindBuffer:              {"VkBuffer", 9},
	ObjectKindImage:               {"VkImage", 10},
	ObjectKindEvent:               {"VkEvent", 11},
	ObjectKindQueryPool:           {"VkQueryPool", 12},
	ObjectKindBufferView:          {"VkBufferView", 13},
	ObjectKindImageView:           {"VkImageView", 14},
	ObjectKindShaderModule:        {"VkShaderModule", 15},
	ObjectKindPipelineLayout:      {"VkPipelineLayout", 17},
	ObjectKindRenderPass:          {"VkRenderPass", 18},
	ObjectKindPipeline:            {"VkPipeline", 19},
	ObjectKindDescriptorSetLayout: {"VkDescriptorSetLayout", 20},
	ObjectKindSampler:             {"VkSampler", 21},
	ObjectKindDescriptorPool:      {"VkDescriptorPool", 22},
	ObjectKindDescriptorSet:       {"VkDescriptorSet", 23},
	ObjectKindFramebuffer:         {"VkFramebuffer", 24},
	ObjectKindCommandPool:         {"VkCommandPool", 25},
	ObjectKindSwapchain:           {"VkSwapchainKHR", 27},
}

func (k ObjectKind) String() string {
	if info, ok := objectKindInfo[k]; ok {
		return info.name
	}
	return fmt.Sprintf("ObjectKind(%d)", int(k))
}

func (k ObjectKind) DebugReportType() vk.DebugReportObjectType {
	return vk.DebugReportObjectType(objectKindInfo[k].reportType)
}

// Object is implemented by every handle type.
type Object interface {
	Kind() ObjectKind
	Raw() uint64
}

func (h Queue) Kind() ObjectKind               { return ObjectKindQueue }
func (h CommandBuffer) Kind() ObjectKind       { return ObjectKindCommandBuffer }
func (h Semaphore) Kind() ObjectKind           { return ObjectKindSemaphore }
func (h Fence) Kind() ObjectKind               { return ObjectKindFence }
func (h DeviceMemory) Kind() ObjectKind        { return ObjectKindDeviceMemory }
func (h Buffer) Kind() ObjectKind              { return ObjectKindBuffer }
func (h Image) Kind() ObjectKind               { return ObjectKindImage }
func (h Event) Kind() ObjectKind               { return ObjectKindEvent }
func (h QueryPool) Kind() ObjectKind           { return ObjectKindQueryPool }
func (h BufferView) Kind() ObjectKind          { return ObjectKindBufferView }
func (h ImageView) Kind() ObjectKind           { return ObjectKindImageView }
func (h ShaderModule) Kind() ObjectKind        { return ObjectKindShaderModule }
func (h PipelineLayout) Kind() ObjectKind      { return ObjectKindPipelineLayout }
func (h RenderPass) Kind() ObjectKind          { return ObjectKindRenderPass }
func (h Pipeline) Kind() ObjectKind            { return ObjectKindPipeline }
func (h DescriptorSetLayout) Kind() ObjectKind { return ObjectKindDescriptorSetLayout }
func (h Sampler) Kind() ObjectKind             { return ObjectKindSampler }
func (h DescriptorPool) Kind() ObjectKind      { return ObjectKindDescriptorPool }
func (h DescriptorSet) Kind() ObjectKind       { return ObjectKindDescriptorSet }
func (h Framebuffer) Kind() ObjectKind         { return ObjectKindFramebuffer }
func (h CommandPool) Kind() ObjectKind         { return ObjectKindCommandPool }
func (h Swapchain) Kind() ObjectKind           { return ObjectKindSwapchain }

func (h Queue) Raw() uint64               { return uint64(h) }
func (h CommandBuffer) Raw() uint64       { return uint64(h) }
func (h Semaphore) Raw() uint64           { return uint64(h) }
func (h Fence) Raw() uint64               { return uint64(h) }
func (h DeviceMemory) Raw() uint64        { return uint64(h) }
func (h Buffer) Raw() uint64              { return uint64(h) }
func (h Image) Raw() uint64               { return uint64(h) }
func (h Event) Raw() uint64               { return uint64(h) }
func (h QueryPool) Raw() uint64           { return uint64(h) }
func (h BufferView) Raw() uint64          { return uint64(h) }
func (h ImageView) Raw() uint64           { return uint64(h) }
func (h ShaderModule) Raw() uint64        { return uint64(h) }
func (h PipelineLayout) Raw() uint64      { return uint64(h) }
func (h RenderPass) Raw() uint64          { return uint64(h) }
func (h Pipeline) Raw() uint64            { return uint64(h) }
func (h DescriptorSetLayout) Raw() uint64 { return uint64(h) }
func (h Sampler) Raw() uint64             { return uint64(h) }
func (h DescriptorPool) Raw() uint64      { return uint64(h) }
func (h DescriptorSet) Raw() uint64       { return uint64(h) }
func (h Framebuffer) Raw() uint64         { return uint64(h) }
func (h CommandPool) Raw() uint64         { return uint64(h) }
func (h Swapchain) Raw() uint64           { return uint64(h) }

// ObjectRef names any tracked object. It is what command buffers record as bound and what
// diagnostics point at.
type ObjectRef struct {
	Kind   ObjectKind
	Handle uint64
}

func Ref(o Object) ObjectRef {
	return ObjectRef{Kind: o.Kind(), Handle: o.Raw()}
}

func (r ObjectRef) String() string {
	return fmt.Sprintf("%s 0x%x", r.Kind, r.Handle)
}
