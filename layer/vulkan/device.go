package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
	"github.com/google/uuid"
	"github.com/spaghettifunk/vkcheck/layer/config"
	"github.com/spaghettifunk/vkcheck/layer/core"
)

// ErrorValidationFailed is returned in place of the driver result when validation blocks a call.
const ErrorValidationFailed vk.Result = vk.Result(-1000011001)

// DeviceCreateInfo carries what the validator needs to know about the physical device and
// the logical device that was created on it.
type DeviceCreateInfo struct {
	Limits vk.PhysicalDeviceLimits
	// Features enabled at device creation.
	Features    vk.PhysicalDeviceFeatures
	MemoryTypes []vk.MemoryType
	// Capabilities of each queue family, indexed by family.
	QueueFamilies []vk.QueueFlags
}

// Device owns every tracked object of one logical device.
type Device struct {
	id       uuid.UUID
	lock     lockPool
	reporter *core.Reporter
	settings config.ValidationSettings

	limits        vk.PhysicalDeviceLimits
	features      vk.PhysicalDeviceFeatures
	memoryTypes   []vk.MemoryType
	queueFamilies []vk.QueueFlags

	// ids of bound ranges across all allocations
	rangeIDs *core.IDPool

	memories             map[DeviceMemory]*memoryState
	buffers              map[Buffer]*bufferState
	images               map[Image]*imageState
	bufferViews          map[BufferView]*bufferViewState
	imageViews           map[ImageView]*imageViewState
	samplers             map[Sampler]*samplerState
	shaderModules        map[ShaderModule]*shaderModuleState
	descriptorSetLayouts map[DescriptorSetLayout]*descriptorSetLayoutState
	pipelineLayouts      map[PipelineLayout]*pipelineLayoutState
	pipelines            map[Pipeline]*pipelineState
	descriptorPools      map[DescriptorPool]*descriptorPoolState
	descriptorSets       map[DescriptorSet]*descriptorSetState
	renderPasses         map[RenderPass]*renderPassState
	framebuffers         map[Framebuffer]*framebufferState
	commandPools         map[CommandPool]*commandPoolState
	commandBuffers       map[CommandBuffer]*commandBufferState
	queues               map[Queue]*queueState
	fences               map[Fence]*fenceState
	semaphores           map[Semaphore]*semaphoreState
	events               map[Event]*eventState
	queryPools           map[QueryPool]*queryPoolState
	swapchains           map[Swapchain]*swapchainState

	// availability of every query that was ever written
	queryToState map[QueryObject]bool
	// pending submissions per command buffer across all queues
	globalInFlight map[CommandBuffer]int
}

func NewDevice(info DeviceCreateInfo, reporter *core.Reporter, settings config.ValidationSettings) *Device {
	if reporter == nil {
		reporter = core.NewReporter()
	}
	d := &Device{
		id:                   uuid.New(),
		reporter:             reporter,
		settings:             settings,
		limits:               info.Limits,
		features:             info.Features,
		memoryTypes:          info.MemoryTypes,
		queueFamilies:        info.QueueFamilies,
		rangeIDs:             core.NewIDPool(1),
		memories:             make(map[DeviceMemory]*memoryState),
		buffers:              make(map[Buffer]*bufferState),
		images:               make(map[Image]*imageState),
		bufferViews:          make(map[BufferView]*bufferViewState),
		imageViews:           make(map[ImageView]*imageViewState),
		samplers:             make(map[Sampler]*samplerState),
		shaderModules:        make(map[ShaderModule]*shaderModuleState),
		descriptorSetLayouts: make(map[DescriptorSetLayout]*descriptorSetLayoutState),
		pipelineLayouts:      make(map[PipelineLayout]*pipelineLayoutState),
		pipelines:            make(map[Pipeline]*pipelineState),
		descriptorPools:      make(map[DescriptorPool]*descriptorPoolState),
		descriptorSets:       make(map[DescriptorSet]*descriptorSetState),
		renderPasses:         make(map[RenderPass]*renderPassState),
		framebuffers:         make(map[Framebuffer]*framebufferState),
		commandPools:         make(map[CommandPool]*commandPoolState),
		commandBuffers:       make(map[CommandBuffer]*commandBufferState),
		queues:               make(map[Queue]*queueState),
		fences:               make(map[Fence]*fenceState),
		semaphores:           make(map[Semaphore]*semaphoreState),
		events:               make(map[Event]*eventState),
		queryPools:           make(map[QueryPool]*queryPoolState),
		swapchains:           make(map[Swapchain]*swapchainState),
		queryToState:         make(map[QueryObject]bool),
		globalInFlight:       make(map[CommandBuffer]int),
	}
	core.Logger("device", d.id.String(), "queue_families", len(info.QueueFamilies)).Debug("device created")
	return d
}

// ID tags every diagnostic reported by this device.
func (d *Device) ID() uuid.UUID {
	return d.id
}

func (d *Device) Reporter() *core.Reporter {
	return d.reporter
}

// UpdateSettings swaps the validation settings, typically from a config.Watcher subscription.
func (d *Device) UpdateSettings(s config.ValidationSettings) {
	d.lock.SafeRecord(func() {
		d.settings = s
	})
}

/**
 * @brief The validate, forward, record sequence of one intercepted entry point. The
 * device lock is taken inside validate and record and is never held across call.
 * @param validate returns true when the call must be skipped.
 * @param call forwards to the next layer or driver.
 * @param record updates tracked state from the driver result. May be nil.
 * @returns the driver result, or ErrorValidationFailed when the call was skipped.
 */
func Intercept(validate func() bool, call func() vk.Result, record func(vk.Result)) vk.Result {
	if validate != nil && validate() {
		return ErrorValidationFailed
	}
	result := call()
	if record != nil {
		record(result)
	}
	return result
}

func (d *Device) report(severity core.Severity, ref ObjectRef, code Code, format string, args ...interface{}) bool {
	return d.reporter.Report(core.Diagnostic{
		Severity:   severity,
		ObjectType: ref.Kind.DebugReportType(),
		ObjectName: ref.Kind.String(),
		Handle:     ref.Handle,
		Code:       int32(code),
		Category:   code.Category(),
		Message:    fmt.Sprintf(format, args...),
		Device:     d.id.String(),
	})
}

func (d *Device) logError(ref ObjectRef, code Code, format string, args ...interface{}) bool {
	return d.report(core.SeverityError, ref, code, format, args...)
}

func (d *Device) logWarning(ref ObjectRef, code Code, format string, args ...interface{}) bool {
	return d.report(core.SeverityWarning, ref, code, format, args...)
}

func (d *Device) logPerf(ref ObjectRef, code Code, format string, args ...interface{}) bool {
	return d.report(core.SeverityPerformanceWarning, ref, code, format, args...)
}

func (d *Device) logInfo(ref ObjectRef, code Code, format string, args ...interface{}) bool {
	return d.report(core.SeverityInformation, ref, code, format, args...)
}

// invalidObject reports a handle the validator has no record of.
func (d *Device) invalidObject(ref ObjectRef, api string) bool {
	return d.logError(ref, CodeInvalidObject, "%s: invalid %s object 0x%x", api, ref.Kind, ref.Handle)
}

func (d *Device) queueFamilyFlags(family uint32) vk.QueueFlags {
	if int(family) >= len(d.queueFamilies) {
		return 0
	}
	return d.queueFamilies[family]
}

func (d *Device) memoryTypeFlags(typeIndex uint32) vk.MemoryPropertyFlags {
	if int(typeIndex) >= len(d.memoryTypes) {
		return 0
	}
	return d.memoryTypes[typeIndex].PropertyFlags
}
