package layer

import (
	vk "github.com/goki/vulkan"
	"github.com/spaghettifunk/vkcheck/layer/vulkan"
)

// PhysicalDevice is a named description of the hardware a device is created on. Tools that
// run without a driver validate against one of these.
type PhysicalDevice struct {
	Name string
	Info vulkan.DeviceCreateInfo
}

// ReferenceDevice has the limits of a typical desktop GPU with one universal queue family,
// one transfer-only family, device local memory and two host visible memory types.
func ReferenceDevice() PhysicalDevice {
	return PhysicalDevice{
		Name: "reference desktop",
		Info: vulkan.DeviceCreateInfo{
			Limits: vk.PhysicalDeviceLimits{
				MaxBoundDescriptorSets:          8,
				MaxPushConstantsSize:            256,
				MaxViewports:                    16,
				MaxComputeWorkGroupCount:        [3]uint32{65535, 65535, 65535},
				MinMemoryMapAlignment:           64,
				BufferImageGranularity:          1024,
				NonCoherentAtomSize:             64,
				MinTexelBufferOffsetAlignment:   16,
				MinUniformBufferOffsetAlignment: 256,
				MinStorageBufferOffsetAlignment: 16,
			},
			Features: vk.PhysicalDeviceFeatures{
				VertexPipelineStoresAndAtomics: vk.True,
				FragmentStoresAndAtomics:       vk.True,
			},
			MemoryTypes: []vk.MemoryType{
				{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit)},
				{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCoherentBit)},
				{PropertyFlags: vk.MemoryPropertyFlags(vk.MemoryPropertyHostVisibleBit | vk.MemoryPropertyHostCachedBit)},
			},
			QueueFamilies: []vk.QueueFlags{
				vk.QueueFlags(vk.QueueGraphicsBit | vk.QueueComputeBit | vk.QueueTransferBit | vk.QueueSparseBindingBit),
				vk.QueueFlags(vk.QueueTransferBit),
			},
		},
	}
}

// PhysicalDevices lists the devices tools can pick from by name.
func (i *Instance) PhysicalDevices() []PhysicalDevice {
	return []PhysicalDevice{ReferenceDevice()}
}
