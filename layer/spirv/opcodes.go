package spirv

import "strconv"

// Magic is the first word of every module in host (little-endian) order.
const (
	Magic        uint32 = 0x07230203
	MagicSwapped uint32 = 0x03022307
	HeaderWords         = 5
)

type Op uint32

const (
	OpNop                      Op = 0
	OpSource                   Op = 3
	OpName                     Op = 5
	OpMemberName               Op = 6
	OpExtInstImport            Op = 11
	OpExtInst                  Op = 12
	OpMemoryModel              Op = 14
	OpEntryPoint               Op = 15
	OpExecutionMode            Op = 16
	OpCapability               Op = 17
	OpTypeVoid                 Op = 19
	OpTypeBool                 Op = 20
	OpTypeInt                  Op = 21
	OpTypeFloat                Op = 22
	OpTypeVector               Op = 23
	OpTypeMatrix               Op = 24
	OpTypeImage                Op = 25
	OpTypeSampler              Op = 26
	OpTypeSampledImage         Op = 27
	OpTypeArray                Op = 28
	OpTypeRuntimeArray         Op = 29
	OpTypeStruct               Op = 30
	OpTypeOpaque               Op = 31
	OpTypePointer              Op = 32
	OpTypeFunction             Op = 33
	OpTypePipe                 Op = 38
	OpTypeForwardPointer       Op = 39
	OpConstantTrue             Op = 41
	OpConstantFalse            Op = 42
	OpConstant                 Op = 43
	OpConstantComposite        Op = 44
	OpConstantSampler          Op = 45
	OpConstantNull             Op = 46
	OpSpecConstantTrue         Op = 48
	OpSpecConstantFalse        Op = 49
	OpSpecConstant             Op = 50
	OpSpecConstantComposite    Op = 51
	OpSpecConstantOp           Op = 52
	OpFunction                 Op = 54
	OpFunctionParameter        Op = 55
	OpFunctionEnd              Op = 56
	OpFunctionCall             Op = 57
	OpVariable                 Op = 59
	OpImageTexelPointer        Op = 60
	OpLoad                     Op = 61
	OpStore                    Op = 62
	OpCopyMemory               Op = 63
	OpCopyMemorySized          Op = 64
	OpAccessChain              Op = 65
	OpInBoundsAccessChain      Op = 66
	OpPtrAccessChain           Op = 67
	OpArrayLength              Op = 68
	OpInBoundsPtrAccessChain   Op = 70
	OpDecorate                 Op = 71
	OpMemberDecorate           Op = 72
	OpDecorationGroup          Op = 73
	OpGroupDecorate            Op = 74
	OpGroupMemberDecorate      Op = 75
	OpSampledImage             Op = 86
	OpImageSampleImplicitLod   Op = 87
	OpImageFetch               Op = 95
	OpImageRead                Op = 98
	OpImageWrite               Op = 99
	OpImage                    Op = 100
	OpImageQuerySamples        Op = 107
	OpReturn                   Op = 253
	OpAtomicLoad               Op = 227
	OpAtomicStore              Op = 228
	OpAtomicXor                Op = 242
	OpImageSparseSampleImplLod Op = 305
	OpImageSparseDrefGather    Op = 315
	OpImageSparseRead          Op = 320
	OpLabel                    Op = 248
)

type Decoration uint32

const (
	DecorationRelaxedPrecision     Decoration = 0
	DecorationSpecID               Decoration = 1
	DecorationBlock                Decoration = 2
	DecorationBufferBlock          Decoration = 3
	DecorationBuiltIn              Decoration = 11
	DecorationFlat                 Decoration = 14
	DecorationPatch                Decoration = 15
	DecorationNonWritable          Decoration = 24
	DecorationLocation             Decoration = 30
	DecorationComponent            Decoration = 31
	DecorationBinding              Decoration = 33
	DecorationDescriptorSet        Decoration = 34
	DecorationOffset               Decoration = 35
	DecorationInputAttachmentIndex Decoration = 43
)

type StorageClass uint32

const (
	StorageClassUniformConstant StorageClass = 0
	StorageClassInput           StorageClass = 1
	StorageClassUniform         StorageClass = 2
	StorageClassOutput          StorageClass = 3
	StorageClassWorkgroup       StorageClass = 4
	StorageClassPrivate         StorageClass = 6
	StorageClassFunction        StorageClass = 7
	StorageClassPushConstant    StorageClass = 9
	StorageClassImage           StorageClass = 11
	StorageClassStorageBuffer   StorageClass = 12

	StorageClassPhysicalStorageBuffer StorageClass = 5349
)

var storageClassNames = map[StorageClass]string{
	StorageClassUniformConstant: "UniformConstant",
	StorageClassInput:           "Input",
	StorageClassUniform:         "Uniform",
	StorageClassOutput:          "Output",
	StorageClassWorkgroup:       "Workgroup",
	StorageClassPrivate:         "Private",
	StorageClassFunction:        "Function",
	StorageClassPushConstant:    "PushConstant",
	StorageClassImage:           "Image",
	StorageClassStorageBuffer:   "StorageBuffer",
}

func (s StorageClass) String() string {
	if n, ok := storageClassNames[s]; ok {
		return n
	}
	return "StorageClass(" + itoa(uint32(s)) + ")"
}

// Image dimensionalities, OpTypeImage word 3.
type Dim uint32

const (
	Dim1D          Dim = 0
	Dim2D          Dim = 1
	Dim3D          Dim = 2
	DimCube        Dim = 3
	DimRect        Dim = 4
	DimBuffer      Dim = 5
	DimSubpassData Dim = 6
)

type ExecutionModel uint32

const (
	ExecutionModelVertex                 ExecutionModel = 0
	ExecutionModelTessellationControl    ExecutionModel = 1
	ExecutionModelTessellationEvaluation ExecutionModel = 2
	ExecutionModelGeometry               ExecutionModel = 3
	ExecutionModelFragment               ExecutionModel = 4
	ExecutionModelGLCompute              ExecutionModel = 5
	ExecutionModelKernel                 ExecutionModel = 6
)

func (e ExecutionModel) String() string {
	switch e {
	case ExecutionModelVertex:
		return "vertex shader"
	case ExecutionModelTessellationControl:
		return "tessellation control shader"
	case ExecutionModelTessellationEvaluation:
		return "tessellation evaluation shader"
	case ExecutionModelGeometry:
		return "geometry shader"
	case ExecutionModelFragment:
		return "fragment shader"
	case ExecutionModelGLCompute:
		return "compute shader"
	case ExecutionModelKernel:
		return "kernel"
	}
	return "execution model " + itoa(uint32(e))
}

type Capability uint32

const (
	CapabilityMatrix                            Capability = 0
	CapabilityShader                            Capability = 1
	CapabilityGeometry                          Capability = 2
	CapabilityTessellation                      Capability = 3
	CapabilityAddresses                         Capability = 4
	CapabilityLinkage                           Capability = 5
	CapabilityKernel                            Capability = 6
	CapabilityFloat16                           Capability = 9
	CapabilityFloat64                           Capability = 10
	CapabilityInt64                             Capability = 11
	CapabilityInt64Atomics                      Capability = 12
	CapabilityInt16                             Capability = 22
	CapabilityTessellationPointSize             Capability = 23
	CapabilityGeometryPointSize                 Capability = 24
	CapabilityImageGatherExtended               Capability = 25
	CapabilityStorageImageMultisample           Capability = 27
	CapabilityUniformBufferArrayDynamicIndexing Capability = 28
	CapabilitySampledImageArrayDynamicIndexing  Capability = 29
	CapabilityStorageBufferArrayDynamicIndexing Capability = 30
	CapabilityStorageImageArrayDynamicIndexing  Capability = 31
	CapabilityClipDistance                      Capability = 32
	CapabilityCullDistance                      Capability = 33
	CapabilityImageCubeArray                    Capability = 34
	CapabilitySampleRateShading                 Capability = 35
	CapabilityImageRect                         Capability = 36
	CapabilitySampledRect                       Capability = 37
	CapabilityInt8                              Capability = 39
	CapabilityInputAttachment                   Capability = 40
	CapabilitySparseResidency                   Capability = 41
	CapabilityMinLod                            Capability = 42
	CapabilitySampled1D                         Capability = 43
	CapabilityImage1D                           Capability = 44
	CapabilitySampledCubeArray                  Capability = 45
	CapabilitySampledBuffer                     Capability = 46
	CapabilityImageBuffer                       Capability = 47
	CapabilityImageMSArray                      Capability = 48
	CapabilityStorageImageExtendedFormats       Capability = 49
	CapabilityImageQuery                        Capability = 50
	CapabilityDerivativeControl                 Capability = 51
	CapabilityInterpolationFunction             Capability = 52
	CapabilityTransformFeedback                 Capability = 53
	CapabilityGeometryStreams                   Capability = 54
	CapabilityStorageImageReadWithoutFormat     Capability = 55
	CapabilityStorageImageWriteWithoutFormat    Capability = 56
	CapabilityMultiViewport                     Capability = 57
)

func itoa(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}
